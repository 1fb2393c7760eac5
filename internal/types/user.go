package types

// AgentProfile identifies the assistant persona that answers a user's calls
type AgentProfile struct {
	AgentID string `json:"agent_id" dynamodbav:"agent_id"`
}

// AnalyticsRecord is the provider's post-call payload. It is stored as-is.
type AnalyticsRecord map[string]any

// IsEmpty reports whether the provider has not produced analytics yet
func (r AnalyticsRecord) IsEmpty() bool {
	return len(r) == 0
}

// UserRecord is the persisted per-user document
type UserRecord struct {
	UserID         string                     `json:"userId" dynamodbav:"UserID"` // partition key
	RestaurantName string                     `json:"restaurantName" dynamodbav:"restaurantName"`
	AgentData      *AgentProfile              `json:"agentData,omitempty" dynamodbav:"agentData,omitempty"`
	Analytics      map[string]AnalyticsRecord `json:"analytics,omitempty" dynamodbav:"analytics,omitempty"`
}

// HasAgent reports whether an assistant has been provisioned for the user
func (u *UserRecord) HasAgent() bool {
	return u != nil && u.AgentData != nil && u.AgentData.AgentID != ""
}
