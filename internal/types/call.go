package types

// CallStatus represents the lifecycle state of a page's voice call
type CallStatus string

const (
	CallStatusNotStarted CallStatus = "not-started" // No call placed from this page yet
	CallStatusActive     CallStatus = "active"      // Realtime channel established
	CallStatusInactive   CallStatus = "inactive"    // Last call ended, stopped or failed
)

// CallSession is a point-in-time view of a page's call state
type CallSession struct {
	CallID string     `json:"callId,omitempty"`
	Status CallStatus `json:"status"`
}

// WebCall is the result of registering a new web call with the provider
type WebCall struct {
	CallID      string `json:"call_id"`
	AccessToken string `json:"access_token"`
}
