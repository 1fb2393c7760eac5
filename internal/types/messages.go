package types

// Page message types exchanged over /ws/pages/{userId}
const (
	MsgToggle     = "toggle"      // page -> server
	MsgAssistant  = "assistant"   // server -> page
	MsgCallStatus = "call_status" // server -> page
	MsgError      = "error"       // server -> page
	MsgAnalytics  = "analytics_saved"
)

// PageCommand is a message sent by the page
type PageCommand struct {
	Type string `json:"type"`
}

// AssistantMsg describes the assistant a page is talking to
type AssistantMsg struct {
	Type           string `json:"type"` // "assistant"
	RestaurantName string `json:"restaurantName"`
	HasAgent       bool   `json:"hasAgent"`
}

// CallStatusMsg is pushed whenever the page's call status changes
type CallStatusMsg struct {
	Type   string     `json:"type"` // "call_status"
	Status CallStatus `json:"status"`
	CallID string     `json:"callId,omitempty"`
}

// ErrorMsg reports a failed page action
type ErrorMsg struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AnalyticsSavedMsg tells every open page of a user that a call's analytics landed
type AnalyticsSavedMsg struct {
	Type   string `json:"type"` // "analytics_saved"
	CallID string `json:"callId"`
}

// Error codes carried by ErrorMsg
const (
	ErrCodeNoAgent    = "no_agent"
	ErrCodeBusy       = "busy"
	ErrCodeCallFailed = "call_failed"
	ErrCodeBadMessage = "bad_message"
)
