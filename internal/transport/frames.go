package transport

// Frame types exchanged with the realtime endpoint
const (
	FrameConversationStarted = "conversation_started"
	FrameConversationEnded   = "conversation_ended"
	FrameError               = "error"
	FrameHangup              = "hangup"
)

// Frame is the JSON envelope of every realtime message
type Frame struct {
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}
