package simulator

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	reasonUserHangup     = "user_hangup"
	reasonAgentHangup    = "agent_hangup"
	reasonConnectionLost = "connection_lost"

	writeTimeout = 10 * time.Second
)

// realtimeHandler runs one call's realtime channel
// GET /realtime/{callId}?access_token=...
func (api *API) realtimeHandler(w http.ResponseWriter, r *http.Request) {
	callID := mux.Vars(r)["callId"]
	log := api.logger.With().Str("call_id", callID).Logger()

	claims, err := api.tokens.Verify(r.URL.Query().Get("access_token"))
	if err != nil || claims.CallID != callID {
		log.Warn().Err(err).Msg("realtime connection rejected")
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}
	if !api.calls.MarkStarted(callID) {
		http.Error(w, "call is not startable", http.StatusConflict)
		return
	}

	conn, err := api.upgrader.Upgrade(w, r, nil)
	if err != nil {
		api.calls.MarkEnded(callID, reasonConnectionLost)
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	log.Info().
		Str("sample_rate", r.URL.Query().Get("sample_rate")).
		Str("enable_update", r.URL.Query().Get("enable_update")).
		Msg("conversation started")

	if err := api.write(conn, transport.Frame{Type: transport.FrameConversationStarted}); err != nil {
		api.calls.MarkEnded(callID, reasonConnectionLost)
		return
	}

	// The reader reports hangups and disconnects; all writes stay on this goroutine
	hangup := make(chan struct{}, 1)
	lost := make(chan struct{})
	go func() {
		defer close(lost)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f transport.Frame
			if json.Unmarshal(data, &f) == nil && f.Type == transport.FrameHangup {
				select {
				case hangup <- struct{}{}:
				default:
				}
			}
		}
	}()

	var timeout <-chan time.Time
	if api.config.CallDuration > 0 {
		timer := time.NewTimer(api.config.CallDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	var reason string
	select {
	case <-hangup:
		reason = reasonUserHangup
	case <-timeout:
		reason = reasonAgentHangup
	case <-lost:
		// A hangup followed by the close frame can land here too
		reason = reasonConnectionLost
		select {
		case <-hangup:
			reason = reasonUserHangup
		default:
		}
		api.calls.MarkEnded(callID, reason)
		log.Info().Str("reason", reason).Msg("conversation ended")
		return
	case <-r.Context().Done():
		api.calls.MarkEnded(callID, reasonConnectionLost)
		return
	}

	api.calls.MarkEnded(callID, reason)
	_ = api.write(conn, transport.Frame{Type: transport.FrameConversationEnded, Code: websocket.CloseNormalClosure, Reason: reason})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(writeTimeout))
	log.Info().Str("reason", reason).Msg("conversation ended")
}

func (api *API) write(conn *websocket.Conn, f transport.Frame) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, frame(f))
}
