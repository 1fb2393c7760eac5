// Package session drives one page view's voice call: it starts and stops
// calls on toggle, follows the provider's lifecycle events, and hands every
// finished call to the analytics reconciler exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/reconcile"
	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoAgentProfile is returned by Toggle when the user has no assistant
	ErrNoAgentProfile = errors.New("no agent profile loaded")
	// ErrTransitionInProgress is returned by Toggle while a start or stop is running
	ErrTransitionInProgress = errors.New("call transition in progress")
	// ErrClosed is returned by Toggle after Close
	ErrClosed = errors.New("session closed")
)

// Call end reasons used for logging and metrics
const (
	reasonUserHangup = "user_hangup"
	reasonError      = "error"
	reasonPageClosed = "page_closed"
)

// CallCreator registers a new web call with the provider
type CallCreator interface {
	CreateWebCall(ctx context.Context, agentID string) (*types.WebCall, error)
}

// Reconciler starts a background analytics reconciliation
type Reconciler interface {
	Reconcile(ctx context.Context, userID, callID string) *reconcile.Result
}

// Options configure a Controller
type Options struct {
	UserID       string
	Profile      *types.AgentProfile // nil when the user has no assistant
	Calls        CallCreator
	Transport    transport.Transport
	Reconciler   Reconciler
	SampleRate   int
	EnableUpdate bool

	// OnChange receives a snapshot after every status change
	OnChange func(types.CallSession)

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Controller is the call state machine of a single page view
type Controller struct {
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	status  types.CallStatus
	callID  string
	busy    bool
	closed  bool
	over    map[string]bool // calls that ended, failed or were stopped
	results []*reconcile.Result

	notifyMu    sync.Mutex
	unsubscribe func()
}

// NewController builds a controller and subscribes it to the transport
func NewController(opts Options) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:   opts,
		logger: opts.Logger.With().Str("component", "session").Str("user_id", opts.UserID).Logger(),
		ctx:    ctx,
		cancel: cancel,
		status: types.CallStatusNotStarted,
		over:   make(map[string]bool),
	}
	c.unsubscribe = opts.Transport.Subscribe(c.handleEvent)
	return c
}

// Snapshot returns the current call session
func (c *Controller) Snapshot() types.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types.CallSession{CallID: c.callID, Status: c.status}
}

// Reconciliations returns the reconciliations this controller started
func (c *Controller) Reconciliations() []*reconcile.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*reconcile.Result, len(c.results))
	copy(out, c.results)
	return out
}

// Toggle starts a call when none is active and stops the active one
// otherwise. A toggle issued while another is still running is rejected.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.busy {
		c.mu.Unlock()
		return ErrTransitionInProgress
	}

	if c.status == types.CallStatusActive {
		callID := c.callID
		c.busy = true
		c.mu.Unlock()
		return c.stop(ctx, callID)
	}

	if c.opts.Profile == nil || c.opts.Profile.AgentID == "" {
		c.mu.Unlock()
		c.logger.Warn().Msg("toggle without an agent profile")
		return ErrNoAgentProfile
	}
	c.busy = true
	c.mu.Unlock()
	return c.start(ctx, c.opts.Profile.AgentID)
}

func (c *Controller) start(ctx context.Context, agentID string) error {
	call, err := c.opts.Calls.CreateWebCall(ctx, agentID)
	if err != nil {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		c.opts.Metrics.RecordCallStartError("create")
		c.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to create web call")
		return fmt.Errorf("failed to create web call: %w", err)
	}

	// The new call becomes current before the transport starts so that
	// events it emits are recognised.
	c.mu.Lock()
	c.callID = call.CallID
	c.mu.Unlock()

	err = c.opts.Transport.Start(ctx, transport.StartOptions{
		AccessToken:  call.AccessToken,
		CallID:       call.CallID,
		SampleRate:   c.opts.SampleRate,
		EnableUpdate: c.opts.EnableUpdate,
	})

	c.mu.Lock()
	c.busy = false
	if err != nil {
		c.over[call.CallID] = true
		c.status = types.CallStatusInactive
		c.mu.Unlock()
		c.opts.Metrics.RecordCallStartError("transport")
		c.logger.Error().Err(err).Str("call_id", call.CallID).Msg("failed to start call")
		c.notify()
		return fmt.Errorf("failed to start call: %w", err)
	}
	changed := c.activate(call.CallID)
	c.mu.Unlock()

	c.logger.Info().Str("call_id", call.CallID).Msg("call started")
	if changed {
		c.notify()
	}
	return nil
}

func (c *Controller) stop(ctx context.Context, callID string) error {
	err := c.opts.Transport.Stop(ctx)
	if err != nil && !errors.Is(err, transport.ErrNotStarted) {
		c.logger.Warn().Err(err).Str("call_id", callID).Msg("error stopping call")
	}

	c.mu.Lock()
	c.busy = false
	changed := c.settle(callID, reasonUserHangup, true)
	c.mu.Unlock()

	c.logger.Info().Str("call_id", callID).Msg("call stopped")
	if changed {
		c.notify()
	}
	return nil
}

// activate marks callID active unless it already finished. c.mu must be held.
func (c *Controller) activate(callID string) bool {
	if c.closed || c.over[callID] || callID != c.callID || c.status == types.CallStatusActive {
		return false
	}
	c.status = types.CallStatusActive
	c.opts.Metrics.RecordCallStarted()
	return true
}

// settle finishes callID once: the first caller moves the session to
// Inactive and, when reconcile is set, hands the call to the reconciler.
// Later calls for the same ID do nothing. c.mu must be held.
func (c *Controller) settle(callID, reason string, reconcileCall bool) bool {
	if c.over[callID] {
		return false
	}
	c.over[callID] = true

	if c.status == types.CallStatusActive {
		c.opts.Metrics.RecordCallEnded(reason)
	}
	changed := c.status != types.CallStatusInactive
	c.status = types.CallStatusInactive

	if reconcileCall && c.opts.Reconciler != nil && !c.closed {
		res := c.opts.Reconciler.Reconcile(c.ctx, c.opts.UserID, callID)
		c.results = append(c.results, res)
		c.logger.Debug().Str("call_id", callID).Msg("reconciliation scheduled")
	}
	return changed
}

// handleEvent applies a transport event. The event carries the ID of the
// call that produced it; events for any other call are stale and dropped.
func (c *Controller) handleEvent(ev transport.Event) {
	c.mu.Lock()
	if c.closed || ev.CallID == "" || ev.CallID != c.callID {
		c.mu.Unlock()
		c.logger.Debug().Str("event", string(ev.Kind)).Str("call_id", ev.CallID).Msg("ignoring event for stale call")
		return
	}

	var changed bool
	switch ev.Kind {
	case transport.EventStarted:
		changed = c.activate(ev.CallID)
	case transport.EventEnded:
		// A call can end before Start has returned; it is still settled.
		if c.status == types.CallStatusActive || c.busy {
			reason := ev.Reason
			if reason == "" {
				reason = "ended"
			}
			changed = c.settle(ev.CallID, reason, true)
		}
	case transport.EventError:
		changed = c.settle(ev.CallID, reasonError, false)
	}
	c.mu.Unlock()

	switch ev.Kind {
	case transport.EventEnded:
		c.logger.Info().Str("call_id", ev.CallID).Int("code", ev.Code).Str("reason", ev.Reason).Msg("call ended")
	case transport.EventError:
		c.logger.Error().Str("call_id", ev.CallID).Str("message", ev.Message).Msg("call error")
	}
	if changed {
		c.notify()
	}
}

func (c *Controller) notify() {
	if c.opts.OnChange == nil {
		return
	}
	// Serialised so the last notification always carries the latest state
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.opts.OnChange(c.Snapshot())
}

// Close releases the transport and cancels reconciliations still in flight
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.status == types.CallStatusActive {
		c.opts.Metrics.RecordCallEnded(reasonPageClosed)
	}
	c.mu.Unlock()

	c.unsubscribe()
	if err := c.opts.Transport.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("error closing transport")
	}
	c.cancel()
}
