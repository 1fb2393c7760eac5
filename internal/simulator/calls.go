package simulator

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/google/uuid"
)

// CallState tracks a simulated call through its lifetime
type CallState string

const (
	CallRegistered CallState = "registered"
	CallOngoing    CallState = "ongoing"
	CallEnded      CallState = "ended"
)

// Call is one simulated web call
type Call struct {
	ID                  string
	AgentID             string
	State               CallState
	CreatedAt           time.Time
	StartedAt           time.Time
	EndedAt             time.Time
	DisconnectionReason string
}

// Registry holds every call the simulator has created
type Registry struct {
	mu             sync.RWMutex
	calls          map[string]*Call
	analyticsDelay time.Duration
	now            func() time.Time
}

func NewRegistry(analyticsDelay time.Duration) *Registry {
	return &Registry{
		calls:          make(map[string]*Call),
		analyticsDelay: analyticsDelay,
		now:            time.Now,
	}
}

// Create registers a new call for agentID
func (r *Registry) Create(agentID string) Call {
	c := &Call{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		State:     CallRegistered,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	r.calls[c.ID] = c
	r.mu.Unlock()
	return *c
}

func (r *Registry) Get(callID string) (Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[callID]
	if !ok {
		return Call{}, false
	}
	return *c, true
}

// MarkStarted moves a registered call to ongoing
func (r *Registry) MarkStarted(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.State != CallRegistered {
		return false
	}
	c.State = CallOngoing
	c.StartedAt = r.now()
	return true
}

// MarkEnded ends a call once; later calls keep the first reason
func (r *Registry) MarkEnded(callID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.State == CallEnded {
		return false
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = r.now()
	}
	c.State = CallEnded
	c.EndedAt = r.now()
	c.DisconnectionReason = reason
	return true
}

// Analytics returns the provider record for a call. It is empty until the
// call has ended and the analytics delay has passed.
func (r *Registry) Analytics(callID string) (types.AnalyticsRecord, bool) {
	c, ok := r.Get(callID)
	if !ok {
		return nil, false
	}
	if c.State != CallEnded || r.now().Before(c.EndedAt.Add(r.analyticsDelay)) {
		return types.AnalyticsRecord{}, true
	}

	duration := c.EndedAt.Sub(c.StartedAt)
	return types.AnalyticsRecord{
		"call_id":              c.ID,
		"agent_id":             c.AgentID,
		"call_type":            "web_call",
		"call_status":          string(CallEnded),
		"start_timestamp":      c.StartedAt.UnixMilli(),
		"end_timestamp":        c.EndedAt.UnixMilli(),
		"duration_ms":          duration.Milliseconds(),
		"disconnection_reason": c.DisconnectionReason,
		"call_analysis": map[string]any{
			"call_summary":    "Simulated call with the restaurant assistant.",
			"user_sentiment":  "Neutral",
			"call_successful": c.DisconnectionReason != "connection_lost",
		},
	}, true
}

// Stats summarises the registry
type Stats struct {
	Total     int            `json:"total"`
	ByState   map[string]int `json:"byState"`
	RecentIDs []string       `json:"recentIds"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.calls), ByState: map[string]int{}}
	all := make([]*Call, 0, len(r.calls))
	for _, c := range r.calls {
		s.ByState[string(c.State)]++
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	for i := 0; i < len(all) && i < 10; i++ {
		s.RecentIDs = append(s.RecentIDs, all[i].ID)
	}
	return s
}
