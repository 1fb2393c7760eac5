package storage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dennisdiepolder/hostline/internal/types"
)

// MemoryStore keeps user records in process memory. It is the default
// backend for local runs and the store used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*types.UserRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*types.UserRecord)}
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*types.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) PutUser(_ context.Context, record types.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[record.UserID]
	if !ok {
		u = &types.UserRecord{UserID: record.UserID}
		s.users[record.UserID] = u
	}
	u.RestaurantName = record.RestaurantName
	if record.AgentData != nil {
		agent := *record.AgentData
		u.AgentData = &agent
	} else {
		u.AgentData = nil
	}
	return nil
}

func (s *MemoryStore) MergeAnalytics(_ context.Context, userID, callID string, record types.AnalyticsRecord) error {
	rec, err := cloneRecord(record)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		u = &types.UserRecord{UserID: userID}
		s.users[userID] = u
	}
	if u.Analytics == nil {
		u.Analytics = make(map[string]types.AnalyticsRecord)
	}
	u.Analytics[callID] = rec
	return nil
}

func (s *MemoryStore) ListAnalytics(_ context.Context, userID string) (map[string]types.AnalyticsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u).Analytics, nil
}

func (s *MemoryStore) TruncateAll(_ context.Context) error {
	s.mu.Lock()
	s.users = make(map[string]*types.UserRecord)
	s.mu.Unlock()
	return nil
}

// cloneUser deep-copies a record so callers cannot mutate stored state
func cloneUser(u *types.UserRecord) *types.UserRecord {
	out := &types.UserRecord{
		UserID:         u.UserID,
		RestaurantName: u.RestaurantName,
		Analytics:      make(map[string]types.AnalyticsRecord, len(u.Analytics)),
	}
	if u.AgentData != nil {
		agent := *u.AgentData
		out.AgentData = &agent
	}
	for callID, rec := range u.Analytics {
		// Records were round-tripped through JSON on write, so this cannot fail.
		out.Analytics[callID], _ = cloneRecord(rec)
	}
	return out
}

func cloneRecord(rec types.AnalyticsRecord) (types.AnalyticsRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out types.AnalyticsRecord
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
