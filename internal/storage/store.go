package storage

import (
	"context"
	"errors"

	"github.com/dennisdiepolder/hostline/internal/types"
)

// ErrNotFound is returned when a user record does not exist
var ErrNotFound = errors.New("user record not found")

// Store defines the user record storage interface
type Store interface {
	// GetUser loads a user's record
	GetUser(ctx context.Context, userID string) (*types.UserRecord, error)

	// PutUser writes the profile fields of a record (restaurant name and
	// agent data). Analytics already stored for the user are left untouched.
	PutUser(ctx context.Context, record types.UserRecord) error

	// MergeAnalytics stores one call's analytics under analytics[callID].
	// Entries for other call IDs and other top-level fields are never
	// removed or overwritten, even under concurrent merges for the same user.
	MergeAnalytics(ctx context.Context, userID, callID string, record types.AnalyticsRecord) error

	// ListAnalytics returns the user's analytics mapping
	ListAnalytics(ctx context.Context, userID string) (map[string]types.AnalyticsRecord, error)

	// TruncateAll deletes every user record
	TruncateAll(ctx context.Context) error
}
