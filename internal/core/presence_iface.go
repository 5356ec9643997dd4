package core

import (
	"context"
	"time"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// PresenceStore is the shared expiring key/value view of liveness, so other
// server processes see the same state without direct socket visibility.
// Implementations are eventually consistent; callers tolerate staleness and
// treat store errors as degraded visibility, never as fatal.
type PresenceStore interface {
	// Touch creates or refreshes the record with the given TTL.
	Touch(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error
	// Delete removes the record on explicit leave.
	Delete(ctx context.Context, userID domain.UserID) error
	// Online lists user ids whose records have not expired yet.
	Online(ctx context.Context) ([]domain.UserID, error)
}

// PresenceNotifier receives online/offline transitions for fan-out to watchers.
type PresenceNotifier interface {
	PresenceChanged(update domain.PresenceUpdatePayload)
}
