package presence

import (
	"context"
	"sync"
	"time"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// MemoryStore is the single-process fallback behind the same interface.
// Entries expire lazily on read.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[domain.UserID]time.Time
	now     func() time.Time
}

func NewMemoryStore() core.PresenceStore {
	return &MemoryStore{
		entries: make(map[domain.UserID]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryStore) Touch(_ context.Context, rec domain.PresenceRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[rec.UserID] = s.now().Add(ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func (s *MemoryStore) Online(_ context.Context) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]domain.UserID, 0, len(s.entries))
	for id, expires := range s.entries {
		if expires.Before(now) {
			delete(s.entries, id)
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
