package presence

import (
	"context"
	"testing"
	"time"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

func rec(id string) domain.PresenceRecord {
	return domain.PresenceRecord{UserID: domain.UserID(id), SocketID: "sock", ServerID: "srv-1"}
}

func TestMemoryStoreExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewMemoryStore().(*MemoryStore)
	s.now = clock.now
	ctx := context.Background()

	mustTouch := func(id string, ttl time.Duration) {
		t.Helper()
		if err := s.Touch(ctx, rec(id), ttl); err != nil {
			t.Fatal(err)
		}
	}
	mustTouch("alice", 60*time.Second)
	mustTouch("bob", 120*time.Second)

	clock.advance(90 * time.Second)
	online, err := s.Online(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("online after 90s = %v, want [bob]", online)
	}

	// A touch before expiry extends the record.
	mustTouch("bob", 120*time.Second)
	clock.advance(100 * time.Second)
	online, _ = s.Online(ctx)
	if len(online) != 1 || online[0] != "bob" {
		t.Fatalf("online after refresh = %v, want [bob]", online)
	}

	if err := s.Delete(ctx, "bob"); err != nil {
		t.Fatal(err)
	}
	online, _ = s.Online(ctx)
	if len(online) != 0 {
		t.Fatalf("online after delete = %v, want empty", online)
	}
}
