package presence

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type flakyStore struct {
	mu      sync.Mutex
	fail    bool
	online  []domain.UserID
	touches int
	deletes int
}

func (s *flakyStore) Touch(_ context.Context, _ domain.PresenceRecord, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches++
	if s.fail {
		return errors.New("store down")
	}
	return nil
}

func (s *flakyStore) Delete(_ context.Context, _ domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.fail {
		return errors.New("store down")
	}
	return nil
}

func (s *flakyStore) Online(_ context.Context) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store down")
	}
	return s.online, nil
}

type countingNotifier struct {
	mu      sync.Mutex
	updates []domain.PresenceUpdatePayload
}

func (n *countingNotifier) PresenceChanged(p domain.PresenceUpdatePayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, p)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.updates)
}

func newTestRegistry(clock *fakeClock) (*Registry, *countingNotifier) {
	notifier := &countingNotifier{}
	r := NewRegistry(nil, notifier, "srv-1", 90*time.Second, 60*time.Second, 30*time.Second)
	r.now = clock.now
	return r, notifier
}

func TestOnlineOnlyWithinTimeoutWindow(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(clock)
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	if !r.IsOnline(ctx, "alice") {
		t.Fatal("just joined, must be online")
	}

	clock.advance(89 * time.Second)
	if !r.IsOnline(ctx, "alice") {
		t.Fatal("89s since join with 90s timeout, still online")
	}

	clock.advance(2 * time.Second)
	if r.IsOnline(ctx, "alice") {
		t.Fatal("91s since join, must be offline")
	}

	// A heartbeat restarts the window.
	if !r.Heartbeat(ctx, "alice", "sock-1") {
		t.Fatal("heartbeat from the owning socket must be accepted")
	}
	if !r.IsOnline(ctx, "alice") {
		t.Fatal("online again after heartbeat")
	}
}

func TestStaleHeartbeatIgnored(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(clock)
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	if r.Heartbeat(ctx, "alice", "sock-OLD") {
		t.Fatal("heartbeat from a socket that lost the seat must be ignored")
	}
	if r.Heartbeat(ctx, "ghost", "sock-1") {
		t.Fatal("heartbeat for an unknown user must be ignored")
	}
}

func TestJoinEvictsPreviousSocket(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(clock)
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	evicted, ok := r.Join(ctx, "alice", "sock-2", nil)
	if !ok || evicted != "sock-1" {
		t.Fatalf("second join evicted %q (%v), want sock-1", evicted, ok)
	}

	// The old socket no longer owns anything.
	if _, ok := r.Leave(ctx, "sock-1"); ok {
		t.Fatal("evicted socket must not be able to leave the user")
	}
	if !r.IsOnline(ctx, "alice") {
		t.Fatal("user stays online on the new socket")
	}

	// Same socket re-joining is not an eviction.
	if _, ok := r.Join(ctx, "alice", "sock-2", nil); ok {
		t.Fatal("re-join on the same socket must not evict")
	}
}

func TestLeaveRecordsLastSeen(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(clock)
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	joinedAt := clock.now()
	clock.advance(10 * time.Second)

	user, ok := r.Leave(ctx, "sock-1")
	if !ok || user != "alice" {
		t.Fatalf("Leave = %q, %v", user, ok)
	}
	if r.IsOnline(ctx, "alice") {
		t.Fatal("left user must be offline")
	}

	snap := r.Snapshot(ctx)
	if len(snap.OnlineUsers) != 0 {
		t.Fatalf("online = %v, want empty", snap.OnlineUsers)
	}
	if ts, ok := snap.LastSeen["alice"]; !ok || !ts.Equal(joinedAt) {
		t.Fatalf("last seen = %v, want %v", ts, joinedAt)
	}
}

func TestSweepRemovesExactlyExpired(t *testing.T) {
	clock := newFakeClock()
	r, notifier := newTestRegistry(clock)
	ctx := context.Background()

	rng := rand.New(rand.NewSource(7))
	fresh := make(map[domain.UserID]bool)
	for i := 0; i < 40; i++ {
		id := domain.UserID(string(rune('a'+i%26)) + "-" + string(rune('0'+i/26)))
		r.Join(ctx, id, domain.SocketID("sock-"+string(id)), nil)
		// Randomize each record's age around the 90s boundary.
		age := time.Duration(rng.Intn(180)) * time.Second
		r.mu.Lock()
		r.records[id].LastSeen = clock.now().Add(-age)
		r.mu.Unlock()
		fresh[id] = age <= 90*time.Second
	}

	before := notifier.count()
	expired := r.Sweep(ctx)

	got := make(map[domain.UserID]bool, len(expired))
	for _, id := range expired {
		got[id] = true
	}
	for id, isFresh := range fresh {
		if isFresh && got[id] {
			t.Fatalf("user %s inside the window was swept", id)
		}
		if !isFresh && !got[id] {
			t.Fatalf("user %s outside the window survived the sweep", id)
		}
		if isFresh != r.IsOnline(ctx, id) {
			t.Fatalf("user %s online = %v, want %v", id, r.IsOnline(ctx, id), isFresh)
		}
	}

	if len(expired) > 0 && notifier.count() != before+1 {
		t.Fatalf("sweep with removals must broadcast exactly once, got %d broadcasts", notifier.count()-before)
	}

	// A second sweep with nothing expired stays quiet.
	before = notifier.count()
	if again := r.Sweep(ctx); len(again) != 0 {
		t.Fatalf("second sweep removed %v, want nothing", again)
	}
	if notifier.count() != before {
		t.Fatal("empty sweep must not broadcast")
	}
}

func TestMissedHeartbeatsExpireBetweenSweeps(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(clock)
	ctx := context.Background()

	// 30s heartbeat interval, 90s timeout, 30s sweep: a silent client flips
	// offline somewhere between 90 and 120 seconds after its last beat.
	r.Join(ctx, "alice", "sock-1", nil)
	for i := 1; i <= 3; i++ {
		clock.advance(30 * time.Second)
		if removed := r.Sweep(ctx); len(removed) != 0 {
			t.Fatalf("sweep at %ds removed %v, record still inside the window", i*30, removed)
		}
	}
	clock.advance(30 * time.Second) // 120s of silence
	removed := r.Sweep(ctx)
	if len(removed) != 1 || removed[0] != "alice" {
		t.Fatalf("sweep at 120s removed %v, want [alice]", removed)
	}
}

func TestStoreFailureDoesNotBreakPresence(t *testing.T) {
	clock := newFakeClock()
	store := &flakyStore{fail: true}
	notifier := &countingNotifier{}
	r := NewRegistry(store, notifier, "srv-1", 90*time.Second, 60*time.Second, 30*time.Second)
	r.now = clock.now
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	if !r.IsOnline(ctx, "alice") {
		t.Fatal("join must succeed when the shared store is down")
	}
	if !r.Heartbeat(ctx, "alice", "sock-1") {
		t.Fatal("heartbeat must succeed when the shared store is down")
	}
	if _, ok := r.Leave(ctx, "sock-1"); !ok {
		t.Fatal("leave must succeed when the shared store is down")
	}
	if store.touches == 0 || store.deletes == 0 {
		t.Fatal("store must still have been attempted")
	}
}

func TestJoinAndLeaveBroadcast(t *testing.T) {
	clock := newFakeClock()
	r, notifier := newTestRegistry(clock)
	ctx := context.Background()

	r.Join(ctx, "alice", "sock-1", nil)
	r.Join(ctx, "bob", "sock-2", nil)
	r.Leave(ctx, "sock-1")

	if n := notifier.count(); n != 3 {
		t.Fatalf("broadcasts = %d, want 3", n)
	}
	last := notifier.updates[len(notifier.updates)-1]
	if len(last.OnlineUsers) != 1 || last.OnlineUsers[0] != "bob" {
		t.Fatalf("final update online = %v, want [bob]", last.OnlineUsers)
	}
}

func TestSnapshotMergesSiblingProcessUsers(t *testing.T) {
	clock := newFakeClock()
	store := &flakyStore{online: []domain.UserID{"alice", "remote-user"}}
	r := NewRegistry(store, nil, "srv-1", 90*time.Second, 60*time.Second, 30*time.Second)
	r.now = clock.now
	ctx := context.Background()

	// alice is local and also in the store; remote-user lives on a sibling.
	r.Join(ctx, "alice", "sock-1", nil)

	snap := r.Snapshot(ctx)
	online := make(map[domain.UserID]int)
	for _, id := range snap.OnlineUsers {
		online[id]++
	}
	if online["remote-user"] != 1 {
		t.Fatalf("online = %v, sibling-process user missing", snap.OnlineUsers)
	}
	if online["alice"] != 1 {
		t.Fatalf("online = %v, locally owned user must appear exactly once", snap.OnlineUsers)
	}
	if !r.IsOnline(ctx, "remote-user") {
		t.Fatal("user live on a sibling process must report online")
	}

	// Store outage degrades to local-only visibility, never to a crash.
	store.mu.Lock()
	store.fail = true
	store.mu.Unlock()
	snap = r.Snapshot(ctx)
	if len(snap.OnlineUsers) != 1 || snap.OnlineUsers[0] != "alice" {
		t.Fatalf("online during store outage = %v, want [alice]", snap.OnlineUsers)
	}
	if r.IsOnline(ctx, "remote-user") {
		t.Fatal("sibling user unknowable during store outage")
	}
}

var _ core.PresenceStore = (*flakyStore)(nil)
var _ core.PresenceNotifier = (*countingNotifier)(nil)
