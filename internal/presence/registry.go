// Package presence tracks which users are currently live, across possibly
// several server processes. The in-process map is authoritative for sockets
// owned by this process; the shared store gives other processes the same
// liveness picture through TTL'd records.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

type Registry struct {
	mu       sync.RWMutex
	records  map[domain.UserID]*domain.PresenceRecord
	bySocket map[domain.SocketID]domain.UserID
	// lastSeen keeps the departure timestamp of users no longer online,
	// reported in presence updates so watchers can show "last seen at".
	lastSeen map[domain.UserID]time.Time

	store    core.PresenceStore
	notify   core.PresenceNotifier
	serverID string

	timeout    time.Duration
	storeTTL   time.Duration
	sweepEvery time.Duration

	now func() time.Time
}

// NewRegistry wires the registry. storeTTL should be about twice the client
// heartbeat interval so a missed beat does not flap cross-process visibility.
func NewRegistry(store core.PresenceStore, notify core.PresenceNotifier, serverID string, timeout, storeTTL, sweepEvery time.Duration) *Registry {
	return &Registry{
		records:    make(map[domain.UserID]*domain.PresenceRecord),
		bySocket:   make(map[domain.SocketID]domain.UserID),
		lastSeen:   make(map[domain.UserID]time.Time),
		store:      store,
		notify:     notify,
		serverID:   serverID,
		timeout:    timeout,
		storeTTL:   storeTTL,
		sweepEvery: sweepEvery,
		now:        time.Now,
	}
}

// SetNotifier wires the watcher fan-out. Call before Run; the hub and the
// registry reference each other, so one side is wired late.
func (r *Registry) SetNotifier(n core.PresenceNotifier) {
	r.notify = n
}

// Join registers presence for userID on socketID. If another socket already
// holds the user, that socket is force-left first: single active session per
// user. Returns the evicted socket id, if any.
func (r *Registry) Join(ctx context.Context, userID domain.UserID, socketID domain.SocketID, metadata map[string]string) (domain.SocketID, bool) {
	r.mu.Lock()
	var evicted domain.SocketID
	if old, ok := r.records[userID]; ok && old.SocketID != socketID {
		evicted = old.SocketID
		delete(r.bySocket, old.SocketID)
	}
	rec := &domain.PresenceRecord{
		UserID:   userID,
		SocketID: socketID,
		ServerID: r.serverID,
		LastSeen: r.now(),
		Metadata: metadata,
	}
	r.records[userID] = rec
	r.bySocket[socketID] = userID
	delete(r.lastSeen, userID)
	r.mu.Unlock()

	r.touchStore(ctx, *rec)
	log.Info().Str("module", "presence").Str("user", string(userID)).Str("socket", string(socketID)).Msg("presence join")
	r.broadcast(ctx)
	return evicted, evicted != ""
}

// Heartbeat refreshes lastSeen only when socketID still owns the user's
// record. A stale duplicate heartbeat is ignored, not an error.
func (r *Registry) Heartbeat(ctx context.Context, userID domain.UserID, socketID domain.SocketID) bool {
	r.mu.Lock()
	rec, ok := r.records[userID]
	if !ok || rec.SocketID != socketID {
		r.mu.Unlock()
		log.Debug().Str("module", "presence").Str("user", string(userID)).Msg("stale heartbeat ignored")
		return false
	}
	rec.LastSeen = r.now()
	snapshot := *rec
	r.mu.Unlock()

	r.touchStore(ctx, snapshot)
	return true
}

// Leave removes the record held by socketID and reports the user offline.
func (r *Registry) Leave(ctx context.Context, socketID domain.SocketID) (domain.UserID, bool) {
	r.mu.Lock()
	userID, ok := r.bySocket[socketID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	r.removeLocked(userID)
	r.mu.Unlock()

	r.deleteStore(ctx, userID)
	log.Info().Str("module", "presence").Str("user", string(userID)).Msg("presence leave")
	r.broadcast(ctx)
	return userID, true
}

// IsOnline reports whether a join or heartbeat happened within the timeout
// window of now, on this process or on a sibling sharing the store.
func (r *Registry) IsOnline(ctx context.Context, userID domain.UserID) bool {
	r.mu.RLock()
	rec, ok := r.records[userID]
	local := ok && r.now().Sub(rec.LastSeen) <= r.timeout
	r.mu.RUnlock()
	if local {
		return true
	}
	for _, id := range r.storeOnline(ctx) {
		if id == userID {
			return true
		}
	}
	return false
}

// Snapshot builds the presence-update payload for watchers. Users live on
// sibling processes are merged in from the shared store; their lastSeen is
// unknown here, the TTL'd entry itself is the liveness proof.
func (r *Registry) Snapshot(ctx context.Context) domain.PresenceUpdatePayload {
	r.mu.RLock()
	update := domain.PresenceUpdatePayload{
		OnlineUsers: make([]domain.UserID, 0, len(r.records)),
		LastSeen:    make(map[domain.UserID]time.Time, len(r.records)+len(r.lastSeen)),
		Timestamp:   r.now(),
	}
	seen := make(map[domain.UserID]struct{}, len(r.records))
	for id, rec := range r.records {
		update.OnlineUsers = append(update.OnlineUsers, id)
		update.LastSeen[id] = rec.LastSeen
		seen[id] = struct{}{}
	}
	for id, ts := range r.lastSeen {
		update.LastSeen[id] = ts
	}
	r.mu.RUnlock()

	for _, id := range r.storeOnline(ctx) {
		if _, ok := seen[id]; ok {
			continue
		}
		update.OnlineUsers = append(update.OnlineUsers, id)
	}
	return update
}

// storeOnline reads the sibling-process view. Errors degrade to local-only
// visibility, same as the write path.
func (r *Registry) storeOnline(ctx context.Context) []domain.UserID {
	if r.store == nil {
		return nil
	}
	ids, err := r.store.Online(ctx)
	if err != nil {
		log.Warn().Err(err).Str("module", "presence").Msg("shared store read failed")
		return nil
	}
	return ids
}

// Run drives the liveness sweep until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "presence").Msg("sweep stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep force-leaves every record whose age exceeds the timeout. Returns the
// ids it removed.
func (r *Registry) Sweep(ctx context.Context) []domain.UserID {
	cutoff := r.now().Add(-r.timeout)

	r.mu.Lock()
	var expired []domain.UserID
	for id, rec := range r.records {
		if rec.LastSeen.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		r.removeLocked(id)
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	for _, id := range expired {
		r.deleteStore(ctx, id)
		log.Info().Str("module", "presence").Str("user", string(id)).Msg("presence expired")
	}
	r.broadcast(ctx)
	return expired
}

// removeLocked drops the record and remembers when the user was last seen.
func (r *Registry) removeLocked(userID domain.UserID) {
	if rec, ok := r.records[userID]; ok {
		r.lastSeen[userID] = rec.LastSeen
		delete(r.bySocket, rec.SocketID)
		delete(r.records, userID)
	}
}

func (r *Registry) touchStore(ctx context.Context, rec domain.PresenceRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.Touch(ctx, rec, r.storeTTL); err != nil {
		// Presence degrades to single-process visibility, never crashes.
		log.Warn().Err(err).Str("module", "presence").Str("user", string(rec.UserID)).Msg("shared store touch failed")
	}
}

func (r *Registry) deleteStore(ctx context.Context, userID domain.UserID) {
	if r.store == nil {
		return
	}
	if err := r.store.Delete(ctx, userID); err != nil {
		log.Warn().Err(err).Str("module", "presence").Str("user", string(userID)).Msg("shared store delete failed")
	}
}

func (r *Registry) broadcast(ctx context.Context) {
	if r.notify == nil {
		return
	}
	r.notify.PresenceChanged(r.Snapshot(ctx))
}
