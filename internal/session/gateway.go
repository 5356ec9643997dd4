// Package session tracks which users are joined to which collaborative
// session. The membership list is the single authoritative source of which
// peer links a participant should maintain.
package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

type memberKey struct {
	session domain.SessionID
	user    domain.UserID
}

type Gateway struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]map[domain.UserID]*domain.SessionMember
	bySocket map[domain.SocketID]memberKey
	now      func() time.Time
}

func NewGateway() *Gateway {
	return &Gateway{
		sessions: make(map[domain.SessionID]map[domain.UserID]*domain.SessionMember),
		bySocket: make(map[domain.SocketID]memberKey),
		now:      time.Now,
	}
}

// JoinResult tells the caller what a join changed: the membership created,
// the member list to reply with, and the stale socket evicted, if any.
type JoinResult struct {
	Member   domain.SessionMember
	Members  []domain.SessionMember
	Evicted  domain.SocketID
	Rejoined bool
}

// Join is idempotent per (sessionID, userID, socketID). A join from a new
// socket for the same user evicts the stale membership first. A socket holds
// at most one membership; joining another session implicitly leaves the old.
func (g *Gateway) Join(sessionID domain.SessionID, userID domain.UserID, username string, socketID domain.SocketID) JoinResult {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := JoinResult{}

	if key, ok := g.bySocket[socketID]; ok && (key.session != sessionID || key.user != userID) {
		g.removeLocked(key.session, key.user)
	}

	members, ok := g.sessions[sessionID]
	if !ok {
		members = make(map[domain.UserID]*domain.SessionMember)
		g.sessions[sessionID] = members
	}

	if existing, ok := members[userID]; ok {
		if existing.SocketID == socketID {
			res.Rejoined = true
			res.Member = *existing
			res.Members = g.membersLocked(sessionID)
			return res
		}
		res.Evicted = existing.SocketID
		g.removeLocked(sessionID, userID)
		members = g.sessions[sessionID]
		if members == nil {
			members = make(map[domain.UserID]*domain.SessionMember)
			g.sessions[sessionID] = members
		}
	}

	m := &domain.SessionMember{
		SessionID: sessionID,
		UserID:    userID,
		Username:  username,
		SocketID:  socketID,
		JoinedAt:  g.now(),
	}
	members[userID] = m
	g.bySocket[socketID] = memberKey{session: sessionID, user: userID}

	res.Member = *m
	res.Members = g.membersLocked(sessionID)
	log.Info().Str("module", "session").Str("session", string(sessionID)).Str("user", string(userID)).Msg("member joined")
	return res
}

// Leave removes the membership for (sessionID, userID).
func (g *Gateway) Leave(sessionID domain.SessionID, userID domain.UserID) (domain.SessionMember, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(sessionID, userID)
}

// LeaveSocket cleans up after a disconnect and returns the membership the
// socket held, if any.
func (g *Gateway) LeaveSocket(socketID domain.SocketID) (domain.SessionMember, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key, ok := g.bySocket[socketID]
	if !ok {
		return domain.SessionMember{}, false
	}
	return g.removeLocked(key.session, key.user)
}

// Members returns a snapshot of the session's membership.
func (g *Gateway) Members(sessionID domain.SessionID) []domain.SessionMember {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.membersLocked(sessionID)
}

// SocketOf resolves the socket currently holding (sessionID, userID).
// Used by the relay; a miss is an expected race, not an error.
func (g *Gateway) SocketOf(sessionID domain.SessionID, userID domain.UserID) (domain.SocketID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if m, ok := g.sessions[sessionID][userID]; ok {
		return m.SocketID, true
	}
	return "", false
}

func (g *Gateway) membersLocked(sessionID domain.SessionID) []domain.SessionMember {
	members := g.sessions[sessionID]
	out := make([]domain.SessionMember, 0, len(members))
	for _, m := range members {
		out = append(out, *m)
	}
	return out
}

func (g *Gateway) removeLocked(sessionID domain.SessionID, userID domain.UserID) (domain.SessionMember, bool) {
	members, ok := g.sessions[sessionID]
	if !ok {
		return domain.SessionMember{}, false
	}
	m, ok := members[userID]
	if !ok {
		return domain.SessionMember{}, false
	}
	delete(members, userID)
	delete(g.bySocket, m.SocketID)
	if len(members) == 0 {
		delete(g.sessions, sessionID)
	}
	log.Info().Str("module", "session").Str("session", string(sessionID)).Str("user", string(userID)).Msg("member left")
	return *m, true
}
