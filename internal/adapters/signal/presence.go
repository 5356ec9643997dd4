package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

func (ctl *Controller) handleJoinPresence(ctx context.Context, sid domain.SocketID, c *wsConn, env domain.Envelope) {
	var p domain.JoinPresencePayload
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join-presence payload")
		sendError(c, "bad_payload")
		return
	}
	if p.UserID == "" || len(p.UserID) > domain.MaxUserIDLen {
		sendError(c, "invalid_user_id")
		return
	}

	ctl.bindUser(sid, p.UserID)
	evicted, ok := ctl.Presence.Join(ctx, p.UserID, sid, p.Metadata)
	if ok {
		ctl.evictSocket(evicted)
	}
}

func (ctl *Controller) handleHeartbeat(ctx context.Context, sid domain.SocketID, env domain.Envelope) {
	var p domain.HeartbeatPayload
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad heartbeat payload")
		return
	}
	userID := p.UserID
	if userID == "" {
		// Fall back to the identity bound at join-presence.
		bound, ok := ctl.userOf(sid)
		if !ok {
			return
		}
		userID = bound
	}
	ctl.Presence.Heartbeat(ctx, userID, sid)
}

func (ctl *Controller) handleLeavePresence(ctx context.Context, sid domain.SocketID) {
	ctl.Presence.Leave(ctx, sid)
}

// evictSocket tells a superseded socket it lost its seat and closes it.
func (ctl *Controller) evictSocket(sid domain.SocketID) {
	conn, ok := ctl.connOf(sid)
	if !ok {
		return
	}
	if env, err := domain.NewEnvelope(domain.KindSessionEvicted, nil); err == nil {
		_ = sendJSON(conn, env)
	}
	if member, ok := ctl.Sessions.LeaveSocket(sid); ok {
		ctl.broadcastUserLeft(member)
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("socket evicted by newer join")
	conn.Close()
}
