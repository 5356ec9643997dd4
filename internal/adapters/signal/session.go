package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

func (ctl *Controller) handleSessionJoin(sid domain.SocketID, c *wsConn, env domain.Envelope) {
	var p domain.SessionJoinPayload
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad session-join payload")
		sendError(c, "bad_payload")
		return
	}
	if p.SessionID == "" || p.UserID == "" {
		sendError(c, "bad_payload")
		return
	}

	res := ctl.Sessions.Join(p.SessionID, p.UserID, p.Username, sid)
	if res.Evicted != "" {
		ctl.evictSocket(res.Evicted)
	}

	// Reply with the current member list: this is what the joiner's peer
	// manager links against.
	reply, err := domain.NewEnvelope(domain.KindSessionUsers, domain.SessionUsersPayload{
		SessionID: p.SessionID,
		Users:     res.Members,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode session-users")
		return
	}
	if err := sendJSON(c, reply); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("session-users send failed")
	}

	if res.Rejoined {
		return // idempotent join, nothing to announce
	}
	joined, err := domain.NewEnvelope(domain.KindUserJoined, domain.UserJoinedPayload{
		UserID:   p.UserID,
		Username: p.Username,
	})
	if err != nil {
		return
	}
	joined.Session = p.SessionID
	ctl.broadcastToSession(p.SessionID, joined, sid)
}

func (ctl *Controller) handleSessionLeave(sid domain.SocketID, env domain.Envelope) {
	var p domain.SessionLeavePayload
	if err := env.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad session-leave payload")
		return
	}
	member, ok := ctl.Sessions.Leave(p.SessionID, p.UserID)
	if !ok {
		return
	}
	ctl.broadcastUserLeft(member)
}
