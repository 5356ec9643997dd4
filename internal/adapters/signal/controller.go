// Package signal is the WebSocket boundary of the server: it owns the live
// sockets, decodes envelopes, and hands them to the presence registry, the
// membership gateway, and the relay.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
	"github.com/uppjke/izuchator-sub000/internal/presence"
	"github.com/uppjke/izuchator-sub000/internal/relay"
	"github.com/uppjke/izuchator-sub000/internal/session"
)

var ErrBackpressure = errors.New("backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// socketEntry binds one socket to its connection, the user it authenticated
// as presence for, and the cancel of its pump context.
type socketEntry struct {
	conn   *wsConn
	user   domain.UserID
	cancel context.CancelFunc
}

type Controller struct {
	Presence *presence.Registry
	Sessions *session.Gateway
	Relay    *relay.Relay

	limiter    *RateLimiter
	policy     Policy
	readLimit  int64
	pingPeriod time.Duration

	mu    sync.RWMutex
	socks map[domain.SocketID]*socketEntry
}

func NewController(reg *presence.Registry, gw *session.Gateway, limiter *RateLimiter, readLimit int64, pingPeriod time.Duration) *Controller {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ctl := &Controller{
		Presence:   reg,
		Sessions:   gw,
		limiter:    limiter,
		policy:     SimplePolicy{},
		readLimit:  readLimit,
		pingPeriod: pingPeriod,
		socks:      make(map[domain.SocketID]*socketEntry),
	}
	ctl.Relay = relay.New(gw, ctl)
	return ctl
}

// HandleSignal upgrades the request and runs the socket's pump pair.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.SocketID(uuid.NewString())
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("client", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.bind(sid, conn, cancel)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sid, conn)
}

func (ctl *Controller) bind(sid domain.SocketID, conn *wsConn, cancel context.CancelFunc) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.socks[sid] = &socketEntry{conn: conn, cancel: cancel}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("bound socket")
}

func (ctl *Controller) bindUser(sid domain.SocketID, user domain.UserID) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if e, ok := ctl.socks[sid]; ok {
		e.user = user
	}
}

func (ctl *Controller) userOf(sid domain.SocketID) (domain.UserID, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	if e, ok := ctl.socks[sid]; ok && e.user != "" {
		return e.user, true
	}
	return "", false
}

func (ctl *Controller) connOf(sid domain.SocketID) (*wsConn, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	if e, ok := ctl.socks[sid]; ok {
		return e.conn, true
	}
	return nil, false
}

// dropSocket runs the full disconnect cleanup: presence leave, membership
// leave with user-left fan-out, unbind, cancel.
func (ctl *Controller) dropSocket(ctx context.Context, sid domain.SocketID) {
	if member, ok := ctl.Sessions.LeaveSocket(sid); ok {
		ctl.broadcastUserLeft(member)
	}
	ctl.Presence.Leave(ctx, sid)
	if ctl.limiter != nil {
		ctl.limiter.Forget(sid)
	}

	ctl.mu.Lock()
	entry, ok := ctl.socks[sid]
	delete(ctl.socks, sid)
	ctl.mu.Unlock()

	if ok {
		entry.cancel()
		entry.conn.Close()
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("socket dropped")
}

// SendTo implements relay.Sender.
func (ctl *Controller) SendTo(sid domain.SocketID, env domain.Envelope) error {
	conn, ok := ctl.connOf(sid)
	if !ok {
		return errors.New("no such socket")
	}
	return sendJSON(conn, env)
}

// PresenceChanged implements core.PresenceNotifier: every socket is a
// presence watcher. Slow watchers are kicked per policy.
func (ctl *Controller) PresenceChanged(update domain.PresenceUpdatePayload) {
	env, err := domain.NewEnvelope(domain.KindPresenceUpdate, update)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode presence update")
		return
	}

	ctl.mu.RLock()
	targets := make(map[domain.SocketID]*wsConn, len(ctl.socks))
	for sid, e := range ctl.socks {
		targets[sid] = e.conn
	}
	ctl.mu.RUnlock()

	res := core.PublishResult{}
	for sid, conn := range targets {
		if err := sendJSON(conn, env); err != nil {
			res.Dropped++
			if ctl.policy.OnBackPressure(sid) == KickSocket {
				go ctl.dropSocket(context.Background(), sid)
			}
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "signal").Int("sent_to", res.SentTo).Int("dropped", res.Dropped).Msg("presence update fan-out")
}

func (ctl *Controller) broadcastToSession(sessionID domain.SessionID, env domain.Envelope, except domain.SocketID) {
	for _, m := range ctl.Sessions.Members(sessionID) {
		if m.SocketID == except {
			continue
		}
		if err := ctl.SendTo(m.SocketID, env); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("to", string(m.UserID)).Msg("session broadcast drop")
		}
	}
}

func (ctl *Controller) broadcastUserLeft(member domain.SessionMember) {
	env, err := domain.NewEnvelope(domain.KindUserLeft, domain.UserLeftPayload{UserID: member.UserID})
	if err != nil {
		return
	}
	env.Session = member.SessionID
	ctl.broadcastToSession(member.SessionID, env, member.SocketID)
}
