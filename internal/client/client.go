// Package client is the participant agent's transport: it keeps one
// WebSocket to the signaling server, heartbeats presence, reconnects with
// backoff on unexpected disconnects, and feeds envelopes to the peer manager.
package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
	"github.com/uppjke/izuchator-sub000/internal/peer"
	"github.com/uppjke/izuchator-sub000/internal/reconnect"
)

type Config struct {
	URL               string
	UserID            domain.UserID
	Username          string
	SessionID         domain.SessionID
	HeartbeatInterval time.Duration
}

type Client struct {
	cfg     Config
	backoff *reconnect.Controller
	manager *peer.Manager

	// OnPresence, if set, receives every presence-update broadcast.
	OnPresence func(domain.PresenceUpdatePayload)

	mu      sync.Mutex
	conn    *websocket.Conn
	connGen int // bumped per connection so stale loops exit
	closing bool
}

func New(cfg Config, backoff *reconnect.Controller) *Client {
	return &Client{cfg: cfg, backoff: backoff}
}

// AttachManager wires the peer manager the dispatch feeds. The manager uses
// the client back as its Signaler.
func (c *Client) AttachManager(m *peer.Manager) {
	c.manager = m
}

// Run connects and keeps the transport alive until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	c.connect(ctx)
	<-ctx.Done()
	c.Close()
}

func (c *Client) connect(ctx context.Context) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		delay := c.backoff.Schedule(func() { c.connect(ctx) })
		log.Warn().Err(err).Str("module", "client").Dur("retry_in", delay).Msg("dial failed")
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.connGen++
	gen := c.connGen
	c.mu.Unlock()

	c.backoff.Reset()
	log.Info().Str("module", "client").Str("user", string(c.cfg.UserID)).Msg("connected")

	c.announce()
	go c.readLoop(ctx, conn, gen)
	go c.heartbeatLoop(ctx, gen)
}

// announce registers presence and membership on a fresh connection.
func (c *Client) announce() {
	join := domain.JoinPresencePayload{
		UserID:   c.cfg.UserID,
		Username: c.cfg.Username,
		Metadata: map[string]string{"username": c.cfg.Username},
	}
	if err := c.sendKind(domain.KindJoinPresence, "", join); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("join-presence send failed")
	}
	if c.cfg.SessionID == "" {
		return
	}
	sj := domain.SessionJoinPayload{
		SessionID: c.cfg.SessionID,
		UserID:    c.cfg.UserID,
		Username:  c.cfg.Username,
	}
	if err := c.sendKind(domain.KindSessionJoin, "", sj); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("session-join send failed")
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onDisconnect(ctx, gen, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) heartbeatLoop(ctx context.Context, gen int) {
	interval := c.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.isCurrent(gen) {
				return
			}
			hb := domain.HeartbeatPayload{UserID: c.cfg.UserID, Timestamp: time.Now()}
			if err := c.sendKind(domain.KindHeartbeat, "", hb); err != nil {
				log.Debug().Err(err).Str("module", "client").Msg("heartbeat send failed")
			}
		}
	}
}

func (c *Client) isCurrent(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connGen == gen && !c.closing
}

// onDisconnect schedules a reconnect unless the close was user-initiated.
func (c *Client) onDisconnect(ctx context.Context, gen int, cause error) {
	c.mu.Lock()
	if c.closing || c.connGen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	delay := c.backoff.Schedule(func() { c.connect(ctx) })
	log.Warn().Err(cause).Str("module", "client").Dur("retry_in", delay).Msg("transport lost, reconnect scheduled")
}

func (c *Client) dispatch(data []byte) {
	env, err := domain.ParseEnvelope(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("malformed message dropped")
		return
	}

	switch env.Kind {
	case domain.KindSessionUsers:
		var p domain.SessionUsersPayload
		if err := env.Decode(&p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad session-users")
			return
		}
		ids := make([]domain.UserID, 0, len(p.Users))
		for _, u := range p.Users {
			ids = append(ids, u.UserID)
		}
		if c.manager != nil {
			c.manager.SetMembers(ids)
		}
		// Tell every existing member we are ready to negotiate.
		for _, id := range ids {
			if id == c.cfg.UserID {
				continue
			}
			if err := c.sendKind(domain.KindRTCReady, id, nil); err != nil {
				log.Debug().Err(err).Str("module", "client").Msg("ready send failed")
			}
		}
	case domain.KindUserJoined:
		var p domain.UserJoinedPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		if c.manager != nil {
			c.manager.HandleUserJoined(p.UserID)
		}
	case domain.KindUserLeft:
		var p domain.UserLeftPayload
		if err := env.Decode(&p); err != nil {
			return
		}
		if c.manager != nil {
			c.manager.HandleUserLeft(p.UserID)
		}
	case domain.KindRTCOffer:
		var p domain.OfferPayload
		if err := env.Decode(&p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad offer")
			return
		}
		if c.manager != nil {
			c.manager.HandleOffer(env.From, p.Offer)
		}
	case domain.KindRTCAnswer:
		var p domain.AnswerPayload
		if err := env.Decode(&p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad answer")
			return
		}
		if c.manager != nil {
			c.manager.HandleAnswer(env.From, p.Answer)
		}
	case domain.KindRTCCandidate:
		var p domain.CandidatePayload
		if err := env.Decode(&p); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad candidate")
			return
		}
		if c.manager != nil {
			c.manager.HandleCandidate(env.From, p.Candidate)
		}
	case domain.KindRTCHangup:
		if c.manager != nil {
			c.manager.HandleHangup(env.From)
		}
	case domain.KindRTCReady:
		if c.manager != nil {
			c.manager.HandleReady(env.From)
		}
	case domain.KindPresenceUpdate:
		var p domain.PresenceUpdatePayload
		if err := env.Decode(&p); err != nil {
			return
		}
		if c.OnPresence != nil {
			c.OnPresence(p)
		}
	case domain.KindSessionEvicted:
		// A newer connection of the same user took our seat: do not fight it.
		log.Info().Str("module", "client").Msg("evicted by newer session, closing")
		c.Close()
	case domain.KindPong, domain.KindError:
	default:
		log.Debug().Str("module", "client").Str("kind", string(env.Kind)).Msg("unhandled kind")
	}
}

// Close leaves explicitly: hang up every link, announce the leave, stop
// reconnecting, and close the socket.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()

	c.backoff.Stop()
	if c.manager != nil {
		c.manager.HangupAll()
	}
	if c.cfg.SessionID != "" {
		_ = c.sendKind(domain.KindSessionLeave, "", domain.SessionLeavePayload{
			SessionID: c.cfg.SessionID,
			UserID:    c.cfg.UserID,
		})
	}
	_ = c.sendKind(domain.KindLeavePresence, "", nil)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	log.Info().Str("module", "client").Str("user", string(c.cfg.UserID)).Msg("closed")
}

// SendOffer implements peer.Signaler.
func (c *Client) SendOffer(to domain.UserID, offer webrtc.SessionDescription) error {
	return c.sendKind(domain.KindRTCOffer, to, domain.OfferPayload{Offer: offer})
}

func (c *Client) SendAnswer(to domain.UserID, answer webrtc.SessionDescription) error {
	return c.sendKind(domain.KindRTCAnswer, to, domain.AnswerPayload{Answer: answer})
}

func (c *Client) SendCandidate(to domain.UserID, cand webrtc.ICECandidateInit) error {
	return c.sendKind(domain.KindRTCCandidate, to, domain.CandidatePayload{Candidate: cand})
}

func (c *Client) SendHangup(to domain.UserID) error {
	return c.sendKind(domain.KindRTCHangup, to, nil)
}

func (c *Client) sendKind(kind domain.Kind, to domain.UserID, payload any) error {
	env, err := domain.NewEnvelope(kind, payload)
	if err != nil {
		return err
	}
	env.From = c.cfg.UserID
	env.To = to
	if to != "" || kind == domain.KindRTCHangup {
		env.Session = c.cfg.SessionID
	}
	return c.send(env)
}

func (c *Client) send(env domain.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
