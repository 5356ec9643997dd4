package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/core"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

var _ core.SignalConnection = (*wsConn)(nil)

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sid domain.SocketID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.dropSocket(ctx, sid)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, sid, c, data)
		}
	}
}

func (ctl *Controller) handleMessage(ctx context.Context, sid domain.SocketID, c *wsConn, data []byte) {
	env, err := domain.ParseEnvelope(data)
	if err != nil {
		// Malformed messages are dropped, never crash the relay or registry.
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("malformed message dropped")
		return
	}
	if ctl.limiter != nil && !ctl.limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("kind", string(env.Kind)).Msg("rate limited")
		return
	}

	switch env.Kind {
	case domain.KindJoinPresence:
		ctl.handleJoinPresence(ctx, sid, c, env)
	case domain.KindHeartbeat:
		ctl.handleHeartbeat(ctx, sid, env)
	case domain.KindLeavePresence:
		ctl.handleLeavePresence(ctx, sid)
	case domain.KindSessionJoin:
		ctl.handleSessionJoin(sid, c, env)
	case domain.KindSessionLeave:
		ctl.handleSessionLeave(sid, env)
	case domain.KindRTCOffer, domain.KindRTCAnswer, domain.KindRTCCandidate, domain.KindRTCHangup, domain.KindRTCReady:
		ctl.handleRelay(sid, env)
	case domain.KindPing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("kind", string(env.Kind)).Msg("unknown kind dropped")
	}
}

func sendJSON(c core.SignalConnection, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return err
	}
	return c.TrySend(b)
}

func sendError(c core.SignalConnection, msg string) {
	env, err := domain.NewEnvelope(domain.KindError, domain.ErrorPayload{Error: msg})
	if err != nil {
		return
	}
	_ = sendJSON(c, env)
}
