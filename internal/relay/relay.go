// Package relay routes negotiation envelopes to a named target within a
// session. It never interprets the payload.
package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
	"github.com/uppjke/izuchator-sub000/internal/session"
)

// Sender delivers an envelope to one socket. Implemented by the WS hub.
type Sender interface {
	SendTo(socketID domain.SocketID, env domain.Envelope) error
}

type Relay struct {
	gateway *session.Gateway
	send    Sender
}

func New(gateway *session.Gateway, send Sender) *Relay {
	return &Relay{gateway: gateway, send: send}
}

// Forward delivers env to whichever socket currently holds the addressed
// membership. Unknown or departed targets are dropped: that is the expected
// race when a peer has just left, not an error. Returns whether delivery was
// attempted successfully.
func (r *Relay) Forward(env domain.Envelope) bool {
	if env.To == "" || env.Session == "" {
		log.Debug().Str("module", "relay").Str("kind", string(env.Kind)).Msg("unaddressed envelope dropped")
		return false
	}
	socketID, ok := r.gateway.SocketOf(env.Session, env.To)
	if !ok {
		log.Debug().Str("module", "relay").Str("kind", string(env.Kind)).Str("to", string(env.To)).Msg("target not in session, dropped")
		return false
	}
	if err := r.send.SendTo(socketID, env); err != nil {
		// Slow or closing target. Connectivity symptoms are handled by the
		// peers themselves; the relay just drops.
		log.Debug().Err(err).Str("module", "relay").Str("kind", string(env.Kind)).Str("to", string(env.To)).Msg("send failed, dropped")
		return false
	}
	return true
}
