package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// handleRelay forwards negotiation envelopes without touching the payload.
// The sender identity is stamped from the socket binding, never trusted from
// the wire.
func (ctl *Controller) handleRelay(sid domain.SocketID, env domain.Envelope) {
	from, ok := ctl.userOf(sid)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("kind", string(env.Kind)).Msg("relay from unbound socket dropped")
		return
	}
	env.From = from
	ctl.Relay.Forward(env)
}
