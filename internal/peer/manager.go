// Package peer implements the pairwise mesh negotiation engine: one media
// link per remote participant, driven by the perfect-negotiation polite-peer
// protocol so that glare never produces duplicate or corrupted links.
package peer

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// Signaler carries negotiation messages to the addressed peer. Delivery is
// at most once; loss shows up as a connectivity symptom, never as an error
// the protocol escalates.
type Signaler interface {
	SendOffer(to domain.UserID, offer webrtc.SessionDescription) error
	SendAnswer(to domain.UserID, answer webrtc.SessionDescription) error
	SendCandidate(to domain.UserID, cand webrtc.ICECandidateInit) error
	SendHangup(to domain.UserID) error
}

// Manager owns every link of the local participant. All link state is
// mutated only inside the Run loop; public methods post commands to it, so
// no locking is needed.
type Manager struct {
	local    domain.UserID
	signaler Signaler
	newLink  LinkFactory

	links   map[domain.UserID]*link
	members map[domain.UserID]struct{}
	// early buffers candidates for remotes that have no link yet.
	early map[domain.UserID][]webrtc.ICECandidateInit

	tracks  []webrtc.TrackLocal
	mediaOn bool

	cmds    chan func()
	stopped chan struct{}
}

func NewManager(local domain.UserID, signaler Signaler, factory LinkFactory) *Manager {
	return &Manager{
		local:    local,
		signaler: signaler,
		newLink:  factory,
		links:    make(map[domain.UserID]*link),
		members:  make(map[domain.UserID]struct{}),
		early:    make(map[domain.UserID][]webrtc.ICECandidateInit),
		cmds:     make(chan func(), 64),
		stopped:  make(chan struct{}),
	}
}

// Run serializes all link mutations until ctx is cancelled, then hangs up
// every link explicitly so peers are not left waiting on timeouts.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return
		case fn := <-m.cmds:
			fn()
		}
	}
}

func (m *Manager) do(fn func()) {
	select {
	case m.cmds <- fn:
	case <-m.stopped:
	}
}

// sync posts fn and waits for the loop to execute it. Used by queries.
func (m *Manager) sync(fn func()) {
	done := make(chan struct{})
	m.do(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-m.stopped:
	}
}

// SetMembers installs the authoritative membership list. Links to departed
// ids are torn down; if media is on, fresh members get an offer.
func (m *Manager) SetMembers(ids []domain.UserID) {
	m.do(func() {
		next := make(map[domain.UserID]struct{}, len(ids))
		for _, id := range ids {
			if id != m.local {
				next[id] = struct{}{}
			}
		}
		for id := range m.links {
			if _, ok := next[id]; !ok {
				m.teardown(id)
			}
		}
		m.members = next
		if m.mediaOn {
			for id := range m.members {
				m.sendOfferTo(id)
			}
		}
	})
}

// HandleUserJoined records the new member. No offer yet: the peer announces
// readiness with rtc-ready once its own manager is listening.
func (m *Manager) HandleUserJoined(id domain.UserID) {
	m.do(func() {
		if id != m.local {
			m.members[id] = struct{}{}
		}
	})
}

// HandleUserLeft drops the member and its link. The peer is gone; no hangup
// message is sent.
func (m *Manager) HandleUserLeft(id domain.UserID) {
	m.do(func() {
		delete(m.members, id)
		m.teardown(id)
	})
}

// HandleReady reacts to a peer announcing it can negotiate.
func (m *Manager) HandleReady(from domain.UserID) {
	m.do(func() {
		m.members[from] = struct{}{}
		if m.mediaOn {
			m.sendOfferTo(from)
		}
	})
}

// EnableMedia attaches the local tracks and offers to every current member.
func (m *Manager) EnableMedia(tracks []webrtc.TrackLocal) {
	m.do(func() {
		m.tracks = tracks
		m.mediaOn = true
		for id := range m.members {
			m.sendOfferTo(id)
		}
	})
}

// DisableMedia closes every link and clears all peer state, hanging up each
// remote explicitly.
func (m *Manager) DisableMedia() {
	m.do(func() {
		for id := range m.links {
			if err := m.signaler.SendHangup(id); err != nil {
				log.Debug().Err(err).Str("module", "peer").Str("remote", string(id)).Msg("hangup send failed")
			}
			m.teardown(id)
		}
		// Buffered candidates for remotes that never got a link are stale too.
		m.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
		m.tracks = nil
		m.mediaOn = false
	})
}

// SendOfferTo starts or renews negotiation with remote.
func (m *Manager) SendOfferTo(remote domain.UserID) {
	m.do(func() { m.sendOfferTo(remote) })
}

func (m *Manager) HandleOffer(from domain.UserID, offer webrtc.SessionDescription) {
	m.do(func() { m.handleOffer(from, offer) })
}

func (m *Manager) HandleAnswer(from domain.UserID, answer webrtc.SessionDescription) {
	m.do(func() { m.handleAnswer(from, answer) })
}

func (m *Manager) HandleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	m.do(func() { m.handleCandidate(from, cand) })
}

// HandleHangup closes and removes the link, clearing buffers and glare flags
// for that remote.
func (m *Manager) HandleHangup(from domain.UserID) {
	m.do(func() { m.teardown(from) })
}

func (m *Manager) sendOfferTo(remote domain.UserID) {
	if l, ok := m.links[remote]; ok {
		if l.iceState == webrtc.ICEConnectionStateFailed {
			// Only failed tears down; a fresh link is built below.
			m.teardown(remote)
		} else {
			switch {
			case l.makingOffer || l.state == stateLocalOffer || l.state == stateRemoteOffer:
				return // already negotiating
			case l.iceState == webrtc.ICEConnectionStateChecking || l.iceState == webrtc.ICEConnectionStateNew:
				return // transient, an answer may still land
			case l.iceState == webrtc.ICEConnectionStateDisconnected:
				return // assume self-recovery
			case (l.iceState == webrtc.ICEConnectionStateConnected || l.iceState == webrtc.ICEConnectionStateCompleted) &&
				l.attached >= len(m.tracks) && l.attached > 0:
				return // link already carries everything we have
			}
		}
	}
	l, err := m.ensureLink(remote)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("link create failed")
		return
	}
	m.attachTracks(l)
	m.negotiate(l)
}

func (m *Manager) negotiate(l *link) {
	l.makingOffer = true
	offer, err := l.media.CreateOffer()
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("create offer")
		l.makingOffer = false
		return
	}
	if err := l.media.SetLocalDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("set local offer")
		l.makingOffer = false
		return
	}
	l.state = stateLocalOffer
	log.Debug().Str("module", "peer").Str("remote", string(l.remote)).Str("role", l.role.String()).Msg("offer sent")
	if err := m.signaler.SendOffer(l.remote, offer); err != nil {
		log.Debug().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("offer send failed")
	}
}

func (m *Manager) handleOffer(from domain.UserID, offer webrtc.SessionDescription) {
	l, err := m.ensureLink(from)
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("link create failed")
		return
	}
	glare := l.makingOffer || l.state == stateLocalOffer
	if glare {
		if l.role == Impolite {
			// Keep our own offer in flight; the polite side will yield.
			l.ignoreOffer = true
			log.Debug().Str("module", "peer").Str("remote", string(from)).Msg("glare: offer ignored")
			return
		}
		if err := l.media.Rollback(); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("rollback")
		}
		l.makingOffer = false
		log.Debug().Str("module", "peer").Str("remote", string(from)).Msg("glare: rolled back own offer")
	}
	l.ignoreOffer = false
	if err := l.media.SetRemoteDescription(offer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("set remote offer")
		return
	}
	l.state = stateRemoteOffer
	m.applyRemoteSet(l)
	m.attachTracks(l)
	answer, err := l.media.CreateAnswer()
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("create answer")
		return
	}
	if err := l.media.SetLocalDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("set local answer")
		return
	}
	l.state = stateStable
	if err := m.signaler.SendAnswer(from, answer); err != nil {
		log.Debug().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("answer send failed")
	}
}

func (m *Manager) handleAnswer(from domain.UserID, answer webrtc.SessionDescription) {
	l, ok := m.links[from]
	if !ok || l.state != stateLocalOffer {
		// Stale duplicate: we are not waiting for an answer.
		log.Debug().Str("module", "peer").Str("remote", string(from)).Msg("stale answer discarded")
		return
	}
	if err := l.media.SetRemoteDescription(answer); err != nil {
		log.Error().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("set remote answer")
		return
	}
	l.state = stateStable
	l.makingOffer = false
	m.applyRemoteSet(l)
}

func (m *Manager) handleCandidate(from domain.UserID, cand webrtc.ICECandidateInit) {
	l, ok := m.links[from]
	if !ok {
		m.early[from] = append(m.early[from], cand)
		return
	}
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		return
	}
	if err := l.media.AddICECandidate(cand); err != nil {
		if l.ignoreOffer {
			return // candidates for an offer we dropped, expected
		}
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(from)).Msg("add candidate")
	}
}

// applyRemoteSet marks the remote description applied and flushes buffered
// candidates exactly once, in arrival order.
func (m *Manager) applyRemoteSet(l *link) {
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	for _, cand := range pending {
		if err := l.media.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("flush candidate")
		}
	}
}

func (m *Manager) ensureLink(remote domain.UserID) (*link, error) {
	if l, ok := m.links[remote]; ok {
		return l, nil
	}
	l := &link{
		remote:   remote,
		role:     RoleOf(m.local, remote),
		state:    stateNew,
		iceState: webrtc.ICEConnectionStateNew,
	}
	media, err := m.newLink(remote, LinkCallbacks{
		OnCandidate: func(cand webrtc.ICECandidateInit) {
			m.do(func() {
				if err := m.signaler.SendCandidate(remote, cand); err != nil {
					log.Debug().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("candidate send failed")
				}
			})
		},
		OnICEStateChange: func(state webrtc.ICEConnectionState) {
			m.do(func() { m.onICEState(remote, state) })
		},
	})
	if err != nil {
		return nil, err
	}
	l.media = media
	if buffered, ok := m.early[remote]; ok {
		l.pending = buffered
		delete(m.early, remote)
	}
	m.links[remote] = l
	log.Info().Str("module", "peer").Str("remote", string(remote)).Str("role", l.role.String()).Msg("link created")
	return l, nil
}

func (m *Manager) onICEState(remote domain.UserID, state webrtc.ICEConnectionState) {
	l, ok := m.links[remote]
	if !ok {
		return
	}
	l.iceState = state
	log.Debug().Str("module", "peer").Str("remote", string(remote)).Str("ice_state", state.String()).Msg("ICE state")
	// Disconnected is transient and left alone; only failed is terminal.
	if state == webrtc.ICEConnectionStateFailed {
		log.Warn().Str("module", "peer").Str("remote", string(remote)).Msg("connectivity failed, link torn down")
		m.teardown(remote)
	}
}

func (m *Manager) attachTracks(l *link) {
	for ; l.attached < len(m.tracks); l.attached++ {
		if err := l.media.AddTrack(m.tracks[l.attached]); err != nil {
			log.Error().Err(err).Str("module", "peer").Str("remote", string(l.remote)).Msg("add track")
			return
		}
	}
}

func (m *Manager) teardown(remote domain.UserID) {
	delete(m.early, remote)
	l, ok := m.links[remote]
	if !ok {
		return
	}
	if err := l.media.Close(); err != nil {
		log.Debug().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("link close")
	}
	delete(m.links, remote)
	log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("link closed")
}

func (m *Manager) shutdown() {
	for id := range m.links {
		if err := m.signaler.SendHangup(id); err != nil {
			log.Debug().Err(err).Str("module", "peer").Str("remote", string(id)).Msg("hangup send failed")
		}
		m.teardown(id)
	}
	m.early = make(map[domain.UserID][]webrtc.ICECandidateInit)
}

// HangupAll synchronously hangs up every link. Called when leaving a
// session so peers get an explicit signal instead of a timeout.
func (m *Manager) HangupAll() {
	m.sync(func() { m.shutdown() })
}

// LinkInfo is a read-only view of one link's negotiation state.
type LinkInfo struct {
	Remote      domain.UserID
	Role        Role
	State       string
	MakingOffer bool
	IgnoreOffer bool
	Pending     int
	ICEState    webrtc.ICEConnectionState
}

// Links returns a snapshot of all live links.
func (m *Manager) Links() []LinkInfo {
	var out []LinkInfo
	m.sync(func() {
		for _, l := range m.links {
			out = append(out, LinkInfo{
				Remote:      l.remote,
				Role:        l.role,
				State:       l.state.String(),
				MakingOffer: l.makingOffer,
				IgnoreOffer: l.ignoreOffer,
				Pending:     len(l.pending),
				ICEState:    l.iceState,
			})
		}
	})
	return out
}

// Link returns the snapshot for one remote.
func (m *Manager) Link(remote domain.UserID) (LinkInfo, bool) {
	var (
		info  LinkInfo
		found bool
	)
	m.sync(func() {
		l, ok := m.links[remote]
		if !ok {
			return
		}
		found = true
		info = LinkInfo{
			Remote:      l.remote,
			Role:        l.role,
			State:       l.state.String(),
			MakingOffer: l.makingOffer,
			IgnoreOffer: l.ignoreOffer,
			Pending:     len(l.pending),
			ICEState:    l.iceState,
		}
	})
	return info, found
}
