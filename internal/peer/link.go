package peer

import (
	"github.com/pion/webrtc/v4"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// MediaLink abstracts one pairwise media connection so the negotiation
// protocol can be driven against fakes. The pion-backed implementation is in
// pion.go.
type MediaLink interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// Rollback discards the pending local offer, returning to stable.
	Rollback() error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	Close() error
}

// LinkCallbacks are invoked from transport goroutines; the manager re-posts
// them onto its own loop.
type LinkCallbacks struct {
	OnCandidate      func(webrtc.ICECandidateInit)
	OnICEStateChange func(webrtc.ICEConnectionState)
}

// LinkFactory creates the media link for one remote participant.
type LinkFactory func(remote domain.UserID, cb LinkCallbacks) (MediaLink, error)

type linkState int

const (
	stateNew linkState = iota
	stateLocalOffer
	stateRemoteOffer
	stateStable
)

func (s linkState) String() string {
	switch s {
	case stateLocalOffer:
		return "local-offer"
	case stateRemoteOffer:
		return "remote-offer"
	case stateStable:
		return "stable"
	default:
		return "new"
	}
}

// link is the per-remote negotiation state. Owned exclusively by the manager
// loop; never shared.
type link struct {
	remote domain.UserID
	role   Role
	media  MediaLink

	state       linkState
	makingOffer bool
	ignoreOffer bool
	remoteSet   bool
	iceState    webrtc.ICEConnectionState

	// pending buffers candidates that arrived before the remote description;
	// flushed exactly once, in arrival order, right after it is applied.
	pending []webrtc.ICECandidateInit

	attached int // local tracks already added to this link
}
