package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// WebRTCConfig builds a pion configuration from the configured ICE servers.
// STUN/TURN themselves are externally provided.
func WebRTCConfig(iceURLs []string) webrtc.Configuration {
	if len(iceURLs) == 0 {
		iceURLs = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceURLs}},
	}
}

// pionLink adapts *webrtc.PeerConnection to MediaLink.
type pionLink struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
}

// NewPionFactory returns a LinkFactory creating real peer connections.
func NewPionFactory(cfg webrtc.Configuration) LinkFactory {
	return func(remote domain.UserID, cb LinkCallbacks) (MediaLink, error) {
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, err
		}
		pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
			if cand != nil && cb.OnCandidate != nil {
				cb.OnCandidate(cand.ToJSON())
			}
		})
		pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
			if cb.OnICEStateChange != nil {
				cb.OnICEStateChange(state)
			}
		})
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().
				Str("module", "peer").
				Str("remote", string(remote)).
				Str("kind", track.Kind().String()).
				Str("track_id", track.ID()).
				Msg("remote track")
		})
		return &pionLink{pc: pc, remote: remote}, nil
	}
}

func (p *pionLink) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionLink) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionLink) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionLink) Rollback() error {
	return p.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (p *pionLink) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(cand)
}

func (p *pionLink) AddTrack(track webrtc.TrackLocal) error {
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionLink) Close() error {
	return p.pc.Close()
}
