// Package media abstracts local capture. Concrete capture devices are out
// of scope; the static provider gives headless agents placeholder tracks.
package media

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// Provider owns local audio/video capture.
type Provider interface {
	// Enable starts capture and returns the local tracks to publish.
	Enable() ([]webrtc.TrackLocal, error)
	// Disable stops capture and releases the tracks.
	Disable()
	Enabled() bool
}

// StaticProvider publishes static RTP tracks (opus + vp8) with no real
// capture behind them.
type StaticProvider struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{}
}

func (p *StaticProvider) Enable() ([]webrtc.TrackLocal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tracks != nil {
		return p.tracks, nil
	}
	stream := uuid.NewString()
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", stream)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", stream)
	if err != nil {
		return nil, err
	}
	p.tracks = []webrtc.TrackLocal{audio, video}
	return p.tracks, nil
}

func (p *StaticProvider) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = nil
}

func (p *StaticProvider) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracks != nil
}
