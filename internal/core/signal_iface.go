package core

// Frame is a raw signaling payload as it travels the wire.
type Frame []byte

// SignalConnection abstracts one live transport endpoint.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure after a fan-out.
type PublishResult struct {
	SentTo  int
	Dropped int
}
