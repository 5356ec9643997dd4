package signal

import "github.com/uppjke/izuchator-sub000/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSocket
)

// Policy decides what happens to a socket that cannot keep up with fan-out.
type Policy interface {
	OnBackPressure(sid domain.SocketID) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SocketID) BackpressureAction {
	return DropFrame
}
