package relay

import (
	"errors"
	"testing"

	"github.com/uppjke/izuchator-sub000/internal/domain"
	"github.com/uppjke/izuchator-sub000/internal/session"
)

type fakeSender struct {
	sent []struct {
		socket domain.SocketID
		env    domain.Envelope
	}
	err error
}

func (s *fakeSender) SendTo(socketID domain.SocketID, env domain.Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, struct {
		socket domain.SocketID
		env    domain.Envelope
	}{socketID, env})
	return nil
}

func TestForwardRoutesToMemberSocket(t *testing.T) {
	gw := session.NewGateway()
	gw.Join("lesson-1", "alice", "Alice", "sock-1")
	gw.Join("lesson-1", "bob", "Bob", "sock-2")

	sender := &fakeSender{}
	r := New(gw, sender)

	env := domain.Envelope{Kind: domain.KindRTCOffer, From: "alice", To: "bob", Session: "lesson-1"}
	if !r.Forward(env) {
		t.Fatal("forward to a present member must succeed")
	}
	if len(sender.sent) != 1 || sender.sent[0].socket != "sock-2" {
		t.Fatalf("sent = %+v, want one delivery to sock-2", sender.sent)
	}
	if sender.sent[0].env.From != "alice" {
		t.Fatalf("sender identity = %q, want alice", sender.sent[0].env.From)
	}
}

func TestForwardDropsSilently(t *testing.T) {
	gw := session.NewGateway()
	gw.Join("lesson-1", "alice", "Alice", "sock-1")
	sender := &fakeSender{}
	r := New(gw, sender)

	cases := []struct {
		name string
		env  domain.Envelope
	}{
		{"no target", domain.Envelope{Kind: domain.KindRTCOffer, From: "alice", Session: "lesson-1"}},
		{"no session", domain.Envelope{Kind: domain.KindRTCOffer, From: "alice", To: "bob"}},
		{"target not in session", domain.Envelope{Kind: domain.KindRTCOffer, From: "alice", To: "bob", Session: "lesson-1"}},
		{"unknown session", domain.Envelope{Kind: domain.KindRTCOffer, From: "alice", To: "alice", Session: "lesson-9"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if r.Forward(tc.env) {
				t.Fatal("must drop, not deliver")
			}
		})
	}
	if len(sender.sent) != 0 {
		t.Fatalf("sent = %+v, want nothing", sender.sent)
	}
}

func TestForwardDropsOnSendFailure(t *testing.T) {
	gw := session.NewGateway()
	gw.Join("lesson-1", "bob", "Bob", "sock-2")
	sender := &fakeSender{err: errors.New("backpressure")}
	r := New(gw, sender)

	env := domain.Envelope{Kind: domain.KindRTCCandidate, From: "alice", To: "bob", Session: "lesson-1"}
	if r.Forward(env) {
		t.Fatal("a failed send reports not delivered")
	}
}
