package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
)

// Kind tags every message crossing the signaling transport. The set is
// closed: anything else is a malformed message and gets dropped.
type Kind string

const (
	// Presence.
	KindJoinPresence   Kind = "join-presence"
	KindHeartbeat      Kind = "heartbeat"
	KindLeavePresence  Kind = "leave-presence"
	KindPresenceUpdate Kind = "presence-update"

	// Session membership.
	KindSessionJoin    Kind = "session-join"
	KindSessionLeave   Kind = "session-leave"
	KindSessionUsers   Kind = "session-users"
	KindUserJoined     Kind = "user-joined"
	KindUserLeft       Kind = "user-left"
	KindSessionEvicted Kind = "session-evicted"

	// Pairwise negotiation, relayed opaque.
	KindRTCOffer     Kind = "rtc-offer"
	KindRTCAnswer    Kind = "rtc-answer"
	KindRTCCandidate Kind = "rtc-ice-candidate"
	KindRTCHangup    Kind = "rtc-hangup"
	KindRTCReady     Kind = "rtc-ready"

	// Transport keepalive / faults.
	KindPing  Kind = "ping"
	KindPong  Kind = "pong"
	KindError Kind = "error"
)

var ErrMalformedMessage = errors.New("malformed message")

// Envelope is the unit the relay routes. From/Session are stamped by the
// server; the relay never looks inside Payload.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	From    UserID          `json:"from,omitempty"`
	To      UserID          `json:"to,omitempty"`
	Session SessionID       `json:"session,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(kind Kind, payload any) (Envelope, error) {
	env := Envelope{Kind: kind}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the payload into v. An empty payload is fine for the
// kinds that carry none (leave-presence, rtc-hangup, rtc-ready, ping).
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, e.Kind, err)
	}
	return nil
}

func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Kind == "" {
		return Envelope{}, fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	return env, nil
}

type JoinPresencePayload struct {
	UserID   UserID            `json:"user_id"`
	Username string            `json:"username,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type HeartbeatPayload struct {
	UserID    UserID    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

type PresenceUpdatePayload struct {
	OnlineUsers []UserID             `json:"online_users"`
	LastSeen    map[UserID]time.Time `json:"last_seen"`
	Timestamp   time.Time            `json:"timestamp"`
}

type SessionJoinPayload struct {
	SessionID SessionID `json:"session_id"`
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
}

type SessionLeavePayload struct {
	SessionID SessionID `json:"session_id"`
	UserID    UserID    `json:"user_id"`
}

type SessionUsersPayload struct {
	SessionID SessionID       `json:"session_id"`
	Users     []SessionMember `json:"users"`
}

type UserJoinedPayload struct {
	UserID   UserID `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type UserLeftPayload struct {
	UserID UserID `json:"user_id"`
}

type OfferPayload struct {
	Offer webrtc.SessionDescription `json:"offer"`
}

type AnswerPayload struct {
	Answer webrtc.SessionDescription `json:"answer"`
}

type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
