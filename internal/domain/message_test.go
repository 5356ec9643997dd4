package domain

import (
	"errors"
	"testing"
)

func TestParseEnvelope(t *testing.T) {
	cases := []struct {
		name    string
		data    string
		wantErr bool
		kind    Kind
	}{
		{"valid offer", `{"kind":"rtc-offer","from":"alice","to":"bob","session":"lesson-1","payload":{}}`, false, KindRTCOffer},
		{"payloadless", `{"kind":"leave-presence"}`, false, KindLeavePresence},
		{"not json", `{{{`, true, ""},
		{"missing kind", `{"from":"alice"}`, true, ""},
		{"empty object", `{}`, true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tc.data))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("err = %v, want ErrMalformedMessage", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if env.Kind != tc.kind {
				t.Fatalf("kind = %s, want %s", env.Kind, tc.kind)
			}
		})
	}
}

func TestDecodeMalformedPayload(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"kind":"heartbeat","payload":{"user_id":42}}`))
	if err != nil {
		t.Fatal(err)
	}
	var hb HeartbeatPayload
	if err := env.Decode(&hb); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("err = %v, want ErrMalformedMessage", err)
	}
}

func TestDecodeEmptyPayloadIsFine(t *testing.T) {
	env := Envelope{Kind: KindRTCHangup}
	var p UserLeftPayload
	if err := env.Decode(&p); err != nil {
		t.Fatal(err)
	}
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(KindUserJoined, UserJoinedPayload{UserID: "alice", Username: "Alice"})
	if err != nil {
		t.Fatal(err)
	}
	var p UserJoinedPayload
	if err := env.Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.UserID != "alice" || p.Username != "Alice" {
		t.Fatalf("payload = %+v", p)
	}
}
