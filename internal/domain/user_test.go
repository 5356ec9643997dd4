package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestSetUsername(t *testing.T) {
	cases := []struct {
		name     string
		username string
		wantErr  error
	}{
		{"ok", "Alice", nil},
		{"max length", strings.Repeat("a", MaxUsernameLen), nil},
		{"too long", strings.Repeat("a", MaxUsernameLen+1), ErrUsernameTooLong},
		{"empty", "", ErrUsernameEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var u User
			err := u.SetUsername(tc.username)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantErr == nil && u.Username != tc.username {
				t.Fatalf("username = %q", u.Username)
			}
		})
	}
}
