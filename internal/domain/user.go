// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 36
	MaxUsernameLen = 36
)

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type (
	UserID    string
	SessionID string
	// SocketID names one live transport connection. A user may reconnect
	// with a new socket; the old one is then stale.
	SocketID string
)

type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
}

func (u *User) SetUsername(username string) error {
	if len(username) == 0 {
		return ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	u.Username = username
	return nil
}
