package domain

import "time"

// PresenceRecord is the liveness entry for one user. There is at most one
// per user; a new join overwrites the previous record.
type PresenceRecord struct {
	UserID   UserID            `json:"user_id"`
	SocketID SocketID          `json:"-"`
	ServerID string            `json:"server_id"`
	LastSeen time.Time         `json:"last_seen"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// SessionMember binds a user to a collaborative session through one socket.
// Invariant: at most one live socket per (SessionID, UserID).
type SessionMember struct {
	SessionID SessionID `json:"session_id"`
	UserID    UserID    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	SocketID  SocketID  `json:"-"`
	JoinedAt  time.Time `json:"joined_at"`
}
