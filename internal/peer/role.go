package peer

import "github.com/uppjke/izuchator-sub000/internal/domain"

// Role decides who yields during glare. It is a pure function of the two
// user ids, so both sides compute the same answer without coordination.
type Role int

const (
	Impolite Role = iota
	Polite
)

func (r Role) String() string {
	if r == Polite {
		return "polite"
	}
	return "impolite"
}

// RoleOf returns the local side's role for a link to remote. The
// lexicographically smaller id is always polite.
func RoleOf(local, remote domain.UserID) Role {
	if local < remote {
		return Polite
	}
	return Impolite
}
