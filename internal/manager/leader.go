package manager

import "github.com/google/uuid"

// Leader is the cookie holder created by OpenSession and resolved
// into a Session once parameters are collected, per §3.
type Leader struct {
	Cookie            string
	PID               uint32
	UID               uint32
	BusName           string
	ProposedSessionID string
	Params            map[string]string
}

// NewCookie returns a fresh, globally-unique-per-lifetime cookie.
func NewCookie() string {
	return uuid.NewString()
}
