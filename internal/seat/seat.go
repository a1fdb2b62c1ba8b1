// Package seat implements Seat session-set ownership and the
// active-session election algorithm of §4.3, grounded on
// original_source/src/ck-seat.c.
package seat

import (
	"sort"
	"strconv"

	"github.com/consolekit-go/ckd/internal/ckerr"
	"github.com/consolekit-go/ckd/internal/session"
)

// Kind distinguishes a config-declared console seat from one created
// on demand for a group of related sessions.
type Kind int

const (
	KindStatic Kind = iota
	KindDynamic
)

// Seat holds a session set and elects the active one. STATIC seats
// are bound to a VT monitor and perform election; DYNAMIC seats never
// elect — they exist only to group unrelated (often remote) sessions.
type Seat struct {
	ID   string
	Kind Kind

	sessions map[string]*session.Session
	active   *session.Session

	// Activate requests a VT switch to num, returning an error if the
	// platform cannot honor it. Wired by the Manager to the VT monitor.
	Activate func(num int) error
}

// New constructs an empty Seat.
func New(id string, kind Kind, activate func(num int) error) *Seat {
	return &Seat{
		ID:       id,
		Kind:     kind,
		sessions: make(map[string]*session.Session),
		Activate: activate,
	}
}

// AddSession records s. It does not run election: the active session
// changes only when Elect is called for a VT change.
func (st *Seat) AddSession(s *session.Session) {
	st.sessions[s.ID] = s
}

// RemoveSession drops s from the set. Returns true if the seat is now
// a DYNAMIC seat with zero sessions and should be garbage-collected.
func (st *Seat) RemoveSession(id string) (garbageCollect bool) {
	if st.active != nil && st.active.ID == id {
		st.active = nil
	}
	delete(st.sessions, id)
	return st.Kind == KindDynamic && len(st.sessions) == 0
}

// Sessions returns every session on this seat.
func (st *Seat) Sessions() []*session.Session {
	out := make([]*session.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		out = append(out, s)
	}
	return out
}

// ActiveSession returns the currently active session, or nil.
func (st *Seat) ActiveSession() *session.Session { return st.active }

// ActivateSession translates sess's display-device into a VT number
// and requests the switch. Only meaningful for STATIC seats.
func (st *Seat) ActivateSession(sess *session.Session, vtNrOf func(*session.Session) int) error {
	if st.Kind != KindStatic {
		return ckerr.New(ckerr.KindGeneral, "seat.ActivateSession", nil)
	}
	num := vtNrOf(sess)
	if num <= 0 {
		return ckerr.New(ckerr.KindGeneral, "seat.ActivateSession", nil)
	}
	return st.Activate(num)
}

// Elect runs the §4.3 election algorithm for the VT that just became
// active, promoting the winner and demoting whichever session was
// previously active. deactivate/activate perform the per-session
// device dance; they are no-ops for sessions that are already in the
// target state.
func (st *Seat) Elect(vtNum int, deactivate func(*session.Session), activate func(*session.Session)) *session.Session {
	if st.Kind != KindStatic {
		return nil
	}

	candidates := st.candidatesForVT(vtNum, false)
	if len(candidates) == 0 {
		candidates = st.candidatesForVT(vtNum, true)
	}
	if len(candidates) == 0 {
		if st.active != nil {
			deactivate(st.active)
			st.active = nil
		}
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreationTime.Before(candidates[j].CreationTime)
	})
	winner := candidates[0]

	if st.active != nil && st.active.ID != winner.ID {
		deactivate(st.active)
	}
	if st.active == nil || st.active.ID != winner.ID {
		activate(winner)
		st.active = winner
	}
	return winner
}

func (st *Seat) candidatesForVT(vtNum int, useX11 bool) []*session.Session {
	var out []*session.Session
	for _, s := range st.sessions {
		dev := s.DisplayDevice
		if useX11 {
			dev = s.X11DisplayDevice
		}
		if dev == ttyPath(vtNum) {
			out = append(out, s)
		}
	}
	return out
}

func ttyPath(num int) string {
	return "/dev/tty" + strconv.Itoa(num)
}
