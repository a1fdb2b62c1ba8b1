package seat_test

import (
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/seat"
	"github.com/consolekit-go/ckd/internal/session"
)

func newSession(id, ttyDev string, created time.Time) *session.Session {
	return session.New(session.Params{
		ID:            id,
		UID:           1000,
		DisplayDevice: ttyDev,
		CreationTime:  created,
	})
}

func TestElectPicksOldestAmongCandidates(t *testing.T) {
	t.Parallel()

	st := seat.New("seat0", seat.KindStatic, func(int) error { return nil })

	base := time.Now()
	older := newSession("Session1", "/dev/tty2", base)
	newer := newSession("Session2", "/dev/tty2", base.Add(time.Minute))
	st.AddSession(older)
	st.AddSession(newer)

	var activated, deactivated []string
	winner := st.Elect(2,
		func(s *session.Session) { deactivated = append(deactivated, s.ID) },
		func(s *session.Session) { activated = append(activated, s.ID) },
	)

	if winner == nil || winner.ID != "Session1" {
		t.Fatalf("Elect() winner = %v, want Session1 (oldest)", winner)
	}
	if len(activated) != 1 || activated[0] != "Session1" {
		t.Fatalf("activated = %v, want [Session1]", activated)
	}
	if len(deactivated) != 0 {
		t.Fatalf("deactivated = %v, want none on first election", deactivated)
	}
}

func TestElectDemotesPreviousWinnerOnVTChange(t *testing.T) {
	t.Parallel()

	st := seat.New("seat0", seat.KindStatic, func(int) error { return nil })

	s1 := newSession("Session1", "/dev/tty1", time.Now())
	s2 := newSession("Session2", "/dev/tty2", time.Now())
	st.AddSession(s1)
	st.AddSession(s2)

	st.Elect(1, func(*session.Session) {}, func(*session.Session) {})

	var deactivated []string
	st.Elect(2, func(s *session.Session) { deactivated = append(deactivated, s.ID) }, func(*session.Session) {})

	if len(deactivated) != 1 || deactivated[0] != "Session1" {
		t.Fatalf("deactivated = %v, want [Session1] after switching to tty2", deactivated)
	}
	if st.ActiveSession() == nil || st.ActiveSession().ID != "Session2" {
		t.Fatalf("ActiveSession() = %v, want Session2", st.ActiveSession())
	}
}

func TestElectWithNoCandidatesDeactivatesCurrent(t *testing.T) {
	t.Parallel()

	st := seat.New("seat0", seat.KindStatic, func(int) error { return nil })
	s1 := newSession("Session1", "/dev/tty1", time.Now())
	st.AddSession(s1)
	st.Elect(1, func(*session.Session) {}, func(*session.Session) {})

	var deactivated []string
	winner := st.Elect(9, func(s *session.Session) { deactivated = append(deactivated, s.ID) }, func(*session.Session) {})

	if winner != nil {
		t.Fatalf("Elect() on empty VT = %v, want nil", winner)
	}
	if len(deactivated) != 1 {
		t.Fatalf("deactivated = %v, want Session1 demoted", deactivated)
	}
	if st.ActiveSession() != nil {
		t.Fatalf("ActiveSession() = %v, want nil", st.ActiveSession())
	}
}

func TestDynamicSeatNeverElects(t *testing.T) {
	t.Parallel()

	st := seat.New("seat1", seat.KindDynamic, nil)
	s1 := newSession("Session1", "", time.Now())
	st.AddSession(s1)

	if winner := st.Elect(1, func(*session.Session) {}, func(*session.Session) {}); winner != nil {
		t.Fatalf("Elect() on dynamic seat = %v, want nil", winner)
	}
}

func TestRemoveSessionGarbageCollectsEmptyDynamicSeat(t *testing.T) {
	t.Parallel()

	st := seat.New("seat1", seat.KindDynamic, nil)
	s1 := newSession("Session1", "", time.Now())
	st.AddSession(s1)

	if gc := st.RemoveSession("Session1"); !gc {
		t.Fatalf("RemoveSession() gc = false, want true for empty dynamic seat")
	}
}

func TestRemoveSessionNeverGarbageCollectsStaticSeat(t *testing.T) {
	t.Parallel()

	st := seat.New("seat0", seat.KindStatic, func(int) error { return nil })
	s1 := newSession("Session1", "/dev/tty1", time.Now())
	st.AddSession(s1)

	if gc := st.RemoveSession("Session1"); gc {
		t.Fatalf("RemoveSession() gc = true, want false for static seat")
	}
}
