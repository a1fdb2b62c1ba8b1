package manager_test

import (
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/inhibit"
	"github.com/consolekit-go/ckd/internal/manager"
	"github.com/consolekit-go/ckd/internal/session"
)

func newManager(t *testing.T) *manager.Manager {
	t.Helper()
	im := inhibit.NewManager(t.TempDir(), nil, nil)
	return manager.New(manager.Config{FastDelay: time.Hour}, nil, im, nil, func(int) error { return nil }, nil, nil)
}

func TestOpenSessionThenCloseRemovesSession(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	cookie, err := m.OpenSession(100, 1000, ":1.1")
	if err != nil {
		t.Fatalf("OpenSession() = %v", err)
	}

	sess, err := m.CreateSessionFromLeader(cookie, session.Params{
		DisplayDevice: "/dev/tty2",
		IsLocal:       true,
		VTNr:          2,
	})
	if err != nil {
		t.Fatalf("CreateSessionFromLeader() = %v", err)
	}

	if got, err := m.GetSessionForCookie(cookie); err != nil || got != sess.ID {
		t.Fatalf("GetSessionForCookie() = (%q, %v), want (%q, nil)", got, err, sess.ID)
	}

	ssid, err := m.CloseSession(cookie, 1000, 100)
	if err != nil {
		t.Fatalf("CloseSession() = %v", err)
	}
	if ssid != sess.ID {
		t.Fatalf("CloseSession() ssid = %q, want %q", ssid, sess.ID)
	}

	if _, err := m.GetSessionForCookie(cookie); err == nil {
		t.Fatalf("GetSessionForCookie() after close = nil error, want error")
	}
}

func TestCloseSessionRejectsWrongUID(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	cookie, err := m.OpenSession(100, 1000, ":1.1")
	if err != nil {
		t.Fatalf("OpenSession() = %v", err)
	}
	if _, err := m.CreateSessionFromLeader(cookie, session.Params{}); err != nil {
		t.Fatalf("CreateSessionFromLeader() = %v", err)
	}

	if _, err := m.CloseSession(cookie, 1001, 200); err == nil {
		t.Fatalf("CloseSession() with wrong uid = nil, want permission error")
	}
}

func TestStaticTextSessionAttachesToSeat0(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	cookie, _ := m.OpenSession(100, 1000, ":1.1")
	sess, err := m.CreateSessionFromLeader(cookie, session.Params{
		DisplayDevice: "/dev/tty3",
		IsLocal:       true,
		VTNr:          3,
	})
	if err != nil {
		t.Fatalf("CreateSessionFromLeader() = %v", err)
	}

	st, ok := m.Seat("seat0")
	if !ok {
		t.Fatal("seat0 missing")
	}
	found := false
	for _, s := range st.Sessions() {
		if s.ID == sess.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("static-text session not attached to seat0")
	}
}

func TestRemoteSessionGetsDynamicSeat(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	cookie, _ := m.OpenSession(100, 1000, ":1.1")
	sess, err := m.CreateSessionFromLeader(cookie, session.Params{
		RemoteHostName: "otherhost",
	})
	if err != nil {
		t.Fatalf("CreateSessionFromLeader() = %v", err)
	}

	st0, _ := m.Seat("seat0")
	for _, s := range st0.Sessions() {
		if s.ID == sess.ID {
			t.Fatalf("remote session incorrectly attached to seat0")
		}
	}

	seats, err := m.ListSeats()
	if err != nil {
		t.Fatalf("ListSeats() = %v", err)
	}
	if len(seats) != 2 {
		t.Fatalf("ListSeats() = %v, want seat0 + one dynamic seat", seats)
	}
}

func TestLocalityAllowedRequiresExistingLocalPeer(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	if m.LocalityAllowed("login-1") {
		t.Fatalf("LocalityAllowed() = true with no sessions, want false")
	}

	cookie, _ := m.OpenSession(100, 1000, ":1.1")
	_, err := m.CreateSessionFromLeader(cookie, session.Params{
		LoginSessionID: "login-1",
		IsLocal:        true,
	})
	if err != nil {
		t.Fatalf("CreateSessionFromLeader() = %v", err)
	}

	if !m.LocalityAllowed("login-1") {
		t.Fatalf("LocalityAllowed() = false with an existing local peer, want true")
	}
	if m.LocalityAllowed("login-2") {
		t.Fatalf("LocalityAllowed() = true for an unrelated login-session-id, want false")
	}
}

func TestListSessionsFailsWhenEmpty(t *testing.T) {
	t.Parallel()
	m := newManager(t)

	if _, err := m.ListSessions(); err == nil {
		t.Fatalf("ListSessions() with no sessions = nil, want NoSessions error")
	}
}
