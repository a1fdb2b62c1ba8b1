package session_test

import (
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	return session.New(session.Params{
		ID:           "Session1",
		UID:          1000,
		CreationTime: time.Now(),
	})
}

func TestTakeControlAcceptsFirstCaller(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("TakeControl() = %v", err)
	}
	if s.Controller() != ":1.1" {
		t.Fatalf("Controller() = %q, want :1.1", s.Controller())
	}
}

func TestTakeControlRejectsSecondCallerWithoutForce(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("first TakeControl() = %v", err)
	}
	if err := s.TakeControl(":1.2", 1000, false); err == nil {
		t.Fatalf("second TakeControl() = nil, want permission error")
	}
}

func TestTakeControlForceByRootReplacesController(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("first TakeControl() = %v", err)
	}
	if err := s.TakeControl(":1.2", 0, true); err != nil {
		t.Fatalf("forced TakeControl() = %v", err)
	}
	if s.Controller() != ":1.2" {
		t.Fatalf("Controller() = %q, want :1.2", s.Controller())
	}
}

func TestTakeControlForceByNonRootFails(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("first TakeControl() = %v", err)
	}
	if err := s.TakeControl(":1.2", 1000, true); err == nil {
		t.Fatalf("forced TakeControl() by non-root = nil, want error")
	}
}

func TestReleaseControlDemotesToOnline(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("TakeControl() = %v", err)
	}
	s.PromoteActive()
	if s.State() != session.StateActive {
		t.Fatalf("State() = %v, want active", s.State())
	}

	if err := s.ReleaseControl(":1.1"); err != nil {
		t.Fatalf("ReleaseControl() = %v", err)
	}
	if s.State() != session.StateOnline {
		t.Fatalf("State() = %v, want online after ReleaseControl", s.State())
	}
	if s.Controller() != "" {
		t.Fatalf("Controller() = %q, want empty after ReleaseControl", s.Controller())
	}
}

func TestSetLockedHintRequiresMatchingUID(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.SetLockedHint(999, true); err == nil {
		t.Fatalf("SetLockedHint with wrong uid = nil, want error")
	}
	if err := s.SetLockedHint(1000, true); err != nil {
		t.Fatalf("SetLockedHint with matching uid = %v", err)
	}
	if !s.LockedHint() {
		t.Fatalf("LockedHint() = false, want true")
	}
}

func TestBeginDeactivateWithNoDevicesFinishesImmediately(t *testing.T) {
	t.Parallel()
	s := newTestSession(t)

	if err := s.TakeControl(":1.1", 1000, false); err != nil {
		t.Fatalf("TakeControl() = %v", err)
	}
	s.PromoteActive()

	called := false
	s.BeginDeactivate(func() { called = true })

	if s.Active() {
		t.Fatalf("Active() = true after BeginDeactivate with zero devices, want false")
	}
	if called {
		t.Fatalf("onTimeout invoked synchronously, want it armed only when devices are pending")
	}
}
