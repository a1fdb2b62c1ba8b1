package manager_test

import (
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/inhibit"
	"github.com/consolekit-go/ckd/internal/manager"
)

func newTestManager(t *testing.T, cfg manager.Config) *manager.Manager {
	t.Helper()
	im := inhibit.NewManager(t.TempDir(), nil, nil)
	return manager.New(cfg, nil, im, nil, func(int) error { return nil }, nil, nil)
}

func TestBeginRejectsSecondInFlightAction(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, manager.Config{FastDelay: time.Hour})
	allow := func() manager.AuthResult { return manager.AuthAllow }
	noop := func(bool, bool) {}

	if err := m.Begin(manager.ActionPowerOff, allow, noop, func(error) {}); err != nil {
		t.Fatalf("first Begin() = %v", err)
	}
	if err := m.Begin(manager.ActionReboot, allow, noop, func(error) {}); err == nil {
		t.Fatalf("second Begin() = nil, want BUSY error")
	}
}

func TestBeginDeniedByAuthorization(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, manager.Config{FastDelay: time.Hour})
	deny := func() manager.AuthResult { return manager.AuthDeny }
	noop := func(bool, bool) {}

	if err := m.Begin(manager.ActionPowerOff, deny, noop, func(error) {}); err == nil {
		t.Fatalf("Begin() with deny = nil, want permission error")
	}
	// A denied attempt never pins the in-flight marker.
	if err := m.Begin(manager.ActionPowerOff, func() manager.AuthResult { return manager.AuthAllow }, noop, func(error) {}); err != nil {
		t.Fatalf("Begin() after denied attempt = %v, want nil", err)
	}
}

func TestFastDelayFiresAndRepliesOnlyOnce(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, manager.Config{FastDelay: 10 * time.Millisecond})
	allow := func() manager.AuthResult { return manager.AuthAllow }

	var prepareCalls []bool
	emitPrepare := func(sleep, starting bool) { prepareCalls = append(prepareCalls, starting) }

	replied := make(chan error, 1)
	if err := m.Begin(manager.ActionPowerOff, allow, emitPrepare, func(err error) { replied <- err }); err != nil {
		t.Fatalf("Begin() = %v", err)
	}

	select {
	case st := <-m.FireTimerChannel():
		m.HandleFiredTimer(st, emitPrepare)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pipeline timer")
	}

	select {
	case <-replied:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
	}

	if len(prepareCalls) != 2 || !prepareCalls[0] || prepareCalls[1] {
		t.Fatalf("prepareCalls = %v, want [true false]", prepareCalls)
	}

	// A new action can begin now that the in-flight marker cleared.
	if err := m.Begin(manager.ActionPowerOff, allow, emitPrepare, func(error) {}); err != nil {
		t.Fatalf("Begin() after completion = %v, want nil", err)
	}
}

func TestBlockInhibitorRejectsBegin(t *testing.T) {
	t.Parallel()

	allow := func() manager.AuthResult { return manager.AuthAllow }
	noop := func(bool, bool) {}

	im := inhibit.NewManager(t.TempDir(), nil, nil)
	_, wfd, err := im.CreateLock("tester", "shutdown", "busy", "block", 1000, 1)
	if err != nil {
		t.Fatalf("CreateLock() = %v", err)
	}
	defer wfd.Close()

	m := manager.New(manager.Config{FastDelay: time.Hour}, nil, im, nil, func(int) error { return nil }, nil, nil)
	if err := m.Begin(manager.ActionPowerOff, allow, noop, func(error) {}); err == nil {
		t.Fatalf("Begin() with block inhibitor = nil, want INHIBITED error")
	}
}
