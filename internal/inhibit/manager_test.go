package inhibit_test

import (
	"testing"
	"time"

	"github.com/consolekit-go/ckd/internal/inhibit"
)

func TestParseWhatRejectsEmptyMask(t *testing.T) {
	t.Parallel()
	if _, _, err := inhibit.ParseWhat("bogus-token"); err == nil {
		t.Fatalf("ParseWhat(%q) = nil error, want error", "bogus-token")
	}
}

func TestParseWhatSkipsUnknownTokens(t *testing.T) {
	t.Parallel()
	mask, unknown, err := inhibit.ParseWhat("shutdown:bogus:idle")
	if err != nil {
		t.Fatalf("ParseWhat() = %v", err)
	}
	if len(unknown) != 1 || unknown[0] != "bogus" {
		t.Fatalf("unknown tokens = %v, want [bogus]", unknown)
	}
	if mask == 0 {
		t.Fatalf("mask = 0, want non-zero")
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	t.Parallel()
	if _, err := inhibit.ParseMode("frobnicate"); err == nil {
		t.Fatalf("ParseMode(frobnicate) = nil error, want error")
	}
}

func TestCreateLockUpdatesCountsAndFiresEdge(t *testing.T) {
	t.Parallel()

	type edge struct {
		mode    inhibit.Mode
		event   inhibit.Event
		enabled bool
	}
	var edges []edge

	dir := t.TempDir()
	mgr := inhibit.NewManager(dir, nil, func(mode inhibit.Mode, event inhibit.Event, enabled bool) {
		edges = append(edges, edge{mode, event, enabled})
	})

	lock, wfd, err := mgr.CreateLock("tester", "shutdown:sleep", "running a test", "block", 1000, 1)
	if err != nil {
		t.Fatalf("CreateLock() = %v", err)
	}
	defer wfd.Close()

	if !mgr.IsInhibited(inhibit.ModeBlock, inhibit.EventShutdown) {
		t.Fatalf("IsInhibited(block, shutdown) = false, want true")
	}
	if !mgr.IsInhibited(inhibit.ModeBlock, inhibit.EventSuspend) {
		t.Fatalf("IsInhibited(block, sleep) = false, want true")
	}
	if mgr.IsInhibited(inhibit.ModeDelay, inhibit.EventShutdown) {
		t.Fatalf("IsInhibited(delay, shutdown) = true, want false")
	}
	if len(edges) != 2 {
		t.Fatalf("edges = %v, want 2 rising edges", edges)
	}

	if err := mgr.RemoveLock(lock.ID); err != nil {
		t.Fatalf("RemoveLock() = %v", err)
	}
	if mgr.IsInhibited(inhibit.ModeBlock, inhibit.EventShutdown) {
		t.Fatalf("IsInhibited(block, shutdown) = true after RemoveLock, want false")
	}

	// Idempotent: removing again must not error or double-decrement.
	if err := mgr.RemoveLock(lock.ID); err != nil {
		t.Fatalf("second RemoveLock() = %v, want nil", err)
	}
}

func TestCloseWriteEndSignalsClosed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mgr := inhibit.NewManager(dir, nil, nil)

	lock, wfd, err := mgr.CreateLock("tester", "idle", "test", "delay", 1000, 1)
	if err != nil {
		t.Fatalf("CreateLock() = %v", err)
	}
	wfd.Close()

	select {
	case id := <-mgr.Closed():
		if id != lock.ID {
			t.Fatalf("Closed() delivered %q, want %q", id, lock.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Closed() after write end closed")
	}

	if err := mgr.RemoveLock(lock.ID); err != nil {
		t.Fatalf("RemoveLock() = %v", err)
	}
}
