package eventlog_test

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/ini.v1"

	"github.com/consolekit-go/ckd/internal/eventlog"
)

func TestWriteProducesReadableDump(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "database")
	snap := eventlog.Snapshot{
		SeatIDs: []string{"seat0", "seat1"},
		Sessions: []eventlog.SessionRecord{
			{ID: "Session1", UID: 1000, SeatID: "seat0", IsLocal: true, RuntimeDir: "/run/user/1000"},
			{ID: "Session2", UID: 1000, SeatID: "seat1", IsLocal: false, RuntimeDir: "/run/user/1000"},
		},
	}

	if err := eventlog.Write(path, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatalf("reload dump: %v", err)
	}

	if got := cfg.Section("Seats").Key("seats").String(); got != "seat0,seat1" {
		t.Errorf("Seats.seats = %q, want %q", got, "seat0,seat1")
	}
	if got := cfg.Section("Session Session1").Key("uid").String(); got != "1000" {
		t.Errorf("Session1.uid = %q, want 1000", got)
	}
	if got := cfg.Section("User 1000").Key("sessions").String(); got != "2" {
		t.Errorf("User 1000.sessions = %q, want 2", got)
	}
}

func TestWriteIsAtomicReplace(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "database")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("seed stale file: %v", err)
	}

	if err := eventlog.Write(path, eventlog.Snapshot{SeatIDs: []string{"seat0"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatalf("reload dump: %v", err)
	}
	if got := cfg.Section("Seats").Key("seats").String(); got != "seat0" {
		t.Errorf("Seats.seats = %q, want seat0", got)
	}
}
