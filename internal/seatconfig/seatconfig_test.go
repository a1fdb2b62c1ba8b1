package seatconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/consolekit-go/ckd/internal/seatconfig"
)

func TestLoadDirMissing(t *testing.T) {
	t.Parallel()

	seats, err := seatconfig.LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if seats != nil {
		t.Errorf("seats = %v, want nil", seats)
	}
}

func TestLoadDirParsesSeatFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeSeat(t, dir, "seat1.seat", "[Seat]\nID=seat1\nConsolePath=/dev/tty1\n")
	writeSeat(t, dir, "seat2.seat", "[Seat]\nConsolePath=/dev/tty2\n")
	writeSeat(t, dir, "ignored.txt", "not a seat file")

	seats, err := seatconfig.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(seats) != 2 {
		t.Fatalf("got %d seats, want 2: %+v", len(seats), seats)
	}

	if seats[0].ID != "seat1" || seats[0].ConsolePath != "/dev/tty1" {
		t.Errorf("seats[0] = %+v", seats[0])
	}
	// seat2.seat has no ID key, so it falls back to the file basename.
	if seats[1].ID != "seat2" || seats[1].ConsolePath != "/dev/tty2" {
		t.Errorf("seats[1] = %+v", seats[1])
	}
}

func writeSeat(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}
