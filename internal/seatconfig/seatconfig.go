// Package seatconfig reads the STATIC seat declarations the daemon
// finds on disk, grounded on original_source/src/ck-manager.c's
// load_seats_from_dir: every "*.seat" key-file under a seat directory
// (upstream CK_SEAT_DIR, "/etc/ConsoleKit/seats.d") describes one
// console seat. This is a separate, external-collaborator surface
// from internal/config's own YAML-based daemon tunables (spec §1) —
// seatconfig only ever reads upstream's on-disk seat declarations.
package seatconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/ini.v1"
)

// Seat is one STATIC seat declared by a *.seat key-file.
type Seat struct {
	// ID is the seat identifier; defaults to the file's basename
	// (without the .seat suffix) when the key-file omits it.
	ID string
	// ConsolePath is the VT console device used for activation
	// notifications, e.g. "/dev/tty1".
	ConsolePath string
}

// LoadDir reads every "*.seat" file directly under dir and returns the
// seats they declare, sorted by ID. A missing directory is not an
// error: a daemon with no on-disk seat declarations still has its
// single eager seat0 from internal/manager.
func LoadDir(dir string) ([]Seat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("seatconfig: read dir %s: %w", dir, err)
	}

	var seats []Seat
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".seat") {
			continue
		}
		s, err := loadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}

	sort.Slice(seats, func(i, j int) bool { return seats[i].ID < seats[j].ID })
	return seats, nil
}

func loadFile(path string) (Seat, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Seat{}, fmt.Errorf("seatconfig: parse %s: %w", path, err)
	}

	sec := cfg.Section("Seat")
	id := sec.Key("ID").String()
	if id == "" {
		base := filepath.Base(path)
		id = strings.TrimSuffix(base, ".seat")
	}

	return Seat{
		ID:          id,
		ConsolePath: sec.Key("ConsolePath").MustString("/dev/tty0"),
	}, nil
}
