// Package eventlog periodically dumps the daemon's seat/session/user
// state to an on-disk INI-format database, grounded on
// original_source/src/ck-manager.c's ck_manager_dump: a [Seats]
// section listing every seat id, one [Session <id>] section per live
// session (uid, seat, is_local, runtime dir), and one [User <uid>]
// section per distinct uid with its session count. Writers replace
// the file atomically (temp file + rename) so a reader never observes
// a half-written dump.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/ini.v1"
)

// SessionRecord is the subset of session state the dump records.
type SessionRecord struct {
	ID         string
	UID        uint32
	SeatID     string
	IsLocal    bool
	RuntimeDir string
}

// Snapshot is the state eventlog.Write renders to disk.
type Snapshot struct {
	SeatIDs  []string
	Sessions []SessionRecord
}

// Write renders snapshot to path as an INI-format database, replacing
// any existing file atomically.
func Write(path string, snap Snapshot) error {
	cfg := ini.Empty()

	seatIDs := append([]string(nil), snap.SeatIDs...)
	sort.Strings(seatIDs)
	seatsSec, err := cfg.NewSection("Seats")
	if err != nil {
		return fmt.Errorf("eventlog: new Seats section: %w", err)
	}
	if _, err := seatsSec.NewKey("seats", joinCommaSorted(seatIDs)); err != nil {
		return fmt.Errorf("eventlog: set seats key: %w", err)
	}

	userSessions := make(map[uint32]int)
	for _, s := range snap.Sessions {
		sessSec, err := cfg.NewSection(fmt.Sprintf("Session %s", s.ID))
		if err != nil {
			return fmt.Errorf("eventlog: new session section %s: %w", s.ID, err)
		}
		sessSec.NewKey("uid", fmt.Sprintf("%d", s.UID))
		sessSec.NewKey("seat", s.SeatID)
		sessSec.NewKey("is_local", fmt.Sprintf("%t", s.IsLocal))
		sessSec.NewKey("runtime_dir", s.RuntimeDir)
		userSessions[s.UID]++
	}

	uids := make([]uint32, 0, len(userSessions))
	for uid := range userSessions {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	for _, uid := range uids {
		userSec, err := cfg.NewSection(fmt.Sprintf("User %d", uid))
		if err != nil {
			return fmt.Errorf("eventlog: new user section %d: %w", uid, err)
		}
		userSec.NewKey("sessions", fmt.Sprintf("%d", userSessions[uid]))
	}

	return writeAtomic(path, cfg)
}

func writeAtomic(path string, cfg *ini.File) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".eventlog-*.tmp")
	if err != nil {
		return fmt.Errorf("eventlog: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := cfg.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("eventlog: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("eventlog: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("eventlog: rename into place: %w", err)
	}
	return nil
}

func joinCommaSorted(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}
