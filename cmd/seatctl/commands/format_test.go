package commands

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSessionPathAndIDFromPathRoundTrip(t *testing.T) {
	t.Parallel()

	path := sessionPath("Session1")
	if got, want := idFromPath(path), "Session1"; got != want {
		t.Fatalf("idFromPath(sessionPath(%q)) = %q, want %q", "Session1", got, want)
	}
}

func TestSeatPathAndIDFromPathRoundTrip(t *testing.T) {
	t.Parallel()

	path := seatPath("Seat1")
	if got, want := idFromPath(path), "Seat1"; got != want {
		t.Fatalf("idFromPath(seatPath(%q)) = %q, want %q", "Seat1", got, want)
	}
}

func TestFormatSessionsTable(t *testing.T) {
	t.Parallel()

	rows := []sessionRow{
		{ID: "Session1", Active: true, IdleHint: false, LockedHint: true},
	}
	out, err := formatSessions(rows, formatTable)
	if err != nil {
		t.Fatalf("formatSessions() = %v", err)
	}
	if !strings.Contains(out, "Session1") || !strings.Contains(out, "ID") {
		t.Fatalf("formatSessions() table output missing expected columns: %q", out)
	}
}

func TestFormatSessionsJSON(t *testing.T) {
	t.Parallel()

	rows := []sessionRow{
		{ID: "Session1", Active: true, IdleHint: false, LockedHint: true},
	}
	out, err := formatSessions(rows, formatJSON)
	if err != nil {
		t.Fatalf("formatSessions() = %v", err)
	}

	var got []sessionRow
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) = %v", out, err)
	}
	if len(got) != 1 || got[0] != rows[0] {
		t.Fatalf("round-tripped rows = %+v, want %+v", got, rows)
	}
}

func TestFormatSessionsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	if _, err := formatSessions(nil, "xml"); err == nil {
		t.Fatal("formatSessions() with unsupported format = nil error, want error")
	}
}

func TestFormatSeatsTableJoinsSessions(t *testing.T) {
	t.Parallel()

	rows := []seatRow{
		{ID: "Seat1", Dynamic: false, ActiveSession: "Session1", Sessions: []string{"Session1", "Session2"}},
	}
	out, err := formatSeats(rows, formatTable)
	if err != nil {
		t.Fatalf("formatSeats() = %v", err)
	}
	if !strings.Contains(out, "Session1,Session2") {
		t.Fatalf("formatSeats() = %q, want comma-joined session list", out)
	}
}

func TestFormatInhibitorsSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	rows := [][]interface{}{
		{"alice", "recording", "block", uint32(1000), uint32(4242)},
		{"short", "row"},
	}
	out, err := formatInhibitors(rows, formatTable)
	if err != nil {
		t.Fatalf("formatInhibitors() = %v", err)
	}
	if !strings.Contains(out, "alice") {
		t.Fatalf("formatInhibitors() = %q, want to contain well-formed row", out)
	}
	if strings.Contains(out, "short") {
		t.Fatalf("formatInhibitors() = %q, want malformed row dropped", out)
	}
}

func TestFormatInhibitorsJSON(t *testing.T) {
	t.Parallel()

	rows := [][]interface{}{
		{"alice", "recording", "block", uint32(1000), uint32(4242)},
	}
	out, err := formatInhibitors(rows, formatJSON)
	if err != nil {
		t.Fatalf("formatInhibitors() = %v", err)
	}

	var got []struct {
		Who  string `json:"who"`
		Why  string `json:"why"`
		Mode string `json:"mode"`
		UID  uint32 `json:"uid"`
		PID  uint32 `json:"pid"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) = %v", out, err)
	}
	if len(got) != 1 || got[0].Who != "alice" || got[0].PID != 4242 {
		t.Fatalf("round-tripped inhibitors = %+v", got)
	}
}
