package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

var errUnsupportedFormat = errors.New("unsupported output format")

func formatSessions(rows []sessionRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(rows)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tACTIVE\tIDLE\tLOCKED")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%t\t%t\t%t\n", r.ID, r.Active, r.IdleHint, r.LockedHint)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSession(row sessionRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(row)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", row.ID)
		fmt.Fprintf(w, "Active:\t%t\n", row.Active)
		fmt.Fprintf(w, "Idle Hint:\t%t\n", row.IdleHint)
		fmt.Fprintf(w, "Locked Hint:\t%t\n", row.LockedHint)
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSeats(rows []seatRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(rows)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDYNAMIC\tACTIVE-SESSION\tSESSIONS")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%t\t%s\t%s\n", r.ID, r.Dynamic, r.ActiveSession, strings.Join(r.Sessions, ","))
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatSeat(row seatRow, format string) (string, error) {
	switch format {
	case formatJSON:
		return marshalIndent(row)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID:\t%s\n", row.ID)
		fmt.Fprintf(w, "Dynamic:\t%t\n", row.Dynamic)
		fmt.Fprintf(w, "Active Session:\t%s\n", row.ActiveSession)
		fmt.Fprintf(w, "Sessions:\t%s\n", strings.Join(row.Sessions, ","))
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatInhibitors(rows [][]interface{}, format string) (string, error) {
	type inhibitorView struct {
		Who  string `json:"who"`
		Why  string `json:"why"`
		Mode string `json:"mode"`
		UID  uint32 `json:"uid"`
		PID  uint32 `json:"pid"`
	}

	views := make([]inhibitorView, 0, len(rows))
	for _, r := range rows {
		if len(r) != 5 {
			continue
		}
		who, _ := r[0].(string)
		why, _ := r[1].(string)
		mode, _ := r[2].(string)
		uid, _ := r[3].(uint32)
		pid, _ := r[4].(uint32)
		views = append(views, inhibitorView{Who: who, Why: why, Mode: mode, UID: uid, PID: pid})
	}

	switch format {
	case formatJSON:
		return marshalIndent(views)
	case formatTable:
		var buf strings.Builder
		w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHO\tWHY\tMODE\tUID\tPID")
		for _, v := range views {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", v.Who, v.Why, v.Mode, v.UID, v.PID)
		}
		if err := w.Flush(); err != nil {
			return "", fmt.Errorf("flush tabwriter: %w", err)
		}
		return buf.String(), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func marshalIndent(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}
	return string(data) + "\n", nil
}
