package commands

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/consolekit-go/ckd/internal/busapi"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and control sessions",
	}

	cmd.AddCommand(sessionListCmd())
	cmd.AddCommand(sessionShowCmd())
	cmd.AddCommand(sessionLockCmd())
	cmd.AddCommand(sessionUnlockCmd())
	cmd.AddCommand(sessionActivateCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var paths []dbus.ObjectPath
			if err := managerObject().Call(managerIface+".ListSessions", 0).Store(&paths); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			rows := make([]sessionRow, 0, len(paths))
			for _, p := range paths {
				row, err := describeSession(p)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}

			out, err := formatSessions(rows, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show details of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			row, err := describeSession(sessionPath(args[0]))
			if err != nil {
				return err
			}
			out, err := formatSession(row, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func sessionLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <session-id>",
		Short: "Lock a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return callSession(args[0], "Lock")
		},
	}
}

func sessionUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <session-id>",
		Short: "Unlock a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return callSession(args[0], "Unlock")
		},
	}
}

func sessionActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <session-id>",
		Short: "Activate a session's seat and bring it to the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return callSession(args[0], "Activate")
		},
	}
}

func callSession(id, method string) error {
	call := objectAt(sessionPath(id)).Call(sessionIface+"."+method, 0)
	if call.Err != nil {
		return fmt.Errorf("%s %s: %w", method, id, call.Err)
	}
	return nil
}

// sessionRow is the view seatctl renders; fetched property-by-property
// since the Session object exposes individual getters rather than a
// single struct property (§6).
type sessionRow struct {
	ID         string `json:"id"`
	Active     bool   `json:"active"`
	IdleHint   bool   `json:"idle_hint"`
	LockedHint bool   `json:"locked_hint"`
}

func describeSession(path dbus.ObjectPath) (sessionRow, error) {
	id := idFromPath(path)
	obj := objectAt(path)

	row := sessionRow{ID: id}
	if err := obj.Call(sessionIface+".IsActive", 0).Store(&row.Active); err != nil {
		return row, fmt.Errorf("get IsActive for %s: %w", id, err)
	}
	if err := obj.Call(sessionIface+".GetIdleHint", 0).Store(&row.IdleHint); err != nil {
		return row, fmt.Errorf("get IdleHint for %s: %w", id, err)
	}
	if err := obj.Call(sessionIface+".GetLockedHint", 0).Store(&row.LockedHint); err != nil {
		return row, fmt.Errorf("get LockedHint for %s: %w", id, err)
	}
	return row, nil
}

func sessionPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(string(busapi.BasePath) + "/" + id)
}

// idFromPath recovers the trailing id component of an object path
// returned by the Manager's ListSessions/ListSeats/GetSessionForCookie
// calls, the inverse of busapi's own sessionPath/seatPath.
func idFromPath(path dbus.ObjectPath) string {
	s := string(path)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
