package commands

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/consolekit-go/ckd/internal/busapi"
)

func seatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seat",
		Short: "Inspect seats",
	}

	cmd.AddCommand(seatListCmd())
	cmd.AddCommand(seatShowCmd())

	return cmd
}

func seatListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all seats",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var paths []dbus.ObjectPath
			if err := managerObject().Call(managerIface+".ListSeats", 0).Store(&paths); err != nil {
				return fmt.Errorf("list seats: %w", err)
			}

			rows := make([]seatRow, 0, len(paths))
			for _, p := range paths {
				row, err := describeSeat(p)
				if err != nil {
					return err
				}
				rows = append(rows, row)
			}

			out, err := formatSeats(rows, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

func seatShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <seat-id>",
		Short: "Show details of a seat",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			row, err := describeSeat(seatPath(args[0]))
			if err != nil {
				return err
			}
			out, err := formatSeat(row, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

type seatRow struct {
	ID            string   `json:"id"`
	Dynamic       bool     `json:"dynamic"`
	ActiveSession string   `json:"active_session,omitempty"`
	Sessions      []string `json:"sessions"`
}

func describeSeat(path dbus.ObjectPath) (seatRow, error) {
	id := idFromPath(path)
	obj := objectAt(path)

	row := seatRow{ID: id}
	if err := obj.Call(seatIface+".IsDynamic", 0).Store(&row.Dynamic); err != nil {
		return row, fmt.Errorf("get IsDynamic for %s: %w", id, err)
	}

	var sessionPaths []dbus.ObjectPath
	if err := obj.Call(seatIface+".GetSessions", 0).Store(&sessionPaths); err != nil {
		return row, fmt.Errorf("get sessions for %s: %w", id, err)
	}
	for _, p := range sessionPaths {
		row.Sessions = append(row.Sessions, idFromPath(p))
	}

	var active dbus.ObjectPath
	if err := obj.Call(seatIface+".GetActiveSession", 0).Store(&active); err == nil && active != "" {
		row.ActiveSession = idFromPath(active)
	}

	return row, nil
}

func seatPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(string(busapi.BasePath) + "/" + id)
}
