// Package commands implements the seatctl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/consolekit-go/ckd/internal/busapi"
)

var (
	conn          *dbus.Conn
	outputFormat  string
	useSessionBus bool
)

var rootCmd = &cobra.Command{
	Use:   "seatctl",
	Short: "CLI client for the ckd session/seat manager daemon",
	Long:  "seatctl talks to the ckd daemon over D-Bus to inspect and control sessions, seats, and the system-action pipeline.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var c *dbus.Conn
		var err error
		if useSessionBus {
			c, err = dbus.ConnectSessionBus()
		} else {
			c, err = dbus.ConnectSystemBus()
		}
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		conn = c
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")
	rootCmd.PersistentFlags().BoolVar(&useSessionBus, "session-bus", false, "connect to the session bus instead of the system bus (for local testing)")

	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(seatCmd())
	rootCmd.AddCommand(inhibitCmd())
	rootCmd.AddCommand(powerCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func managerObject() dbus.BusObject {
	return conn.Object(busapi.BusName, busapi.ManagerPath)
}

func objectAt(path dbus.ObjectPath) dbus.BusObject {
	return conn.Object(busapi.BusName, path)
}

const (
	managerIface = "org.freedesktop.ConsoleKit.Manager"
	sessionIface = "org.freedesktop.ConsoleKit.Session"
	seatIface    = "org.freedesktop.ConsoleKit.Seat"
)
