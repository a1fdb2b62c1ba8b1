package commands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"
)

func inhibitCmd() *cobra.Command {
	var what, who, why, mode string

	cmd := &cobra.Command{
		Use:   "inhibit -- <command> [args...]",
		Short: "Hold an inhibitor lock while running a command",
		Long:  "Acquires an inhibitor lock for the lifetime of the given command, the same shape as systemd-inhibit(1); the lock's write-end fd is held open until the command exits.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if who == "" {
				who = "seatctl"
			}

			var fd dbus.UnixFD
			if err := managerObject().Call(managerIface+".Inhibit", 0, what, who, why, mode).Store(&fd); err != nil {
				return fmt.Errorf("inhibit: %w", err)
			}
			lock := os.NewFile(uintptr(fd), "inhibit-lock")
			defer lock.Close()

			c := exec.Command(args[0], args[1:]...)
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("run %s: %w", args[0], err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&what, "what", "shutdown", "colon-separated inhibitable categories (shutdown, sleep, idle, handle-power-key, ...)")
	cmd.Flags().StringVar(&who, "who", "", "human-readable name of the inhibitor (defaults to seatctl)")
	cmd.Flags().StringVar(&why, "why", "", "human-readable reason for the lock")
	cmd.Flags().StringVar(&mode, "mode", "block", "lock mode: block or delay")

	cmd.AddCommand(inhibitListCmd())

	return cmd
}

func inhibitListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active inhibitor locks",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var rows [][]interface{}
			if err := managerObject().Call(managerIface+".ListInhibitors", 0).Store(&rows); err != nil {
				return fmt.Errorf("list inhibitors: %w", err)
			}
			out, err := formatInhibitors(rows, outputFormat)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}
