package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"github.com/consolekit-go/ckd/internal/busapi"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Stream Manager, Seat, and Session signals",
		Long:  "Connects to the ckd daemon and streams every ConsoleKit signal on the bus until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rule := fmt.Sprintf("type='signal',path_namespace='%s'", busapi.BasePath)
			if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
				return fmt.Errorf("add match: %w", err)
			}

			signals := make(chan *dbus.Signal, 32)
			conn.Signal(signals)
			defer conn.RemoveSignal(signals)

			for {
				select {
				case <-ctx.Done():
					return nil
				case sig, ok := <-signals:
					if !ok {
						return nil
					}
					printSignal(sig)
				}
			}
		},
	}
}

func printSignal(sig *dbus.Signal) {
	fmt.Printf("%s %s %v\n", sig.Path, sig.Name, sig.Body)
}
