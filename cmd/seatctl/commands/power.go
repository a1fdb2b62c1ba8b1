package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func powerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Run or query the system-action pipeline",
	}

	for _, a := range []struct {
		use    string
		method string
	}{
		{"poweroff", "PowerOff"},
		{"reboot", "Reboot"},
		{"stop", "Stop"},
		{"restart", "Restart"},
		{"suspend", "Suspend"},
		{"hibernate", "Hibernate"},
		{"hybrid-sleep", "HybridSleep"},
	} {
		a := a
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: fmt.Sprintf("Request %s", a.use),
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				call := managerObject().Call(managerIface+"."+a.method, 0)
				if call.Err != nil {
					return fmt.Errorf("%s: %w", a.use, call.Err)
				}
				return nil
			},
		})
	}

	for _, a := range []struct {
		use    string
		method string
	}{
		{"can-poweroff", "CanPowerOff"},
		{"can-suspend", "CanSuspend"},
		{"can-hibernate", "CanHibernate"},
	} {
		a := a
		cmd.AddCommand(&cobra.Command{
			Use:   a.use,
			Short: fmt.Sprintf("Report whether %s is currently possible", a.use),
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				var res string
				if err := managerObject().Call(managerIface+"."+a.method, 0).Store(&res); err != nil {
					return fmt.Errorf("%s: %w", a.use, err)
				}
				fmt.Println(res)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "idle-hint",
		Short: "Report the system-wide idle hint",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var idle bool
			if err := managerObject().Call(managerIface+".GetSystemIdleHint", 0).Store(&idle); err != nil {
				return fmt.Errorf("get system idle hint: %w", err)
			}
			fmt.Println(idle)
			return nil
		},
	})

	return cmd
}
