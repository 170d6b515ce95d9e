// cmd/freakble/commands.go
package main

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"freakble/internal/config"
	"freakble/internal/model"
	"freakble/internal/repl"
	"freakble/internal/service"
)

func newRootCommand(app *Application) *cobra.Command {
	root := &cobra.Command{
		Use:           "freakble",
		Short:         "Send messages into FreakWAN over Bluetooth Low Energy",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.initialize(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default ./config.yaml or ~/.config/freakble/config.yaml)")
	flags.String("adapter", "hci0", "bluetooth adapter")
	flags.String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newSendCommand(app),
		newScanCommand(app),
		newReplCommand(app),
		newVersionCommand(app),
	)
	return root
}

func newSendCommand(app *Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [words...]",
		Short: "Send a message to a device",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := app.requireDevice()
			if err != nil {
				return err
			}

			policy := model.SingleShot()
			if app.config.Send.Loop {
				policy = model.RepeatEvery(app.config.SleepTime())
			}

			var outMu sync.Mutex
			_, err = app.relay.SendText(cmd.Context(), service.SendRequest{
				Adapter:        app.config.Adapter,
				Device:         device,
				Text:           strings.Join(args, " "),
				Policy:         policy,
				ConnectTimeout: app.config.ConnectTimeout(),
				OnReceive: func(frame model.Frame) {
					outMu.Lock()
					defer outMu.Unlock()
					fmt.Fprintln(app.stdout, frame.String())
				},
			})
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("device", "", "device address (fallback FREAKBLE_DEVICE)")
	flags.Bool("loop", false, "send forever the messages")
	flags.Float64("sleep-time", 1, "sleep between messages sent with --loop, in seconds")
	flags.Float64("ble-connection-timeout", 10, "BLE connection timeout, in seconds")
	return cmd
}

func newScanCommand(app *Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for FreakWAN devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := app.relay.Scan(cmd.Context(), service.ScanRequest{
				Adapter:     app.config.Adapter,
				Timeout:     app.config.ScanTime(),
				ServiceUUID: app.config.ScanFilter(),
			})
			if err != nil {
				return err
			}

			for _, d := range devices {
				fmt.Fprintf(app.stdout, "%s (rssi:%d) %s\n", d.Address, d.RSSI, d.Name)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Float64("scan-time", 5, "scan duration, in seconds")
	flags.String("service-uuid", "", "only list devices advertising this service, e.g. "+config.DefaultServiceUUID)
	return cmd
}

func newReplCommand(app *Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session with a device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			device, err := app.requireDevice()
			if err != nil {
				return err
			}

			fmt.Fprintf(app.stdout, "freakble %s on %s\n", config.Version, runtime.GOOS)
			fmt.Fprintf(app.stdout, "Connecting to %s...\n", device)

			commands := repl.DefaultCommands()
			console, err := repl.NewConsole(commands)
			if err != nil {
				return fmt.Errorf("failed to open console: %w", err)
			}
			defer console.Close()

			_, err = app.relay.RunSession(cmd.Context(), service.SessionRequest{
				Adapter:        app.config.Adapter,
				Device:         device,
				ConnectTimeout: app.config.ConnectTimeout(),
				Console:        console,
				Commands:       commands,
			})
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("device", "", "device address (fallback FREAKBLE_DEVICE)")
	flags.Float64("ble-connection-timeout", 10, "BLE connection timeout, in seconds")
	return cmd
}

func newVersionCommand(app *Application) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(app.stdout, "freakble %s\n", config.Version)
		},
	}
}
