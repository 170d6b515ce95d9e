// cmd/freakble/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"freakble/internal/config"
	"freakble/internal/discovery"
	"freakble/internal/discovery/ble"
	"freakble/internal/model"
	"freakble/internal/protocol"
	"freakble/internal/protocol/bluez"
	"freakble/internal/service"
	"freakble/internal/utils"
)

// Exit codes
const (
	exitOK       = 0
	exitFatal    = 1
	exitLinkLost = 2
)

// Application represents the main application
type Application struct {
	config *config.Config
	viper  *viper.Viper
	logger *zap.Logger

	serviceLogger *utils.ServiceLogger
	relay         *service.RelayService

	stdout io.Writer
	stderr io.Writer
}

// flagBindings maps configuration keys to the command-line flags that override them
var flagBindings = map[string]string{
	"adapter":                 "adapter",
	"logging.level":           "log-level",
	"device":                  "device",
	"link.connection_timeout": "ble-connection-timeout",
	"send.loop":               "loop",
	"send.sleep_time":         "sleep-time",
	"scan.scan_time":          "scan-time",
	"scan.service_uuid":       "service-uuid",
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApplication(os.Stdout, os.Stderr)
	root := newRootCommand(app)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	app.Shutdown()
	return app.exitCode(err)
}

// NewApplication creates a new application instance writing to the given streams
func NewApplication(stdout, stderr io.Writer) *Application {
	return &Application{
		logger: zap.NewNop(),
		stdout: stdout,
		stderr: stderr,
	}
}

// initialize loads configuration for cmd and wires the relay service
func (app *Application) initialize(cmd *cobra.Command) error {
	configFile, _ := cmd.Flags().GetString("config")
	v := config.New(configFile)

	for key, name := range flagBindings {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			if err := v.BindPFlag(key, flag); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.config = cfg
	app.viper = v
	app.logger = logger
	app.serviceLogger = utils.NewServiceLogger(logger, cfg.App.Name)
	app.serviceLogger.LogServiceStart(cfg.App.Version, cfg)

	app.initializeServices()
	return nil
}

// initializeServices builds the platform radio, scanner and relay service
func (app *Application) initializeServices() {
	radio := bluez.NewRadio(app.logger)
	options := protocol.LinkOptions{ServiceUUID: app.config.LinkServiceFilter()}

	newLink := func(adapter, address string) protocol.Link {
		return protocol.NewLinkClient(radio, adapter, address, options, app.logger)
	}
	scanner := discovery.NewScanner(ble.NewAdvertiser(app.logger), app.logger)

	app.relay = service.NewRelayService(newLink, scanner, service.RealClock(), app.logger)
}

// Shutdown flushes logs
func (app *Application) Shutdown() {
	if app.serviceLogger != nil {
		app.serviceLogger.LogServiceStop("command finished")
	}
	_ = utils.CloseLogger(app.logger)
}

// exitCode reports err to the operator and maps it onto a process exit code
func (app *Application) exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, model.ErrLinkLost):
		fmt.Fprintf(app.stderr, "Warning: %v\n", err)
		return exitLinkLost
	default:
		fmt.Fprintf(app.stderr, "Error: %v\n", err)
		return exitFatal
	}
}

// requireDevice returns the configured target device address
func (app *Application) requireDevice() (string, error) {
	if app.config.Device == "" {
		return "", fmt.Errorf("no device address: use --device or %s_DEVICE", config.EnvPrefix)
	}
	return app.config.Device, nil
}
