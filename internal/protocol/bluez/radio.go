// internal/protocol/bluez/radio.go

// Package bluez drives BlueZ over the system D-Bus to provide GATT links on Linux.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"

	"freakble/internal/model"
	"freakble/internal/protocol"
)

const (
	discoveryPollInterval = 250 * time.Millisecond
	servicesResolveWait   = 10 * time.Second
	releaseTimeout        = 3 * time.Second
	signalBuffer          = 256
)

// Radio resolves devices through BlueZ. Each resolved peripheral owns a private bus
// connection so its signal stream and teardown are independent.
type Radio struct {
	logger *zap.Logger
}

var _ protocol.Radio = (*Radio)(nil)

// NewRadio creates a new BlueZ radio
func NewRadio(logger *zap.Logger) *Radio {
	return &Radio{logger: logger.With(zap.String("component", "bluez"))}
}

// Resolve waits for address to appear under adapter, running LE discovery when
// BlueZ does not already know the device
func (r *Radio) Resolve(ctx context.Context, adapter, address string) (protocol.Peripheral, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus unavailable: %v", model.ErrAdapter, err)
	}

	if err := checkAdapter(conn, adapter); err != nil {
		conn.Close()
		return nil, err
	}

	devicePath := formatDevicePath(adapter, address)
	if err := r.awaitDevice(ctx, conn, adapter, devicePath); err != nil {
		conn.Close()
		return nil, err
	}

	r.logger.Debug("Device resolved", zap.String("path", string(devicePath)))
	return newPeripheral(conn, devicePath, r.logger), nil
}

// checkAdapter verifies the adapter exists and is powered
func checkAdapter(conn *dbus.Conn, adapter string) error {
	powered, err := conn.Object(busName, adapterPath(adapter)).GetProperty(adapterInterface + ".Powered")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrAdapter, adapter, err)
	}
	if !variantBool(powered) {
		return fmt.Errorf("%w: %s is powered off", model.ErrAdapter, adapter)
	}
	return nil
}

func (r *Radio) awaitDevice(ctx context.Context, conn *dbus.Conn, adapter string, devicePath dbus.ObjectPath) error {
	known, err := deviceKnown(ctx, conn, devicePath)
	if err != nil {
		return err
	}
	if known {
		return nil
	}

	adapterObj := conn.Object(busName, adapterPath(adapter))
	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": false,
	}
	if err := adapterObj.Call(adapterInterface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		r.logger.Debug("Discovery filter rejected", zap.Error(err))
	}
	if err := adapterObj.Call(adapterInterface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("%w: failed to start discovery: %v", model.ErrAdapter, err)
	}
	defer func() {
		if err := adapterObj.Call(adapterInterface+".StopDiscovery", 0).Err; err != nil {
			r.logger.Debug("Failed to stop discovery", zap.Error(err))
		}
	}()

	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", model.ErrDeviceNotFound, devicePath)
		case <-ticker.C:
			known, err := deviceKnown(ctx, conn, devicePath)
			if err != nil {
				r.logger.Debug("Managed objects poll failed", zap.Error(err))
				continue
			}
			if known {
				return nil
			}
		}
	}
}

func deviceKnown(ctx context.Context, conn *dbus.Conn, devicePath dbus.ObjectPath) (bool, error) {
	objects, err := fetchObjects(ctx, conn)
	if err != nil {
		return false, err
	}
	return hasDevice(objects, devicePath), nil
}

func fetchObjects(ctx context.Context, conn *dbus.Conn) (managedObjects, error) {
	objects := make(managedObjects)
	if err := conn.Object(busName, "/").CallWithContext(ctx, getManagedObjects, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to get managed objects: %w", err)
	}
	return objects, nil
}
