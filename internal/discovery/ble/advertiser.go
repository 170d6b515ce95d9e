// internal/discovery/ble/advertiser.go

// Package ble reports BLE advertisements through tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"

	"freakble/internal/discovery"
	"freakble/internal/model"
)

// stopGrace bounds how long Advertise waits for the radio to stop scanning
const stopGrace = 2 * time.Second

// Advertiser implements discovery.Advertiser on top of a bluetooth.Adapter
type Advertiser struct {
	logger *zap.Logger
}

var _ discovery.Advertiser = (*Advertiser)(nil)

// NewAdvertiser creates a new BLE advertiser
func NewAdvertiser(logger *zap.Logger) *Advertiser {
	return &Advertiser{logger: logger}
}

// GetScannerType returns the scanner type
func (a *Advertiser) GetScannerType() string {
	return "ble"
}

// Advertise scans on adapter until ctx is done
func (a *Advertiser) Advertise(ctx context.Context, adapter string, emit func(discovery.Advertisement)) error {
	radio := adapterFor(adapter)
	if err := radio.Enable(); err != nil {
		return fmt.Errorf("%w: %s: %v", model.ErrAdapter, adapter, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			emit(toAdvertisement(result))
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: scan: %v", model.ErrAdapter, err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := radio.StopScan(); err != nil {
		a.logger.Debug("StopScan failed", zap.Error(err))
	}

	select {
	case err := <-done:
		if err != nil {
			a.logger.Debug("Scan ended with error", zap.Error(err))
		}
	case <-time.After(stopGrace):
		a.logger.Warn("Radio did not stop scanning in time")
	}
	return nil
}

func toAdvertisement(result bluetooth.ScanResult) discovery.Advertisement {
	return discovery.Advertisement{
		Address: result.Address.String(),
		Name:    result.LocalName(),
		RSSI:    int(result.RSSI),
		HasService: func(uuid string) bool {
			parsed, err := bluetooth.ParseUUID(uuid)
			if err != nil {
				return false
			}
			return result.HasServiceUUID(parsed)
		},
	}
}
