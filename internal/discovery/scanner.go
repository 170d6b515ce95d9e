// internal/discovery/scanner.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"freakble/internal/model"
)

// Advertisement is one advertising report seen during a scan
type Advertisement struct {
	Address string
	Name    string
	RSSI    int
	// HasService reports whether the advertisement carries a service UUID
	HasService func(uuid string) bool
}

// Advertiser streams advertising reports from a radio - Strategy Pattern
type Advertiser interface {
	// Advertise reports advertisements to emit until ctx is done. It returns nil
	// when stopped by ctx.
	Advertise(ctx context.Context, adapter string, emit func(Advertisement)) error
	GetScannerType() string
}

// Scanner runs bounded discovery passes and materializes the results
type Scanner struct {
	advertiser Advertiser
	logger     *zap.Logger
}

// NewScanner creates a new scanner
func NewScanner(advertiser Advertiser, logger *zap.Logger) *Scanner {
	return &Scanner{
		advertiser: advertiser,
		logger:     logger.With(zap.String("scanner", advertiser.GetScannerType())),
	}
}

// Scan listens on adapter for timeout and returns the devices seen, in order of
// first arrival. A repeated address keeps its position and takes the latest name
// and signal strength. With serviceUUID set only advertisers of that service count.
func (s *Scanner) Scan(ctx context.Context, adapter string, timeout time.Duration, serviceUUID string) ([]model.DeviceHandle, error) {
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := newCollector()

	s.logger.Debug("Scan started",
		zap.String("adapter", adapter),
		zap.Duration("timeout", timeout),
		zap.String("service_filter", serviceUUID),
	)

	err := s.advertiser.Advertise(scanCtx, adapter, func(adv Advertisement) {
		if adv.Address == "" {
			return
		}
		if serviceUUID != "" && (adv.HasService == nil || !adv.HasService(serviceUUID)) {
			return
		}
		results.add(model.DeviceHandle{Address: adv.Address, Name: adv.Name, RSSI: adv.RSSI})
	})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.logger.Error("Scan failed", zap.Error(err))
		return nil, fmt.Errorf("scan on %s: %w", adapter, err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	devices := results.snapshot()
	s.logger.Info("Scan completed", zap.Int("devices_found", len(devices)))
	return devices, nil
}

// collector accumulates handles from the advertiser's callback goroutine
type collector struct {
	mu      sync.Mutex
	index   map[string]int
	devices []model.DeviceHandle
}

func newCollector() *collector {
	return &collector{index: make(map[string]int)}
}

func (c *collector) add(d model.DeviceHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i, ok := c.index[d.Address]; ok {
		c.devices[i] = d
		return
	}
	c.index[d.Address] = len(c.devices)
	c.devices = append(c.devices, d)
}

func (c *collector) snapshot() []model.DeviceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]model.DeviceHandle, len(c.devices))
	copy(out, c.devices)
	return out
}
