// internal/protocol/link_client.go
package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"freakble/internal/model"
	"freakble/internal/utils"
)

// LinkOptions tunes characteristic binding
type LinkOptions struct {
	// ServiceUUID restricts binding to characteristics of one service; "" means any
	ServiceUUID string
}

// LinkClient implements Link over a platform Radio.
//
// State is guarded by mu; writes are serialized by writeMu so frames leave in call
// order. The receive callback runs on the peripheral's notification goroutine.
type LinkClient struct {
	radio   Radio
	adapter string
	address string
	options LinkOptions
	logger  *utils.LinkLogger

	mu         sync.Mutex
	writeMu    sync.Mutex
	peripheral Peripheral
	writeChar  *Characteristic
	notifyChar *Characteristic
	notifying  bool
	onReceive  ReceiveFunc

	// disconnect signal, recreated by each connection attempt that resolves a device
	signal    chan struct{}
	signalled bool
	lost      bool
	stop      chan struct{}

	stats ProtocolStats
}

var _ Link = (*LinkClient)(nil)

// NewLinkClient creates a client for address on adapter
func NewLinkClient(radio Radio, adapter, address string, options LinkOptions, logger *zap.Logger) *LinkClient {
	return &LinkClient{
		radio:   radio,
		adapter: adapter,
		address: address,
		options: options,
		logger:  utils.NewLinkLogger(logger, adapter, address),
	}
}

// Address returns the target device address
func (lc *LinkClient) Address() string {
	return lc.address
}

// Connect resolves the device within timeout, opens it and binds the outbound and
// inbound characteristics. If binding fails the connection stays open until Disconnect.
func (lc *LinkClient) Connect(ctx context.Context, timeout time.Duration) error {
	lc.mu.Lock()
	if lc.peripheral != nil {
		bound := lc.writeChar != nil && !lc.lost
		lc.mu.Unlock()
		if bound {
			return nil
		}
		return fmt.Errorf("%w: previous connection to %s not released", model.ErrNotConnected, lc.address)
	}
	lc.mu.Unlock()

	lc.logger.Info("Resolving device", zap.Duration("timeout", timeout))

	resolveCtx, cancel := context.WithTimeout(ctx, timeout)
	peripheral, err := lc.radio.Resolve(resolveCtx, lc.adapter, lc.address)
	cancel()
	if err != nil {
		lc.logger.LogConnection("resolve", false, err)
		return lc.resolveError(ctx, err)
	}

	lc.mu.Lock()
	lc.peripheral = peripheral
	lc.writeChar = nil
	lc.notifyChar = nil
	lc.notifying = false
	lc.signal = make(chan struct{})
	lc.signalled = false
	lc.lost = false
	lc.stop = make(chan struct{})
	go lc.watch(peripheral, lc.stop)
	lc.mu.Unlock()

	if err := peripheral.Open(ctx); err != nil {
		lc.logger.LogConnection("open", false, err)
		return fmt.Errorf("failed to open connection to %s: %w", lc.address, err)
	}

	chars, err := peripheral.Characteristics(ctx)
	if err != nil {
		lc.logger.LogConnection("characteristics", false, err)
		return fmt.Errorf("failed to enumerate characteristics: %w", err)
	}

	writeChar, notifyChar := selectCharacteristics(chars, lc.options.ServiceUUID)
	if writeChar == nil {
		return fmt.Errorf("%w: no write-capable characteristic on %s", model.ErrCharacteristicNotFound, lc.address)
	}
	if notifyChar == nil {
		return fmt.Errorf("%w: no notify-capable characteristic on %s", model.ErrCharacteristicNotFound, lc.address)
	}

	lc.mu.Lock()
	lc.writeChar = writeChar
	lc.notifyChar = notifyChar
	lc.stats.IsConnected = true
	lc.stats.LastActivity = time.Now()
	lc.mu.Unlock()

	lc.logger.LogConnection("connect", true, nil)
	lc.logger.Debug("Characteristics bound",
		zap.String("write_uuid", writeChar.UUID),
		zap.String("notify_uuid", notifyChar.UUID),
	)
	return nil
}

// resolveError maps a resolution failure onto the error taxonomy. Cancellation of
// the caller's context wins over whatever the radio reported.
func (lc *LinkClient) resolveError(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, model.ErrAdapter), errors.Is(err, model.ErrDeviceNotFound):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", model.ErrDeviceNotFound, lc.address, err)
	}
}

// selectCharacteristics picks the first write-capable and the first notify-capable
// characteristic, in platform order
func selectCharacteristics(chars []Characteristic, serviceUUID string) (write, notify *Characteristic) {
	for i := range chars {
		c := chars[i]
		if !c.InService(serviceUUID) {
			continue
		}
		if write == nil && c.Props.CanWrite() {
			write = &c
		}
		if notify == nil && c.Props.CanNotify() {
			notify = &c
		}
	}
	return write, notify
}

// watch fires the disconnect signal when the peripheral drops on its own
func (lc *LinkClient) watch(peripheral Peripheral, stop <-chan struct{}) {
	select {
	case <-stop:
	case <-peripheral.Disconnected():
		lc.mu.Lock()
		lost := lc.peripheral == peripheral && !lc.signalled
		if lost {
			lc.lost = true
			lc.notifying = false
			lc.stats.IsConnected = false
			lc.fireSignalLocked()
		}
		lc.mu.Unlock()
		if lost {
			lc.logger.Warn("Link lost")
		}
	}
}

// fireSignalLocked closes the disconnect signal once. Caller holds mu.
func (lc *LinkClient) fireSignalLocked() {
	if lc.signal != nil && !lc.signalled {
		lc.signalled = true
		close(lc.signal)
	}
}

// StartNotifications activates delivery of inbound frames. Calling it again while
// active is a no-op.
func (lc *LinkClient) StartNotifications() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.peripheral == nil || lc.notifyChar == nil || lc.lost {
		return fmt.Errorf("start notifications: %w", model.ErrNotConnected)
	}
	if lc.notifying {
		return nil
	}

	if err := lc.peripheral.Subscribe(*lc.notifyChar, lc.dispatch); err != nil {
		lc.stats.ErrorCount++
		return fmt.Errorf("failed to start notifications: %w", err)
	}

	lc.notifying = true
	lc.logger.Debug("Notifications started", zap.String("uuid", lc.notifyChar.UUID))
	return nil
}

// StopNotifications deactivates inbound delivery; a no-op when already stopped
func (lc *LinkClient) StopNotifications() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	return lc.stopNotificationsLocked()
}

func (lc *LinkClient) stopNotificationsLocked() error {
	if !lc.notifying || lc.peripheral == nil || lc.notifyChar == nil {
		lc.notifying = false
		return nil
	}

	lc.notifying = false
	if err := lc.peripheral.Unsubscribe(*lc.notifyChar); err != nil {
		lc.stats.ErrorCount++
		return fmt.Errorf("failed to stop notifications: %w", err)
	}

	lc.logger.Debug("Notifications stopped")
	return nil
}

// SetReceiveCallback installs or replaces the inbound frame callback; nil clears it
func (lc *LinkClient) SetReceiveCallback(fn ReceiveFunc) {
	lc.mu.Lock()
	lc.onReceive = fn
	lc.mu.Unlock()
}

// dispatch trims one notification and hands it to the current callback
func (lc *LinkClient) dispatch(data []byte) {
	frame := model.TrimFrame(data)

	lc.mu.Lock()
	fn := lc.onReceive
	active := lc.notifying
	lc.stats.BytesRead += int64(len(data))
	lc.stats.FramesRead++
	lc.stats.LastActivity = time.Now()
	lc.mu.Unlock()

	lc.logger.LogFrame("rx", frame)

	if active && fn != nil {
		fn(frame)
	}
}

// Send writes the frame's bytes to the outbound characteristic as one request
func (lc *LinkClient) Send(ctx context.Context, frame model.Frame) error {
	lc.writeMu.Lock()
	defer lc.writeMu.Unlock()

	lc.mu.Lock()
	peripheral := lc.peripheral
	writeChar := lc.writeChar
	lost := lc.lost
	lc.mu.Unlock()

	if lost {
		return fmt.Errorf("send: %w", model.ErrLinkLost)
	}
	if peripheral == nil || writeChar == nil {
		return fmt.Errorf("send: %w", model.ErrNotConnected)
	}

	if err := peripheral.Write(ctx, *writeChar, frame); err != nil {
		lc.mu.Lock()
		lc.stats.ErrorCount++
		lc.mu.Unlock()
		lc.logger.Error("Link write failed", zap.Error(err), zap.Int("bytes", len(frame)))
		return fmt.Errorf("failed to write frame: %w", err)
	}

	lc.mu.Lock()
	lc.stats.BytesWritten += int64(len(frame))
	lc.stats.FramesWritten++
	lc.stats.LastActivity = time.Now()
	lc.mu.Unlock()

	lc.logger.LogFrame("tx", frame)
	return nil
}

// Disconnect stops notifications and releases the connection. It is safe to call any
// number of times, including when Connect never succeeded.
func (lc *LinkClient) Disconnect() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.peripheral == nil {
		return nil
	}

	var err error
	if !lc.lost {
		err = multierr.Append(err, lc.stopNotificationsLocked())
	}
	lc.notifying = false

	if closeErr := lc.peripheral.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to close connection: %w", closeErr))
	}

	close(lc.stop)
	lc.peripheral = nil
	lc.writeChar = nil
	lc.notifyChar = nil
	lc.stats.IsConnected = false
	lc.fireSignalLocked()

	lc.logger.LogConnection("disconnect", err == nil, err)
	return err
}

// WaitUntilDisconnected blocks until the current connection ends. It returns
// model.ErrLinkLost for an unsolicited drop and nil after Disconnect.
func (lc *LinkClient) WaitUntilDisconnected(ctx context.Context) error {
	lc.mu.Lock()
	signal := lc.signal
	lc.mu.Unlock()

	if signal == nil {
		return fmt.Errorf("wait: %w", model.ErrNotConnected)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-signal:
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.lost {
		return model.ErrLinkLost
	}
	return nil
}

// IsConnected reports whether a live connection with bound characteristics exists
func (lc *LinkClient) IsConnected() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.peripheral != nil && lc.writeChar != nil && !lc.lost
}

// IsNotifying reports whether inbound delivery is active
func (lc *LinkClient) IsNotifying() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.notifying
}

// Stats returns a snapshot of link statistics
func (lc *LinkClient) Stats() ProtocolStats {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.stats
}
