// internal/protocol/bluez/peripheral.go
package bluez

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"freakble/internal/protocol"
)

// peripheral is one BlueZ device reached over its own bus connection
type peripheral struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	logger *zap.Logger

	mu       sync.Mutex
	handlers map[dbus.ObjectPath]func([]byte)
	signals  chan *dbus.Signal
	watching bool
	closed   bool
	done     chan struct{}

	dropped  chan struct{}
	dropOnce sync.Once
}

var _ protocol.Peripheral = (*peripheral)(nil)

func newPeripheral(conn *dbus.Conn, path dbus.ObjectPath, logger *zap.Logger) *peripheral {
	return &peripheral{
		conn:     conn,
		path:     path,
		logger:   logger.With(zap.String("path", string(path))),
		handlers: make(map[dbus.ObjectPath]func([]byte)),
		done:     make(chan struct{}),
		dropped:  make(chan struct{}),
	}
}

func (p *peripheral) device() dbus.BusObject {
	return p.conn.Object(busName, p.path)
}

// Open subscribes to property changes under the device, connects and waits for
// GATT services to be resolved
func (p *peripheral) Open(ctx context.Context) error {
	if err := p.watch(); err != nil {
		return err
	}

	connected, err := p.device().GetProperty(deviceInterface + ".Connected")
	if err != nil {
		return fmt.Errorf("failed to read device state: %w", err)
	}

	if !variantBool(connected) {
		p.logger.Debug("Connecting device")
		if err := p.device().CallWithContext(ctx, deviceInterface+".Connect", 0).Err; err != nil {
			return fmt.Errorf("failed to connect device: %w", err)
		}
	}

	return p.awaitServices(ctx)
}

func (p *peripheral) watch() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watching {
		return nil
	}

	if err := p.conn.AddMatchSignal(
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(p.path),
	); err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	p.signals = make(chan *dbus.Signal, signalBuffer)
	p.conn.Signal(p.signals)
	p.watching = true

	queue := newSignalQueue()
	go queue.forward(p.signals, p.done)
	go p.pump(queue, p.done)
	return nil
}

func (p *peripheral) awaitServices(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, servicesResolveWait)
	defer cancel()

	ticker := time.NewTicker(discoveryPollInterval)
	defer ticker.Stop()

	for {
		resolved, err := p.device().GetProperty(deviceInterface + ".ServicesResolved")
		if err == nil && variantBool(resolved) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("services not resolved: %w", ctx.Err())
		case <-p.dropped:
			return fmt.Errorf("device disconnected while resolving services")
		case <-ticker.C:
		}
	}
}

// pump delivers property changes in arrival order on a single goroutine
func (p *peripheral) pump(queue *signalQueue, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-queue.ready:
		}

		items, ended := queue.drain()
		for _, sig := range items {
			p.handleSignal(sig)
		}
		if ended {
			p.markDropped()
			return
		}
	}
}

func (p *peripheral) handleSignal(sig *dbus.Signal) {
	if sig == nil || sig.Name != propertiesChanged || len(sig.Body) < 2 {
		return
	}
	iface, _ := sig.Body[0].(string)
	changed, _ := sig.Body[1].(map[string]dbus.Variant)

	switch iface {
	case gattCharacteristicIface:
		value, ok := changed["Value"]
		if !ok {
			return
		}
		data, ok := value.Value().([]byte)
		if !ok {
			return
		}
		p.mu.Lock()
		fn := p.handlers[sig.Path]
		p.mu.Unlock()
		if fn != nil {
			fn(data)
		}

	case deviceInterface:
		if c, ok := changed["Connected"]; ok && sig.Path == p.path && !variantBool(c) {
			p.markDropped()
		}
	}
}

// markDropped signals an unsolicited disconnect unless Close already ran
func (p *peripheral) markDropped() {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.dropOnce.Do(func() {
		p.logger.Debug("Device reported disconnected")
		close(p.dropped)
	})
}

// Characteristics lists the device's characteristics in object path order
func (p *peripheral) Characteristics(ctx context.Context) ([]protocol.Characteristic, error) {
	objects, err := fetchObjects(ctx, p.conn)
	if err != nil {
		return nil, err
	}
	return parseCharacteristics(objects, p.path), nil
}

// Write sends data as a write request, or as a command when the characteristic
// only supports writes without response
func (p *peripheral) Write(ctx context.Context, char protocol.Characteristic, data []byte) error {
	writeType := "request"
	if char.Props&protocol.PropWrite == 0 {
		writeType = "command"
	}
	options := map[string]dbus.Variant{
		"type": dbus.MakeVariant(writeType),
	}

	obj := p.conn.Object(busName, dbus.ObjectPath(char.ID))
	if err := obj.CallWithContext(ctx, gattCharacteristicIface+".WriteValue", 0, data, options).Err; err != nil {
		return fmt.Errorf("WriteValue on %s: %w", char.UUID, err)
	}
	return nil
}

// Subscribe installs fn for char and enables notifications
func (p *peripheral) Subscribe(char protocol.Characteristic, fn func([]byte)) error {
	path := dbus.ObjectPath(char.ID)

	p.mu.Lock()
	p.handlers[path] = fn
	p.mu.Unlock()

	if err := p.conn.Object(busName, path).Call(gattCharacteristicIface+".StartNotify", 0).Err; err != nil {
		p.mu.Lock()
		delete(p.handlers, path)
		p.mu.Unlock()
		return fmt.Errorf("StartNotify on %s: %w", char.UUID, err)
	}
	return nil
}

// Unsubscribe removes the handler for char and disables notifications
func (p *peripheral) Unsubscribe(char protocol.Characteristic) error {
	path := dbus.ObjectPath(char.ID)

	p.mu.Lock()
	delete(p.handlers, path)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := p.conn.Object(busName, path).CallWithContext(ctx, gattCharacteristicIface+".StopNotify", 0).Err; err != nil {
		return fmt.Errorf("StopNotify on %s: %w", char.UUID, err)
	}
	return nil
}

// Disconnected is closed when BlueZ reports the device gone
func (p *peripheral) Disconnected() <-chan struct{} {
	return p.dropped
}

// Close disconnects the device and releases the bus connection. Repeated calls are no-ops.
func (p *peripheral) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	watching := p.watching
	signals := p.signals
	p.handlers = make(map[dbus.ObjectPath]func([]byte))
	p.mu.Unlock()

	var err error
	if watching {
		p.conn.RemoveSignal(signals)
		err = multierr.Append(err, p.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchPathNamespace(p.path),
		))
	}

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if callErr := p.device().CallWithContext(ctx, deviceInterface+".Disconnect", 0).Err; callErr != nil {
		err = multierr.Append(err, fmt.Errorf("failed to disconnect device: %w", callErr))
	}

	err = multierr.Append(err, p.conn.Close())
	return err
}
