// internal/protocol/protocol.go
package protocol

import (
	"context"
	"strings"
	"time"

	"freakble/internal/model"
)

// ReceiveFunc is invoked with each decoded inbound frame
type ReceiveFunc func(frame model.Frame)

// Link is the capability set orchestration code depends on.
// Implementations are owned by a single caller at a time.
type Link interface {
	// Connection lifecycle
	Connect(ctx context.Context, timeout time.Duration) error
	Disconnect() error
	WaitUntilDisconnected(ctx context.Context) error

	// Data communication
	Send(ctx context.Context, frame model.Frame) error
	SetReceiveCallback(fn ReceiveFunc)
	StartNotifications() error
	StopNotifications() error
}

// Radio is the platform GATT stack a LinkClient drives
type Radio interface {
	// Resolve finds a connectable device on adapter. The deadline of ctx bounds the search.
	Resolve(ctx context.Context, adapter, address string) (Peripheral, error)
}

// Peripheral is one resolved remote device as exposed by a Radio
type Peripheral interface {
	Open(ctx context.Context) error
	Characteristics(ctx context.Context) ([]Characteristic, error)
	Write(ctx context.Context, char Characteristic, data []byte) error

	// Subscribe starts notifications on char. fn is called from a single goroutine in
	// the order the transport delivers values.
	Subscribe(char Characteristic, fn func(data []byte)) error
	Unsubscribe(char Characteristic) error

	// Disconnected is closed when the link drops without Close being called
	Disconnected() <-chan struct{}
	Close() error
}

// CharProps is a bitmask of GATT characteristic properties
type CharProps uint8

const (
	PropRead CharProps = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
	PropIndicate
)

// CanWrite reports whether the characteristic accepts writes of either kind
func (p CharProps) CanWrite() bool {
	return p&(PropWrite|PropWriteWithoutResponse) != 0
}

// CanNotify reports whether the characteristic pushes values
func (p CharProps) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// Characteristic describes one remote characteristic
type Characteristic struct {
	ID          string    `json:"id"`
	UUID        string    `json:"uuid"`
	ServiceUUID string    `json:"service_uuid"`
	Props       CharProps `json:"props"`
}

// InService reports whether the characteristic belongs to serviceUUID; "" matches any
func (c Characteristic) InService(serviceUUID string) bool {
	return serviceUUID == "" || strings.EqualFold(c.ServiceUUID, serviceUUID)
}

// ProtocolStats provides link-level statistics
type ProtocolStats struct {
	BytesWritten  int64     `json:"bytes_written"`
	BytesRead     int64     `json:"bytes_read"`
	FramesWritten int64     `json:"frames_written"`
	FramesRead    int64     `json:"frames_read"`
	ErrorCount    int64     `json:"error_count"`
	LastActivity  time.Time `json:"last_activity"`
	IsConnected   bool      `json:"is_connected"`
}
