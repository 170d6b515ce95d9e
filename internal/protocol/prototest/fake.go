// internal/protocol/prototest/fake.go

// Package prototest provides an in-memory Radio for exercising links without hardware.
package prototest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"freakble/internal/model"
	"freakble/internal/protocol"
)

// NUS characteristics as a FreakWAN node exposes them
var (
	RXChar = protocol.Characteristic{
		ID:          "char0001",
		UUID:        "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		ServiceUUID: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		Props:       protocol.PropWrite | protocol.PropWriteWithoutResponse,
	}
	TXChar = protocol.Characteristic{
		ID:          "char0002",
		UUID:        "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
		ServiceUUID: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		Props:       protocol.PropNotify,
	}
)

// Radio resolves every address to its single Peripheral unless ResolveErr is set
type Radio struct {
	mu         sync.Mutex
	Peripheral *Peripheral
	ResolveErr error
	// BlockResolve makes Resolve wait for the context deadline
	BlockResolve bool
	// NotFoundOnDone makes a blocked Resolve report model.ErrDeviceNotFound
	// instead of the context error, the way a discovery timeout does
	NotFoundOnDone bool
	resolves     int
}

// NewRadio creates a radio exposing a NUS peripheral
func NewRadio() *Radio {
	return &Radio{Peripheral: NewPeripheral(RXChar, TXChar)}
}

// Resolve implements protocol.Radio
func (r *Radio) Resolve(ctx context.Context, adapter, address string) (protocol.Peripheral, error) {
	r.mu.Lock()
	r.resolves++
	block, notFound, err, p := r.BlockResolve, r.NotFoundOnDone, r.ResolveErr, r.Peripheral
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		if notFound {
			return nil, fmt.Errorf("%w: %s", model.ErrDeviceNotFound, address)
		}
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	p.reset()
	return p, nil
}

// Resolves returns how many times Resolve was called
func (r *Radio) Resolves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

// Peripheral records everything a link does to it
type Peripheral struct {
	mu       sync.Mutex
	chars    []protocol.Characteristic
	writes   [][]byte
	handler  func([]byte)
	dropped  chan struct{}
	isClosed bool

	OpenErr      error
	WriteErr     error
	SubscribeErr error

	opens        int
	closes       int
	subscribes   int
	unsubscribes int
}

// NewPeripheral creates a peripheral exposing chars in order
func NewPeripheral(chars ...protocol.Characteristic) *Peripheral {
	return &Peripheral{chars: chars, dropped: make(chan struct{})}
}

func (p *Peripheral) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropped = make(chan struct{})
	p.isClosed = false
	p.handler = nil
}

// Open implements protocol.Peripheral
func (p *Peripheral) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	return p.OpenErr
}

// Characteristics implements protocol.Peripheral
func (p *Peripheral) Characteristics(ctx context.Context) ([]protocol.Characteristic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Characteristic(nil), p.chars...), nil
}

// Write implements protocol.Peripheral
func (p *Peripheral) Write(ctx context.Context, char protocol.Characteristic, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return errors.New("peripheral closed")
	}
	if p.WriteErr != nil {
		return p.WriteErr
	}
	p.writes = append(p.writes, append([]byte(nil), data...))
	return nil
}

// Subscribe implements protocol.Peripheral
func (p *Peripheral) Subscribe(char protocol.Characteristic, fn func([]byte)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SubscribeErr != nil {
		return p.SubscribeErr
	}
	p.subscribes++
	p.handler = fn
	return nil
}

// Unsubscribe implements protocol.Peripheral
func (p *Peripheral) Unsubscribe(char protocol.Characteristic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unsubscribes++
	p.handler = nil
	return nil
}

// Disconnected implements protocol.Peripheral
func (p *Peripheral) Disconnected() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close implements protocol.Peripheral
func (p *Peripheral) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.isClosed = true
	p.handler = nil
	return nil
}

// Notify delivers data to the current subscriber, if any. It reports whether a
// subscriber received it.
func (p *Peripheral) Notify(data []byte) bool {
	p.mu.Lock()
	fn := p.handler
	p.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// Drop simulates the remote side going away
func (p *Peripheral) Drop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.dropped:
	default:
		close(p.dropped)
	}
	p.handler = nil
}

// Writes returns a copy of every payload written so far
func (p *Peripheral) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.writes))
	for i, w := range p.writes {
		out[i] = string(w)
	}
	return out
}

// Counts returns open, close, subscribe and unsubscribe counts
func (p *Peripheral) Counts() (opens, closes, subscribes, unsubscribes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens, p.closes, p.subscribes, p.unsubscribes
}

// Closes returns how many times Close was called
func (p *Peripheral) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}
