// internal/protocol/bluez/signal_queue.go
package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// signalQueue is an unbounded FIFO between the bus reader and the pump. Pushing never
// blocks, so the bus channel is drained as fast as godbus fills it.
type signalQueue struct {
	mu     sync.Mutex
	items  []*dbus.Signal
	closed bool
	ready  chan struct{}
}

func newSignalQueue() *signalQueue {
	return &signalQueue{ready: make(chan struct{}, 1)}
}

func (q *signalQueue) push(sig *dbus.Signal) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, sig)
	q.mu.Unlock()
	q.notify()
}

// close marks the end of the stream; signals already queued are still drained
func (q *signalQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *signalQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain takes every queued signal in arrival order and reports whether the stream ended
func (q *signalQueue) drain() ([]*dbus.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, q.closed
}

// forward moves signals from the bus channel into q until done or the channel closes
func (q *signalQueue) forward(signals <-chan *dbus.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig, ok := <-signals:
			if !ok {
				q.close()
				return
			}
			q.push(sig)
		}
	}
}
