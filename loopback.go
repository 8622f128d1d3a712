package canfd

import (
	"context"
	"fmt"
	"sync"
)

// LoopbackBus is an in-memory CAN FD bus for tests and simulations. Frames
// sent on one endpoint are received by every other endpoint, stamped with a
// bus-wide 16-bit counter in place of the controller's receive timestamp.
//
// Endpoints opened with OpenClassic model nodes without CAN FD support:
// they never receive FD frames and cannot send them.
type LoopbackBus struct {
	mu        sync.RWMutex
	closed    bool
	depth     int
	stamp     uint16
	endpoints map[*loopEndpoint]struct{}
}

// LoopbackOption configures a LoopbackBus.
type LoopbackOption func(*LoopbackBus)

// WithQueueDepth sets how many frames each endpoint buffers before senders
// block. The default is 64.
func WithQueueDepth(n int) LoopbackOption {
	return func(b *LoopbackBus) { b.depth = max(n, 1) }
}

// NewLoopbackBus creates a new loopback bus.
func NewLoopbackBus(opts ...LoopbackOption) *LoopbackBus {
	b := &LoopbackBus{depth: 64, endpoints: make(map[*loopEndpoint]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Open attaches a CAN FD capable endpoint.
func (b *LoopbackBus) Open() Bus { return b.open(true) }

// OpenClassic attaches an endpoint for a classic CAN node.
func (b *LoopbackBus) OpenClassic() Bus { return b.open(false) }

func (b *LoopbackBus) open(fd bool) *loopEndpoint {
	ep := &loopEndpoint{
		bus:    b,
		fd:     fd,
		ch:     make(chan Frame, b.depth),
		closed: make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ep.dead = true
		close(ep.closed)
		return ep
	}
	b.endpoints[ep] = struct{}{}
	return ep
}

// Close closes the bus and every endpoint.
func (b *LoopbackBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ep := range b.endpoints {
		ep.closeNoLock()
	}
	b.endpoints = nil
	return nil
}

// route stamps frame and returns the endpoints other than from that accept
// it.
func (b *LoopbackBus) route(from *loopEndpoint, frame *Frame) ([]*loopEndpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.stamp++
	frame.Timestamp = b.stamp
	targets := make([]*loopEndpoint, 0, len(b.endpoints))
	for ep := range b.endpoints {
		if ep != from && (ep.fd || !frame.FD) {
			targets = append(targets, ep)
		}
	}
	return targets, nil
}

type loopEndpoint struct {
	bus    *LoopbackBus
	fd     bool
	ch     chan Frame
	mu     sync.Mutex
	dead   bool
	closed chan struct{}
}

// Send delivers the frame to the other endpoints. It blocks while a
// receiver's queue is full.
func (e *loopEndpoint) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if frame.FD && !e.fd {
		return fmt.Errorf("%w: FD frame on a classic endpoint", ErrInvalidFlags)
	}
	e.mu.Lock()
	dead := e.dead
	e.mu.Unlock()
	if dead {
		return ErrClosed
	}
	targets, err := e.bus.route(e, &frame)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := t.deliver(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

// deliver queues frame unless the endpoint is closed.
func (e *loopEndpoint) deliver(ctx context.Context, frame Frame) error {
	select {
	case e.ch <- frame:
	case <-e.closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Receive waits for the next frame.
func (e *loopEndpoint) Receive(ctx context.Context) (Frame, error) {
	select {
	case <-e.closed:
		return Frame{}, ErrClosed
	default:
	}
	select {
	case f := <-e.ch:
		return f, nil
	case <-e.closed:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Close detaches the endpoint from the bus.
func (e *loopEndpoint) Close() error {
	e.bus.mu.Lock()
	e.closeNoLock()
	e.bus.mu.Unlock()
	return nil
}

func (e *loopEndpoint) closeNoLock() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return
	}
	e.dead = true
	close(e.closed)
	if e.bus.endpoints != nil {
		delete(e.bus.endpoints, e)
	}
}
