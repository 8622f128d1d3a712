package canfd

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Mux fans frames received on one Bus out to filtered subscribers.
//
// A single goroutine owns Receive on the bus, so a device backed Bus is
// polled once no matter how many parts of an application consume frames.
// Subscribers that fall behind lose frames rather than stall the others.
// Send is not proxied; keep using the Bus for transmission.
type Mux struct {
	bus    Bus
	cancel context.CancelFunc
	done   chan struct{}
	err    error // set before done is closed

	dropped atomic.Uint64

	mu   sync.RWMutex
	subs map[uint64]*subscriber // nil once stopped
	next uint64
}

type subscriber struct {
	filter FrameFilter
	ch     chan Frame
}

// NewMux starts a multiplexer reading from bus.
func NewMux(bus Bus) *Mux {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Mux{
		bus:    bus,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uint64]*subscriber),
	}
	go m.run(ctx)
	return m
}

// Close stops the reader and closes every subscription. The bus is left
// open.
func (m *Mux) Close() error {
	m.cancel()
	<-m.done
	return nil
}

// Done is closed when the mux has stopped, either by Close or because the
// bus failed.
func (m *Mux) Done() <-chan struct{} { return m.done }

// Err returns the receive error that stopped the mux, or nil while running
// and after Close.
func (m *Mux) Err() error {
	select {
	case <-m.done:
		return m.err
	default:
		return nil
	}
}

// Dropped returns the number of frames discarded because a subscriber's
// channel was full.
func (m *Mux) Dropped() uint64 { return m.dropped.Load() }

// Subscribe registers a subscriber for the frames matching filter, buffered
// up to buffer frames. The returned cancel function closes the channel; the
// channel is also closed when the mux stops. Subscribing to a stopped mux
// returns a closed channel.
func (m *Mux) Subscribe(filter FrameFilter, buffer int) (<-chan Frame, func()) {
	s := &subscriber{filter: filter, ch: make(chan Frame, max(buffer, 0))}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		close(s.ch)
		return s.ch, func() {}
	}
	id := m.next
	m.next++
	m.subs[id] = s

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.subs[id]; ok && cur == s {
			close(cur.ch)
			delete(m.subs, id)
		}
	}
	return s.ch, cancel
}

func (m *Mux) run(ctx context.Context) {
	defer close(m.done)
	for {
		f, err := m.bus.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
				m.err = err
			}
			m.stop()
			return
		}
		m.mu.RLock()
		for _, s := range m.subs {
			if !s.filter.match(f) {
				continue
			}
			select {
			case s.ch <- f:
			default:
				m.dropped.Add(1)
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Mux) stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		close(s.ch)
	}
	m.subs = nil
}
