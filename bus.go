package canfd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Bus represents a CAN bus connection which can send and receive CAN frames.
// Implementations should be safe for concurrent use by multiple goroutines.
type Bus interface {
	// Send transmits a frame. It may block until the frame is queued or sent.
	// Context cancellation should abort the operation and return the context error.
	Send(ctx context.Context, frame Frame) error

	// Receive retrieves the next available frame. It should block until a frame
	// is available or the context is cancelled.
	Receive(ctx context.Context) (Frame, error)

	// Close releases resources. Further Send/Receive may return an error.
	Close() error
}

// BusOption configures a Bus returned by NewBus.
type BusOption func(*deviceBus)

// WithBackOff sets the policy used while waiting for a free transmit buffer
// or for a received frame. newBackOff is called once per operation.
func WithBackOff(newBackOff func() backoff.BackOff) BusOption {
	return func(b *deviceBus) { b.newBackOff = newBackOff }
}

// DefaultBackOff polls quickly at first and settles at one poll per
// millisecond. It never gives up; the context bounds each operation.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

// deviceBus implements Bus over a Device by polling its transmit buffers and
// receive buffers.
type deviceBus struct {
	mu         sync.Mutex
	dev        *Device
	newBackOff func() backoff.BackOff
	closeOnce  sync.Once
	closed     chan struct{}
}

// NewBus returns a Bus that transmits through dev's TX buffers and receives
// with the receive routine matching dev's receive mode. The Bus serializes
// access to dev; callers must not use dev directly while the Bus is open.
// The device must already be in Normal or Loopback mode.
func NewBus(dev *Device, opts ...BusOption) (Bus, error) {
	if err := dev.check(); err != nil {
		return nil, err
	}
	b := &deviceBus{
		dev:        dev,
		newBackOff: DefaultBackOff,
		closed:     make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Locked runs fn with exclusive access to the device, for example to service
// interrupts or read error counters while the Bus is in use.
func Locked(b Bus, fn func(*Device) error) error {
	db, ok := b.(*deviceBus)
	if !ok {
		return errors.New("canfd: bus is not backed by a device")
	}
	if db.isClosed() {
		return ErrClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.dev)
}

func (b *deviceBus) isClosed() bool {
	select {
	case <-b.closed:
		return true
	default:
		return false
	}
}

// retry runs op until it succeeds, fails with an error other than transient,
// or ctx ends.
func (b *deviceBus) retry(ctx context.Context, transient error, op func() error) error {
	return backoff.Retry(func() error {
		if b.isClosed() {
			return backoff.Permanent(ErrClosed)
		}
		b.mu.Lock()
		err := op()
		b.mu.Unlock()
		if err != nil && !errors.Is(err, transient) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b.newBackOff(), ctx))
}

// Send waits for a free transmit buffer and requests transmission of frame.
// It returns once the frame is queued in the controller.
func (b *deviceBus) Send(ctx context.Context, frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	return b.retry(ctx, ErrNoRoom, func() error {
		_, err := b.dev.Send(frame)
		return err
	})
}

// Receive waits for the next received frame.
func (b *deviceBus) Receive(ctx context.Context) (Frame, error) {
	var f Frame
	err := b.retry(ctx, ErrNoData, func() error { return b.dev.Recv(&f) })
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close stops further use of the Bus. The device is left as is.
func (b *deviceBus) Close() error {
	b.closeOnce.Do(func() { close(b.closed) })
	return nil
}
