package canfd

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// busMetrics are the collectors shared by every instrumented Bus registered
// with the same Registerer.
type busMetrics struct {
	frames *prometheus.CounterVec
	bytes  *prometheus.CounterVec
	errors *prometheus.CounterVec
}

func newBusMetrics(reg prometheus.Registerer) (*busMetrics, error) {
	m := &busMetrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canfd",
			Name:      "frames_total",
			Help:      "Frames sent or received, by bus, direction and frame format.",
		}, []string{"bus", "dir", "fd"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canfd",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes sent or received, by bus and direction.",
		}, []string{"bus", "dir"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "canfd",
			Name:      "errors_total",
			Help:      "Failed Send or Receive calls, excluding context cancellation.",
		}, []string{"bus", "dir"}),
	}
	for _, c := range []prometheus.Collector{m.frames, m.bytes, m.errors} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
			existing := are.ExistingCollector.(*prometheus.CounterVec)
			switch c {
			case m.frames:
				m.frames = existing
			case m.bytes:
				m.bytes = existing
			case m.errors:
				m.errors = existing
			}
		}
	}
	return m, nil
}

// NewInstrumentedBus wraps inner and counts its traffic in Prometheus
// collectors registered with reg, labelled with name.
func NewInstrumentedBus(inner Bus, reg prometheus.Registerer, name string) (Bus, error) {
	m, err := newBusMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &instrumentedBus{inner: inner, m: m, name: name}, nil
}

type instrumentedBus struct {
	inner Bus
	m     *busMetrics
	name  string
}

func (b *instrumentedBus) count(dir string, f Frame) {
	b.m.frames.WithLabelValues(b.name, dir, strconv.FormatBool(f.FD)).Inc()
	b.m.bytes.WithLabelValues(b.name, dir).Add(float64(f.Len))
}

func (b *instrumentedBus) fail(dir string, err error) {
	if isContextErr(err) {
		return
	}
	b.m.errors.WithLabelValues(b.name, dir).Inc()
}

func (b *instrumentedBus) Send(ctx context.Context, frame Frame) error {
	if err := b.inner.Send(ctx, frame); err != nil {
		b.fail("tx", err)
		return err
	}
	b.count("tx", frame)
	return nil
}

func (b *instrumentedBus) Receive(ctx context.Context) (Frame, error) {
	f, err := b.inner.Receive(ctx)
	if err != nil {
		b.fail("rx", err)
		return f, err
	}
	b.count("rx", f)
	return f, nil
}

func (b *instrumentedBus) Close() error { return b.inner.Close() }
