package canfd

import (
	"io"
	"log/slog"
)

// Device is one CAN FD controller.
//
// A Device is not safe for concurrent use. The batch transmit scratch state
// (AddToQueue, SendQueue, PollQueueBuffer) in particular must only be driven
// from a single goroutine; wrap the Device with NewBus, or provide external
// locking, when several goroutines share it.
type Device struct {
	cfg   Config
	regs  Registers
	log   *slog.Logger
	ready bool

	// Batch transmit scratch state. candidate holds the buffers still
	// available to the current batch (zero means all), selected the buffer
	// chosen by the last AddToQueue and batch the ready requests collected
	// for SendQueue.
	candidate uint32
	selected  uint32
	batch     uint32

	handlers handlers
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) { d.log = l }
}

// New initializes a Device over the given register window and resets the
// core, leaving it in Config mode. All interrupt handler slots start out
// uninstalled.
func New(regs Registers, cfg Config, opts ...Option) (*Device, error) {
	if regs == nil {
		return nil, ErrInvalidInstance
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Device{
		cfg:       cfg,
		regs:      regs,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		candidate: trrAll,
	}
	for _, o := range opts {
		o(d)
	}
	d.handlers = handlers{}
	d.ready = true
	d.Reset()
	d.log.Debug("canfd init", "device", cfg.DeviceID, "rxMode", cfg.RxMode.String())
	return d, nil
}

// Config returns the configuration the device was created with.
func (d *Device) Config() Config { return d.cfg }

func (d *Device) check() error {
	if d == nil {
		return ErrInvalidInstance
	}
	if !d.ready || d.regs == nil {
		return ErrNotReady
	}
	return nil
}

func (d *Device) read(off uint32) uint32       { return d.regs.ReadReg(off) }
func (d *Device) write(off uint32, val uint32) { d.regs.WriteReg(off, val) }

// Reset resets the core. Pending transmissions and receptions are dropped and
// the device is left in Config mode. The batch transmit state is cleared.
func (d *Device) Reset() error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegSRR, srrSRST)
	d.candidate, d.selected, d.batch = trrAll, 0, 0
	return nil
}

// Status returns the raw status register.
func (d *Device) Status() (uint32, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.read(RegSR), nil
}

// BusErrorStatus returns the error status register; see the ESR* bits.
func (d *Device) BusErrorStatus() (uint32, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.read(RegESR), nil
}

// ClearBusErrorStatus clears the given ESR bits.
func (d *Device) ClearBusErrorStatus(mask uint32) error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegESR, mask)
	return nil
}

// BusErrorCounters returns the receive and transmit error counters.
func (d *Device) BusErrorCounters() (uint8, uint8, error) {
	if err := d.check(); err != nil {
		return 0, 0, err
	}
	v := d.read(RegECR)
	return uint8((v & ecrRECMask) >> ecrRECShift), uint8(v & ecrTECMask), nil
}

// TimestampCount returns the free running timestamp counter.
func (d *Device) TimestampCount() (uint16, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return uint16(d.read(RegTimestamp) >> 16), nil
}

// ClearTimestampCount resets the timestamp counter.
func (d *Device) ClearTimestampCount() error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegTimestamp, 1)
	return nil
}
