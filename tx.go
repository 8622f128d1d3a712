package canfd

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"
)

// lowestSetBit returns the index of the least significant set bit of v. ok is
// false when v is zero.
func lowestSetBit(v uint32) (idx int, ok bool) {
	if v == 0 {
		return 0, false
	}
	return bits.TrailingZeros32(v), true
}

// GetFreeBuffer returns the lowest numbered TX buffer with no pending
// transmission that is not already part of the batch being built by
// AddToQueue. It returns ErrNoBuffer when no such buffer exists.
func (d *Device) GetFreeBuffer() (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	i, ok := d.freeCandidate()
	if !ok {
		return 0, ErrNoBuffer
	}
	return i, nil
}

// freeCandidate picks the lowest buffer that is free in TRR and still
// available to the current batch.
func (d *Device) freeCandidate() (int, bool) {
	c := d.candidate
	if c == 0 {
		c = trrAll
	}
	return lowestSetBit(^d.read(RegTRR) & c)
}

// writeBuffer stores f in TX buffer i. Only the payload words covered by the
// frame's length are written.
func (d *Device) writeBuffer(i int, f *Frame) {
	d.write(txIDOffset(i), f.idWord())
	d.write(txDLCOffset(i), f.dlcWord())
	for w := 0; w < dataWords(int(f.Len)); w++ {
		d.write(txDataOffset(i)+uint32(w*dataWordBytes), f.dataWord(w))
	}
}

// Send writes f into the lowest free TX buffer and requests its
// transmission. It returns the buffer index used. When every buffer is
// pending Send returns ErrNoRoom without touching any register other than
// reading TRR; the caller is expected to retry.
func (d *Device) Send(f Frame) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	i, ok := d.freeCandidate()
	if !ok {
		return 0, ErrNoRoom
	}
	d.writeBuffer(i, &f)
	d.write(RegTRR, d.read(RegTRR)|1<<i)
	d.log.Debug("canfd send", "device", d.cfg.DeviceID, "buffer", i, "frame", f.String())
	return i, nil
}

// AddToQueue writes f into a free TX buffer without requesting its
// transmission. Buffers added since the last SendQueue form a batch that
// SendQueue releases together. ErrNoRoom is returned when the batch already
// spans every buffer or no free buffer remains.
func (d *Device) AddToQueue(f Frame) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}
	if d.batch == trrAll {
		return 0, ErrNoRoom
	}
	i, ok := d.freeCandidate()
	if !ok {
		return 0, ErrNoRoom
	}
	d.selected = 1 << i
	d.candidate &^= d.selected
	d.batch = ^d.candidate
	d.writeBuffer(i, &f)
	d.log.Debug("canfd queue", "device", d.cfg.DeviceID, "buffer", i, "frame", f.String())
	return i, nil
}

// SendQueue requests transmission of every buffer added by AddToQueue since
// the previous SendQueue. The batch is remembered for PollQueueBuffer.
func (d *Device) SendQueue() error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegTRR, d.batch)
	d.candidate, d.selected = trrAll, 0
	return nil
}

// PollQueueBuffer waits until every buffer of the last batch has been
// transmitted and then forgets the batch. It spins without bound; use
// PollQueueBufferContext to limit the wait.
func (d *Device) PollQueueBuffer() error {
	return d.PollQueueBufferContext(context.Background())
}

// PollQueueBufferContext is PollQueueBuffer with cancellation. On
// cancellation the batch is kept so the wait can be resumed.
func (d *Device) PollQueueBufferContext(ctx context.Context) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.batch == 0 {
		return nil
	}
	batch := d.batch
	if err := d.spin(ctx, func() bool { return d.read(RegTRR)&batch == 0 }); err != nil {
		return err
	}
	d.batch = 0
	return nil
}

// IsBufferTransmitted reports whether TX buffer i has no pending request.
func (d *Device) IsBufferTransmitted(i int) (bool, error) {
	if err := d.check(); err != nil {
		return false, err
	}
	if i < 0 || i >= NumTxBuffers {
		return false, fmt.Errorf("%w: tx buffer %d", ErrInvalidParam, i)
	}
	return d.read(RegTRR)&(1<<i) == 0, nil
}

// IsTxDone reports whether no TX buffer has a pending request.
func (d *Device) IsTxDone() (bool, error) {
	if err := d.check(); err != nil {
		return false, err
	}
	return d.read(RegTRR) == 0, nil
}

// CancelRequest cancels the pending transmission in buffer i and waits until
// the core acknowledges the cancellation. A buffer with no pending request
// returns ErrNotPending and no register is written.
func (d *Device) CancelRequest(i int) error {
	return d.CancelRequestContext(context.Background(), i)
}

// CancelRequestContext is CancelRequest with cancellation of the wait.
func (d *Device) CancelRequestContext(ctx context.Context, i int) error {
	if err := d.check(); err != nil {
		return err
	}
	if i < 0 || i >= NumTxBuffers {
		return fmt.Errorf("%w: tx buffer %d", ErrInvalidParam, i)
	}
	bit := uint32(1) << i
	if d.read(RegTRR)&bit == 0 {
		return fmt.Errorf("%w: tx buffer %d", ErrNotPending, i)
	}
	if d.read(RegTCR)&bit == 0 {
		d.write(RegTCR, bit)
	}
	done := func() bool { return d.read(RegTCR)&bit == 0 }
	if err := d.spin(ctx, done); err != nil {
		return err
	}
	d.log.Debug("canfd cancel", "device", d.cfg.DeviceID, "buffer", i)
	return nil
}

// spin polls cond until it holds or ctx is done.
func (d *Device) spin(ctx context.Context, cond func() bool) error {
	for !cond() {
		if err := ctx.Err(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}
