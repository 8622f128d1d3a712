package canfd

import (
	"errors"
	"fmt"
)

// HandlerType selects an interrupt callback slot.
type HandlerType int

const (
	HandlerSend  HandlerType = iota + 1 // TX OK and TX event watermark
	HandlerRecv                         // frame received
	HandlerError                        // bus error, receives the ESR value
	HandlerEvent                        // other events, receives the pending mask
)

func (t HandlerType) String() string {
	switch t {
	case HandlerSend:
		return "send"
	case HandlerRecv:
		return "recv"
	case HandlerError:
		return "error"
	case HandlerEvent:
		return "event"
	default:
		return fmt.Sprintf("HandlerType(%d)", int(t))
	}
}

// Interrupt categories serviced by InterruptHandler. Bits 15 and 16 mean
// different things in the two receive modes.
const (
	intrSendMask  = IntrTxOK | IntrTxEvWatermark
	intrRecvMask  = IntrRxOK | IntrRxWatermark
	intrEventMask = IntrBusOff | IntrArbLost | IntrRxFIFOOverflow |
		IntrRxMatchNotDone | IntrSleep | IntrWakeup |
		IntrTxEvOverflow | IntrProtocolExcept | IntrBusOffRecovery |
		IntrTsOverflow | IntrTxReadyServed | IntrTxCancelServed
)

// interruptMasks returns the receive and event categories for mode.
func interruptMasks(mode RxMode) (recv, event uint32) {
	if mode == RxMailbox {
		return intrRecvMask | IntrRxBufferFull, intrEventMask | IntrRxBufOverflow
	}
	return intrRecvMask | IntrRxFIFO1Wmark, intrEventMask | IntrRxFIFO1Overflow
}

// handlers is the callback table. A nil entry is an uninstalled slot.
type handlers struct {
	send  func()
	recv  func()
	err   func(errorStatus uint32)
	event func(mask uint32)
}

// SetHandler installs fn in the slot selected by t. fn must be a func() for
// HandlerSend and HandlerRecv, and a func(uint32) for HandlerError and
// HandlerEvent. Passing nil uninstalls the slot.
func (d *Device) SetHandler(t HandlerType, fn any) error {
	if err := d.check(); err != nil {
		return err
	}
	switch t {
	case HandlerSend, HandlerRecv:
		var f func()
		if fn != nil {
			var ok bool
			if f, ok = fn.(func()); !ok {
				return fmt.Errorf("%w: %v handler must be func(), got %T", ErrInvalidParam, t, fn)
			}
		}
		if t == HandlerSend {
			d.handlers.send = f
		} else {
			d.handlers.recv = f
		}
	case HandlerError, HandlerEvent:
		var f func(uint32)
		if fn != nil {
			var ok bool
			if f, ok = fn.(func(uint32)); !ok {
				return fmt.Errorf("%w: %v handler must be func(uint32), got %T", ErrInvalidParam, t, fn)
			}
		}
		if t == HandlerError {
			d.handlers.err = f
		} else {
			d.handlers.event = f
		}
	default:
		return fmt.Errorf("%w: handler type %v", ErrInvalidParam, t)
	}
	return nil
}

// SetSendHandler installs the transmit completion callback.
func (d *Device) SetSendHandler(fn func()) error { return d.SetHandler(HandlerSend, fn) }

// SetRecvHandler installs the receive callback.
func (d *Device) SetRecvHandler(fn func()) error { return d.SetHandler(HandlerRecv, fn) }

// SetErrorHandler installs the bus error callback.
func (d *Device) SetErrorHandler(fn func(errorStatus uint32)) error {
	return d.SetHandler(HandlerError, fn)
}

// SetEventHandler installs the callback for all remaining interrupt sources.
func (d *Device) SetEventHandler(fn func(mask uint32)) error {
	return d.SetHandler(HandlerEvent, fn)
}

// InterruptHandler services the pending and enabled interrupts. It is meant to
// be called from the platform's interrupt dispatch.
//
// Each category with a pending source invokes its callback: the error
// callback receives the error status register, which is then cleared; the
// event callback receives the pending event sources. In mailbox mode a full
// RX buffer counts as a receive and an RX buffer overflow as an event; in
// sequential mode the same bits are the FIFO 1 overflow event and the FIFO 1
// watermark receive. All serviced sources
// are acknowledged in ICR. A pending category with no callback installed is
// reported as an error wrapping ErrHandlerNotInstalled once every other
// category has been processed.
func (d *Device) InterruptHandler() error {
	if err := d.check(); err != nil {
		return err
	}
	pending := d.read(RegISR) & d.read(RegIER)
	if pending == 0 {
		return nil
	}
	recvMask, eventMask := interruptMasks(d.cfg.RxMode)
	var errs []error
	missing := func(t HandlerType) {
		errs = append(errs, fmt.Errorf("%w: %v", ErrHandlerNotInstalled, t))
	}

	if pending&IntrError != 0 {
		esr := d.read(RegESR)
		if d.handlers.err != nil {
			d.handlers.err(esr)
		} else {
			missing(HandlerError)
		}
		d.write(RegESR, esr)
	}
	if ev := pending & eventMask; ev != 0 {
		if d.handlers.event != nil {
			d.handlers.event(ev)
		} else {
			missing(HandlerEvent)
		}
	}
	if pending&recvMask != 0 {
		if d.handlers.recv != nil {
			d.handlers.recv()
		} else {
			missing(HandlerRecv)
		}
	}
	if pending&intrSendMask != 0 {
		if d.handlers.send != nil {
			d.handlers.send()
		} else {
			missing(HandlerSend)
		}
	}
	d.write(RegICR, pending)
	if len(errs) > 0 {
		d.log.Warn("canfd interrupt without handler", "device", d.cfg.DeviceID, "pending", pending)
	}
	return errors.Join(errs...)
}

// InterruptEnable enables the given interrupt sources.
func (d *Device) InterruptEnable(mask uint32) error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegIER, d.read(RegIER)|mask)
	return nil
}

// InterruptDisable disables the given interrupt sources.
func (d *Device) InterruptDisable(mask uint32) error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegIER, d.read(RegIER)&^mask)
	return nil
}

// InterruptEnabled returns the enabled interrupt sources.
func (d *Device) InterruptEnabled() (uint32, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.read(RegIER), nil
}

// InterruptStatus returns the raw interrupt status.
func (d *Device) InterruptStatus() (uint32, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.read(RegISR), nil
}

// InterruptClear acknowledges the given interrupt sources.
func (d *Device) InterruptClear(mask uint32) error {
	if err := d.check(); err != nil {
		return err
	}
	d.write(RegICR, mask)
	return nil
}

// InterruptEnableReadyRequest enables the ready request served interrupt for
// the given TX buffers.
func (d *Device) InterruptEnableReadyRequest(mask uint32) error {
	return d.updateReg(RegIETRS, mask, true)
}

// InterruptDisableReadyRequest disables the ready request served interrupt
// for the given TX buffers.
func (d *Device) InterruptDisableReadyRequest(mask uint32) error {
	return d.updateReg(RegIETRS, mask, false)
}

// InterruptEnableCancelRequest enables the cancel request served interrupt
// for the given TX buffers.
func (d *Device) InterruptEnableCancelRequest(mask uint32) error {
	return d.updateReg(RegIETCS, mask, true)
}

// InterruptDisableCancelRequest disables the cancel request served interrupt
// for the given TX buffers.
func (d *Device) InterruptDisableCancelRequest(mask uint32) error {
	return d.updateReg(RegIETCS, mask, false)
}

// InterruptEnableRxBufferFull enables the buffer full interrupt for mailboxes.
// Register 1 covers mailboxes 0-31 and register 2 covers 32-47.
func (d *Device) InterruptEnableRxBufferFull(reg int, mask uint32) error {
	off, err := rxbfllOffset(reg)
	if err != nil {
		return err
	}
	return d.updateReg(off, mask, true)
}

// InterruptDisableRxBufferFull disables the buffer full interrupt for mailboxes.
func (d *Device) InterruptDisableRxBufferFull(reg int, mask uint32) error {
	off, err := rxbfllOffset(reg)
	if err != nil {
		return err
	}
	return d.updateReg(off, mask, false)
}

func rxbfllOffset(reg int) (uint32, error) {
	switch reg {
	case 1:
		return RegRXBFLL1, nil
	case 2:
		return RegRXBFLL2, nil
	}
	return 0, fmt.Errorf("%w: rx buffer full register %d", ErrInvalidParam, reg)
}

func (d *Device) updateReg(off, mask uint32, set bool) error {
	if err := d.check(); err != nil {
		return err
	}
	v := d.read(off)
	if set {
		v |= mask
	} else {
		v &^= mask
	}
	d.write(off, v)
	return nil
}
