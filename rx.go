package canfd

import "fmt"

// extract reads the buffer element whose ID word is at off into f. Only the
// payload words covered by the decoded length are read.
func (d *Device) extract(off uint32, f *Frame) {
	*f = Frame{}
	f.setIDWord(d.read(off))
	n := f.setDLCWord(d.read(off + dlcOffset))
	for w := 0; w < dataWords(n); w++ {
		f.setDataWord(w, d.read(off+dataOffset+uint32(w*dataWordBytes)))
	}
}

// RecvSequential reads the oldest frame from RX FIFO 0 or, when FIFO 0 is
// empty, from RX FIFO 1, and advances that FIFO's read index. It returns
// ErrNoData when both FIFOs are empty.
func (d *Device) RecvSequential(f *Frame) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.cfg.RxMode != RxSequential {
		return ErrWrongRxMode
	}
	fsr := d.read(RegFSR)
	var fifo, ri int
	var iri uint32
	switch {
	case fsr&fsrFL0Mask != 0:
		fifo, ri, iri = 0, int(fsr&fsrRI0Mask), fsrIRI0
	case fsr&fsrFL1Mask != 0:
		fifo, ri, iri = 1, int((fsr&fsrRI1Mask)>>fsrRI1Shift), fsrIRI1
	default:
		return ErrNoData
	}
	d.extract(rxIDOffset(fifo, ri), f)
	d.write(RegFSR, d.read(RegFSR)|iri)
	return nil
}

// RecvMailbox reads the frame in the mailbox the core last reported as
// filled and hands the mailbox back to the core. It returns ErrNoData when
// that mailbox holds no new frame.
func (d *Device) RecvMailbox(f *Frame) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.cfg.RxMode != RxMailbox {
		return ErrWrongRxMode
	}
	idx := int((d.read(RegISR) & isrLastRxMask) >> isrLastRxShift)
	bank, bit := mailboxBank(idx)
	csb := uint32(1) << (bit + rcsCoreShift)
	rcs := d.read(rcsOffset(bank))
	if rcs&csb == 0 {
		return ErrNoData
	}
	d.extract(mailboxIDOffset(idx), f)
	d.write(rcsOffset(bank), rcs&rcsHostMask|csb)
	return nil
}

// Recv reads one frame using the receive routine matching the configured
// receive mode.
func (d *Device) Recv(f *Frame) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.cfg.RxMode == RxMailbox {
		return d.RecvMailbox(f)
	}
	return d.RecvSequential(f)
}

// RecvTxEvent reads the oldest entry of the TX event FIFO. The returned frame
// carries the identifier, flags, length, marker and timestamp of the sent
// frame but no payload. It returns ErrNoData when the FIFO is empty.
func (d *Device) RecvTxEvent(f *Frame) error {
	if err := d.check(); err != nil {
		return err
	}
	fsr := d.read(RegTXEFSR)
	if fsr&txeFLMask == 0 {
		return ErrNoData
	}
	ri := int(fsr & txeRIMask)
	*f = Frame{}
	f.setIDWord(d.read(txEventIDOffset(ri)))
	f.setDLCWord(d.read(txEventDLCOffset(ri)))
	d.write(RegTXEFSR, d.read(RegTXEFSR)|txeIRI)
	return nil
}

// RxFillLevel returns the number of frames stored in RX FIFO 0 or 1.
func (d *Device) RxFillLevel(fifo int) (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	fsr := d.read(RegFSR)
	switch fifo {
	case 0:
		return int((fsr & fsrFL0Mask) >> fsrFL0Shift), nil
	case 1:
		return int((fsr & fsrFL1Mask) >> fsrFL1Shift), nil
	}
	return 0, fmt.Errorf("%w: fifo %d", ErrInvalidParam, fifo)
}

// TxEventFillLevel returns the number of entries in the TX event FIFO.
func (d *Device) TxEventFillLevel() (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return int((d.read(RegTXEFSR) & txeFLMask) >> txeFLShift), nil
}

func (d *Device) checkMailbox(i int) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.cfg.RxMode != RxMailbox {
		return ErrWrongRxMode
	}
	if i < 0 || i >= d.cfg.NumRxMailboxes {
		return fmt.Errorf("%w: mailbox %d of %d", ErrInvalidParam, i, d.cfg.NumRxMailboxes)
	}
	return nil
}

// MailboxActivate hands mailbox i to the core for reception. It returns
// ErrAlreadyActive if the mailbox is already active.
func (d *Device) MailboxActivate(i int) error {
	if err := d.checkMailbox(i); err != nil {
		return err
	}
	bank, bit := mailboxBank(i)
	rcs := d.read(rcsOffset(bank))
	if rcs&(1<<bit) != 0 {
		return fmt.Errorf("%w: mailbox %d", ErrAlreadyActive, i)
	}
	d.write(rcsOffset(bank), rcs&rcsHostMask|1<<bit)
	return nil
}

// MailboxDeactivate withdraws mailbox i from reception. Deactivating an
// inactive mailbox is a no-op.
func (d *Device) MailboxDeactivate(i int) error {
	if err := d.checkMailbox(i); err != nil {
		return err
	}
	bank, bit := mailboxBank(i)
	rcs := d.read(rcsOffset(bank))
	if rcs&(1<<bit) != 0 {
		d.write(rcsOffset(bank), rcs&rcsHostMask&^(1<<bit))
	}
	return nil
}

// MailboxActive reports whether mailbox i is active.
func (d *Device) MailboxActive(i int) (bool, error) {
	if err := d.checkMailbox(i); err != nil {
		return false, err
	}
	bank, bit := mailboxBank(i)
	return d.read(rcsOffset(bank))&(1<<bit) != 0, nil
}

// SetMailboxIDMask programs the identifier and mask of mailbox i. An active
// mailbox is deactivated first and must be reactivated by the caller. id and
// mask use the identifier word layout; see Frame.IDWord.
func (d *Device) SetMailboxIDMask(i int, mask, id uint32) error {
	if err := d.MailboxDeactivate(i); err != nil {
		return err
	}
	d.write(mailboxMaskOffset(i), mask)
	d.write(mailboxIDOffset(i), id)
	return nil
}

// AcceptFilterEnable enables the acceptance filters in mask. Bit n enables
// filter n+1.
func (d *Device) AcceptFilterEnable(mask uint32) error {
	return d.updateReg(RegAFR, mask, true)
}

// AcceptFilterDisable disables the acceptance filters in mask.
func (d *Device) AcceptFilterDisable(mask uint32) error {
	return d.updateReg(RegAFR, mask, false)
}

// AcceptFilterEnabled returns the mask of enabled acceptance filters.
func (d *Device) AcceptFilterEnabled() (uint32, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.read(RegAFR), nil
}

func checkFilter(index int) error {
	if index < 1 || index > NumFilters {
		return fmt.Errorf("%w: filter %d", ErrInvalidParam, index)
	}
	return nil
}

// AcceptFilterSet programs acceptance filter index, 1 to 32. The filter must
// be disabled; an enabled filter returns ErrFilterEnabled and is left as is.
func (d *Device) AcceptFilterSet(index int, mask, id uint32) error {
	if err := d.check(); err != nil {
		return err
	}
	if err := checkFilter(index); err != nil {
		return err
	}
	if d.read(RegAFR)&(1<<(index-1)) != 0 {
		return fmt.Errorf("%w: filter %d", ErrFilterEnabled, index)
	}
	d.write(afmrOffset(index-1), mask)
	d.write(afidrOffset(index-1), id)
	return nil
}

// AcceptFilterGet returns the mask and identifier of acceptance filter index.
func (d *Device) AcceptFilterGet(index int) (mask, id uint32, err error) {
	if err := d.check(); err != nil {
		return 0, 0, err
	}
	if err := checkFilter(index); err != nil {
		return 0, 0, err
	}
	return d.read(afmrOffset(index - 1)), d.read(afidrOffset(index - 1)), nil
}
