package canfd

import (
	"errors"
	"testing"
)

// storeRx places f in the RX buffer element at off the way the core does.
func storeRx(regs *fakeRegs, off uint32, f Frame) {
	regs.mem[off] = f.idWord()
	regs.mem[off+dlcOffset] = f.dlcWord()
	for w := 0; w < dataWords(int(f.Len)); w++ {
		regs.mem[off+dataOffset+uint32(w*dataWordBytes)] = f.dataWord(w)
	}
}

func TestRecvSequential_FIFO0First(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	f0 := MustFrame(0x100, []byte{0xAA})
	f1 := MustFDFrame(0x200, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	storeRx(regs, rxIDOffset(0, 3), f0)
	storeRx(regs, rxIDOffset(1, 5), f1)
	// FIFO 0: one frame at index 3. FIFO 1: one frame at index 5.
	regs.mem[RegFSR] = 3 | 1<<fsrFL0Shift | 5<<fsrRI1Shift | 1<<fsrFL1Shift

	var got Frame
	if err := d.RecvSequential(&got); err != nil {
		t.Fatalf("RecvSequential: %v", err)
	}
	if got.ID != 0x100 || got.Len != 1 || got.Data[0] != 0xAA {
		t.Fatalf("got %v, want FIFO 0 frame", got)
	}
	v, ok := regs.wrote(RegFSR)
	if !ok || v&fsrIRI0 == 0 || v&fsrIRI1 != 0 {
		t.Fatalf("FSR write = %#x, want IRI0 only", v)
	}

	// With FIFO 0 drained the next read takes FIFO 1 from its own index.
	regs.mem[RegFSR] = 4 | 5<<fsrRI1Shift | 1<<fsrFL1Shift
	regs.forget()
	if err := d.RecvSequential(&got); err != nil {
		t.Fatalf("RecvSequential: %v", err)
	}
	if got.ID != 0x200 || !got.FD || got.Len != 12 || got.Data[11] != 12 {
		t.Fatalf("got %v, want FIFO 1 frame", got)
	}
	if v, _ := regs.wrote(RegFSR); v&fsrIRI1 == 0 || v&fsrIRI0 != 0 {
		t.Fatalf("FSR write = %#x, want IRI1 only", v)
	}

	regs.mem[RegFSR] = 0
	regs.forget()
	if err := d.RecvSequential(&got); !errors.Is(err, ErrNoData) {
		t.Fatalf("empty FIFOs: %v", err)
	}
	if len(regs.writes) != 0 {
		t.Fatalf("empty poll wrote %+v", regs.writes)
	}
}

func TestRecvSequential_ReadsOnlyPayloadWords(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	storeRx(regs, rxIDOffset(0, 0), MustFrame(0x7, []byte{1, 2, 3, 4, 5}))
	regs.mem[RegFSR] = 1 << fsrFL0Shift
	var f Frame
	if err := d.Recv(&f); err != nil {
		t.Fatal(err)
	}
	base := rxIDOffset(0, 0)
	for _, off := range regs.reads {
		if off >= base+dataOffset+8 && off < base+bufferStride {
			t.Fatalf("read beyond payload at %#x", off)
		}
	}
}

func TestRecv_WrongMode(t *testing.T) {
	d, regs := newTestDevice(t, mbConfig)
	var f Frame
	if err := d.RecvSequential(&f); !errors.Is(err, ErrWrongRxMode) {
		t.Fatalf("RecvSequential on mailbox device = %v", err)
	}
	s, _ := newTestDevice(t, seqConfig)
	if err := s.RecvMailbox(&f); !errors.Is(err, ErrWrongRxMode) {
		t.Fatalf("RecvMailbox on sequential device = %v", err)
	}
	if regs.touched() {
		t.Fatalf("wrong mode touched registers")
	}
}

func TestRecvMailbox(t *testing.T) {
	d, regs := newTestDevice(t, mbConfig)
	want := MustFrame(0x321, []byte{9, 8, 7})
	storeRx(regs, mailboxIDOffset(37), want)
	regs.mem[RegISR] = IntrRxOK | 37<<isrLastRxShift
	bank, bit := mailboxBank(37)
	regs.mem[rcsOffset(bank)] = 1<<bit | 1<<(bit+rcsCoreShift) | 1 // 37 and 32 active, 37 full

	var got Frame
	if err := d.Recv(&got); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.ID != want.ID || got.Len != 3 || got.Data[2] != 7 {
		t.Fatalf("got %v", got)
	}
	v, _ := regs.wrote(rcsOffset(bank))
	if v != 1<<bit|1<<(bit+rcsCoreShift)|1 {
		t.Fatalf("RCS write = %#x", v)
	}

	// No new frame in the reported mailbox.
	regs.mem[rcsOffset(bank)] = 1 << bit
	regs.forget()
	if err := d.RecvMailbox(&got); !errors.Is(err, ErrNoData) {
		t.Fatalf("RecvMailbox = %v", err)
	}
	if len(regs.writes) != 0 {
		t.Fatalf("empty mailbox wrote %+v", regs.writes)
	}
}

func TestMailbox_ActivateDeactivate(t *testing.T) {
	d, regs := newTestDevice(t, mbConfig)
	cases := []struct{ i, bank, bit int }{
		{0, 0, 0}, {15, 0, 15}, {16, 1, 0}, {31, 1, 15}, {32, 2, 0}, {47, 2, 15},
	}
	for _, tc := range cases {
		off := rcsOffset(tc.bank)
		regs.mem[off] = 0xFFFF0000 // core owns every buffer's full flag
		if err := d.MailboxActivate(tc.i); err != nil {
			t.Fatalf("MailboxActivate(%d): %v", tc.i, err)
		}
		v, _ := regs.wrote(off)
		if v != 1<<tc.bit {
			t.Fatalf("MailboxActivate(%d) wrote %#x to %#x", tc.i, v, off)
		}
		regs.mem[off] |= 1 << tc.bit
		if on, _ := d.MailboxActive(tc.i); !on {
			t.Fatalf("mailbox %d not active", tc.i)
		}
		if err := d.MailboxActivate(tc.i); !errors.Is(err, ErrAlreadyActive) {
			t.Fatalf("second MailboxActivate(%d) = %v", tc.i, err)
		}
		if err := d.MailboxDeactivate(tc.i); err != nil {
			t.Fatal(err)
		}
		if v, _ := regs.wrote(off); v != 0 {
			t.Fatalf("MailboxDeactivate(%d) wrote %#x", tc.i, v)
		}
		regs.mem[off] = 0
	}

	// Deactivating an inactive mailbox writes nothing.
	regs.forget()
	if err := d.MailboxDeactivate(3); err != nil || len(regs.writes) != 0 {
		t.Fatalf("MailboxDeactivate idle: %v %+v", err, regs.writes)
	}
}

func TestSetMailboxIDMask(t *testing.T) {
	d, regs := newTestDevice(t, mbConfig)
	regs.mem[rcsOffset(1)] = 1 << 4 // mailbox 20 active
	f := Frame{ID: 0x123}
	if err := d.SetMailboxIDMask(20, MaskStdID, f.IDWord()); err != nil {
		t.Fatal(err)
	}
	if regs.mem[rcsOffset(1)]&(1<<4) != 0 {
		t.Fatalf("mailbox 20 still active")
	}
	if regs.mem[mailboxMaskOffset(20)] != MaskStdID || regs.mem[mailboxIDOffset(20)] != f.IDWord() {
		t.Fatalf("mask/id not programmed")
	}
}

func TestInvalidIndices_NoRegisterAccess(t *testing.T) {
	small := mbConfig
	small.NumRxMailboxes = 16
	d, regs := newTestDevice(t, small)
	checks := map[string]func() error{
		"activate 16":    func() error { return d.MailboxActivate(16) },
		"activate -1":    func() error { return d.MailboxActivate(-1) },
		"deactivate 16":  func() error { return d.MailboxDeactivate(16) },
		"active 99":      func() error { _, err := d.MailboxActive(99); return err },
		"id mask 16":     func() error { return d.SetMailboxIDMask(16, 0, 0) },
		"filter set 0":   func() error { return d.AcceptFilterSet(0, 0, 0) },
		"filter set 33":  func() error { return d.AcceptFilterSet(33, 0, 0) },
		"filter get 0":   func() error { _, _, err := d.AcceptFilterGet(0); return err },
		"fill level 2":   func() error { _, err := d.RxFillLevel(2); return err },
		"rx full reg 3":  func() error { return d.InterruptEnableRxBufferFull(3, 1) },
		"cancel 32":      func() error { return d.CancelRequest(32) },
		"transmitted 40": func() error { _, err := d.IsBufferTransmitted(40); return err },
	}
	for name, fn := range checks {
		regs.forget()
		if err := fn(); !errors.Is(err, ErrInvalidParam) {
			t.Fatalf("%s = %v, want ErrInvalidParam", name, err)
		}
		if name != "fill level 2" && regs.touched() {
			t.Fatalf("%s touched registers: reads %v writes %+v", name, regs.reads, regs.writes)
		}
	}
}

func TestAcceptFilters(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	f := Frame{ID: 0x1234567, Extended: true}
	if err := d.AcceptFilterSet(32, MaskExtID, f.IDWord()); err != nil {
		t.Fatal(err)
	}
	if mask, id, err := d.AcceptFilterGet(32); err != nil || mask != MaskExtID || id != f.IDWord() {
		t.Fatalf("AcceptFilterGet(32) = %#x, %#x, %v", mask, id, err)
	}
	if regs.mem[afmrOffset(31)] != MaskExtID {
		t.Fatalf("filter 32 stored at wrong offset")
	}

	if err := d.AcceptFilterEnable(1<<31 | 1<<2); err != nil {
		t.Fatal(err)
	}
	if afr, _ := d.AcceptFilterEnabled(); afr != 1<<31|1<<2 {
		t.Fatalf("AFR = %#x", afr)
	}
	regs.forget()
	if err := d.AcceptFilterSet(3, 0, 0); !errors.Is(err, ErrFilterEnabled) {
		t.Fatalf("AcceptFilterSet on enabled filter = %v", err)
	}
	if len(regs.writes) != 0 {
		t.Fatalf("enabled filter was written: %+v", regs.writes)
	}
	// Filter 2 is bit 1, which is clear.
	if err := d.AcceptFilterSet(2, 0, 0); err != nil {
		t.Fatalf("AcceptFilterSet(2) = %v", err)
	}
	if err := d.AcceptFilterDisable(1 << 2); err != nil {
		t.Fatal(err)
	}
	if afr, _ := d.AcceptFilterEnabled(); afr != 1<<31 {
		t.Fatalf("AFR after disable = %#x", afr)
	}
}

func TestFillLevelsAndTxEvents(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	regs.mem[RegFSR] = 7<<fsrFL0Shift | 33<<fsrFL1Shift
	if n, _ := d.RxFillLevel(0); n != 7 {
		t.Fatalf("RxFillLevel(0) = %d", n)
	}
	if n, _ := d.RxFillLevel(1); n != 33 {
		t.Fatalf("RxFillLevel(1) = %d", n)
	}

	var ev Frame
	if err := d.RecvTxEvent(&ev); !errors.Is(err, ErrNoData) {
		t.Fatalf("RecvTxEvent on empty FIFO = %v", err)
	}
	sent := MustFDFrame(0x55, make([]byte, 16))
	sent.Marker = 9
	sent.EventFIFO = true
	regs.mem[txEventIDOffset(2)] = sent.idWord()
	regs.mem[txEventDLCOffset(2)] = sent.dlcWord() | 0x0042
	regs.mem[RegTXEFSR] = 2 | 1<<txeFLShift
	if n, _ := d.TxEventFillLevel(); n != 1 {
		t.Fatalf("TxEventFillLevel = %d", n)
	}
	if err := d.RecvTxEvent(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.ID != 0x55 || ev.Marker != 9 || ev.Len != 16 || ev.Timestamp != 0x42 || !ev.BRS {
		t.Fatalf("tx event = %+v", ev)
	}
	if v, _ := regs.wrote(RegTXEFSR); v&txeIRI == 0 {
		t.Fatalf("TXEFSR write = %#x", v)
	}
}
