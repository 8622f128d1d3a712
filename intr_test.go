package canfd

import (
	"errors"
	"log/slog"
	"testing"
)

func TestSetHandler_TypeChecks(t *testing.T) {
	d, _ := newTestDevice(t, seqConfig)
	if err := d.SetHandler(HandlerSend, func(uint32) {}); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("send handler with wrong signature = %v", err)
	}
	if err := d.SetHandler(HandlerError, func() {}); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("error handler with wrong signature = %v", err)
	}
	if err := d.SetHandler(HandlerType(9), func() {}); !errors.Is(err, ErrInvalidParam) {
		t.Fatalf("unknown handler type = %v", err)
	}
	if err := d.SetHandler(HandlerEvent, func(uint32) {}); err != nil {
		t.Fatal(err)
	}
	if err := d.SetHandler(HandlerEvent, nil); err != nil || d.handlers.event != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if HandlerRecv.String() != "recv" || HandlerType(0).String() != "HandlerType(0)" {
		t.Fatalf("HandlerType.String")
	}
}

func TestInterruptHandler_Dispatch(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	var sends, recvs int
	var esr, events uint32
	d.SetSendHandler(func() { sends++ })
	d.SetRecvHandler(func() { recvs++ })
	d.SetErrorHandler(func(s uint32) { esr = s })
	d.SetEventHandler(func(m uint32) { events = m })

	regs.mem[RegIER] = IntrAll
	regs.mem[RegISR] = IntrTxOK | IntrRxOK | IntrRxWatermark | IntrError | IntrBusOff | IntrTxCancelServed
	regs.mem[RegESR] = ESRStuffError
	if err := d.InterruptHandler(); err != nil {
		t.Fatalf("InterruptHandler: %v", err)
	}
	if sends != 1 || recvs != 1 {
		t.Fatalf("sends=%d recvs=%d", sends, recvs)
	}
	if esr != ESRStuffError {
		t.Fatalf("error handler got %#x", esr)
	}
	if events != IntrBusOff|IntrTxCancelServed {
		t.Fatalf("event handler got %#x", events)
	}
	if v, _ := regs.wrote(RegESR); v != ESRStuffError {
		t.Fatalf("ESR not cleared: %#x", v)
	}
	if v, _ := regs.wrote(RegICR); v != regs.mem[RegISR] {
		t.Fatalf("ICR = %#x, want %#x", v, regs.mem[RegISR])
	}
}

func TestInterruptHandler_OnlyEnabled(t *testing.T) {
	d, regs := newTestDevice(t, seqConfig)
	called := false
	d.SetRecvHandler(func() { called = true })
	regs.mem[RegISR] = IntrRxOK
	regs.mem[RegIER] = IntrTxOK
	if err := d.InterruptHandler(); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatalf("disabled source dispatched")
	}
	if _, ok := regs.wrote(RegICR); ok {
		t.Fatalf("ICR written with nothing pending")
	}
}

func TestInterruptHandler_MissingHandler(t *testing.T) {
	sink := &recordSink{}
	d, regs := newTestDevice(t, seqConfig, WithLogger(slog.New(sink)))
	sent := false
	d.SetSendHandler(func() { sent = true })
	regs.mem[RegIER] = IntrAll
	regs.mem[RegISR] = IntrTxOK | IntrRxOK | IntrWakeup

	err := d.InterruptHandler()
	if !errors.Is(err, ErrHandlerNotInstalled) {
		t.Fatalf("InterruptHandler = %v, want ErrHandlerNotInstalled", err)
	}
	if !sent {
		t.Fatalf("installed handler skipped")
	}
	if v, _ := regs.wrote(RegICR); v != IntrTxOK|IntrRxOK|IntrWakeup {
		t.Fatalf("ICR = %#x", v)
	}
	if !hasSlogMsg(sink.records, slog.LevelWarn, "canfd interrupt without handler") {
		t.Fatalf("expected warning")
	}
}

func TestInterruptMasks(t *testing.T) {
	d, regs := newTestDevice(t, mbConfig)
	if err := d.InterruptEnable(IntrRxOK | IntrTxOK); err != nil {
		t.Fatal(err)
	}
	if err := d.InterruptDisable(IntrTxOK); err != nil {
		t.Fatal(err)
	}
	if ier, _ := d.InterruptEnabled(); ier != IntrRxOK {
		t.Fatalf("IER = %#x", ier)
	}
	if err := d.InterruptClear(IntrRxOK); err != nil {
		t.Fatal(err)
	}
	if v, _ := regs.wrote(RegICR); v != IntrRxOK {
		t.Fatalf("ICR = %#x", v)
	}
	regs.mem[RegISR] = IntrBusOff
	if isr, _ := d.InterruptStatus(); isr != IntrBusOff {
		t.Fatalf("ISR = %#x", isr)
	}

	d.InterruptEnableReadyRequest(0x3)
	d.InterruptDisableReadyRequest(0x1)
	d.InterruptEnableCancelRequest(0x80000000)
	d.InterruptEnableRxBufferFull(1, 0xF0)
	d.InterruptEnableRxBufferFull(2, 0x1)
	d.InterruptDisableRxBufferFull(1, 0x10)
	want := map[uint32]uint32{
		RegIETRS:   0x2,
		RegIETCS:   0x80000000,
		RegRXBFLL1: 0xE0,
		RegRXBFLL2: 0x1,
	}
	for off, v := range want {
		if regs.mem[off] != v {
			t.Fatalf("reg %#x = %#x, want %#x", off, regs.mem[off], v)
		}
	}
	if err := d.InterruptDisableCancelRequest(0x80000000); err != nil || regs.mem[RegIETCS] != 0 {
		t.Fatalf("InterruptDisableCancelRequest: %v", err)
	}
}

func TestInterruptHandler_SharedBitsByMode(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		isr    uint32
		recvs  int
		events uint32
	}{
		{"sequential fifo1 overflow", seqConfig, IntrRxFIFO1Overflow, 0, IntrRxFIFO1Overflow},
		{"sequential fifo1 watermark", seqConfig, IntrRxFIFO1Wmark, 1, 0},
		{"mailbox buffer full", mbConfig, IntrRxBufferFull, 1, 0},
		{"mailbox buffer overflow", mbConfig, IntrRxBufOverflow, 0, IntrRxBufOverflow},
		{"sequential both", seqConfig, IntrRxFIFO1Overflow | IntrRxFIFO1Wmark, 1, IntrRxFIFO1Overflow},
		{"mailbox both", mbConfig, IntrRxBufferFull | IntrRxBufOverflow, 1, IntrRxBufOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, regs := newTestDevice(t, tt.cfg)
			var recvs int
			var events uint32
			d.SetRecvHandler(func() { recvs++ })
			d.SetEventHandler(func(m uint32) { events = m })
			regs.mem[RegIER] = IntrAll
			regs.mem[RegISR] = tt.isr
			if err := d.InterruptHandler(); err != nil {
				t.Fatalf("InterruptHandler: %v", err)
			}
			if recvs != tt.recvs || events != tt.events {
				t.Fatalf("recvs=%d events=%#x, want %d and %#x", recvs, events, tt.recvs, tt.events)
			}
			if v, _ := regs.wrote(RegICR); v != tt.isr {
				t.Fatalf("ICR = %#x, want %#x", v, tt.isr)
			}
		})
	}
}
