package canfd_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/notnil/canfd"
	"github.com/notnil/canfd/sim"
	"golang.org/x/sync/errgroup"
)

// openSim returns a device on a simulated controller for table entry index,
// with every mailbox open to all identifiers.
func openSim(t *testing.T, index int, mode canfd.Mode) (*canfd.Device, *sim.Controller) {
	t.Helper()
	cfg, err := canfd.GetConfig(index)
	if err != nil {
		t.Fatal(err)
	}
	ctl := sim.New(cfg)
	dev, err := canfd.New(ctl, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RxMode == canfd.RxMailbox {
		for i := 0; i < cfg.NumRxMailboxes; i++ {
			if err := dev.SetMailboxIDMask(i, 0, 0); err != nil {
				t.Fatal(err)
			}
			if err := dev.MailboxActivate(i); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := dev.EnterMode(mode); err != nil {
		t.Fatal(err)
	}
	return dev, ctl
}

func TestDeviceBus_Loopback(t *testing.T) {
	for _, index := range []int{0, 1} {
		dev, _ := openSim(t, index, canfd.ModeLoopback)
		bus, err := canfd.NewBus(dev)
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		frames := []canfd.Frame{
			canfd.MustFrame(1024, []byte{0, 1, 2, 3, 4, 5, 6, 7}),
			canfd.MustFDFrame(0x1234567, make([]byte, 48)),
			{ID: 0x7F, RTR: true, Len: 2},
		}
		for _, want := range frames {
			if err := bus.Send(ctx, want); err != nil {
				t.Fatalf("device %d send: %v", index, err)
			}
			got, err := bus.Receive(ctx)
			if err != nil {
				t.Fatalf("device %d receive: %v", index, err)
			}
			got.Timestamp = 0
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("device %d frame mismatch (-want +got):\n%s", index, diff)
			}
		}
		cancel()
		_ = bus.Close()
	}
}

func TestNewBus_RequiresReadyDevice(t *testing.T) {
	cfg, _ := canfd.GetConfig(0)
	var dev canfd.Device
	if _, err := canfd.NewBus(&dev); !errors.Is(err, canfd.ErrNotReady) {
		t.Fatalf("NewBus on zero device = %v", err)
	}
	d, err := canfd.New(sim.New(cfg), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := canfd.NewBus(d); err != nil {
		t.Fatal(err)
	}
}

func TestDeviceBus_ReceiveTimeoutAndClose(t *testing.T) {
	dev, _ := openSim(t, 0, canfd.ModeLoopback)
	bus, err := canfd.NewBus(dev)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := bus.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive = %v, want deadline", err)
	}

	if err := canfd.Locked(bus, func(d *canfd.Device) error {
		_, err := d.GetMode()
		return err
	}); err != nil {
		t.Fatalf("Locked: %v", err)
	}

	_ = bus.Close()
	_ = bus.Close()
	if _, err := bus.Receive(context.Background()); !errors.Is(err, canfd.ErrClosed) {
		t.Fatalf("Receive after close = %v", err)
	}
	if err := bus.Send(context.Background(), canfd.MustFrame(1, nil)); !errors.Is(err, canfd.ErrClosed) {
		t.Fatalf("Send after close = %v", err)
	}
	if err := canfd.Locked(bus, func(*canfd.Device) error { return nil }); !errors.Is(err, canfd.ErrClosed) {
		t.Fatalf("Locked after close = %v", err)
	}
	if err := canfd.Locked(canfd.NewLoopbackBus().Open(), func(*canfd.Device) error { return nil }); err == nil {
		t.Fatalf("Locked accepted a bus without a device")
	}
}

func TestDeviceBus_SendBlocksWhileBuffersBusy(t *testing.T) {
	// Normal mode with no peer: requests stay pending.
	dev, ctl := openSim(t, 0, canfd.ModeNormal)
	bus, err := canfd.NewBus(dev, canfd.WithBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(time.Millisecond)
	}))
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	ctx := context.Background()
	for i := 0; i < canfd.NumTxBuffers; i++ {
		if err := bus.Send(ctx, canfd.MustFrame(uint32(i), nil)); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if p := ctl.Pending(); p != 0xFFFFFFFF {
		t.Fatalf("pending = %#x", p)
	}
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := bus.Send(tctx, canfd.MustFrame(0x40, nil)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Send with all buffers busy = %v", err)
	}
	if err := bus.Send(ctx, canfd.Frame{ID: 0x800}); !errors.Is(err, canfd.ErrInvalidID) {
		t.Fatalf("Send invalid = %v", err)
	}
}

func TestDeviceBus_NetworkPair(t *testing.T) {
	for _, rxIndex := range []int{0, 1} {
		txDev, txCtl := openSim(t, 0, canfd.ModeNormal)
		rxDev, rxCtl := openSim(t, rxIndex, canfd.ModeNormal)
		sim.NewNetwork().Attach(txCtl, rxCtl)

		tx, err := canfd.NewBus(txDev)
		if err != nil {
			t.Fatal(err)
		}
		rx, err := canfd.NewBus(rxDev)
		if err != nil {
			t.Fatal(err)
		}

		// More frames than either side can buffer.
		const n = 200
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			for i := 0; i < n; i++ {
				data := []byte{byte(i), byte(i >> 8)}
				if err := tx.Send(gctx, canfd.MustFDFrame(uint32(i), data)); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for i := 0; i < n; i++ {
				f, err := rx.Receive(gctx)
				if err != nil {
					return err
				}
				if f.ID != uint32(i) || f.Data[0] != byte(i) || f.Data[1] != byte(i>>8) || !f.FD {
					t.Errorf("rx mode %d frame %d: %v", rxIndex, i, f)
				}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			t.Fatalf("rx device %d: %v", rxIndex, err)
		}
		cancel()
		if p := txCtl.Pending(); p != 0 {
			t.Fatalf("pending after drain = %#x", p)
		}
	}
}

func TestDeviceBus_InterruptsWithLocked(t *testing.T) {
	dev, ctl := openSim(t, 0, canfd.ModeLoopback)
	bus, err := canfd.NewBus(dev)
	if err != nil {
		t.Fatal(err)
	}
	defer bus.Close()

	irq := make(chan struct{}, 1)
	ctl.OnInterrupt(func() {
		select {
		case irq <- struct{}{}:
		default:
		}
	})
	var sent, received int
	if err := canfd.Locked(bus, func(d *canfd.Device) error {
		if err := d.SetSendHandler(func() { sent++ }); err != nil {
			return err
		}
		if err := d.SetRecvHandler(func() { received++ }); err != nil {
			return err
		}
		return d.InterruptEnable(canfd.IntrTxOK | canfd.IntrRxOK)
	}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := bus.Send(ctx, canfd.MustFrame(0x55, []byte{1})); err != nil {
		t.Fatal(err)
	}
	select {
	case <-irq:
	case <-time.After(time.Second):
		t.Fatalf("no interrupt")
	}
	if err := canfd.Locked(bus, func(d *canfd.Device) error { return d.InterruptHandler() }); err != nil {
		t.Fatal(err)
	}
	if sent != 1 || received != 1 {
		t.Fatalf("sent=%d received=%d", sent, received)
	}
	if isr := ctl.Peek(canfd.RegISR); isr&(canfd.IntrTxOK|canfd.IntrRxOK) != 0 {
		t.Fatalf("ISR not cleared: %#x", isr)
	}
}
