package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/notnil/canfd"
	"github.com/notnil/canfd/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	pairFrames  int
	pairTx      uint16
	pairRx      uint16
	pairTimeout time.Duration
	pairMetrics string

	pairCmd = &cobra.Command{
		Use:   "pair",
		Short: "Stream frames between two simulated controllers on a shared bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return pair(cmd.Context())
		},
	}
)

func init() {
	pairCmd.Flags().IntVarP(&pairFrames, "frames", "n", 1000, fmt.Sprintf("number of frames to send, at most %d", maxPairFrames))
	pairCmd.Flags().Uint16Var(&pairTx, "tx", 0, "sending device ID")
	pairCmd.Flags().Uint16Var(&pairRx, "rx", 1, "receiving device ID")
	pairCmd.Flags().DurationVar(&pairTimeout, "timeout", 30*time.Second, "overall time limit")
	pairCmd.Flags().StringVar(&pairMetrics, "metrics", "", "serve Prometheus metrics on this address while running")
}

// node is one simulated controller with the Bus wrapped around it.
type node struct {
	ctl *sim.Controller
	dev *canfd.Device
	raw canfd.Bus // serializes device access
	bus canfd.Bus // raw with metrics
	irq chan struct{}
}

func newNode(cfg canfd.Config, reg prometheus.Registerer) (*node, error) {
	n := &node{ctl: sim.New(cfg), irq: make(chan struct{}, 1)}
	dev, err := canfd.New(n.ctl, cfg, canfd.WithLogger(log.With("name", cfg.Name)))
	if err != nil {
		return nil, err
	}
	n.dev = dev
	if err := configureTiming(dev); err != nil {
		return nil, err
	}
	if err := acceptAll(dev); err != nil {
		return nil, err
	}
	if err := dev.EnterMode(canfd.ModeNormal); err != nil {
		return nil, err
	}
	if n.raw, err = canfd.NewBus(dev); err != nil {
		return nil, err
	}
	if n.bus, err = canfd.NewInstrumentedBus(n.raw, reg, cfg.Name); err != nil {
		return nil, err
	}
	n.ctl.OnInterrupt(func() {
		select {
		case n.irq <- struct{}{}:
		default:
		}
	})
	return n, nil
}

// serveInterrupts runs the interrupt dispatcher each time the controller
// signals, until ctx ends.
func (n *node) serveInterrupts(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.irq:
		}
		err := canfd.Locked(n.raw, func(d *canfd.Device) error { return d.InterruptHandler() })
		if err != nil && !errors.Is(err, canfd.ErrClosed) {
			return err
		}
	}
}

// maxPairFrames keeps every identifier of a run distinct. Frames are sent
// with standard identifiers 0, 1, 2 and so on, and arbitration would reorder
// them once the sequence wrapped.
const maxPairFrames = 0x800

func pair(ctx context.Context) error {
	if pairFrames < 1 || pairFrames > maxPairFrames {
		return fmt.Errorf("--frames must be between 1 and %d, got %d", maxPairFrames, pairFrames)
	}
	table, err := deviceTable()
	if err != nil {
		return err
	}
	txCfg, err := table.Lookup(pairTx)
	if err != nil {
		return err
	}
	rxCfg, err := table.Lookup(pairRx)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	if pairMetrics != "" {
		srv := &http.Server{Addr: pairMetrics, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server", "error", err)
			}
		}()
		defer srv.Close()
	}

	tx, err := newNode(txCfg, reg)
	if err != nil {
		return err
	}
	rx, err := newNode(rxCfg, reg)
	if err != nil {
		return err
	}
	sim.NewNetwork().Attach(tx.ctl, rx.ctl)

	var sent, received, busErrors, rxIRQs int
	if err := canfd.Locked(rx.raw, func(d *canfd.Device) error {
		if err := d.SetRecvHandler(func() { rxIRQs++ }); err != nil {
			return err
		}
		if err := d.SetSendHandler(func() {}); err != nil {
			return err
		}
		if err := d.SetErrorHandler(func(uint32) { busErrors++ }); err != nil {
			return err
		}
		if err := d.SetEventHandler(func(mask uint32) { log.Debug("event", "mask", fmt.Sprintf("%#x", mask)) }); err != nil {
			return err
		}
		return d.InterruptEnable(canfd.IntrRxOK | canfd.IntrError | canfd.IntrRxMatchNotDone)
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, pairTimeout)
	defer cancel()
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	done, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error { return rx.serveInterrupts(done) })
	g.Go(func() error {
		for i := 0; i < pairFrames; i++ {
			payload := make([]byte, 16)
			for j := range payload {
				payload[j] = byte(i + j)
			}
			if err := tx.bus.Send(gctx, canfd.MustFDFrame(uint32(i), payload)); err != nil {
				return fmt.Errorf("send %d: %w", i, err)
			}
			sent++
		}
		return nil
	})
	g.Go(func() error {
		defer stop()
		for received < pairFrames {
			f, err := rx.bus.Receive(gctx)
			if err != nil {
				return fmt.Errorf("receive %d: %w", received, err)
			}
			if f.ID != uint32(received) {
				return fmt.Errorf("frame %d: got id %#x", received, f.ID)
			}
			received++
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("pair finished",
		"sent", sent,
		"received", received,
		"busErrors", busErrors,
		"rxInterrupts", rxIRQs,
		"elapsed", time.Since(start).String(),
	)
	return nil
}
