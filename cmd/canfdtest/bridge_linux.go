//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/notnil/canfd"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	bridgeDevice   uint16
	bridgeIface    string
	bridgeBitrate  uint32
	bridgeDBitrate uint32
	bridgeUp       bool

	bridgeCmd = &cobra.Command{
		Use:   "bridge",
		Short: "Forward frames between a controller and a SocketCAN interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return bridge(ctx)
		},
	}
)

func init() {
	bridgeCmd.Flags().Uint16VarP(&bridgeDevice, "device", "d", 0, "device ID")
	bridgeCmd.Flags().StringVarP(&bridgeIface, "iface", "i", "vcan0", "SocketCAN interface")
	bridgeCmd.Flags().Uint32Var(&bridgeBitrate, "bitrate", 0, "set the interface arbitration bit rate before bridging")
	bridgeCmd.Flags().Uint32Var(&bridgeDBitrate, "dbitrate", 0, "set the interface data bit rate and enable FD")
	bridgeCmd.Flags().BoolVar(&bridgeUp, "up", false, "bring the interface up if it is down")
	rootCmd.AddCommand(bridgeCmd)
}

func setupLink() error {
	if bridgeBitrate != 0 || bridgeDBitrate != 0 {
		if err := canfd.SetInterfaceDown(bridgeIface); err != nil {
			return err
		}
		opts := canfd.LinkOptions{Bitrate: bridgeBitrate, DataBitrate: bridgeDBitrate}
		if err := canfd.ConfigureLink(bridgeIface, opts); err != nil {
			return err
		}
	}
	if !bridgeUp {
		return nil
	}
	up, err := canfd.IsInterfaceUp(bridgeIface)
	if err != nil || up {
		return err
	}
	return canfd.SetInterfaceUp(bridgeIface)
}

func bridge(ctx context.Context) error {
	if err := setupLink(); err != nil {
		return err
	}
	dev, closer, err := openDevice(bridgeDevice)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := acceptAll(dev); err != nil {
		return err
	}
	if err := dev.EnterMode(canfd.ModeNormal); err != nil {
		return err
	}
	raw, err := canfd.NewBus(dev)
	if err != nil {
		return err
	}
	devBus := canfd.NewLoggedBus(raw, log.With("side", "device"), slog.LevelDebug, canfd.LogAll)
	defer devBus.Close()
	if src, ok := closer.(irqSource); ok {
		go func() {
			if err := serveErrors(raw, src); err != nil && !errors.Is(err, canfd.ErrClosed) {
				log.Warn("interrupt service stopped", "error", err)
			}
		}()
	}

	sock, err := canfd.DialSocketCAN(bridgeIface)
	if err != nil {
		return fmt.Errorf("dial %s: %w", bridgeIface, err)
	}
	sock = canfd.NewLoggedBus(sock, log.With("side", bridgeIface), slog.LevelDebug, canfd.LogAll)
	defer sock.Close()

	log.Info("bridging", "device", dev.Config().Name, "iface", bridgeIface)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forward(gctx, devBus, sock) })
	g.Go(func() error { return forward(gctx, sock, devBus) })
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// irqSource is a register window that can wait on the core's interrupt line.
type irqSource interface {
	EnableInterrupt() error
	WaitInterrupt() (uint32, error)
}

// serveErrors logs bus errors and bus state events while bridging. It runs
// until the interrupt source or the bus fails.
func serveErrors(bus canfd.Bus, src irqSource) error {
	if err := canfd.Locked(bus, func(d *canfd.Device) error {
		if err := d.SetErrorHandler(func(esr uint32) {
			log.Warn("bus error", "esr", fmt.Sprintf("%#x", esr))
		}); err != nil {
			return err
		}
		if err := d.SetEventHandler(func(mask uint32) {
			log.Info("bus event", "mask", fmt.Sprintf("%#x", mask))
		}); err != nil {
			return err
		}
		return d.InterruptEnable(canfd.IntrError | canfd.IntrBusOff | canfd.IntrBusOffRecovery)
	}); err != nil {
		return err
	}
	for {
		if err := src.EnableInterrupt(); err != nil {
			return err
		}
		n, err := src.WaitInterrupt()
		if err != nil {
			return err
		}
		log.Debug("interrupt", "count", n)
		if err := canfd.Locked(bus, func(d *canfd.Device) error { return d.InterruptHandler() }); err != nil {
			return err
		}
	}
}

// forward copies frames from src to dst until ctx ends or either side fails.
func forward(ctx context.Context, src, dst canfd.Bus) error {
	for {
		f, err := src.Receive(ctx)
		if err != nil {
			return err
		}
		if err := dst.Send(ctx, f); err != nil {
			return err
		}
	}
}
