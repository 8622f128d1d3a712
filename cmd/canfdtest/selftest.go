package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/notnil/canfd"
	"github.com/spf13/cobra"
)

var (
	selftestDevice  uint16
	selftestTimeout time.Duration

	selftestCmd = &cobra.Command{
		Use:   "selftest",
		Short: "Send frames in loopback mode and check they are received intact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return selftest(cmd.Context(), selftestDevice, selftestTimeout)
		},
	}
)

func init() {
	selftestCmd.Flags().Uint16VarP(&selftestDevice, "device", "d", 0, "device ID")
	selftestCmd.Flags().DurationVar(&selftestTimeout, "timeout", time.Second, "time to wait for each frame")
}

func selftestFrames() []canfd.Frame {
	classic := make([]byte, 8)
	fd := make([]byte, 64)
	for i := range fd {
		if i < len(classic) {
			classic[i] = byte(i)
		}
		fd[i] = byte(i)
	}
	ext := canfd.MustFDFrame(0x1ABCDEF, fd[:12])
	ext.BRS = false
	return []canfd.Frame{
		canfd.MustFrame(1024, classic),
		canfd.MustFDFrame(0x123, fd),
		ext,
	}
}

func selftest(ctx context.Context, id uint16, timeout time.Duration) error {
	dev, closer, err := openDevice(id)
	if err != nil {
		return err
	}
	defer closer.Close()
	if err := acceptAll(dev); err != nil {
		return err
	}
	if err := dev.EnterMode(canfd.ModeLoopback); err != nil {
		return err
	}
	bus, err := canfd.NewBus(dev)
	if err != nil {
		return err
	}
	bus = canfd.NewLoggedBus(bus, log, slog.LevelDebug, canfd.LogAll)
	defer bus.Close()

	for _, want := range selftestFrames() {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		err := bus.Send(sctx, want)
		if err == nil {
			var got canfd.Frame
			got, err = bus.Receive(sctx)
			if err == nil && !sameFrame(got, want) {
				err = fmt.Errorf("received %v, sent %v", got, want)
			}
		}
		cancel()
		if err != nil {
			return fmt.Errorf("selftest %s: %w", dev.Config().Name, err)
		}
	}
	log.Info("selftest passed", "device", id, "frames", len(selftestFrames()))
	return nil
}

func sameFrame(a, b canfd.Frame) bool {
	return a.ID == b.ID && a.Extended == b.Extended && a.FD == b.FD &&
		a.BRS == b.BRS && a.RTR == b.RTR && a.Len == b.Len &&
		bytes.Equal(a.Payload(), b.Payload())
}
