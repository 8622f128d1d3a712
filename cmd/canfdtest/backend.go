package main

import (
	"fmt"
	"io"

	"github.com/notnil/canfd"
	"github.com/notnil/canfd/sim"
)

// regsCloser is a register window that may hold OS resources.
type regsCloser interface {
	canfd.Registers
	io.Closer
}

type simRegs struct{ *sim.Controller }

func (simRegs) Close() error { return nil }

// openRegs opens the register window of cfg on the selected backend.
func openRegs(cfg canfd.Config) (regsCloser, error) {
	switch backend {
	case "sim":
		return simRegs{sim.New(cfg)}, nil
	case "uio":
		return openUIO(cfg)
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

// openDevice opens and initializes the device with the given ID and programs
// a 1 Mbit/s arbitration and 4 Mbit/s data phase for an 80 MHz core clock.
func openDevice(id uint16) (*canfd.Device, io.Closer, error) {
	table, err := deviceTable()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := table.Lookup(id)
	if err != nil {
		return nil, nil, err
	}
	regs, err := openRegs(cfg)
	if err != nil {
		return nil, nil, err
	}
	dev, err := canfd.New(regs, cfg, canfd.WithLogger(log.With("name", cfg.Name)))
	if err != nil {
		regs.Close()
		return nil, nil, err
	}
	if err := configureTiming(dev); err != nil {
		regs.Close()
		return nil, nil, err
	}
	return dev, regs, nil
}

func configureTiming(dev *canfd.Device) error {
	steps := []func() error{
		func() error { return dev.EnterMode(canfd.ModeConfig) },
		func() error { return dev.SetBaudRatePrescaler(1) },
		func() error { return dev.SetBitTiming(7, 7, 30) },
		func() error { return dev.SetFBaudRatePrescaler(1) },
		func() error { return dev.SetFBitTiming(1, 1, 6) },
		func() error { return dev.SetTDCOffset(6) },
		func() error { return dev.EnableTDC() },
	}
	for _, s := range steps {
		if err := s(); err != nil {
			return fmt.Errorf("configure timing: %w", err)
		}
	}
	return nil
}

// acceptAll opens every mailbox of a mailbox mode device to all identifiers.
func acceptAll(dev *canfd.Device) error {
	cfg := dev.Config()
	if cfg.RxMode != canfd.RxMailbox {
		return nil
	}
	for i := 0; i < cfg.NumRxMailboxes; i++ {
		if err := dev.SetMailboxIDMask(i, 0, 0); err != nil {
			return err
		}
		if err := dev.MailboxActivate(i); err != nil {
			return err
		}
	}
	return nil
}
