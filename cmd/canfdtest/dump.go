package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/notnil/canfd"
	"github.com/spf13/cobra"
)

var (
	dumpDevice uint16

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print the control registers of a device without resetting it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dump(cmd.OutOrStdout(), dumpDevice)
		},
	}
)

func init() {
	dumpCmd.Flags().Uint16VarP(&dumpDevice, "device", "d", 0, "device ID")
}

var dumpRegisters = []struct {
	name string
	off  uint32
}{
	{"SRR", canfd.RegSRR},
	{"MSR", canfd.RegMSR},
	{"BRPR", canfd.RegBRPR},
	{"BTR", canfd.RegBTR},
	{"ECR", canfd.RegECR},
	{"ESR", canfd.RegESR},
	{"SR", canfd.RegSR},
	{"ISR", canfd.RegISR},
	{"IER", canfd.RegIER},
	{"TS", canfd.RegTimestamp},
	{"F_BRPR", canfd.RegFBRPR},
	{"F_BTR", canfd.RegFBTR},
	{"TRR", canfd.RegTRR},
	{"IETRS", canfd.RegIETRS},
	{"TCR", canfd.RegTCR},
	{"IETCS", canfd.RegIETCS},
	{"TXE_FSR", canfd.RegTXEFSR},
	{"TXE_FWM", canfd.RegTXEFWM},
	{"AFR", canfd.RegAFR},
	{"FSR", canfd.RegFSR},
	{"WIR", canfd.RegWIR},
}

func dump(w io.Writer, id uint16) error {
	table, err := deviceTable()
	if err != nil {
		return err
	}
	cfg, err := table.Lookup(id)
	if err != nil {
		return err
	}
	regs, err := openRegs(cfg)
	if err != nil {
		return err
	}
	defer regs.Close()

	fmt.Fprintf(w, "%s (device %d, %s)\n", cfg.Name, cfg.DeviceID, cfg.RxMode)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range dumpRegisters {
		fmt.Fprintf(tw, "%s\t%#05x\t%#010x\n", r.name, r.off, regs.ReadReg(r.off))
	}
	if cfg.RxMode == canfd.RxMailbox {
		for bank := 0; bank < cfg.RxBanks(); bank++ {
			off := canfd.RegRCS0 + uint32(bank)*4
			fmt.Fprintf(tw, "RCS%d\t%#05x\t%#010x\n", bank, off, regs.ReadReg(off))
		}
	}
	return tw.Flush()
}
