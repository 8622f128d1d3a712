// canfdtest exercises CAN FD controllers, simulated or mapped through UIO.
//
// Usage:
//
//	canfdtest selftest --device 0 [--backend sim|uio]
//	canfdtest pair --frames 1000 [--metrics :9100]
//	canfdtest dump --device 1
//	canfdtest bridge --device 0 --iface can0 --up   (linux)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/notnil/canfd"
	"github.com/spf13/cobra"
)

var (
	devicesFile string
	logLevel    string
	backend     string

	log *slog.Logger

	rootCmd = &cobra.Command{
		Use:           "canfdtest",
		Short:         "Exercise CAN FD controllers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var lvl slog.Level
			if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
				return err
			}
			log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&devicesFile, "devices", "", "YAML device table (default: built-in table)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "sim", "register backend (sim, uio)")
	rootCmd.AddCommand(selftestCmd, pairCmd, dumpCmd)
}

// deviceTable returns the table given by --devices or the built-in one.
func deviceTable() (canfd.ConfigTable, error) {
	if devicesFile == "" {
		var t canfd.ConfigTable
		for i := 0; ; i++ {
			c, err := canfd.GetConfig(i)
			if err != nil {
				return t, nil
			}
			t = append(t, c)
		}
	}
	f, err := os.Open(devicesFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return canfd.LoadConfigTable(f)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "canfdtest:", err)
		os.Exit(1)
	}
}
