package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/scales"
)

// app holds what every subcommand needs.
type app struct {
	registry   *cc.Registry
	scalesFile string
	logger     *slog.Logger
}

func newApp() *app {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := cc.NewRegistry(logger)
	classes.RegisterStandard(reg)
	return &app{registry: reg, logger: logger}
}

func (a *app) scales() (*scales.Table, error) {
	return scales.Load(a.scalesFile, a.logger)
}

func newRootCmd() *cobra.Command {
	a := newApp()
	root := &cobra.Command{
		Use:   "cctool",
		Short: "Z-Wave command class codec tool",
		Long: `cctool decodes and encodes Z-Wave command class payloads offline.

Payloads are hex strings without the class and command bytes. Class and
command IDs accept decimal or 0x-prefixed hex.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.scalesFile, "scales", "", "YAML file with meter scale overrides")

	root.AddCommand(newDecodeCmd(a), newEncodeCmd(a), newClassesCmd(a))
	return root
}

// parseID parses a class or command ID given as decimal or 0x hex.
func parseID(s string) (uint8, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint8(n), nil
}
