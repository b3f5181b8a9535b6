package cmd

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disview/internal/disview/log"
)

var rootCmd = &cobra.Command{
	Use:   "disview",
	Short: "Debugger disassembly viewer",
	Long: `disview maintains a fast, address-sorted index over decoded machine
instructions and serves lookups, paged listings, and jump-target
navigation on top of it.

Instructions come from one of two collaborators: the built-in ELF
decoder (disasm, view, stats) or a textual disassembly log written by an
external debugger (follow).`,
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	cobra.OnInitialize(func() {
		debug, _ := rootCmd.PersistentFlags().GetBool("debug")
		log.Setup(debug)
	})
}

func Execute() {
	// Bypass fang's markdown rendering when output is piped; users
	// control colors with the DISVIEW_NO_COLOR env var.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
