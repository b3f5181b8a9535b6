package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disview/internal/disview/styles"
)

var statsCmd = &cobra.Command{
	Use:   "stats [file]",
	Short: "Load a binary and report engine performance stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startVA, _ := cmd.Flags().GetUint64("start")
		maxInsns, _ := cmd.Flags().GetInt("max")

		eng, img, err := loadEngine(args[0], startVA, maxInsns)
		if err != nil {
			return err
		}
		defer img.Close()

		if !awaitAnalysis(eng, 30*time.Second) {
			slog.Warn("Jump analysis did not complete in time")
		}

		// Exercise a point lookup so the latency counter is populated.
		eng.FindByAddress(eng.MinAddress())
		s := eng.Stats()

		var md strings.Builder
		fmt.Fprintf(&md, "# disview stats\n\n")
		fmt.Fprintf(&md, "**File:** `%s`\n\n", args[0])
		fmt.Fprintf(&md, "| Metric | Value |\n|---|---|\n")
		fmt.Fprintf(&md, "| Instructions | %d |\n", s.InstructionCount)
		fmt.Fprintf(&md, "| Jump targets | %d |\n", s.JumpCount)
		fmt.Fprintf(&md, "| Address range | `%#x` – `%#x` |\n", eng.MinAddress(), eng.MaxAddress())
		fmt.Fprintf(&md, "| Analysis time | %v |\n", s.AnalysisTime)
		fmt.Fprintf(&md, "| Last lookup | %v |\n", s.LastLookupTime)

		if !term.IsTerminal(os.Stdout.Fd()) {
			fmt.Fprint(cmd.OutOrStdout(), md.String())
			return nil
		}

		width, _, err := term.GetSize(os.Stdout.Fd())
		if err != nil || width <= 0 {
			width = 80
		}
		out, err := styles.GetMarkdownRenderer(width).Render(md.String())
		if err != nil {
			fmt.Fprint(cmd.OutOrStdout(), md.String())
			return nil
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	statsCmd.Flags().Uint64("start", 0, "Start address (default: section start)")
	statsCmd.Flags().Int("max", 100000, "Maximum instructions to decode")
	rootCmd.AddCommand(statsCmd)
}
