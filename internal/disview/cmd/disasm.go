package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"disview/internal/disasm"
	"disview/internal/engine"
	"disview/internal/ui/colorize"
)

// ListingRow is one line of the JSON listing output.
type ListingRow struct {
	Address    string `json:"address" jsonschema:"title=Address,description=Instruction address in hex"`
	Bytes      string `json:"bytes" jsonschema:"title=Bytes,description=Raw encoding in hex"`
	Mnemonic   string `json:"mnemonic" jsonschema:"title=Mnemonic"`
	Operands   string `json:"operands,omitempty" jsonschema:"title=Operands"`
	Flags      string `json:"flags,omitempty" jsonschema:"title=Flags,description=Control-flow classification"`
	JumpTarget string `json:"jumpTarget,omitempty" jsonschema:"title=Jump Target,description=Resolved destination address"`
	Resolved   *bool  `json:"resolved,omitempty" jsonschema:"title=Resolved,description=Whether the target is inside the loaded range"`
}

// ListingOutput is the JSON document emitted by disasm --json, used for
// regression testing.
type ListingOutput struct {
	File  string       `json:"file"`
	Rows  []ListingRow `json:"rows"`
	Stats StatsReport  `json:"stats"`
}

// StatsReport mirrors engine.Stats for serialization.
type StatsReport struct {
	InstructionCount uint64 `json:"instructionCount" jsonschema:"title=Instruction Count"`
	JumpCount        uint64 `json:"jumpCount" jsonschema:"title=Jump Count"`
	AnalysisTimeUs   int64  `json:"analysisTimeUs" jsonschema:"title=Analysis Time (µs)"`
	LastLookupNs     int64  `json:"lastLookupNs" jsonschema:"title=Last Lookup (ns)"`
}

func newStatsReport(s engine.Stats) StatsReport {
	return StatsReport{
		InstructionCount: s.InstructionCount,
		JumpCount:        s.JumpCount,
		AnalysisTimeUs:   s.AnalysisTime.Microseconds(),
		LastLookupNs:     s.LastLookupTime.Nanoseconds(),
	}
}

func flagsString(f engine.Flags) string {
	var parts []string
	if f.Has(engine.FlagJump) {
		parts = append(parts, "jump")
	}
	if f.Has(engine.FlagConditional) {
		parts = append(parts, "cond")
	}
	if f.Has(engine.FlagCall) {
		parts = append(parts, "call")
	}
	if f.Has(engine.FlagReturn) {
		parts = append(parts, "ret")
	}
	if f.Has(engine.FlagBranch) {
		parts = append(parts, "branch")
	}
	return strings.Join(parts, "|")
}

var disasmCmd = &cobra.Command{
	Use:   "disasm [file]",
	Short: "Disassemble a binary and print an annotated listing",
	Long: `Disassemble the executable section of an ELF binary, load it into the
instruction engine, run jump analysis, and print the listing with
resolved jump targets.`,
	Example: `
# Annotated listing of a binary
disview disasm /path/to/binary

# Machine-readable output
disview disasm --json /path/to/binary | jq .stats
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startVA, _ := cmd.Flags().GetUint64("start")
		maxInsns, _ := cmd.Flags().GetInt("max")
		asJSON, _ := cmd.Flags().GetBool("json")

		eng, img, err := loadEngine(args[0], startVA, maxInsns)
		if err != nil {
			return err
		}
		defer img.Close()

		if !awaitAnalysis(eng, 30*time.Second) {
			slog.Warn("Jump analysis still running, listing may lack targets")
		}

		labels := disasm.Labels(img)
		rows := eng.VisibleRange(0, eng.Count())

		if asJSON {
			return writeListingJSON(cmd, args[0], eng, rows)
		}

		for i := range rows {
			in := &rows[i]
			if name, ok := labels[in.Address]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%x  %s:\n", in.Address, name)
			}
			line := formatRow(eng, in, labels)
			fmt.Fprintln(cmd.OutOrStdout(), colorize.InstructionLine(line))
		}

		s := eng.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d instructions, %d jump targets, analysis %v\n",
			s.InstructionCount, s.JumpCount, s.AnalysisTime)
		return nil
	},
}

// formatRow renders one listing line: address, raw bytes, mnemonic,
// operands, and a jump annotation when analysis resolved one.
func formatRow(eng *engine.Engine, in *engine.Instruction, labels map[uint64]string) string {
	base := fmt.Sprintf("%-10x %-24x %-8s %-30s",
		in.Address, in.RawBytes(), in.MnemonicString(), in.OperandsString())

	tgt, ok := eng.JumpTargetAt(in.Address)
	if !ok {
		return strings.TrimRight(base, " ")
	}

	var note string
	switch {
	case tgt.Resolved() && labels[tgt.Address] != "":
		note = fmt.Sprintf("; -> %s", labels[tgt.Address])
	case tgt.Resolved():
		note = fmt.Sprintf("; -> %#x (row %d)", tgt.Address, tgt.Index)
	default:
		note = fmt.Sprintf("; -> %#x (not loaded)", tgt.Address)
	}
	return base + " " + note
}

func writeListingJSON(cmd *cobra.Command, path string, eng *engine.Engine, rows []engine.Instruction) error {
	out := ListingOutput{File: path, Rows: make([]ListingRow, 0, len(rows))}
	for i := range rows {
		in := &rows[i]
		row := ListingRow{
			Address:  fmt.Sprintf("%#x", in.Address),
			Bytes:    fmt.Sprintf("%x", in.RawBytes()),
			Mnemonic: in.MnemonicString(),
			Operands: in.OperandsString(),
			Flags:    flagsString(in.Flags),
		}
		if tgt, ok := eng.JumpTargetAt(in.Address); ok {
			row.JumpTarget = fmt.Sprintf("%#x", tgt.Address)
			resolved := tgt.Resolved()
			row.Resolved = &resolved
		}
		out.Rows = append(out.Rows, row)
	}
	out.Stats = newStatsReport(eng.Stats())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func init() {
	disasmCmd.Flags().Uint64("start", 0, "Start address (default: section start)")
	disasmCmd.Flags().Int("max", 100000, "Maximum instructions to decode")
	disasmCmd.Flags().Bool("json", false, "Emit the listing as JSON")
	rootCmd.AddCommand(disasmCmd)
}
