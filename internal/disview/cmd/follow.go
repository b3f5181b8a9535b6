package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"disview/internal/disasm"
	"disview/internal/engine"
	"disview/internal/logging"
)

// batchSize is how many parsed lines are accumulated before an append;
// flushInterval bounds the latency of a partial batch.
const (
	batchSize     = 64
	flushInterval = 200 * time.Millisecond
)

var followCmd = &cobra.Command{
	Use:   "follow [file]",
	Short: "Ingest a disassembly log, appending as it grows",
	Long: `Read a textual disassembly log produced by an external debugger and
append its instructions to the engine in batches. With --follow the file
is tailed like 'tail -f' and batches keep arriving as the debugger
writes; without it the file is read once to the end.

Line format: "address: [byte pairs] mnemonic [operands]", '#' starts a
comment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		followMode, _ := cmd.Flags().GetBool("follow")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		t, err := tail.TailFile(args[0], tail.Config{
			Follow: followMode,
			ReOpen: followMode,
			Logger: tail.DiscardingLogger,
		})
		if err != nil {
			return fmt.Errorf("tail %s: %w", args[0], err)
		}
		defer t.Cleanup()

		eng := engine.New()

		// Long follow sessions can log batches to a file; see the
		// DISVIEW_LOG_* env vars.
		var lg *logging.LoggerCloser
		if logging.IsDebug() {
			lg = logging.NewLogger()
			defer lg.Close()
		}

		var pending batch
		flush := func() {
			if pending.len() == 0 {
				return
			}
			records, err := engine.BuildBatch(pending.addrs, pending.sizes, pending.raws, pending.mnems, pending.ops)
			if err != nil {
				// Cannot happen with a well-formed accumulator, but a
				// rejected batch must leave the store untouched.
				slog.Error("Batch rejected", "error", err)
				pending.reset()
				return
			}
			eng.AppendInstructions(records)
			eng.AnalyzeJumps()
			if lg != nil {
				lg.Debug("appended batch", "size", pending.len(), "total", eng.Count())
			}
			pending.reset()
		}

		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()

	loop:
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				break loop
			case <-ticker.C:
				flush()
			case line, ok := <-t.Lines:
				if !ok {
					break loop
				}
				if line.Err != nil {
					slog.Warn("Tail error", "error", line.Err)
					continue
				}
				in, ok, err := disasm.ParseLine(line.Text)
				if err != nil {
					slog.Warn("Skipping malformed line", "error", err)
					continue
				}
				if !ok {
					continue
				}
				pending.add(in)
				if pending.len() >= batchSize {
					flush()
				}
			}
		}
		flush()

		if eng.Count() > 0 && !awaitAnalysis(eng, 5*time.Second) {
			slog.Warn("Jump analysis did not complete in time")
		}
		s := eng.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "%d instructions in [%#x, %#x], %d jump targets\n",
			s.InstructionCount, eng.MinAddress(), eng.MaxAddress(), s.JumpCount)
		return nil
	},
}

// batch accumulates parallel columns for the engine's bulk interface.
type batch struct {
	addrs []uint64
	sizes []uint32
	raws  [][]byte
	mnems []string
	ops   []string
}

func (b *batch) add(in disasm.Inst) {
	b.addrs = append(b.addrs, in.VA)
	b.sizes = append(b.sizes, in.Size)
	b.raws = append(b.raws, in.Raw)
	b.mnems = append(b.mnems, in.Mnemonic)
	b.ops = append(b.ops, in.Operands)
}

func (b *batch) len() int { return len(b.addrs) }

func (b *batch) reset() { *b = batch{} }

func init() {
	followCmd.Flags().BoolP("follow", "f", false, "Keep the file open and follow appended lines")
	rootCmd.AddCommand(followCmd)
}
