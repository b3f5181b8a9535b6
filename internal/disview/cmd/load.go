package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"disview/internal/disasm"
	"disview/internal/elfx"
	"disview/internal/engine"
)

// toRecords converts decoded instructions into engine records.
func toRecords(stream disasm.Stream) []engine.Instruction {
	batch := make([]engine.Instruction, len(stream))
	for i, in := range stream {
		batch[i] = engine.NewInstruction(in.VA, in.Size, in.Raw, in.Mnemonic, in.Operands)
	}
	return batch
}

// loadEngine opens an ELF image, decodes its executable section, and
// bulk-loads the result into a fresh engine. The caller owns the image
// and must Close it.
func loadEngine(path string, startVA uint64, maxInsns int) (*engine.Engine, *elfx.Image, error) {
	img, err := elfx.Open(path)
	if err != nil {
		return nil, nil, err
	}

	stream, err := disasm.Decode(img, startVA, maxInsns)
	if err != nil {
		img.Close()
		return nil, nil, err
	}

	eng := engine.New()
	eng.SetInstructions(toRecords(stream))
	slog.Debug("Loaded instructions",
		"file", path,
		"count", eng.Count(),
		"min", fmt.Sprintf("%#x", eng.MinAddress()),
		"max", fmt.Sprintf("%#x", eng.MaxAddress()))
	return eng, img, nil
}

// awaitAnalysis triggers a background jump analysis and polls the dirty
// flag until the pass completes or the timeout expires. The engine has
// no completion callback; the dirty flag is the observable.
func awaitAnalysis(eng *engine.Engine, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for eng.JumpsDirty() {
		if time.Now().After(deadline) {
			return false
		}
		// Re-trigger each poll: a trigger landing while a previous pass
		// winds down is coalesced away, so one call is not enough.
		eng.AnalyzeJumps()
		time.Sleep(time.Millisecond)
	}
	return true
}
