package engine

import (
	"strconv"
	"strings"
	"time"
)

// classTable maps mnemonic prefixes to control-flow flags. Entries are
// matched in declaration order, first match wins; apart from the
// intentionally grouped conditional-jump family the prefixes are
// pairwise non-overlapping.
var classTable = []struct {
	prefix string
	flags  Flags
}{
	{"jmp", FlagJump},
	{"je", FlagJump | FlagConditional},
	{"jne", FlagJump | FlagConditional},
	{"jz", FlagJump | FlagConditional},
	{"jnz", FlagJump | FlagConditional},
	{"jl", FlagJump | FlagConditional},
	{"jle", FlagJump | FlagConditional},
	{"jg", FlagJump | FlagConditional},
	{"jge", FlagJump | FlagConditional},
	{"ja", FlagJump | FlagConditional},
	{"jae", FlagJump | FlagConditional},
	{"jb", FlagJump | FlagConditional},
	{"jbe", FlagJump | FlagConditional},
	{"jo", FlagJump | FlagConditional},
	{"jno", FlagJump | FlagConditional},
	{"js", FlagJump | FlagConditional},
	{"jns", FlagJump | FlagConditional},
	{"jc", FlagJump | FlagConditional},
	{"jnc", FlagJump | FlagConditional},
	{"call", FlagCall},
	{"ret", FlagReturn},
	{"retq", FlagReturn},
	{"loop", FlagBranch | FlagConditional},
}

// classify derives control-flow flags from a mnemonic.
func classify(mnemonic string) Flags {
	for _, c := range classTable {
		if strings.HasPrefix(mnemonic, c.prefix) {
			return c.flags
		}
	}
	return 0
}

// parseHexTarget extracts a jump destination from operand text. Only a
// "0x"/"0X"-prefixed hex literal is recognized; anything else (register,
// symbol, decimal) yields 0, which callers treat as "no target", never
// as a real destination. Parsing stops at the first non-hex character,
// so trailing operands are ignored.
func parseHexTarget(operands string) uint64 {
	s := strings.TrimLeft(operands, " \t")
	if len(s) < 3 || s[0] != '0' || (s[1] != 'x' && s[1] != 'X') {
		return 0
	}
	s = s[2:]
	end := 0
	for end < len(s) && isHexDigit(s[end]) {
		end++
	}
	if end == 0 {
		return 0
	}
	v, err := strconv.ParseUint(s[:end], 16, 64)
	if err != nil {
		return 0
	}
	return v
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// AnalyzeJumps schedules a background analysis pass if the jump-target
// table is stale. It returns immediately; completion is observed via
// JumpsDirty flipping to false. A trigger while a pass is already in
// flight is coalesced. There is no cancellation — a scheduled pass runs
// to completion.
func (e *Engine) AnalyzeJumps() {
	if !e.jumpsDirty.Load() {
		return
	}
	if !e.analyzing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.analyzing.Store(false)
		e.analyzeNow()
	}()
}

// analyzeNow rewrites the jump-target table from scratch under the write
// lock: every record is (re)classified from its mnemonic, and for jump
// and call records a hex destination is parsed from the operand text and
// resolved against the store. The pass is idempotent — with no
// intervening mutation a second run produces an identical table.
func (e *Engine) analyzeNow() {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.targets = e.targets[:0]
	for i := range e.insts {
		in := &e.insts[i]
		in.jumpTarget = NoIndex
		in.Flags = classify(in.MnemonicString())

		if in.Flags&(FlagJump|FlagCall) == 0 {
			continue
		}
		addr := parseHexTarget(in.OperandsString())
		if addr == 0 {
			continue
		}

		t := JumpTarget{Address: addr, Index: NoIndex, Kind: in.Flags}
		if idx := e.lowerBound(addr); idx < len(e.insts) && e.insts[idx].Address == addr {
			t.Index = uint32(idx)
		}
		in.jumpTarget = uint32(len(e.targets))
		e.targets = append(e.targets, t)
	}

	e.jumpCount.Store(uint64(len(e.targets)))
	e.analysisMicros.Store(time.Since(start).Microseconds())

	// Cleared inside the critical section so a mutation racing with this
	// pass cannot have its dirty mark lost.
	e.jumpsDirty.Store(false)
}
