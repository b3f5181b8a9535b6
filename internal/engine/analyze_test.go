package engine

import (
	"reflect"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		mnemonic string
		want     Flags
	}{
		{"jmp", FlagJump},
		{"jmpq", FlagJump}, // prefix match
		{"je", FlagJump | FlagConditional},
		{"jne", FlagJump | FlagConditional},
		{"jnz", FlagJump | FlagConditional},
		{"jge", FlagJump | FlagConditional},
		{"jbe", FlagJump | FlagConditional},
		{"call", FlagCall},
		{"callq", FlagCall},
		{"ret", FlagReturn},
		{"retq", FlagReturn},
		{"loop", FlagBranch | FlagConditional},
		{"loopne", FlagBranch | FlagConditional},
		{"nop", 0},
		{"mov", 0},
		{"add", 0},
		{"", 0},
	}
	for _, tc := range tests {
		if got := classify(tc.mnemonic); got != tc.want {
			t.Errorf("classify(%q) = %b, want %b", tc.mnemonic, got, tc.want)
		}
	}
}

func TestParseHexTarget(t *testing.T) {
	tests := []struct {
		operands string
		want     uint64
	}{
		{"0x1000", 0x1000},
		{"0X1000", 0x1000},
		{"  0xdeadBEEF", 0xdeadbeef},
		{"\t0x40", 0x40},
		{"0x3000, x1", 0x3000}, // stops at the first non-hex character
		{"0x1000(%rip)", 0x1000},
		{"0x", 0},
		{"0xg", 0},
		{"4096", 0},   // decimal is not a target
		{"rax", 0},    // register operand
		{"_start", 0}, // symbolic operand
		{"", 0},
		{"0xffffffffffffffff", 0xffffffffffffffff},
	}
	for _, tc := range tests {
		if got := parseHexTarget(tc.operands); got != tc.want {
			t.Errorf("parseHexTarget(%q) = %#x, want %#x", tc.operands, got, tc.want)
		}
	}
}

func TestAnalyzeResolvesJump(t *testing.T) {
	e := New()
	e.SetInstructions([]Instruction{
		inst(0x2000, "jmp", "0x3000"),
		inst(0x1000, "nop", ""),
		inst(0x3000, "ret", ""),
	})
	e.analyzeNow()

	in, ok := e.FindByAddress(0x2000)
	if !ok {
		t.Fatal("0x2000 not found")
	}
	if !in.Flags.Has(FlagJump) {
		t.Errorf("flags = %b, want JUMP set", in.Flags)
	}
	ref, ok := in.JumpTargetRef()
	if !ok {
		t.Fatal("jump record has no target ref")
	}
	targets := e.JumpTargets()
	if int(ref) >= len(targets) {
		t.Fatalf("target ref %d out of range (%d targets)", ref, len(targets))
	}
	tgt := targets[ref]
	if tgt.Address != 0x3000 {
		t.Errorf("target address = %#x, want 0x3000", tgt.Address)
	}
	if !tgt.Resolved() || tgt.Index != 2 {
		t.Errorf("target index = %d, want 2 (record at 0x3000)", tgt.Index)
	}

	// ret classifies but produces no target entry
	rin, _ := e.FindByAddress(0x3000)
	if !rin.Flags.Has(FlagReturn) {
		t.Errorf("ret flags = %b, want RETURN set", rin.Flags)
	}
	if _, ok := rin.JumpTargetRef(); ok {
		t.Error("ret should have no jump-target ref")
	}
}

func TestAnalyzeUnresolvedTarget(t *testing.T) {
	e := New()
	e.SetInstructions([]Instruction{
		inst(0x1000, "call", "0x9999"), // not loaded
		inst(0x1004, "nop", ""),
	})
	e.analyzeNow()

	if !e.HasJumpTarget(0x1000) {
		t.Fatal("classification succeeded, HasJumpTarget must be true")
	}
	tgt, ok := e.JumpTargetAt(0x1000)
	if !ok {
		t.Fatal("no jump target at 0x1000")
	}
	if tgt.Address != 0x9999 {
		t.Errorf("target address = %#x, want 0x9999", tgt.Address)
	}
	if tgt.Resolved() {
		t.Errorf("target index = %d, want unresolved", tgt.Index)
	}
	if !tgt.Kind.Has(FlagCall) {
		t.Errorf("kind = %b, want CALL", tgt.Kind)
	}
}

func TestAnalyzeNoTargetForSymbolicOperand(t *testing.T) {
	e := New()
	e.SetInstructions([]Instruction{
		inst(0x1000, "jmp", "rax"),
		inst(0x1004, "call", "_printf"),
		inst(0x1008, "jne", "100"),
	})
	e.analyzeNow()

	for _, addr := range []uint64{0x1000, 0x1004, 0x1008} {
		in, _ := e.FindByAddress(addr)
		if in.Flags == 0 {
			t.Errorf("%#x: classification lost", addr)
		}
		if e.HasJumpTarget(addr) {
			t.Errorf("%#x: non-hex operand must produce no jump target", addr)
		}
	}
	if n := len(e.JumpTargets()); n != 0 {
		t.Errorf("jump-target table has %d entries, want 0", n)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	e := New()
	e.SetInstructions([]Instruction{
		inst(0x1000, "jmp", "0x1010"),
		inst(0x1004, "call", "0x2000"),
		inst(0x1008, "je", "0x1000"),
		inst(0x100c, "nop", ""),
		inst(0x1010, "ret", ""),
	})

	e.analyzeNow()
	first := e.JumpTargets()
	firstFlags := make([]Flags, 0)
	for _, in := range e.VisibleRange(0, e.Count()) {
		firstFlags = append(firstFlags, in.Flags)
	}

	e.analyzeNow()
	second := e.JumpTargets()
	secondFlags := make([]Flags, 0)
	for _, in := range e.VisibleRange(0, e.Count()) {
		secondFlags = append(secondFlags, in.Flags)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("jump-target table changed between passes:\n%+v\n%+v", first, second)
	}
	if !reflect.DeepEqual(firstFlags, secondFlags) {
		t.Errorf("flags changed between passes: %v vs %v", firstFlags, secondFlags)
	}
}

func TestDirtyFlagLifecycle(t *testing.T) {
	e := New()
	if !e.JumpsDirty() {
		t.Error("fresh engine should start dirty")
	}

	e.SetInstructions([]Instruction{inst(0x1000, "jmp", "0x1000")})
	if !e.JumpsDirty() {
		t.Error("SetInstructions must mark jumps dirty")
	}

	e.analyzeNow()
	if e.JumpsDirty() {
		t.Error("analysis completion must clear the dirty flag")
	}

	e.AppendInstructions([]Instruction{inst(0x1004, "ret", "")})
	if !e.JumpsDirty() {
		t.Error("AppendInstructions must mark jumps dirty")
	}
}

func TestAnalyzeJumpsBackground(t *testing.T) {
	e := New()
	var batch []Instruction
	for a := uint64(0); a < 200; a++ {
		batch = append(batch, inst(0x1000+a*4, "jmp", "0x1000"))
	}
	e.SetInstructions(batch)

	// Fire-and-forget; completion is observed via the dirty flag.
	e.AnalyzeJumps()
	deadline := time.Now().Add(5 * time.Second)
	for e.JumpsDirty() {
		if time.Now().After(deadline) {
			t.Fatal("background analysis did not complete")
		}
		time.Sleep(time.Millisecond)
	}

	if got := e.Stats().JumpCount; got != 200 {
		t.Errorf("JumpCount = %d, want 200", got)
	}
	if e.Stats().AnalysisTime < 0 {
		t.Errorf("AnalysisTime = %v", e.Stats().AnalysisTime)
	}
}

// A mutation between analysis passes leaves the previous jump-target
// table in place: references may point at positions that have shifted.
// That staleness window is a documented hazard, not a bug — readers must
// check JumpsDirty before trusting resolved indices.
func TestJumpLinksStaleAfterMutation(t *testing.T) {
	e := New()
	e.SetInstructions([]Instruction{
		inst(0x2000, "jmp", "0x3000"),
		inst(0x3000, "ret", ""),
	})
	e.analyzeNow()

	tgt, ok := e.JumpTargetAt(0x2000)
	if !ok || tgt.Index != 1 {
		t.Fatalf("precondition: target = %+v, %v", tgt, ok)
	}

	// Prepending a record shifts 0x3000 from position 1 to position 2.
	e.AppendInstructions([]Instruction{inst(0x1000, "nop", "")})

	if !e.JumpsDirty() {
		t.Fatal("engine must report dirty after mutation")
	}
	stale, ok := e.JumpTargetAt(0x2000)
	if ok && stale.Index == 1 {
		// The stale index still says 1 even though the target now lives
		// at position 2. This is the documented window.
		if idx := e.FindIndexByAddress(stale.Address); idx != 2 {
			t.Errorf("target truly at %d, want 2", idx)
		}
	}

	e.analyzeNow()
	fresh, ok := e.JumpTargetAt(0x2000)
	if !ok || fresh.Index != 2 {
		t.Errorf("after reanalysis target = %+v, want index 2", fresh)
	}
}
