// Package engine maintains an address-sorted in-memory index of decoded
// machine instructions for a debugger UI. It supports bulk loads and
// appends from an upstream disassembler, fast address lookups, paged
// range queries, and background jump analysis, all safe for concurrent
// use by multiple readers and a single writer at a time.
//
// The engine never decodes raw machine bytes itself; it indexes whatever
// the upstream collaborator already decoded.
package engine

import "errors"

// Fixed capacities for the inline fields of an Instruction. Keeping the
// text and byte fields inline and bounded keeps each record within a
// single cache line.
const (
	RawCap      = 16
	MnemonicCap = 12
	OperandsCap = 64
)

// NoIndex marks an absent index reference (no jump target, unresolved
// destination).
const NoIndex = ^uint32(0)

// Flags classifies an instruction's control-flow role. The zero value
// means "not a control-flow instruction".
type Flags uint8

const (
	FlagJump Flags = 1 << iota
	FlagConditional
	FlagCall
	FlagReturn
	FlagBranch
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Instruction is one decoded machine instruction plus derived
// control-flow metadata. The layout is fixed-size: over-long mnemonic,
// operand, or raw-byte input is truncated at the capacity boundary
// rather than stored out of line.
//
// Address, Size, the raw bytes, and the text fields are set at load time
// and never change afterwards. Flags and the jump-target reference are
// owned by the jump analyzer.
type Instruction struct {
	Address    uint64
	Size       uint32
	jumpTarget uint32 // index into the engine's jump-target table, NoIndex if none
	Raw        [RawCap]byte
	Mnemonic   [MnemonicCap]byte
	Operands   [OperandsCap]byte
	Flags      Flags
	RawLen     uint8
}

// NewInstruction builds a record, truncating raw, mnemonic, and operands
// to their fixed capacities. Truncation is silent: disassembly text is
// inherently variable-length and the bounded record is a deliberate
// trade-off.
func NewInstruction(address uint64, size uint32, raw []byte, mnemonic, operands string) Instruction {
	in := Instruction{
		Address:    address,
		Size:       size,
		jumpTarget: NoIndex,
	}
	in.RawLen = uint8(copy(in.Raw[:], raw))
	copy(in.Mnemonic[:], mnemonic)
	copy(in.Operands[:], operands)
	return in
}

// MnemonicString returns the mnemonic with trailing padding removed.
func (in *Instruction) MnemonicString() string { return fixedString(in.Mnemonic[:]) }

// OperandsString returns the operand text with trailing padding removed.
func (in *Instruction) OperandsString() string { return fixedString(in.Operands[:]) }

// RawBytes returns a copy of the encoded instruction bytes.
func (in *Instruction) RawBytes() []byte {
	b := make([]byte, in.RawLen)
	copy(b, in.Raw[:in.RawLen])
	return b
}

// JumpTargetRef returns the index of this instruction's entry in the
// jump-target table, if the last analysis pass produced one. The
// reference is only meaningful while the engine is clean; see the
// staleness note on Engine.
func (in *Instruction) JumpTargetRef() (uint32, bool) {
	return in.jumpTarget, in.jumpTarget != NoIndex
}

func fixedString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// JumpTarget is the resolved (or unresolved) destination of a
// control-flow instruction. Index is NoIndex when the target address is
// outside the currently loaded range.
type JumpTarget struct {
	Address uint64
	Index   uint32
	Kind    Flags
}

// Resolved reports whether the target address was present in the store
// when the analysis pass ran.
func (t JumpTarget) Resolved() bool { return t.Index != NoIndex }

// ErrShapeMismatch is returned by BuildBatch when the parallel input
// slices disagree in length.
var ErrShapeMismatch = errors.New("engine: parallel input slices differ in length")

// BuildBatch converts parallel slices, as delivered by a debugger
// session, into instruction records. It validates the shape up front so
// a malformed batch is rejected before any store mutation.
func BuildBatch(addresses []uint64, sizes []uint32, raw [][]byte, mnemonics, operands []string) ([]Instruction, error) {
	n := len(addresses)
	if len(sizes) != n || len(raw) != n || len(mnemonics) != n || len(operands) != n {
		return nil, ErrShapeMismatch
	}
	batch := make([]Instruction, n)
	for i := range batch {
		batch[i] = NewInstruction(addresses[i], sizes[i], raw[i], mnemonics[i], operands[i])
	}
	return batch, nil
}
