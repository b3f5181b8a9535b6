// Package disasm is the upstream decoder collaborator for the
// instruction engine: it turns the executable section of an ELF image,
// or a textual disassembly log, into batches of decoded instructions.
// Decoding happens entirely here; the engine only indexes the result.
package disasm

import (
	"debug/elf"
	"fmt"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"disview/internal/elfx"
)

// Inst is a simplified decoded instruction.
type Inst struct {
	VA       uint64 // virtual address of instruction
	Size     uint32 // encoded length in bytes
	Raw      []byte // raw encoding
	Mnemonic string // mnemonic in lowercase
	Operands string // formatted operand text
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// Decode disassembles up to maxInsns instructions from the image's
// executable section, starting at startVA (0 means the section start).
// Supported machines are x86-64 and AArch64.
func Decode(img *elfx.Image, startVA uint64, maxInsns int) (Stream, error) {
	if img.Text.Size == 0 {
		return nil, fmt.Errorf("no executable section in %s", img.Path)
	}
	if startVA == 0 {
		startVA = img.Text.VA
	}
	if startVA < img.Text.VA || startVA >= img.Text.VA+img.Text.Size {
		return nil, fmt.Errorf("start %#x outside executable section [%#x, %#x)",
			startVA, img.Text.VA, img.Text.VA+img.Text.Size)
	}

	size := img.Text.VA + img.Text.Size - startVA
	code, ok := img.SliceVA(startVA, size)
	if !ok {
		return nil, fmt.Errorf("failed to read code at %#x", startVA)
	}

	switch img.Machine {
	case elf.EM_X86_64:
		return decodeX86(code, startVA, maxInsns), nil
	case elf.EM_AARCH64:
		return decodeARM64(code, startVA, maxInsns), nil
	default:
		return nil, fmt.Errorf("unsupported machine %v", img.Machine)
	}
}

func decodeX86(code []byte, pc uint64, maxInsns int) Stream {
	var out Stream
	for len(code) > 0 && len(out) < maxInsns {
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			// Undecodable byte: record it as data and keep going.
			out = append(out, Inst{VA: pc, Size: 1, Raw: code[:1:1], Mnemonic: ".byte", Operands: fmt.Sprintf("%#02x", code[0])})
			code = code[1:]
			pc++
			continue
		}
		mnem, ops := splitText(x86asm.IntelSyntax(inst, pc, nil))
		out = append(out, Inst{
			VA:       pc,
			Size:     uint32(inst.Len),
			Raw:      code[:inst.Len:inst.Len],
			Mnemonic: mnem,
			Operands: ops,
		})
		code = code[inst.Len:]
		pc += uint64(inst.Len)
	}
	return out
}

func decodeARM64(code []byte, pc uint64, maxInsns int) Stream {
	var out Stream
	for len(code) >= 4 && len(out) < maxInsns {
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			out = append(out, Inst{VA: pc, Size: 4, Raw: code[:4:4], Mnemonic: ".word", Operands: fmt.Sprintf("%#x", code[:4])})
		} else {
			mnem, ops := splitText(arm64asm.GoSyntax(inst, pc, nil, nil))
			out = append(out, Inst{VA: pc, Size: 4, Raw: code[:4:4], Mnemonic: mnem, Operands: ops})
		}
		code = code[4:]
		pc += 4
	}
	return out
}

// splitText separates a formatted instruction into a lowercase mnemonic
// and its operand text.
func splitText(text string) (mnemonic, operands string) {
	mnemonic, operands, _ = strings.Cut(text, " ")
	return strings.ToLower(mnemonic), strings.TrimSpace(operands)
}

// Labels returns a map of address to demangled symbol name for the
// image, used to annotate listings. Names that don't demangle are kept
// as is.
func Labels(img *elfx.Image) map[uint64]string {
	labels := make(map[uint64]string, len(img.Syms))
	for _, sym := range img.Syms {
		labels[sym.Addr] = demangle.Filter(sym.Name)
	}
	return labels
}
