package disasm

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ParseLine parses one line of a textual disassembly log as written by
// an external debugger:
//
//	401000: 55 48 89 e5   mov rbp, rsp
//
// The address may carry a 0x prefix. The byte columns are optional; when
// present they are two-digit hex pairs. Blank lines and '#' comments are
// skipped (ok is false with a nil error).
func ParseLine(line string) (inst Inst, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Inst{}, false, nil
	}

	addrText, rest, found := strings.Cut(line, ":")
	if !found {
		return Inst{}, false, fmt.Errorf("no address separator in %q", line)
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(addrText), "0x"), 16, 64)
	if err != nil {
		return Inst{}, false, fmt.Errorf("bad address in %q: %w", line, err)
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Inst{}, false, fmt.Errorf("no mnemonic in %q", line)
	}

	var raw []byte
	for len(fields) > 0 && isHexPair(fields[0]) {
		b, _ := hex.DecodeString(fields[0])
		raw = append(raw, b[0])
		fields = fields[1:]
	}
	if len(fields) == 0 {
		return Inst{}, false, fmt.Errorf("no mnemonic after bytes in %q", line)
	}

	size := uint32(len(raw))
	if size == 0 {
		size = 1
	}
	return Inst{
		VA:       addr,
		Size:     size,
		Raw:      raw,
		Mnemonic: strings.ToLower(fields[0]),
		Operands: strings.Join(fields[1:], " "),
	}, true, nil
}

func isHexPair(s string) bool {
	if len(s) != 2 {
		return false
	}
	for i := 0; i < 2; i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
