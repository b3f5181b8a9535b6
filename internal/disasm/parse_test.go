package disasm

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Inst
	}{
		{
			name: "full line with bytes",
			line: "401000: 55 48 89 e5   mov rbp, rsp",
			want: Inst{VA: 0x401000, Size: 4, Raw: []byte{0x55, 0x48, 0x89, 0xe5}, Mnemonic: "mov", Operands: "rbp, rsp"},
		},
		{
			name: "0x prefixed address",
			line: "0x401005: c3 ret",
			want: Inst{VA: 0x401005, Size: 1, Raw: []byte{0xc3}, Mnemonic: "ret", Operands: ""},
		},
		{
			name: "no byte columns",
			line: "2000: jmp 0x3000",
			want: Inst{VA: 0x2000, Size: 1, Mnemonic: "jmp", Operands: "0x3000"},
		},
		{
			name: "uppercase mnemonic lowered",
			line: "2004: NOP",
			want: Inst{VA: 0x2004, Size: 1, Mnemonic: "nop", Operands: ""},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := ParseLine(tc.line)
			if err != nil || !ok {
				t.Fatalf("ParseLine(%q) = ok=%v err=%v", tc.line, ok, err)
			}
			if got.VA != tc.want.VA || got.Size != tc.want.Size ||
				got.Mnemonic != tc.want.Mnemonic || got.Operands != tc.want.Operands {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
			if len(got.Raw) != len(tc.want.Raw) {
				t.Errorf("raw = %x, want %x", got.Raw, tc.want.Raw)
			}
		})
	}
}

func TestParseLineSkips(t *testing.T) {
	for _, line := range []string{"", "   ", "# comment", "  # indented comment"} {
		if _, ok, err := ParseLine(line); ok || err != nil {
			t.Errorf("ParseLine(%q) = ok=%v err=%v, want skip", line, ok, err)
		}
	}
}

func TestParseLineErrors(t *testing.T) {
	for _, line := range []string{
		"no separator here",
		"zzz: nop",       // bad address
		"1000:",          // nothing after address
		"1000: 90 48 c3", // bytes but no mnemonic
	} {
		if _, ok, err := ParseLine(line); err == nil {
			t.Errorf("ParseLine(%q) = ok=%v, want error", line, ok)
		}
	}
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		text     string
		mnemonic string
		operands string
	}{
		{"JMP 0x401000", "jmp", "0x401000"},
		{"mov rax, rbx", "mov", "rax, rbx"},
		{"ret", "ret", ""},
		{"", "", ""},
	}
	for _, tc := range tests {
		m, o := splitText(tc.text)
		if m != tc.mnemonic || o != tc.operands {
			t.Errorf("splitText(%q) = (%q, %q), want (%q, %q)", tc.text, m, o, tc.mnemonic, tc.operands)
		}
	}
}
