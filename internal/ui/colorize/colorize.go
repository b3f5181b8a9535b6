// Package colorize applies terminal syntax highlighting to disassembly
// listings. Colors are disabled entirely when DISVIEW_NO_COLOR is set.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "armasm", "gas", "GAS", "Gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly applies syntax highlighting to a block of assembly text.
func Assembly(code string) (string, error) {
	if os.Getenv("DISVIEW_NO_COLOR") != "" {
		return code, nil
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	_ = DisasmDark // force style registration

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// InstructionLine colorizes one formatted listing line, rendering the
// leading address column in gray and the instruction text through the
// assembly lexer. Lines that don't start with a hex address are
// colorized whole.
func InstructionLine(line string) string {
	if os.Getenv("DISVIEW_NO_COLOR") != "" {
		return line
	}

	addr, rest, found := strings.Cut(line, " ")
	if !found || addr == "" {
		return colorizeFullLine(line)
	}
	for i := 0; i < len(addr); i++ {
		if !isHexChar(addr[i]) {
			return colorizeFullLine(line)
		}
	}

	addrColored := fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", addr)
	return fmt.Sprintf("%s %s", addrColored, colorizeFullLine(rest))
}

func isHexChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

// colorizeFullLine uses chroma to colorize an assembly line.
func colorizeFullLine(line string) string {
	lexer := getAssemblyLexer()
	if lexer == nil {
		return line
	}

	_ = DisasmDark

	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return line
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return line
	}
	return buf.String()
}
