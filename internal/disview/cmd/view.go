package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"disview/internal/disasm"
	"disview/internal/elfx"
	"disview/internal/engine"
	"disview/internal/ui/colorize"
)

// pageSize is how many records each VisibleRange query pulls while the
// viewer builds its content.
const pageSize = 512

var viewCmd = &cobra.Command{
	Use:   "view [file]",
	Short: "Interactive disassembly viewer",
	Long: `Open a binary in an interactive pager backed by the instruction
engine. Jump analysis runs in the background; the footer shows engine
stats and flips from DIRTY to clean when the jump-target table is
current.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startVA, _ := cmd.Flags().GetUint64("start")
		maxInsns, _ := cmd.Flags().GetInt("max")

		p := tea.NewProgram(newViewModel(args[0], startVA, maxInsns), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

type viewModel struct {
	viewport viewport.Model
	spinner  spinner.Model
	filepath string
	startVA  uint64
	maxInsns int

	eng    *engine.Engine
	img    *elfx.Image
	labels map[uint64]string

	loading bool
	err     error
	width   int
	height  int
}

// Message types
type engineLoadedMsg struct {
	eng    *engine.Engine
	img    *elfx.Image
	labels map[uint64]string
	err    error
}

type analysisTickMsg struct{}

func newViewModel(filepath string, startVA uint64, maxInsns int) viewModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))

	return viewModel{
		viewport: vp,
		spinner:  s,
		filepath: filepath,
		startVA:  startVA,
		maxInsns: maxInsns,
		loading:  true,
		width:    80,
		height:   24,
	}
}

func loadBinaryCmd(filepath string, startVA uint64, maxInsns int) tea.Cmd {
	return func() tea.Msg {
		eng, img, err := loadEngine(filepath, startVA, maxInsns)
		if err != nil {
			return engineLoadedMsg{err: err}
		}
		return engineLoadedMsg{eng: eng, img: img, labels: disasm.Labels(img)}
	}
}

func analysisTickCmd() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return analysisTickMsg{}
	})
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(
		loadBinaryCmd(m.filepath, m.startVA, m.maxInsns),
		m.spinner.Tick,
	)
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case engineLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		m.eng = msg.eng
		m.img = msg.img
		m.labels = msg.labels
		m.eng.AnalyzeJumps()
		m.updateContent()
		return m, analysisTickCmd()

	case analysisTickMsg:
		if m.eng == nil {
			return m, nil
		}
		if m.eng.JumpsDirty() {
			// Keep nudging until the table is current; triggers while a
			// pass is in flight are coalesced by the engine.
			m.eng.AnalyzeJumps()
			return m, analysisTickCmd()
		}
		m.updateContent()
		return m, nil

	case spinner.TickMsg:
		if m.loading {
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.img != nil {
				m.img.Close()
			}
			return m, tea.Quit
		case "g", "home":
			m.viewport.GotoTop()
			return m, nil
		case "G", "end":
			m.viewport.GotoBottom()
			return m, nil
		case "a":
			if m.eng != nil {
				m.eng.AnalyzeJumps()
				return m, analysisTickCmd()
			}
			return m, nil
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// updateContent rebuilds the viewport text by paging through the engine
// with VisibleRange.
func (m *viewModel) updateContent() {
	if m.eng == nil {
		return
	}

	var b strings.Builder
	total := m.eng.Count()
	for start := 0; start < total; start += pageSize {
		page := m.eng.VisibleRange(start, pageSize)
		for i := range page {
			in := &page[i]
			if name, ok := m.labels[in.Address]; ok {
				fmt.Fprintf(&b, "\n%x  %s:\n", in.Address, name)
			}
			b.WriteString(colorize.InstructionLine(formatRow(m.eng, in, m.labels)))
			b.WriteByte('\n')
		}
	}
	m.viewport.SetContent(b.String())
}

func (m viewModel) View() string {
	if m.loading {
		return fmt.Sprintf("\n %s loading %s...\n", m.spinner.View(), m.filepath)
	}
	if m.err != nil {
		return fmt.Sprintf("\n error: %v\n", m.err)
	}

	s := m.eng.Stats()
	state := "clean"
	if m.eng.JumpsDirty() {
		state = "DIRTY"
	}
	footer := fmt.Sprintf(" %s │ %d instructions │ %d jumps │ %s │ q quit · g/G top/bottom · a reanalyze",
		m.filepath, s.InstructionCount, s.JumpCount, state)
	footerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return m.viewport.View() + "\n" + footerStyle.Render(footer)
}

func init() {
	viewCmd.Flags().Uint64("start", 0, "Start address (default: section start)")
	viewCmd.Flags().Int("max", 100000, "Maximum instructions to decode")
	rootCmd.AddCommand(viewCmd)
}
