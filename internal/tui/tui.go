// Package tui is the interactive file-state browser. It owns the screen;
// refresh workers and the watcher reach it only through the event bus, whose
// messages are forwarded into the bubbletea update loop. The UI never holds
// a pointer into scheduler internals.
package tui

import (
	"fmt"
	"path"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cccopy/internal/config"
	"cccopy/internal/events"
	"cccopy/internal/refresh"
	"cccopy/internal/state"
	"cccopy/internal/syncer"
	"cccopy/internal/util"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	stateStyles = map[state.FileState]lipgloss.Style{
		state.Same:       lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		state.Modified:   lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		state.Updated:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		state.Conflicted: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		state.Deleted:    lipgloss.NewStyle().Foreground(lipgloss.Color("172")),
		state.Pending:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
	}
)

// Messages forwarded from the event bus into the update loop.
type rowMsg refresh.Result
type drainedMsg uint64
type logMsg string
type outcomeMsg struct {
	outcome *syncer.Outcome
	err     error
}

type inputPurpose int

const (
	inputNone inputPurpose = iota
	inputUpload
	inputSave
)

// Model is the bubbletea model for the browser screen.
type Model struct {
	proj  *config.Project
	sched *refresh.Scheduler
	pipe  *syncer.Pipeline

	dir     string
	rows    []refresh.Row
	cursor  int
	gen     uint64
	working bool // a sync operation holds the UI

	spin    spinner.Model
	input   textinput.Model
	purpose inputPurpose

	logLines []string
	width    int
	height   int

	program *tea.Program
}

// New assembles the model; Run wires the bus and starts the program.
func New(proj *config.Project, sched *refresh.Scheduler, pipe *syncer.Pipeline) *Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "commit message"
	ti.CharLimit = 200

	return &Model{
		proj:  proj,
		sched: sched,
		pipe:  pipe,
		dir:   ".",
		spin:  sp,
		input: ti,
	}
}

// Run subscribes to the bus, taps the shared printer, and blocks in the
// bubbletea program until the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p

	onRow := func(r refresh.Result) { p.Send(rowMsg(r)) }
	onDrained := func(gen uint64) { p.Send(drainedMsg(gen)) }
	onConflict := func(c syncer.Conflict) {
		p.Send(logMsg(fmt.Sprintf("conflict: %s (resolve with your diff tool)", c.Path)))
	}
	if err := events.GlobalBus.Subscribe(events.EventRefreshRow, onRow); err != nil {
		return err
	}
	if err := events.GlobalBus.Subscribe(events.EventRefreshDrained, onDrained); err != nil {
		return err
	}
	if err := events.GlobalBus.Subscribe(events.EventConflictDetected, onConflict); err != nil {
		return err
	}
	defer func() {
		_ = events.GlobalBus.Unsubscribe(events.EventRefreshRow, onRow)
		_ = events.GlobalBus.Unsubscribe(events.EventRefreshDrained, onDrained)
		_ = events.GlobalBus.Unsubscribe(events.EventConflictDetected, onConflict)
	}()

	// Divert worker prints into the log area for the duration.
	tap := make(chan string, 256)
	prev := util.Default.SetTap(tap)
	go func() {
		for line := range tap {
			p.Send(logMsg(strings.TrimRight(line, "\n")))
		}
	}()

	_, err := p.Run()
	// Restore direct printing before closing the tap so no late worker
	// write lands on a closed channel.
	util.Default.SetTap(prev)
	close(tap)
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.refreshCmd())
}

func (m *Model) refreshCmd() tea.Cmd {
	dir := m.dir
	return func() tea.Msg {
		rows, gen := m.sched.Refresh(dir)
		return refreshedMsg{rows: rows, gen: gen}
	}
}

type refreshedMsg struct {
	rows []refresh.Row
	gen  uint64
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case refreshedMsg:
		m.rows = msg.rows
		m.gen = msg.gen
		if m.cursor >= len(m.rows) {
			m.cursor = 0
		}
		return m, nil

	case rowMsg:
		// Results from a superseded generation never touch the display.
		if msg.Generation < m.gen {
			return m, nil
		}
		for i := range m.rows {
			if m.rows[i].Path == msg.Path {
				m.rows[i].State = msg.State
				break
			}
		}
		return m, nil

	case drainedMsg:
		if uint64(msg) == m.gen {
			m.log("refresh complete")
		}
		return m, nil

	case logMsg:
		m.log(string(msg))
		return m, nil

	case outcomeMsg:
		m.working = false
		if msg.err != nil {
			m.log(warnStyle.Render("error: " + msg.err.Error()))
		} else if msg.outcome != nil {
			m.log(summarize(msg.outcome))
			for _, w := range msg.outcome.Warnings {
				m.log(warnStyle.Render("warning: " + w))
			}
		}
		return m, m.refreshCmd()

	case tea.KeyMsg:
		if m.purpose != inputNone {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.working {
		// The pipeline suspends the UI; only quit stays live.
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case "enter", "right", "l":
		if m.cursor < len(m.rows) && m.rows[m.cursor].IsDir {
			m.dir = m.rows[m.cursor].Path
			m.cursor = 0
			return m, m.refreshCmd()
		}
	case "backspace", "left", "h":
		if m.dir != "." {
			m.dir = path.Dir(m.dir)
			m.cursor = 0
			return m, m.refreshCmd()
		}
	case "r":
		return m, m.refreshCmd()
	case "d":
		m.working = true
		m.log("download started")
		return m, func() tea.Msg {
			out, err := m.pipe.Download()
			return outcomeMsg{outcome: out, err: err}
		}
	case "u":
		m.purpose = inputUpload
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	case "s":
		m.purpose = inputSave
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	}
	return m, nil
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.purpose = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		message := strings.TrimSpace(m.input.Value())
		purpose := m.purpose
		m.purpose = inputNone
		m.input.Blur()
		if message == "" {
			m.log("cancelled: empty message")
			return m, nil
		}
		m.working = true
		switch purpose {
		case inputUpload:
			m.log("upload started")
			return m, func() tea.Msg {
				out, err := m.pipe.Upload(message)
				return outcomeMsg{outcome: out, err: err}
			}
		case inputSave:
			m.log("save started")
			return m, func() tea.Msg {
				out, err := m.pipe.Save(message)
				return outcomeMsg{outcome: out, err: err}
			}
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) log(line string) {
	m.logLines = append(m.logLines, line)
	if len(m.logLines) > 200 {
		m.logLines = m.logLines[len(m.logLines)-200:]
	}
}

func summarize(out *syncer.Outcome) string {
	switch out.Op {
	case "download":
		return fmt.Sprintf("download done: %d updated, %d modified kept, %d same, %d conflicts",
			out.Updated, out.Modified, out.Same, len(out.Conflicts))
	case "upload":
		return fmt.Sprintf("upload done: %d file(s)", out.Uploaded)
	case "save":
		return fmt.Sprintf("save done: %d file(s) committed", out.Modified)
	}
	return out.Op + " done"
}

func (m *Model) View() string {
	var b strings.Builder

	header := fmt.Sprintf("%s  %s", m.proj.Name, m.dir)
	if m.working {
		header += "  " + m.spin.View() + " working..."
	} else if m.pendingCount() > 0 {
		header += fmt.Sprintf("  %s %d pending", m.spin.View(), m.pendingCount())
	}
	b.WriteString(titleStyle.Render(header) + "\n\n")

	if len(m.rows) == 0 {
		b.WriteString(dimStyle.Render("  (no project files here)") + "\n")
	}
	for i, row := range m.rows {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		name := path.Base(row.Path)
		if row.IsDir {
			b.WriteString(fmt.Sprintf("%s%s\n", cursor, dimStyle.Render(name+"/")))
			continue
		}
		st := stateStyles[row.State].Render(fmt.Sprintf("[%-10s]", row.State))
		b.WriteString(fmt.Sprintf("%s%s %s\n", cursor, st, name))
	}

	if m.purpose != inputNone {
		b.WriteString("\n" + m.input.View() + "\n")
	}

	b.WriteString("\n" + dimStyle.Render("r refresh · d download · u upload · s save · q quit") + "\n")

	// Tail of the log area.
	tail := m.logLines
	if len(tail) > 6 {
		tail = tail[len(tail)-6:]
	}
	for _, l := range tail {
		b.WriteString(dimStyle.Render("│ ") + l + "\n")
	}
	return b.String()
}

func (m *Model) pendingCount() int {
	n := 0
	for _, r := range m.rows {
		if !r.IsDir && r.State == state.Pending {
			n++
		}
	}
	return n
}
