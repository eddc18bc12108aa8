// Package tui is the interactive console: a bubbletea REPL with live step
// progress, plus a line mode for piped input.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/quill/internal/events"
	"github.com/mpataki/quill/internal/models"
)

const maxScrollback = 200

type App struct {
	ctx    context.Context
	shell  *Shell
	events <-chan events.Event

	input   textinput.Model
	spinner spinner.Model

	lines    []string
	running  bool
	progress string

	width  int
	height int
}

// NewApp builds the REPL. progress may be nil.
func NewApp(ctx context.Context, shell *Shell, progress <-chan events.Event) *App {
	ti := textinput.New()
	ti.Prompt = promptStyle.Render("quill> ")
	ti.Placeholder = "upload posts/hello.md"
	ti.CharLimit = 1024
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning

	return &App{
		ctx:     ctx,
		shell:   shell,
		events:  progress,
		input:   ti,
		spinner: sp,
		lines:   []string{titleStyle.Render("quill") + dimStyle.Render("  type 'help' for commands")},
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, a.waitForEvent())
}

// Messages

type runFinishedMsg struct {
	run *models.Run
	err error
}

type eventMsg events.Event

type eventsClosedMsg struct{}

// Commands

func (a *App) submit(text string) tea.Cmd {
	return func() tea.Msg {
		run, err := a.shell.backend.Submit(a.ctx, text)
		return runFinishedMsg{run: run, err: err}
	}
}

func (a *App) waitForEvent() tea.Cmd {
	if a.events == nil {
		return nil
	}
	ch := a.events
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = max(10, msg.Width-10)
		return a, nil

	case runFinishedMsg:
		a.running = false
		a.progress = ""
		a.print(RenderRun(msg.run, msg.err))
		return a, nil

	case eventMsg:
		a.progress = formatEvent(events.Event(msg))
		return a, a.waitForEvent()

	case eventsClosedMsg:
		a.events = nil
		return a, nil

	case spinner.TickMsg:
		if !a.running {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		if a.running {
			a.shell.backend.Cancel()
			a.print(dimStyle.Render("cancelling..."))
			return a, nil
		}
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		return a, nil

	case "enter":
		line := strings.TrimSpace(a.input.Value())
		a.input.Reset()
		if line == "" {
			return a, nil
		}
		a.print(promptStyle.Render("quill> ") + line)

		if out, exit, ok := a.shell.System(line); ok {
			if exit {
				return a, tea.Quit
			}
			a.print(out)
			return a, nil
		}

		if a.running {
			a.print(errorStyle.Render("a command is already running; press esc to cancel it"))
			return a, nil
		}
		a.running = true
		a.progress = "planning"
		return a, tea.Batch(a.submit(line), a.spinner.Tick)
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) print(s string) {
	if s == "" {
		return
	}
	a.lines = append(a.lines, s)
	if len(a.lines) > maxScrollback {
		a.lines = a.lines[len(a.lines)-maxScrollback:]
	}
}

func (a *App) View() string {
	var b strings.Builder

	lines := a.lines
	if a.height > 0 {
		// keep the latest output above the prompt
		budget := a.height - 3
		var kept []string
		used := 0
		for i := len(lines) - 1; i >= 0 && used < budget; i-- {
			used += lipgloss.Height(lines[i])
			kept = append([]string{lines[i]}, kept...)
		}
		lines = kept
	}
	for _, l := range lines {
		b.WriteString(l + "\n")
	}

	if a.running {
		b.WriteString(a.spinner.View() + " " + dimStyle.Render(a.progress) + "\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString(a.input.View() + "\n")
	b.WriteString(helpStyle.Render("[enter] run  [esc] cancel  [ctrl+c] quit"))
	return b.String()
}

func formatEvent(ev events.Event) string {
	switch ev.Type {
	case events.RunStarted:
		return fmt.Sprintf("run %s started (%d steps)", shortID(ev.RunID), ev.Total)
	case events.StepStarted:
		return fmt.Sprintf("[%d/%d] %s → %s", ev.Index+1, ev.Total, ev.Step, ev.Worker)
	case events.StepFinished:
		return fmt.Sprintf("[%d/%d] %s %s", ev.Index+1, ev.Total, ev.Step, ev.Status)
	case events.RunFinished:
		return fmt.Sprintf("run %s %s", shortID(ev.RunID), ev.Status)
	}
	return string(ev.Type)
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPending  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)
