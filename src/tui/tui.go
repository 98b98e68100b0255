// Package tui is the terminal frontend of a croquis session.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"croquis-timer/src/timer"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	overStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	barFullStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	barEmptyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	hintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

const barWidth = 30

// Controls are the session actions bound to keys.
type Controls interface {
	TogglePause(ctx context.Context) error
	Next(ctx context.Context) error
	Prev(ctx context.Context) error
	Save(ctx context.Context) error
	CopyImage(ctx context.Context) error
	Restart(ctx context.Context) error
}

// ── Messages ────────────

type presentMsg struct {
	index, total int
	image        string
}

type tickMsg timer.Report

type timerMsg bool

type finishedMsg struct{}

type noticeMsg struct {
	title, message string
}

type actionMsg struct {
	name string
	err  error
}

// ── Presenter ────────────

// Presenter forwards session updates into a running program. It implements
// session.Presenter and session.Notifier. Updates sent before Attach are dropped.
type Presenter struct {
	prog atomic.Pointer[tea.Program]
}

func NewPresenter() *Presenter { return &Presenter{} }

func (p *Presenter) Attach(prog *tea.Program) { p.prog.Store(prog) }

func (p *Presenter) send(msg tea.Msg) {
	if prog := p.prog.Load(); prog != nil {
		prog.Send(msg)
	}
}

func (p *Presenter) Present(index, total int, imagePath string) {
	p.send(presentMsg{index: index, total: total, image: imagePath})
}

func (p *Presenter) Tick(report timer.Report)   { p.send(tickMsg(report)) }
func (p *Presenter) TimerChanged(running bool) { p.send(timerMsg(running)) }
func (p *Presenter) Finished()                 { p.send(finishedMsg{}) }

func (p *Presenter) Notify(title, message string) {
	p.send(noticeMsg{title: title, message: message})
}

// ── Model ────────────────────

// Model is the root Bubble Tea model.
type Model struct {
	controls Controls
	start    func(context.Context) error

	started  bool
	index    int
	total    int
	image    string
	report   timer.Report
	running  bool
	finished bool
	notice   string
}

// New creates a model. start runs once the program is up; it is where the
// session should be started so presenter updates have a reader.
func New(controls Controls, start func(context.Context) error) Model {
	return Model{controls: controls, start: start}
}

func (m Model) Init() tea.Cmd {
	if m.start == nil {
		return nil
	}
	return run("start", m.start)
}

// run wraps a blocking action as a command
func run(name string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{name: name, err: fn(context.Background())}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n", "right":
			return m, run("next", m.controls.Next)
		case "p", "left":
			return m, run("prev", m.controls.Prev)
		case " ":
			return m, run("pause", m.controls.TogglePause)
		case "s":
			return m, run("save", m.controls.Save)
		case "c":
			return m, run("copy", m.controls.CopyImage)
		case "r":
			return m, run("restart", m.controls.Restart)
		}

	case presentMsg:
		m.started = true
		m.finished = false
		m.index, m.total, m.image = msg.index, msg.total, msg.image
		m.report = timer.Report{}

	case tickMsg:
		m.report = timer.Report(msg)

	case timerMsg:
		m.running = bool(msg)

	case finishedMsg:
		m.finished = true
		m.running = false

	case noticeMsg:
		m.notice = fmt.Sprintf("%s: %s", msg.title, msg.message)

	case actionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s: %v", msg.name, msg.err)
		} else if msg.name == "save" {
			m.notice = "saved"
		}
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Croquis Timer"))
	b.WriteString("\n\n")

	switch {
	case !m.started:
		b.WriteString("Starting session...\n")
	case m.finished:
		fmt.Fprintf(&b, "%s all %d images done\n", labelStyle.Render("Finished"), m.total)
	default:
		fmt.Fprintf(&b, "%s %d/%d  %s\n", labelStyle.Render("Image"), m.index+1, m.total, filepath.Base(m.image))
		state := "paused"
		if m.running {
			state = "running"
		}
		timeText := timeStyle.Render(timer.FormatReport(m.report))
		if m.report.Max > 0 && m.report.Elapsed > m.report.Max {
			timeText = overStyle.Render(timer.FormatReport(m.report))
		}
		fmt.Fprintf(&b, "%s %s  (%s)\n", progressBar(m.report), timeText, state)
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("n next · p prev · space pause · s save · c copy · r restart · q quit"))
	b.WriteString("\n")
	return b.String()
}

// progressBar fills in proportion to elapsed over max, capped at full.
func progressBar(r timer.Report) string {
	filled := 0
	if r.Max > 0 {
		filled = int(int64(barWidth) * int64(r.Elapsed) / int64(r.Max))
	}
	filled = max(0, min(filled, barWidth))
	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled))
}
