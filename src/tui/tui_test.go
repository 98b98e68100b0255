package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"croquis-timer/src/timer"
)

type fakeControls struct {
	calls []string
	err   error
}

func (f *fakeControls) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControls) TogglePause(context.Context) error { return f.record("pause") }
func (f *fakeControls) Next(context.Context) error        { return f.record("next") }
func (f *fakeControls) Prev(context.Context) error        { return f.record("prev") }
func (f *fakeControls) Save(context.Context) error        { return f.record("save") }
func (f *fakeControls) CopyImage(context.Context) error   { return f.record("copy") }
func (f *fakeControls) Restart(context.Context) error     { return f.record("restart") }

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func TestKeysRunControls(t *testing.T) {
	controls := &fakeControls{}
	m := New(controls, nil)

	for _, k := range []string{"n", "p", " ", "s", "c", "r"} {
		var cmd tea.Cmd
		m, cmd = update(t, m, key(k))
		if cmd == nil {
			t.Fatalf("key %q produced no command", k)
		}
		m, _ = update(t, m, cmd())
	}

	want := []string{"next", "prev", "pause", "save", "copy", "restart"}
	if strings.Join(controls.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", controls.calls, want)
	}
	if m.notice != "" {
		t.Errorf("unexpected notice %q", m.notice)
	}
}

func TestActionErrorBecomesNotice(t *testing.T) {
	controls := &fakeControls{err: errors.New("session finished")}
	m := New(controls, nil)

	m, cmd := update(t, m, key("n"))
	m, _ = update(t, m, cmd())
	if !strings.Contains(m.notice, "session finished") {
		t.Fatalf("notice = %q", m.notice)
	}
}

func TestInitRunsStart(t *testing.T) {
	started := false
	m := New(&fakeControls{}, func(context.Context) error { started = true; return nil })
	cmd := m.Init()
	if cmd == nil {
		t.Fatal("Init should return the start command")
	}
	cmd()
	if !started {
		t.Fatal("start was not called")
	}
}

func TestSessionUpdatesRender(t *testing.T) {
	m := New(&fakeControls{}, nil)
	if !strings.Contains(m.View(), "Starting session") {
		t.Fatalf("initial view:\n%s", m.View())
	}

	m, _ = update(t, m, presentMsg{index: 1, total: 4, image: "/refs/hands/pose_02.jpg"})
	m, _ = update(t, m, timerMsg(true))
	m, _ = update(t, m, tickMsg(timer.Report{Elapsed: 30 * time.Second, Max: time.Minute}))

	view := m.View()
	for _, want := range []string{"2/4", "pose_02.jpg", "running", timer.FormatReport(timer.Report{Elapsed: 30 * time.Second, Max: time.Minute})} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}

	m, _ = update(t, m, noticeMsg{title: "Save failed", message: "disk full"})
	if !strings.Contains(m.View(), "Save failed: disk full") {
		t.Errorf("notice not rendered:\n%s", m.View())
	}

	m, _ = update(t, m, finishedMsg{})
	if !strings.Contains(m.View(), "Finished") || m.running {
		t.Errorf("finished view:\n%s", m.View())
	}
}

func TestProgressBar(t *testing.T) {
	tests := []struct {
		r      timer.Report
		filled int
	}{
		{timer.Report{Elapsed: 0, Max: time.Minute}, 0},
		{timer.Report{Elapsed: 30 * time.Second, Max: time.Minute}, barWidth / 2},
		{timer.Report{Elapsed: 2 * time.Minute, Max: time.Minute}, barWidth},
		{timer.Report{Elapsed: time.Second}, 0},
	}
	for _, tt := range tests {
		bar := progressBar(tt.r)
		if got := strings.Count(bar, "█"); got != tt.filled {
			t.Errorf("progressBar(%+v) filled %d, want %d", tt.r, got, tt.filled)
		}
		if got := strings.Count(bar, "█") + strings.Count(bar, "░"); got != barWidth {
			t.Errorf("progressBar(%+v) width %d, want %d", tt.r, got, barWidth)
		}
	}
}

func TestPresenterWithoutProgramDrops(t *testing.T) {
	p := NewPresenter()
	p.Present(0, 1, "a.png")
	p.Tick(timer.Report{})
	p.TimerChanged(true)
	p.Finished()
	p.Notify("x", "y")
}
