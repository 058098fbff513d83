package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
	"github.com/san-kum/nbodycl/internal/sim"
)

func seeded(t *testing.T, n int) *particle.Buffer {
	t.Helper()
	buf, err := particle.NewSeeded(n, particle.ReferenceSeed, particle.ReferenceDivisor)
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func TestSnapshotSubsamples(t *testing.T) {
	tests := []struct {
		n, want int
	}{
		{10, 10},
		{maxPoints, maxPoints},
		{2 * maxPoints, maxPoints},
		{2*maxPoints + 1, (2*maxPoints + 1 + 2) / 3},
	}
	for _, tt := range tests {
		p := snapshot(3, seeded(t, tt.n), dynamo.Timing{Dispatch: time.Millisecond})
		if len(p.Positions) != tt.want {
			t.Errorf("n=%d: %d points, want %d", tt.n, len(p.Positions), tt.want)
		}
		if p.Step != 3 || p.Dispatch != time.Millisecond {
			t.Errorf("unexpected snapshot header %+v", p)
		}
	}
}

func TestReporterNeverBlocks(t *testing.T) {
	out := make(chan tea.Msg, 1)
	r := newReporter(out, func() float64 { return 0.5 })
	buf := seeded(t, 4)

	r.OnStep(0, buf, dynamo.Timing{})
	r.last = time.Time{}
	r.OnStep(1, buf, dynamo.Timing{})

	msg := (<-out).(progressMsg)
	if msg.Step != 0 || msg.Drift != 0.5 {
		t.Errorf("unexpected first report %+v", msg)
	}
	select {
	case extra := <-out:
		t.Errorf("second report should have been dropped, got %+v", extra)
	default:
	}
}

func TestReporterThrottles(t *testing.T) {
	out := make(chan tea.Msg, 4)
	r := newReporter(out, nil)
	buf := seeded(t, 4)

	r.OnStep(0, buf, dynamo.Timing{})
	r.OnStep(1, buf, dynamo.Timing{})
	if len(out) != 1 {
		t.Errorf("expected one report inside a frame, got %d", len(out))
	}
}

func noopRun(ctx context.Context, obs sim.Observer) (*dynamo.Result, error) {
	return &dynamo.Result{}, nil
}

func TestWatcherProgressAndFinish(t *testing.T) {
	w := NewWatcher(context.Background(), "pair", 4, noopRun, nil)

	m, cmd := w.Update(progressMsg{Step: 1, Drift: 1e-3, Positions: []dynamo.Vec3{{}, {X: 1}}})
	if cmd == nil {
		t.Fatal("progress should keep listening")
	}
	w = m.(Watcher)
	if w.last.Step != 1 || len(w.history) != 1 {
		t.Errorf("progress not recorded: %+v", w.last)
	}
	if w.canvas.Lit() == 0 {
		t.Error("expected particles drawn")
	}
	if v := w.View(); !strings.Contains(v, "PAIR") || !strings.Contains(v, "2/4") {
		t.Errorf("view missing title or progress:\n%s", v)
	}

	want := errors.New("boom")
	m, cmd = w.Update(finishedMsg{err: want})
	w = m.(Watcher)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("finishing should quit")
	}
	if _, err := w.Result(); !errors.Is(err, want) {
		t.Errorf("Result err = %v", err)
	}
	if !strings.Contains(w.View(), "FAILED") {
		t.Error("view should report failure")
	}
}

func TestWatcherQuitCancels(t *testing.T) {
	w := NewWatcher(context.Background(), "run", 10, noopRun, nil)

	m, cmd := w.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	w = m.(Watcher)
	if cmd != nil {
		t.Error("should wait for the run to stop before quitting")
	}
	if w.ctx.Err() == nil {
		t.Error("quit should cancel the run context")
	}
	if !strings.Contains(w.View(), "STOPPING") {
		t.Error("view should show stopping")
	}
}

func TestWatcherRunsInBackground(t *testing.T) {
	ran := make(chan struct{})
	run := func(ctx context.Context, obs sim.Observer) (*dynamo.Result, error) {
		close(ran)
		return &dynamo.Result{StepsTaken: 2, Completed: true}, nil
	}
	w := NewWatcher(context.Background(), "run", 2, run, nil)

	msg := w.Init()()
	<-ran
	fin, ok := msg.(finishedMsg)
	if !ok {
		t.Fatalf("expected finishedMsg, got %T", msg)
	}
	if fin.result.StepsTaken != 2 {
		t.Errorf("unexpected result %+v", fin.result)
	}
}
