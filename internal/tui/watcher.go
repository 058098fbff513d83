package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/particle"
	"github.com/san-kum/nbodycl/internal/sim"
	"github.com/san-kum/nbodycl/internal/viz"
)

const (
	canvasWidth   = 48
	canvasHeight  = 20
	maxPoints     = 4096
	historyLength = 120
	frameInterval = time.Second / 30
)

// RunFunc runs a simulation, reporting every committed step to obs.
type RunFunc func(ctx context.Context, obs sim.Observer) (*dynamo.Result, error)

// Progress is a snapshot of a running simulation.
type Progress struct {
	Step      int
	Dispatch  time.Duration
	Drift     float64
	Positions []dynamo.Vec3
}

type progressMsg Progress

type finishedMsg struct {
	result *dynamo.Result
	err    error
}

// Watcher is a bubbletea model that runs a simulation in the background
// and draws it as it advances. q cancels the run at the next step boundary.
type Watcher struct {
	title string
	steps int
	run   RunFunc
	drift func() float64

	ctx    context.Context
	cancel context.CancelFunc
	msgs   chan tea.Msg
	once   *sync.Once

	camera  *viz.Camera
	canvas  *viz.Canvas
	last    Progress
	history []float64
	started time.Time

	quitting bool
	finished bool
	result   *dynamo.Result
	err      error
}

// NewWatcher prepares a watcher for a run of steps steps. drift may be nil.
func NewWatcher(ctx context.Context, title string, steps int, run RunFunc, drift func() float64) Watcher {
	ctx, cancel := context.WithCancel(ctx)
	return Watcher{
		title:  title,
		steps:  steps,
		run:    run,
		drift:  drift,
		ctx:    ctx,
		cancel: cancel,
		msgs:   make(chan tea.Msg, 1),
		once:   &sync.Once{},
		camera: viz.NewCamera(),
		canvas: viz.NewCanvas(canvasWidth, canvasHeight),
		last:   Progress{Step: -1},
	}
}

func (w Watcher) Init() tea.Cmd {
	w.once.Do(func() {
		go func() {
			res, err := w.run(w.ctx, newReporter(w.msgs, w.drift))
			w.msgs <- finishedMsg{result: res, err: err}
		}()
	})
	return w.listen()
}

func (w Watcher) listen() tea.Cmd {
	return func() tea.Msg { return <-w.msgs }
}

func (w Watcher) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			w.quitting = true
			w.cancel()
			if w.finished {
				return w, tea.Quit
			}
		case "left", "h":
			w.camera.RotateY(-0.1)
		case "right", "l":
			w.camera.RotateY(0.1)
		case "up", "k":
			w.camera.RotateX(-0.1)
		case "down", "j":
			w.camera.RotateX(0.1)
		case "+", "=":
			w.camera.ZoomIn()
		case "-", "_":
			w.camera.ZoomOut()
		}
		w.redraw()
		return w, nil

	case progressMsg:
		if w.started.IsZero() {
			w.started = time.Now()
		}
		w.last = Progress(msg)
		w.history = append(w.history, msg.Drift)
		if len(w.history) > historyLength {
			w.history = w.history[len(w.history)-historyLength:]
		}
		w.redraw()
		return w, w.listen()

	case finishedMsg:
		w.finished = true
		w.result, w.err = msg.result, msg.err
		w.cancel()
		return w, tea.Quit
	}
	return w, nil
}

func (w *Watcher) redraw() {
	w.canvas.Clear()
	viz.Scatter(w.canvas, w.camera, w.last.Positions)
}

// Result is the outcome of the run once the program has exited.
func (w Watcher) Result() (*dynamo.Result, error) {
	return w.result, w.err
}

func (w Watcher) View() string {
	var s strings.Builder
	s.WriteString(viz.HeaderStyle.Render(strings.ToUpper(w.title)) + "\n")

	done := w.last.Step + 1
	status := viz.StatusRunning.Render("RUNNING")
	switch {
	case w.finished && w.err != nil:
		status = viz.StatusFailed.Render("FAILED")
	case w.finished:
		status = viz.StatusStopped.Render("DONE")
	case w.quitting:
		status = viz.StatusStopped.Render("STOPPING")
	}
	s.WriteString(status + "\n\n")

	frac := 0.0
	if w.steps > 0 {
		frac = float64(done) / float64(w.steps)
	}
	s.WriteString(viz.ProgressBar(frac, 24) + fmt.Sprintf(" %d/%d\n\n", done, w.steps))
	s.WriteString(viz.Metric("dispatch", w.last.Dispatch.String()) + "\n")
	s.WriteString(viz.Metric("energy drift", fmt.Sprintf("%.3e", w.last.Drift)) + "\n")
	if !w.started.IsZero() && done > 0 {
		rate := float64(done) / time.Since(w.started).Seconds()
		s.WriteString(viz.Metric("steps/s", fmt.Sprintf("%.1f", rate)) + "\n")
	}

	if len(w.history) > 1 {
		chart := asciigraph.Plot(w.history, asciigraph.Height(4), asciigraph.Width(30), asciigraph.Caption("energy drift"))
		s.WriteString("\n" + chart + "\n")
	}
	s.WriteString(viz.KeyHint.Render("\n←→↑↓ rotate  +/- zoom  q quit"))

	canvasView := viz.Panel.Render(w.canvas.String())
	return lipgloss.JoinHorizontal(lipgloss.Top, canvasView, viz.Panel.Render(s.String()))
}

// reporter forwards throttled snapshots to the watcher without blocking the
// simulation.
type reporter struct {
	out   chan<- tea.Msg
	drift func() float64
	last  time.Time
}

func newReporter(out chan<- tea.Msg, drift func() float64) *reporter {
	return &reporter{out: out, drift: drift}
}

func (r *reporter) OnStep(step int, buf *particle.Buffer, timing dynamo.Timing) {
	if time.Since(r.last) < frameInterval {
		return
	}
	p := snapshot(step, buf, timing)
	if r.drift != nil {
		p.Drift = r.drift()
	}
	select {
	case r.out <- progressMsg(p):
		r.last = time.Now()
	default:
	}
}

func snapshot(step int, buf *particle.Buffer, timing dynamo.Timing) Progress {
	pos := buf.Positions()
	stride := 1
	if len(pos) > maxPoints {
		stride = (len(pos) + maxPoints - 1) / maxPoints
	}
	pts := make([]dynamo.Vec3, 0, len(pos)/stride+1)
	for i := 0; i < len(pos); i += stride {
		pts = append(pts, pos[i])
	}
	return Progress{Step: step, Dispatch: timing.Dispatch, Positions: pts}
}
