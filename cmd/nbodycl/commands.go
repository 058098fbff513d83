package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/nbodycl/internal/config"
	"github.com/san-kum/nbodycl/internal/dynamo"
	"github.com/san-kum/nbodycl/internal/experiment"
	"github.com/san-kum/nbodycl/internal/export"
	"github.com/san-kum/nbodycl/internal/metrics"
	"github.com/san-kum/nbodycl/internal/optim"
	"github.com/san-kum/nbodycl/internal/sim"
	"github.com/san-kum/nbodycl/internal/storage"
	"github.com/san-kum/nbodycl/internal/tui"
	"github.com/san-kum/nbodycl/internal/viz"
)

func setup(cmd *cobra.Command) (*experiment.Experiment, *storage.Store, error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger()
	if err != nil {
		return nil, nil, err
	}

	st := storage.New(dataDir)
	if cfg.Output.Save {
		if err := st.Init(); err != nil {
			return nil, nil, err
		}
	}

	exp, err := experiment.New(cfg, experiment.Options{Logger: log, Store: st, Preset: preset})
	if err != nil {
		return nil, nil, err
	}
	return exp, st, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	exp, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := exp.Config()
	fmt.Printf("running %d bodies for %d steps on %s...\n", cfg.Run.Bodies, cfg.Run.Steps, exp.Backend())

	result, runErr := exp.Run(ctx)
	return finish(exp, result, runErr)
}

func runWatch(cmd *cobra.Command, args []string) error {
	exp, _, err := setup(cmd)
	if err != nil {
		return err
	}
	defer exp.Close()

	var drift func() float64
	if d := exp.Drift(); d != nil {
		drift = d.Drift
	}
	run := func(ctx context.Context, obs sim.Observer) (*dynamo.Result, error) {
		return exp.Run(ctx, obs)
	}

	cfg := exp.Config()
	title := fmt.Sprintf("%d bodies on %s", cfg.Run.Bodies, exp.Backend())
	w := tui.NewWatcher(context.Background(), title, cfg.Run.Steps, run, drift)

	final, err := tea.NewProgram(w, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	result, runErr := final.(tui.Watcher).Result()
	return finish(exp, result, runErr)
}

// finish stores whatever state the run reached and prints the summary. A
// canceled run is saved and reported but still returns its error.
func finish(exp *experiment.Experiment, result *dynamo.Result, runErr error) error {
	if result == nil {
		return runErr
	}

	runID, err := exp.Save(result)
	if err != nil {
		return errors.Join(runErr, err)
	}

	printSummary(os.Stdout, exp, result, runID)
	if runErr != nil {
		if phase, ok := dynamo.PhaseOf(runErr); ok {
			fmt.Println(viz.StatusFailed.Render(fmt.Sprintf("failed during %s", phase)))
		}
		return runErr
	}
	return nil
}

func printSummary(w io.Writer, exp *experiment.Experiment, result *dynamo.Result, runID string) {
	status := viz.StatusRunning.Render("completed")
	if !result.Completed {
		status = viz.StatusStopped.Render("stopped")
	}
	fmt.Fprintf(w, "%s in %v\n", status, result.Elapsed)
	if runID != "" {
		fmt.Fprintln(w, viz.Metric("run id", runID))
	}
	fmt.Fprintln(w, viz.Metric("steps", fmt.Sprintf("%d/%d", result.StepsTaken, exp.Config().Run.Steps)))

	s := exp.Throughput()
	if s.Steps > 0 {
		fmt.Fprintln(w, viz.Metric("mean dispatch", s.Mean().String()))
		fmt.Fprintln(w, viz.Metric("interactions/s", fmt.Sprintf("%.3e", s.Interactions)))
	}

	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "\nmetrics:")
	for _, name := range names {
		fmt.Fprintf(w, "  %s: %.6g\n", name, result.Metrics[name])
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	base, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("steps") && base.Run.Steps < 5 {
		base.Run.Steps = 5
	}
	base.Output.Save = false
	base.Output.EnergyEvery = 0
	base.Population.From = ""

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("benchmarking %d steps per size\n\n", base.Run.Steps)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BODIES\tBACKEND\tMEAN\tSTDDEV\tMIN\tMAX\tSTEP\tINTERACTIONS/S")

	for _, n := range benchSizes {
		cfg := base.Clone()
		cfg.Run.Bodies = n
		if cfg.Population.Layout == config.LayoutPair {
			cfg.Population.Layout = config.LayoutSeeded
		}

		exp, err := experiment.New(cfg, experiment.Options{Logger: log})
		if err != nil {
			return err
		}
		_, runErr := exp.Run(ctx)
		s := exp.Throughput()
		backendName := exp.Backend()
		if err := exp.Close(); err != nil {
			return err
		}
		if runErr != nil {
			w.Flush()
			return runErr
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%.3e\n",
			n, backendName,
			fmtSeconds(s.MeanDispatch), fmtSeconds(s.StdDispatch),
			fmtSeconds(s.MinDispatch), fmtSeconds(s.MaxDispatch),
			fmtSeconds(s.MeanStep), s.Interactions)
	}

	return w.Flush()
}

func runTune(cmd *cobra.Command, args []string) error {
	base, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger()
	if err != nil {
		return err
	}
	base.Run.Backend = "emulator"
	base.Output.Save = false
	base.Output.EnergyEvery = 0
	base.Population.From = ""

	grid := make([]float64, len(tuneGrid))
	for i, w := range tuneGrid {
		grid[i] = float64(w)
	}
	search, err := optim.NewGridSearch([]string{"workers"}, [][]float64{grid}, optim.Maximize)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	build := func(ctx context.Context, params map[string]float64) (*dynamo.Result, error) {
		cfg := base.Clone()
		cfg.Run.Workers = int(params["workers"])
		exp, err := experiment.New(cfg, experiment.Options{Logger: log})
		if err != nil {
			return nil, err
		}
		res, runErr := exp.Run(ctx)
		return res, errors.Join(runErr, exp.Close())
	}

	best, trials, err := search.Search(ctx, build, metrics.NewThroughput().Name())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKERS\tINTERACTIONS/S\tERROR")
	for _, t := range trials {
		msg := "-"
		if t.Err != nil {
			msg = t.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%.3e\t%s\n", int(t.Params["workers"]), t.Value, msg)
	}
	if flushErr := w.Flush(); flushErr != nil {
		return flushErr
	}
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(viz.Metric("best workers", fmt.Sprintf("%d", int(best.Params["workers"]))))
	return nil
}

func fmtSeconds(s float64) string {
	switch {
	case s >= 1:
		return fmt.Sprintf("%.2fs", s)
	case s >= 1e-3:
		return fmt.Sprintf("%.2fms", s*1e3)
	default:
		return fmt.Sprintf("%.1fµs", s*1e6)
	}
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPRESET\tTIME\tBODIES\tSTEPS\tDT\tINTEG\tBACKEND")

	for _, run := range runs {
		steps := fmt.Sprintf("%d", run.StepsTaken)
		if !run.Completed {
			steps += fmt.Sprintf("/%d", run.Steps)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%g\t%s\t%s\n",
			run.ID,
			orDash(run.Preset),
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Bodies,
			steps,
			run.Dt,
			run.Integrator,
			run.Backend,
		)
	}

	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	series, err := st.LoadSeries(runID)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("bodies: %d\n", meta.Bodies)
	fmt.Printf("steps: %d\n\n", len(series))

	energy := make([]float64, 0, len(series))
	momentum := make([]float64, len(series))
	dispatch := make([]float64, len(series))
	for i, row := range series {
		if !math.IsNaN(row.Energy) {
			energy = append(energy, row.Energy)
		}
		momentum[i] = row.Momentum
		dispatch[i] = row.Dispatch.Seconds() * 1e3
	}

	plots := []struct {
		caption string
		data    []float64
	}{
		{"total energy", energy},
		{"|momentum|", momentum},
		{"dispatch (ms)", dispatch},
	}
	for _, p := range plots {
		if len(p.data) == 0 {
			continue
		}
		graph := asciigraph.Plot(p.data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(p.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	if svgFile != "" {
		svg := export.SeriesToSVG(energy, 800, 300, "#00ff88")
		if svg == "" {
			return fmt.Errorf("not enough energy samples for svg")
		}
		return os.WriteFile(svgFile, []byte(svg), 0644)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)

	var w io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return st.Export(w, args[0], withState)
}

func snapshotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	buf, _, err := st.LoadPopulation(args[0])
	if err != nil {
		return err
	}
	defer buf.Close()

	var w io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	cam := &viz.Camera{RotX: snapRotX, RotY: snapRotY, Zoom: snapZoom}
	drawn, err := export.Snapshot(w, buf.Positions(), cam, snapCols, snapRows, 4)
	if err != nil {
		return err
	}
	if outFile != "" {
		fmt.Printf("%d of %d bodies in view, written to %s\n", drawn, buf.N(), outFile)
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tBODIES\tSTEPS\tDESCRIPTION")
	for _, name := range config.ListPresets() {
		p := config.Presets[name]
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, p.Config.Run.Bodies, p.Config.Run.Steps, p.Description)
	}
	return w.Flush()
}
