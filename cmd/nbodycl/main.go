package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/san-kum/nbodycl/internal/compute"
	"github.com/san-kum/nbodycl/internal/config"
	"github.com/san-kum/nbodycl/internal/integrators"
)

var (
	dataDir  string
	logLevel string

	bodies     int
	steps      int
	dt         float64
	softening  float64
	grav       float64
	seed       int64
	backend    string
	emulator   bool
	workers    int
	integrator string
	configFile string
	preset     string
	from       string
	noSave     bool
	massesOnce bool

	benchSizes []int
	tuneGrid   []int
	withState  bool
	outFile    string
	svgFile    string

	snapCols int
	snapRows int
	snapRotX float64
	snapRotY float64
	snapZoom float64
)

// main registers the commands and exits with status 1 if any of them fails.
func main() {
	rootCmd := &cobra.Command{
		Use:          "nbodycl",
		Short:        "brute-force gravitational n-body on an accelerator queue",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".nbodycl", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation and store the result",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "run a simulation with a live terminal view",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
	addRunFlags(watchCmd)

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "time the force dispatch over several population sizes",
		Args:  cobra.NoArgs,
		RunE:  runBench,
	}
	addRunFlags(benchCmd)
	benchCmd.Flags().IntSliceVar(&benchSizes, "sizes", []int{256, 1024, 4096, 8192}, "population sizes")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "find the emulator worker count with the highest throughput",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}
	addRunFlags(tuneCmd)
	tuneCmd.Flags().IntSliceVar(&tuneGrid, "grid", []int{1, 2, 4, 8}, "worker counts to try")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot energy, momentum and dispatch time of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&svgFile, "svg", "", "also write the energy series as SVG")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().BoolVar(&withState, "state", false, "include the final particle state")
	exportCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	snapshotCmd := &cobra.Command{
		Use:   "snapshot [run_id]",
		Short: "render the final particle positions of a run as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  snapshotRun,
	}
	snapshotCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")
	snapshotCmd.Flags().IntVar(&snapCols, "cols", 100, "canvas width in cells")
	snapshotCmd.Flags().IntVar(&snapRows, "rows", 50, "canvas height in cells")
	snapshotCmd.Flags().Float64Var(&snapRotX, "rot-x", 0, "rotation about x in radians")
	snapshotCmd.Flags().Float64Var(&snapRotY, "rot-y", 0, "rotation about y in radians")
	snapshotCmd.Flags().Float64Var(&snapZoom, "zoom", 1, "zoom factor")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Args:  cobra.NoArgs,
		RunE:  listPresets,
	}

	rootCmd.AddCommand(runCmd, watchCmd, benchCmd, tuneCmd, listCmd, plotCmd, exportCmd, snapshotCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&bodies, "bodies", "n", config.DefaultBodies, "number of bodies")
	f.IntVar(&steps, "steps", config.DefaultSteps, "number of steps")
	f.Float64Var(&dt, "dt", 1.0, "time step")
	f.Float64Var(&softening, "softening", 100.0, "softening added to r^2")
	f.Float64Var(&grav, "g", 1.0, "gravitational constant")
	f.Int64Var(&seed, "seed", 100, "population seed")
	f.StringVar(&backend, "backend", "auto", fmt.Sprintf("compute backend (auto, %s)", strings.Join(compute.Names(), ", ")))
	f.BoolVar(&emulator, "emulator", false, "force the host emulator backend")
	f.IntVar(&workers, "workers", 0, "emulator worker goroutines (0 = all CPUs)")
	f.StringVar(&integrator, "integrator", "euler", fmt.Sprintf("integrator (%s)", strings.Join(integrators.Names(), ", ")))
	f.StringVar(&configFile, "config", "", "config file (yaml, or gcfg with .gcfg/.ini)")
	f.StringVar(&preset, "preset", "", "start from a named preset")
	f.StringVar(&from, "from", "", "resume from the final state of a stored run")
	f.BoolVar(&noSave, "no-save", false, "do not store the run")
	f.BoolVar(&massesOnce, "stage-masses-once", false, "upload masses only when the population changes")
}

// resolveConfig layers defaults, preset, config file and explicitly set
// flags, in that order.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()

	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		if err := config.LoadInto(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("bodies") {
		cfg.Run.Bodies = bodies
	}
	if flags.Changed("steps") {
		cfg.Run.Steps = steps
	}
	if flags.Changed("dt") {
		cfg.Run.Dt = dt
	}
	if flags.Changed("softening") {
		cfg.Run.Softening = softening
	}
	if flags.Changed("g") {
		cfg.Run.G = grav
	}
	if flags.Changed("seed") {
		cfg.Population.Seed = seed
	}
	if flags.Changed("backend") {
		cfg.Run.Backend = backend
	}
	if emulator {
		cfg.Run.Backend = "emulator"
	}
	if flags.Changed("workers") {
		cfg.Run.Workers = workers
	}
	if flags.Changed("integrator") {
		cfg.Run.Integrator = integrator
	}
	if flags.Changed("from") {
		cfg.Population.From = from
	}
	if noSave {
		cfg.Output.Save = false
	}
	if massesOnce {
		cfg.Run.StageMassesOnce = true
	}
	return cfg, nil
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
