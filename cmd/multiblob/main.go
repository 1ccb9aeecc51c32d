package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/multiblob/internal/automation"
	"github.com/san-kum/multiblob/internal/config"
	"github.com/san-kum/multiblob/internal/dynamo"
	"github.com/san-kum/multiblob/internal/experiment"
	"github.com/san-kum/multiblob/internal/logging"
	"github.com/san-kum/multiblob/internal/sim"
	"github.com/san-kum/multiblob/internal/storage"
)

var (
	dataDir  string
	logLevel string
	preset   string
	nSteps   int
	seed     uint64
	replicas int
	parallel int
	// sweep
	sweepParam string
	sweepMin   float64
	sweepMax   float64
	sweepNum   int
	// probe grid
	xRange  []float64
	yRange  []float64
	zPlane  float64
	gridNum []int
	tracer  float64
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	border = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "multiblob",
		Short:         "rigid multiblob dynamics above a wall",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "runs", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log_level)")

	runCmd := &cobra.Command{
		Use:   "run [config]",
		Short: "run simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVar(&preset, "preset", "", "take parameters from a preset, structures from the config")
	runCmd.Flags().IntVar(&nSteps, "steps", 0, "override n_steps")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "override seed")
	runCmd.Flags().IntVar(&replicas, "replicas", 1, "independent replicas with consecutive seeds")
	runCmd.Flags().IntVar(&parallel, "parallel", 0, "replicas running at once (0 = all)")

	validateCmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "check a config and its structure files",
		Args:  cobra.ExactArgs(1),
		RunE:  validateConfig,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run]",
		Short: "print run metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				p := config.GetPreset(name)
				fmt.Printf("  %s %s\n", cyan.Render(fmt.Sprintf("%-14s", name)), dim.Render(p.Scheme))
			}
			return nil
		},
	}

	probeCmd := &cobra.Command{
		Use:   "probe [config] [run] [step]",
		Short: "fluid velocity on a grid for a saved step",
		Args:  cobra.ExactArgs(3),
		RunE:  probeRun,
	}
	probeCmd.Flags().Float64SliceVar(&xRange, "x", []float64{-10, 10}, "x range")
	probeCmd.Flags().Float64SliceVar(&yRange, "y", []float64{-10, 10}, "y range")
	probeCmd.Flags().Float64Var(&zPlane, "z", 1, "height of the probe plane")
	probeCmd.Flags().IntSliceVar(&gridNum, "n", []int{21, 21}, "grid points along x and y")
	probeCmd.Flags().Float64Var(&tracer, "tracer-radius", 0, "tracer radius (overrides tracer_radius; 0 = fluid velocity)")

	sweepCmd := &cobra.Command{
		Use:   "sweep [config]",
		Short: "run the config once per value of one parameter",
		Args:  cobra.ExactArgs(1),
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVar(&sweepParam, "param", "g", "config key to vary")
	sweepCmd.Flags().Float64Var(&sweepMin, "min", 0, "first value")
	sweepCmd.Flags().Float64Var(&sweepMax, "max", 1, "last value")
	sweepCmd.Flags().IntVar(&sweepNum, "num", 5, "number of values")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run a scripted sequence of runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	rootCmd.AddCommand(runCmd, validateCmd, listCmd, showCmd, presetsCmd, probeCmd, sweepCmd, scenarioCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if preset != "" {
		p := config.GetPreset(preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg = p.WithStructures(cfg)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("steps") {
		cfg.NSteps = nSteps
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := storage.New(dataDir)
	start := time.Now()

	if replicas > 1 {
		results, err := experiment.RunEnsemble(ctx, cfg, st, logger, replicas, parallel)
		if err != nil {
			logStepError(logger, err)
			return err
		}
		for i, res := range results {
			printSummary(fmt.Sprintf("%s_r%d", cfg.OutputName, i), cfg, res, time.Since(start))
		}
		return nil
	}

	exp := experiment.New(cfg, st, logger)
	if err := exp.Setup(); err != nil {
		return err
	}

	fmt.Printf("running %s with %d bodies...\n", cfg.Scheme, exp.System().NumBodies())
	res, err := exp.Run(ctx)
	if err != nil {
		logStepError(logger, err)
		return err
	}
	printSummary(cfg.OutputName, cfg, res, time.Since(start))
	return nil
}

func logStepError(logger *zap.Logger, err error) {
	var se *dynamo.StepError
	if errors.As(err, &se) {
		logger.Error("step failed",
			zap.Int("step", se.Step),
			zap.Float64("time", se.Time),
			zap.String("component", se.Component),
			zap.Error(se.Wrapped))
	}
}

func printSummary(name string, cfg *config.Config, res *sim.Result, elapsed time.Duration) {
	rows := [][2]string{
		{"run", name},
		{"scheme", cfg.Scheme},
		{"steps", fmt.Sprintf("%d (last %d, t=%.6g)", res.StepsTaken, res.LastStep, res.Time)},
		{"saved", strconv.Itoa(res.Saved)},
		{"elapsed", elapsed.Round(time.Millisecond).String()},
	}
	names := make([]string, 0, len(res.Metrics))
	for k := range res.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		rows = append(rows, [2]string{k, fmt.Sprintf("%.6g", res.Metrics[k])})
	}

	var out string
	for i, r := range rows {
		if i > 0 {
			out += "\n"
		}
		out += dim.Render(fmt.Sprintf("%-24s", r[0])) + white.Render(r[1])
	}
	fmt.Println(green.Render("completed"))
	fmt.Println(border.Render(out))
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	sweep := &automation.ParameterSweep{Param: sweepParam, Min: sweepMin, Max: sweepMax, NumSteps: sweepNum}
	out, err := automation.RunSweep(ctx, cfg, sweep, storage.New(dataDir), logger)
	for _, o := range out {
		printSummary(o.Name, cfg, o.Result, time.Since(start))
	}
	if err != nil {
		logStepError(logger, err)
	}
	return err
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	level := logLevel
	if level == "" {
		level = "info"
	}
	logger, err := logging.New(level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s %s\n", cyan.Render(sc.Name), dim.Render(sc.Description))
	start := time.Now()
	out, err := automation.RunScenario(ctx, sc, storage.New(dataDir), logger)
	for _, o := range out {
		fmt.Printf("  %s %s\n", green.Render(o.Name), dim.Render(fmt.Sprintf("%d steps, last %d", o.Result.StepsTaken, o.Result.LastStep)))
	}
	fmt.Println(dim.Render(time.Since(start).Round(time.Millisecond).String()))
	if err != nil {
		logStepError(logger, err)
	}
	return err
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	reg := experiment.NewRegistry()
	if err := reg.Validate(cfg); err != nil {
		return err
	}
	for _, impl := range []string{cfg.MobilityImpl, cfg.BlobBlobForceImpl} {
		if !reg.Available(impl) {
			return fmt.Errorf("%w: %s", dynamo.ErrBackendUnavailable, impl)
		}
	}
	fmt.Printf("%s %s (fingerprint %s)\n", green.Render("ok"), args[0], cfg.Fingerprint())
	return nil
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
	fmt.Fprintln(w, "NAME\tID\tTIME\tSCHEME\tDT\tSTEPS\tSTATUS")

	for _, run := range runs {
		id := run.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g\t%d-%d\t%s\n",
			run.Name,
			id,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Scheme,
			run.Dt,
			run.InitialStep,
			run.LastStep,
			run.Status,
		)
	}

	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func probeRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	step, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if len(xRange) != 2 || len(yRange) != 2 || len(gridNum) != 2 {
		return fmt.Errorf("--x, --y and --n take two values each")
	}
	cfg.OutputName = args[1]
	cfg.InitialStep = step
	if cmd.Flags().Changed("tracer-radius") {
		cfg.TracerRadius = tracer
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	exp := experiment.New(cfg, storage.New(dataDir), logger)
	if err := exp.Setup(); err != nil {
		return err
	}

	targets := grid(xRange, yRange, zPlane, gridNum[0], gridNum[1])
	u, err := exp.Probe(targets)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "# x\ty\tz\tux\tuy\tuz")
	for i := 0; i < len(targets); i += 3 {
		fmt.Fprintf(w, "%.6g\t%.6g\t%.6g\t%.8e\t%.8e\t%.8e\n",
			targets[i], targets[i+1], targets[i+2], u[i], u[i+1], u[i+2])
	}
	return w.Flush()
}

func grid(xr, yr []float64, z float64, nx, ny int) []float64 {
	step := func(r []float64, n int) float64 {
		if n < 2 {
			return 0
		}
		return (r[1] - r[0]) / float64(n-1)
	}
	dx, dy := step(xr, nx), step(yr, ny)
	out := make([]float64, 0, 3*nx*ny)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			out = append(out, xr[0]+float64(i)*dx, yr[0]+float64(j)*dy, z)
		}
	}
	return out
}
