package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/san-kum/odectl/internal/native/memengine"
	"github.com/san-kum/odectl/internal/simulation"
	"github.com/san-kum/odectl/internal/storage"
	"github.com/san-kum/odectl/internal/telemetry"
	"github.com/san-kum/odectl/internal/viz"
)

var (
	dataDir     string
	verbose     bool
	metricsAddr string
	theme       string

	// run and sweep
	configFile string
	preset     string
	start      string
	sets       []string
	speciesSet []string
	timeLimit  string
	progress   bool
	noSave     bool
	entities   []string

	// sweep
	sweepParam  string
	sweepValues []float64
	workers     int

	// codegen
	language string
	outDir   string
	numeric  bool

	engine    = memengine.New()
	log       = zap.NewNop()
	collector *telemetry.Collector
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "odectl",
		Short:         "load, run and inspect ODE simulations",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return err
			}
			viz.SetTheme(theme)
			if metricsAddr != "" {
				startMetrics(cmd.Context())
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".odectl", "run store directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "cyberpunk", "color theme")

	runCmd := &cobra.Command{
		Use:   "run [model]",
		Short: "run a simulation and store its results",
		Long: "run loads a model document or built-in model (see 'odectl models'),\n" +
			"applies overrides, finalizes and runs it, then stores the output series.",
		Args: cobra.MaximumNArgs(1),
		RunE: runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&progress, "progress", false, "show a progress view while running")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "run one simulation per parameter value in parallel",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	addRunFlags(sweepCmd)
	sweepCmd.Flags().StringVar(&sweepParam, "param", "", "parameter entity id or path to vary")
	sweepCmd.Flags().Float64SliceVar(&sweepValues, "values", nil, "parameter values, one member each")
	sweepCmd.Flags().IntVar(&workers, "workers", 0, "members running at once (default from config)")
	_ = sweepCmd.MarkFlagRequired("param")
	_ = sweepCmd.MarkFlagRequired("values")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	valuesCmd := &cobra.Command{
		Use:   "values [run_id]",
		Short: "print stored values as csv",
		Args:  cobra.ExactArgs(1),
		RunE:  printValues,
	}
	valuesCmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "entity ids to print (default all)")

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot stored series",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "entity ids to plot (default all)")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	codegenCmd := &cobra.Command{
		Use:   "codegen [model]",
		Short: "export the finalized equation system as source code",
		Args:  cobra.ExactArgs(1),
		RunE:  generateCode,
	}
	codegenCmd.Flags().StringVar(&language, "lang", "matlab", "target language: matlab, cpp or r")
	codegenCmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory")
	codegenCmd.Flags().BoolVar(&numeric, "values", false, "inline numeric values instead of formulas")

	inspectCmd := &cobra.Command{
		Use:   "inspect [model]",
		Short: "show the parameters and species of a model",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectModel,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list option presets, or the start presets of a model",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list built-in models",
		RunE:  listModels,
	}

	rootCmd.AddCommand(runCmd, sweepCmd, listCmd, valuesCmd, plotCmd, exportCmd, codegenCmd, inspectCmd, presetsCmd, modelsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "run configuration file (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "option preset: fast, interactive or strict")
	cmd.Flags().StringVar(&start, "start", "", "start preset of a built-in model")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "parameter override, name=value (repeatable)")
	cmd.Flags().StringArrayVar(&speciesSet, "species", nil, "species initial value, name=value (repeatable)")
	cmd.Flags().StringVar(&timeLimit, "time-limit", "", "execution time limit, e.g. 30s")
	cmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "output entity ids to keep (default all)")
}

func setupLogging() error {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	log = l
	simulation.SetLogger(l.Named("simulation"))
	memengine.SetLogger(l.Named("engine"))
	return nil
}

func startMetrics(ctx context.Context) {
	collector = telemetry.NewCollector("odectl")
	go func() {
		if err := collector.Serve(ctx, metricsAddr); err != nil {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", metricsAddr))
}

func simOptions(model string) []simulation.Option {
	opts := []simulation.Option{simulation.WithLogger(log.Named("simulation").With(zap.String("model", model)))}
	if collector != nil {
		opts = append(opts, simulation.WithRecorder(collector))
	}
	return opts
}

func openStore(dir string) (*storage.Store, error) {
	if dir == "" {
		dir = dataDir
	}
	st := storage.New(dir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}
