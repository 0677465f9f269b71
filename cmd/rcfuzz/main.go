// rcfuzz is a meta-fuzzer scheduler: it runs a cohort of coverage-guided
// fuzzer processes against a single target binary and allocates CPU time
// between them across an explore phase and repeated exploit rounds.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcfuzz/rcfuzz/internal/bandit"
	"github.com/rcfuzz/rcfuzz/internal/cgroup"
	"github.com/rcfuzz/rcfuzz/internal/config"
	"github.com/rcfuzz/rcfuzz/internal/cpuctl"
	"github.com/rcfuzz/rcfuzz/internal/driver"
	"github.com/rcfuzz/rcfuzz/internal/evaluator"
	"github.com/rcfuzz/rcfuzz/internal/probe"
	"github.com/rcfuzz/rcfuzz/internal/report"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
	"github.com/rcfuzz/rcfuzz/internal/scheduler"
	"github.com/rcfuzz/rcfuzz/internal/syncsvc"
	"github.com/rcfuzz/rcfuzz/internal/ui"
	"github.com/rcfuzz/rcfuzz/internal/web"
)

var version = "0.1.0-dev"

var (
	flagOutput    string
	flagFuzzers   []string
	flagTarget    string
	flagInput     string
	flagExplore   time.Duration
	flagExploit   time.Duration
	flagSync      time.Duration
	flagTimeout   time.Duration
	flagEmptySeed bool
	flagCrashMode string
	flagFocusOne  string
	flagThreshold float64
	flagDiff      float64
	flagTar       bool
	flagConfig    string
	flagUI        bool
	flagVerbose   bool
	flagEvalURL   string

	flagServeAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rcfuzz",
		Short: "rcfuzz - adaptive coverage-guided fuzzer scheduler",
		Long: `rcfuzz runs a cohort of coverage-guided fuzzer processes against a
single target binary, alternating an explore phase that samples every
fuzzer kind with exploit rounds that Thompson-sample the most productive
ones, allocating CPU shares between them by bitmap-intersection novelty.`,
		Run: runSupervisor,
	}

	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output directory (required)")
	rootCmd.Flags().StringArrayVarP(&flagFuzzers, "fuzzer", "f", nil, "fuzzer kind to run (repeatable, or \"all\")")
	rootCmd.Flags().StringVarP(&flagTarget, "target", "T", "", "path to the target binary (required)")
	rootCmd.Flags().StringVarP(&flagInput, "input", "i", "", "seed corpus directory")
	rootCmd.Flags().DurationVar(&flagExplore, "explore", 0, "explore phase duration")
	rootCmd.Flags().DurationVar(&flagExploit, "exploit", 0, "exploit round duration")
	rootCmd.Flags().DurationVar(&flagSync, "sync", 0, "corpus sync interval")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "total run wall-clock budget")
	rootCmd.Flags().BoolVar(&flagEmptySeed, "empty-seed", false, "start from an empty seed corpus")
	rootCmd.Flags().StringVar(&flagCrashMode, "crash-mode", "", "crash dedup mode: trace|ip")
	rootCmd.Flags().StringVar(&flagFocusOne, "focus-one", "", "bypass the bandit and run a single fuzzer for the whole run")
	rootCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "initial bandit productivity threshold (theta_init)")
	rootCmd.Flags().Float64Var(&flagDiff, "diff", 0, "override theta_init directly")
	rootCmd.Flags().BoolVar(&flagTar, "tar", false, "set the config's tar option (no archive of the output directory is written)")
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file, merged under these flags")
	rootCmd.Flags().BoolVar(&flagUI, "ui", false, "show the terminal dashboard while running")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.Flags().StringVar(&flagEvalURL, "evaluator-url", "", "talk to a networked Evaluator at this base URL instead of polling the output directory")

	serveCmd := &cobra.Command{
		Use:   "serve <run-log-path>",
		Short: "serve a read-only web dashboard over a run-log file",
		Args:  cobra.ExactArgs(1),
		Run:   runServe,
	}
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", ":9090", "address to listen on")
	rootCmd.AddCommand(serveCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rcfuzz version %s\n", version)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Println(ui.Banner)
}

// buildConfig merges explicit CLI flags over a config file (if given) over
// the compiled-in defaults. CLI flags always win, matching the original
// --explore/--exploit/--sync/... contract.
func buildConfig(cmd *cobra.Command, targetArgs []string) (*config.Config, error) {
	var cfg *config.Config
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig, os.ReadFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	if flagOutput != "" {
		cfg.Scheduler.OutputDir = flagOutput
	}
	if flagInput != "" {
		cfg.Scheduler.InputDir = flagInput
	}
	if len(flagFuzzers) > 0 {
		cfg.Scheduler.Fuzzers = expandFuzzerKinds(flagFuzzers)
	}
	if cmd.Flags().Changed("explore") {
		cfg.Scheduler.ExploreTime = flagExplore
	}
	if cmd.Flags().Changed("exploit") {
		cfg.Scheduler.ExploitTime = flagExploit
	}
	if cmd.Flags().Changed("sync") {
		cfg.Scheduler.SyncTime = flagSync
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Scheduler.Timeout = flagTimeout
	}
	if cmd.Flags().Changed("empty-seed") {
		cfg.Scheduler.EmptySeed = flagEmptySeed
	}
	if flagCrashMode != "" {
		switch flagCrashMode {
		case "ip":
			cfg.Scheduler.CrashMode = config.CrashModeIP
		case "trace":
			cfg.Scheduler.CrashMode = config.CrashModeTrace
		default:
			return nil, fmt.Errorf("rcfuzz: --crash-mode must be \"ip\" or \"trace\", got %q", flagCrashMode)
		}
	}
	if flagFocusOne != "" {
		cfg.Scheduler.FocusOne = flagFocusOne
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Scheduler.Threshold = flagThreshold
	}
	if cmd.Flags().Changed("diff") {
		d := flagDiff
		cfg.Scheduler.Diff = &d
	}
	if cmd.Flags().Changed("tar") {
		cfg.Scheduler.Tar = flagTar
	}
	if flagVerbose {
		cfg.Output.Verbose = true
	}
	if flagUI {
		cfg.Output.EnableTUI = true
	}

	if flagTarget != "" {
		cfg.Target.Binary = flagTarget
		cfg.Target.Name = filepath.Base(flagTarget)
	}
	cfg.Target.Args = targetArgs

	if cfg.Target.Binary == "" {
		return nil, fmt.Errorf("rcfuzz: --target is required")
	}
	if cfg.Scheduler.OutputDir == "" {
		return nil, fmt.Errorf("rcfuzz: --output is required")
	}
	if len(cfg.Scheduler.Fuzzers) == 0 {
		return nil, fmt.Errorf("rcfuzz: --fuzzer is required (at least one kind, or \"all\")")
	}

	return cfg, nil
}

func expandFuzzerKinds(requested []string) []string {
	for _, f := range requested {
		if f == "all" {
			return append([]string(nil), config.AllFuzzerKinds...)
		}
	}
	return requested
}

// fuzzerCommand resolves argv for launching one fuzzer kind. Every
// parameter a fuzzer needs beyond the target's own argv travels through
// the RCFUZZ_* environment variables ProcessDriver.Start already sets;
// the wrapper binary is expected on PATH, named by convention after its
// fuzzer kind.
func fuzzerCommand(p driver.StartParams) (string, []string) {
	return "rcfuzz-fuzz-" + p.Fuzzer, p.Args
}

func runSupervisor(cmd *cobra.Command, args []string) {
	printBanner()

	cfg, err := buildConfig(cmd, args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "  [!]", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Output.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	layout := runlog.Layout{OutputDir: cfg.Scheduler.OutputDir, Target: cfg.Target.Name}
	targetRoot := filepath.Join(cfg.Scheduler.OutputDir, cfg.Target.Name)
	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "  [!] rcfuzz: create output dir:", err)
		os.Exit(1)
	}

	arms := make(map[string]*bandit.Arm, len(cfg.Scheduler.Fuzzers))
	thetaInit := cfg.Scheduler.ThetaInit()
	for i, f := range cfg.Scheduler.Fuzzers {
		diff := cfg.Fuzzers[f].Diff
		arms[f] = bandit.NewArm(thetaInit, diff, int64(i)+rand.Int63())
	}

	mode := scheduler.Mode{FocusFuzzer: cfg.Scheduler.FocusOne}

	var eval evaluator.Evaluator
	if flagEvalURL != "" {
		eval = evaluator.NewHTTPEvaluator(flagEvalURL, cfg.Target.BitmapSize, logger)
	} else {
		eval = evaluator.NewFileEvaluator(targetRoot, cfg.Target.BitmapSize, logger)
	}
	prober := probe.NewProber(eval, nil)

	procDriver := driver.NewProcessDriver(fuzzerCommand, logger)
	cgroupCtl := cgroup.NewV2Controller(filepath.Join("/sys/fs/cgroup/rcfuzz", cfg.Target.Name))
	cpu := cpuctl.NewController(procDriver, cgroupCtl, logger)

	sc := &scheduler.Context{
		Cfg:       cfg,
		Fuzzers:   cfg.Scheduler.Fuzzers,
		Arms:      arms,
		Mode:      mode,
		Prober:    prober,
		CPU:       cpu,
		Sync:      syncsvc.NewRsyncService(logger),
		Driver:    procDriver,
		Buffer:    runlog.NewBuffer(),
		Logger:    logger,
		StartTime: time.Now(),
	}

	supervisor, err := scheduler.NewSupervisor(sc, layout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "  [!] rcfuzz: init supervisor:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exitCode := make(chan int, 1)
	go func() {
		exitCode <- supervisor.Run(ctx, os.Args[1:])
	}()

	if !cfg.Output.EnableTUI {
		code := <-exitCode
		writeReport(layout.RunLogPath(sc.StartTime), targetRoot, cfg.Target.Name, logger)
		os.Exit(code)
	}

	dashboard := ui.NewDashboard(cfg.Target.Binary)
	dashboard.SetTimeout(cfg.Scheduler.Timeout)
	go pollRunLogIntoDashboard(ctx, layout.RunLogPath(sc.StartTime), cfg, dashboard)

	p := ui.RunWithProgram(dashboard)
	go func() {
		code := <-exitCode
		cancel()
		p.Quit()
		exitCode <- code
	}()
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "  [!] rcfuzz: ui:", err)
	}
	code := <-exitCode
	writeReport(layout.RunLogPath(sc.StartTime), targetRoot, cfg.Target.Name, logger)
	os.Exit(code)
}

// writeReport summarizes the finished run's log into json/html reports
// under <output>/<target>/reports. Failures here are logged, not fatal:
// the run itself already completed and wrote its run-log.
func writeReport(runLogPath, targetRoot, targetName string, logger *slog.Logger) {
	data, err := os.ReadFile(runLogPath)
	if err != nil {
		logger.Warn("report: read run log", "error", err)
		return
	}
	var log runlog.RunLog
	if err := json.Unmarshal(data, &log); err != nil {
		logger.Warn("report: parse run log", "error", err)
		return
	}

	summary := report.FromRunLog(targetName+" run", &log)
	summary.TargetName = targetName

	mgr := report.NewManager(filepath.Join(targetRoot, "reports"))
	paths, err := mgr.GenerateAll(summary)
	if err != nil {
		logger.Warn("report: generate", "error", err)
		return
	}
	for _, p := range paths {
		logger.Info("report written", "path", p)
	}
}

// pollRunLogIntoDashboard feeds the TUI from the run-log file the
// supervisor periodically flushes, the same decoupled read the web
// dashboard uses: the TUI never talks to the supervisor's internals
// directly.
func pollRunLogIntoDashboard(ctx context.Context, runLogPath string, cfg *config.Config, d *ui.Dashboard) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	seenRounds := 0
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			d.SetPhase(ui.StatusExit)
			return
		case <-ticker.C:
		}

		data, err := os.ReadFile(runLogPath)
		if err != nil {
			continue
		}
		var log runlog.RunLog
		if err := json.Unmarshal(data, &log); err != nil {
			continue
		}

		elapsed := time.Since(start)
		d.RecordElapsed(elapsed)
		switch {
		case elapsed < cfg.Scheduler.ExploreTime:
			d.SetPhase(ui.StatusExplore)
		default:
			d.SetPhase(ui.StatusExploit)
		}

		if len(log.Log) > 0 {
			latest := log.Log[len(log.Log)-1]
			d.RecordSnapshot(modeLabel(elapsed, cfg), latest.GlobalBits, 0, 0, 0, 0, latest.UniqueBugs, latest.PerFuzzer)
		}
		for ; seenRounds < len(log.Round); seenRounds++ {
			d.RecordRound(log.Round[seenRounds].FoundNewEdge)
		}
	}
}

func modeLabel(elapsed time.Duration, cfg *config.Config) string {
	if elapsed < cfg.Scheduler.ExploreTime {
		return "explore"
	}
	return "exploit"
}

func runServe(cmd *cobra.Command, args []string) {
	runLogPath := args[0]
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Println("  [*] serving", runLogPath, "on", flagServeAddr)

	server := web.NewServer(runLogPath, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(flagServeAddr); err != nil {
			fmt.Fprintln(os.Stderr, "  [!] rcfuzz serve:", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	fmt.Println("\n  [*] shutting down")
	_ = server.Stop()
}
