package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/rcfuzz/rcfuzz/internal/driver"
	"github.com/rcfuzz/rcfuzz/internal/memory"
	"github.com/rcfuzz/rcfuzz/internal/probe"
	"github.com/rcfuzz/rcfuzz/internal/rcerr"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

// WarmupTimeout is how long WARMUP waits for every fuzzer's ready marker
// before failing with FatalStartup.
const WarmupTimeout = 180 * time.Second

// LogFlushInterval is the cadence of the background log-flush task.
const LogFlushInterval = 60 * time.Second

// HealthCheckInterval is the cadence of the background health task.
const HealthCheckInterval = 60 * time.Second

// backgroundPoolSize is the number of concurrent background tasks the
// supervisor runs for the lifetime of one run: fuzzer-info logger,
// log-flush, health check.
const backgroundPoolSize = 3

// Supervisor drives the INIT -> WARMUP -> EXPLORE -> EXPLOIT -> DRAIN ->
// EXIT state machine (spec.md §4.8), owning every background task and the
// teardown sequence that guarantees every started fuzzer gets stopped.
type Supervisor struct {
	sc     *Context
	layout runlog.Layout
	pool   *ants.Pool

	// runLogPath is fixed at construction (keyed on StartTime) so the
	// periodic flush and the final EXIT write target the same file.
	runLogPath string

	logMu sync.Mutex
	mem   *memory.Monitor
}

// NewSupervisor constructs a Supervisor over sc, whose Fuzzers/Cfg are
// already populated. layout resolves this run's output filesystem paths.
func NewSupervisor(sc *Context, layout runlog.Layout) (*Supervisor, error) {
	pool, err := ants.NewPool(backgroundPoolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, fmt.Errorf("scheduler: background pool: %w", err)
	}
	mon := memory.NewMonitor(HealthCheckInterval, memory.DefaultThreshold())
	return &Supervisor{sc: sc, layout: layout, pool: pool, runLogPath: layout.RunLogPath(sc.StartTime), mem: mon}, nil
}

// Run executes one full supervisor lifetime and returns the process exit
// code: 0 on a clean EXIT (including SIGINT/SIGTERM during EXPLOIT), 1 on
// FatalStartup or an Evaluator outage detected by the health task.
func (s *Supervisor) Run(parent context.Context, cmdlineArgs []string) int {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	defer s.pool.Release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	log := &runlog.RunLog{
		Cmd:       "rcfuzz",
		Args:      cmdlineArgs,
		Config:    s.sc.Cfg,
		StartTime: s.sc.StartTime,
		Algorithm: s.algorithmName(),
	}

	done := make(chan int, 1)
	go func() { done <- s.lifecycle(ctx, cancel, log, cmdlineArgs) }()

	select {
	case <-sigCh:
		s.sc.Logger.Info("interrupt received, draining")
		cancel()
		return <-done
	case code := <-done:
		return code
	}
}

func (s *Supervisor) algorithmName() string {
	if s.sc.Mode.IsFocus() {
		return "focus:" + s.sc.Mode.FocusFuzzer
	}
	return "rcfuzz"
}

func (s *Supervisor) lifecycle(ctx context.Context, cancel context.CancelFunc, log *runlog.RunLog, cmdlineArgs []string) int {
	if err := s.init(cmdlineArgs); err != nil {
		s.sc.Logger.Error("init failed", "error", err)
		return 1
	}

	s.mem.Start()
	defer s.mem.Stop()

	healthFailed := make(chan struct{}, 1)
	s.startBackgroundTasks(ctx, healthFailed, log)

	if err := s.warmup(ctx); err != nil {
		s.sc.Logger.Error("warmup failed", "error", err)
		s.teardown(context.Background(), log)
		return 1
	}

	runErr := make(chan error, 1)
	go func() { runErr <- s.exploreAndExploit(ctx, log) }()

	var exitCode int
	select {
	case <-healthFailed:
		s.sc.Logger.Error("evaluator unreachable, aborting run")
		cancel()
		exitCode = 1
	case err := <-runErr:
		if err != nil {
			var rc *rcerr.Error
			if errors.As(err, &rc) && rcerr.Fatal(rc.Kind) {
				s.sc.Logger.Error("run aborted", "error", err)
				exitCode = 1
			} else {
				s.sc.Logger.Info("run ended", "reason", err)
				exitCode = 0
			}
		} else {
			exitCode = 0
		}
	}

	s.drain(context.Background())
	s.teardown(context.Background(), log)
	return exitCode
}

// init is INIT: create output directories and record the invocation.
func (s *Supervisor) init(cmdlineArgs []string) error {
	if err := s.layout.WriteCmdline(cmdlineArgs); err != nil {
		return rcerr.New(rcerr.FatalStartup, "init", err)
	}
	return nil
}

// warmup is WARMUP: start every fuzzer and wait for its ready marker.
func (s *Supervisor) warmup(ctx context.Context) error {
	for _, f := range s.sc.Fuzzers {
		params := driver.StartParams{
			Fuzzer:    f,
			SeedDir:   s.sc.Cfg.Scheduler.InputDir,
			OutputDir: s.fuzzerOutputDir(f),
			Target:    s.sc.Cfg.Target.Name,
			Args:      s.sc.Cfg.Target.Args,
			Jobs:      int(s.sc.Cfg.Scheduler.Jobs),
		}
		if err := s.sc.Driver.Start(ctx, params); err != nil {
			return rcerr.New(rcerr.FatalStartup, "warmup:"+f, err)
		}
	}

	deadline := time.Now().Add(WarmupTimeout)
	for _, f := range s.sc.Fuzzers {
		readyPath := s.fuzzerOutputDir(f) + "/" + driver.ReadyFile
		for {
			if _, err := os.Stat(readyPath); err == nil {
				break
			}
			if time.Now().After(deadline) {
				return rcerr.New(rcerr.FatalStartup, "warmup:"+f, fmt.Errorf("ready marker not seen within %s", WarmupTimeout))
			}
			select {
			case <-ctx.Done():
				return rcerr.New(rcerr.Interrupted, "warmup", ctx.Err())
			case <-time.After(time.Second):
			}
		}

		// Pause each fuzzer right after it reports ready, so the cohort
		// never runs unthrottled while the rest warm up. A focused run
		// starts the same cohort but skips this pause; its shares are
		// first set by the explore round that follows.
		if !s.sc.Mode.IsFocus() {
			if err := s.sc.CPU.SetShare(ctx, f, 0); err != nil {
				return rcerr.New(rcerr.FatalStartup, "warmup:"+f, err)
			}
		}
	}
	return nil
}

func (s *Supervisor) fuzzerOutputDir(fuzzer string) string {
	return s.sc.Cfg.Scheduler.OutputDir + "/" + s.sc.Cfg.Target.Name + "/" + fuzzer
}

// exploreAndExploit runs EXPLORE once, then EXPLOIT rounds until the
// context ends, feeding round summaries into the log buffer.
func (s *Supervisor) exploreAndExploit(ctx context.Context, log *runlog.RunLog) error {
	if err := RunExplore(ctx, s.sc); err != nil {
		return err
	}

	for !s.sc.IsEnd() && ctx.Err() == nil {
		round, err := ExploitOnce(ctx, s.sc)
		if err != nil {
			return err
		}
		s.sc.Buffer.AppendRound(round)
	}
	return nil
}

// drain is DRAIN: mark completion and keep snapshotting for the grace
// window so the last few seconds of coverage growth are captured.
func (s *Supervisor) drain(ctx context.Context) {
	_ = s.layout.TouchFinish()
	deadline := s.sc.StartTime.Add(s.sc.Cfg.Scheduler.Timeout + GraceSeconds*time.Second)
	for time.Now().Before(deadline) {
		if info, ok, err := s.sc.Prober.TrySnapshot(ctx, s.sc.Fuzzers); err == nil && ok {
			s.appendSnapshot(info)
		}
		time.Sleep(5 * time.Second)
	}
}

// teardown is EXIT: stop every fuzzer, flush the log buffer, write the
// final run-log JSON. Idempotent and always runs, on every exit path.
func (s *Supervisor) teardown(ctx context.Context, log *runlog.RunLog) {
	for _, f := range s.sc.Fuzzers {
		if err := s.sc.Driver.Stop(ctx, f); err != nil {
			s.sc.Logger.Warn("stop failed", "fuzzer", f, "error", err)
		}
	}

	s.logMu.Lock()
	s.sc.Buffer.Flush(log)
	log.EndTime = s.sc.Now()
	err := runlog.Write(s.runLogPath, log)
	s.logMu.Unlock()

	if err != nil {
		s.sc.Logger.Error("run log write failed", "error", err)
	}
}

func (s *Supervisor) startBackgroundTasks(ctx context.Context, healthFailed chan<- struct{}, log *runlog.RunLog) {
	_ = s.pool.Submit(func() { s.fuzzerInfoLoggerTask(ctx) })
	_ = s.pool.Submit(func() { s.logFlushTask(ctx, log) })
	_ = s.pool.Submit(func() { s.healthTask(ctx, healthFailed) })
}

func (s *Supervisor) fuzzerInfoLoggerTask(ctx context.Context) {
	interval := HealthCheckInterval
	for _, d := range []time.Duration{s.sc.Cfg.Scheduler.ExploreTime, s.sc.Cfg.Scheduler.ExploitTime, s.sc.Cfg.Scheduler.SyncTime} {
		if d > 0 && d < interval {
			interval = d
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if info, ok, err := s.sc.Prober.TrySnapshot(ctx, s.sc.Fuzzers); err == nil && ok {
				s.appendSnapshot(info)
			}
		}
	}
}

func (s *Supervisor) appendSnapshot(info probe.FuzzerInfo) {
	per := make(map[string]int, len(info.PerFuzzer))
	for f, pf := range info.PerFuzzer {
		per[f] = pf.Bitmap.Popcount()
	}
	s.sc.Buffer.AppendSnapshot(runlog.CompressedSnapshot{
		Timestamp:  info.Timestamp,
		GlobalBits: info.Global.Bitmap.Popcount(),
		PerFuzzer:  per,
		UniqueBugs: info.Global.UniqueBugs.Total,
	})
}

// logFlushTask periodically drains the append-only buffer into log and
// rewrites the run-log JSON, so a crash mid-run still leaves a readable
// (if stale) log file behind.
func (s *Supervisor) logFlushTask(ctx context.Context, log *runlog.RunLog) {
	ticker := time.NewTicker(LogFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logMu.Lock()
			s.sc.Buffer.Flush(log)
			err := runlog.Write(s.runLogPath, log)
			s.logMu.Unlock()
			if err != nil {
				s.sc.Logger.Warn("periodic run log write failed", "error", err)
			}
		}
	}
}

func (s *Supervisor) healthTask(ctx context.Context, failed chan<- struct{}) {
	ticker := time.NewTicker(HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.layout.TouchHealth()
			latest := s.mem.GetLatest()
			s.sc.Logger.Info("health", "heap_alloc", latest.HeapAlloc, "goroutines", latest.NumGoroutine)
			if !s.sc.Prober.Eval.Alive(ctx) {
				select {
				case failed <- struct{}{}:
				default:
				}
				return
			}
		}
	}
}
