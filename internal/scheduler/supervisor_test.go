package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/bandit"
	"github.com/rcfuzz/rcfuzz/internal/config"
	"github.com/rcfuzz/rcfuzz/internal/cpuctl"
	"github.com/rcfuzz/rcfuzz/internal/driver"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

// recordingDriver records every Pause call warmup makes, unlike
// scheduler_test.go's fakeDriver which discards them.
type recordingDriver struct {
	mu     sync.Mutex
	paused []string
}

func (d *recordingDriver) Start(ctx context.Context, p driver.StartParams) error { return nil }
func (d *recordingDriver) Stop(ctx context.Context, fuzzer string) error         { return nil }
func (d *recordingDriver) Pause(ctx context.Context, fuzzer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = append(d.paused, fuzzer)
	return nil
}
func (d *recordingDriver) Resume(ctx context.Context, fuzzer string) error       { return nil }
func (d *recordingDriver) Scale(ctx context.Context, fuzzer string, n int) error { return nil }

func newWarmupSupervisor(t *testing.T, fuzzers []string, focus string) (*Supervisor, *recordingDriver) {
	t.Helper()
	outputDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Target.Name = "target"
	cfg.Scheduler.Fuzzers = fuzzers
	cfg.Scheduler.OutputDir = outputDir
	cfg.Scheduler.Jobs = 1
	cfg.Scheduler.Timeout = time.Hour
	cfg.Scheduler.Threshold = 1

	// warmup only starts each fuzzer and waits for its ready marker; stub
	// the marker in directly rather than racing a real driver.
	for _, f := range fuzzers {
		dir := filepath.Join(outputDir, cfg.Target.Name, f)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, driver.ReadyFile), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	arms := make(map[string]*bandit.Arm, len(fuzzers))
	for i, f := range fuzzers {
		arms[f] = bandit.NewArm(cfg.Scheduler.ThetaInit(), 0, int64(i+1))
	}

	rd := &recordingDriver{}
	sc := &Context{
		Cfg:       cfg,
		Fuzzers:   fuzzers,
		Arms:      arms,
		Mode:      Mode{FocusFuzzer: focus},
		CPU:       cpuctl.NewController(rd, fakeCgroup{period: 100000}, slog.Default()),
		Driver:    rd,
		Buffer:    runlog.NewBuffer(),
		Logger:    slog.Default(),
		StartTime: time.Now(),
	}

	sup, err := NewSupervisor(sc, runlog.Layout{OutputDir: outputDir, Target: cfg.Target.Name})
	if err != nil {
		t.Fatal(err)
	}
	return sup, rd
}

func TestWarmupPausesEveryFuzzerAfterReady(t *testing.T) {
	fuzzers := []string{"afl", "radamsa"}
	sup, rd := newWarmupSupervisor(t, fuzzers, "")

	if err := sup.warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if len(rd.paused) != len(fuzzers) {
		t.Fatalf("expected %d pause calls, got %v", len(fuzzers), rd.paused)
	}
	for _, f := range fuzzers {
		found := false
		for _, p := range rd.paused {
			if p == f {
				found = true
			}
		}
		if !found {
			t.Errorf("expected %q to be paused during warmup, got %v", f, rd.paused)
		}
	}
}

func TestWarmupSkipsPauseWhenFocused(t *testing.T) {
	sup, rd := newWarmupSupervisor(t, []string{"afl"}, "afl")

	if err := sup.warmup(context.Background()); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	rd.mu.Lock()
	defer rd.mu.Unlock()
	if len(rd.paused) != 0 {
		t.Fatalf("expected no pause calls in a focused run, got %v", rd.paused)
	}
}
