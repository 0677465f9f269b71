package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/bandit"
	"github.com/rcfuzz/rcfuzz/internal/bitmap"
	"github.com/rcfuzz/rcfuzz/internal/config"
	"github.com/rcfuzz/rcfuzz/internal/cpuctl"
	"github.com/rcfuzz/rcfuzz/internal/driver"
	"github.com/rcfuzz/rcfuzz/internal/evaluator"
	"github.com/rcfuzz/rcfuzz/internal/probe"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

const bitmapSize = 256

// fakeEvaluator hands back caller-controlled readings; the "fresh start"
// rule is never exercised here since these tests run entirely past
// WARMUP. growAfterCalls lets a test script a fuzzer's coverage jump to
// appear strictly between one snapshot and the next, deterministically
// (no reliance on real-time races with the scheduler's own sleeps).
type fakeEvaluator struct {
	mu             sync.Mutex
	bitmaps        map[string]bitmap.Bitmap
	bugs           map[string]evaluator.UniqueBugs
	calls          map[string]int
	growAfterCalls map[string]int
	growTo         map[string]bitmap.Bitmap
	dead           bool
}

func newFakeEvaluator(fuzzers []string) *fakeEvaluator {
	e := &fakeEvaluator{
		bitmaps:        make(map[string]bitmap.Bitmap),
		bugs:           make(map[string]evaluator.UniqueBugs),
		calls:          make(map[string]int),
		growAfterCalls: make(map[string]int),
		growTo:         make(map[string]bitmap.Bitmap),
	}
	for _, f := range fuzzers {
		e.bitmaps[f] = bitmap.Empty(bitmapSize)
	}
	return e
}

// set fixes fuzzer's bitmap outright, for tests that don't care about
// before/after timing.
func (e *fakeEvaluator) set(fuzzer string, positions ...int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bitmaps[fuzzer] = bitmap.FromBits(bitmapSize, positions...)
}

// growAfter schedules fuzzer's bitmap to jump to the union of its current
// bits plus positions starting with the (n+1)th FuzzerReading call.
func (e *fakeEvaluator) growAfter(fuzzer string, n int, positions ...int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged, _ := bitmap.Union(e.bitmaps[fuzzer], bitmap.FromBits(bitmapSize, positions...))
	e.growAfterCalls[fuzzer] = n
	e.growTo[fuzzer] = merged
}

func (e *fakeEvaluator) FuzzerReading(ctx context.Context, fuzzer string) (evaluator.Reading, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[fuzzer]++
	if n, ok := e.growAfterCalls[fuzzer]; ok && e.calls[fuzzer] > n {
		e.bitmaps[fuzzer] = e.growTo[fuzzer]
	}
	return evaluator.Reading{
		FuzzerID:   fuzzer,
		Coverage:   evaluator.Coverage{Bitmap: e.bitmaps[fuzzer]},
		UniqueBugs: e.bugs[fuzzer],
	}, true, nil
}

func (e *fakeEvaluator) GlobalReading(ctx context.Context, fuzzers []string) (evaluator.Reading, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	global := bitmap.Empty(bitmapSize)
	total := evaluator.UniqueBugs{}
	for _, f := range fuzzers {
		global, _ = bitmap.Union(global, e.bitmaps[f])
		b := e.bugs[f]
		total.Total += b.Total
	}
	return evaluator.Reading{Coverage: evaluator.Coverage{Bitmap: global}, UniqueBugs: total}, true, nil
}

func (e *fakeEvaluator) Alive(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dead
}

func (e *fakeEvaluator) SeedFinished(ctx context.Context) (bool, error) { return true, nil }

type fakeDriver struct{}

func (fakeDriver) Start(ctx context.Context, p driver.StartParams) error { return nil }
func (fakeDriver) Stop(ctx context.Context, fuzzer string) error         { return nil }
func (fakeDriver) Pause(ctx context.Context, fuzzer string) error        { return nil }
func (fakeDriver) Resume(ctx context.Context, fuzzer string) error       { return nil }
func (fakeDriver) Scale(ctx context.Context, fuzzer string, n int) error { return nil }

type fakeCgroup struct{ period int64 }

func (c fakeCgroup) SetQuota(fuzzer string, quotaMicros int64) error { return nil }
func (c fakeCgroup) Period(fuzzer string) (int64, error)             { return c.period, nil }

type fakeSync struct{ calls int }

func (s *fakeSync) Sync(ctx context.Context, target string, fuzzers []string, rootDir string) error {
	s.calls++
	return nil
}

func newTestContext(t *testing.T, fuzzers []string, eval *fakeEvaluator) (*Context, *fakeSync) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Target.Name = "target"
	cfg.Target.BitmapSize = bitmapSize
	cfg.Scheduler.Fuzzers = fuzzers
	cfg.Scheduler.ExploreTime = 6 * time.Millisecond
	cfg.Scheduler.ExploitTime = 1
	cfg.Scheduler.SyncTime = time.Millisecond
	cfg.Scheduler.Timeout = time.Hour
	cfg.Scheduler.Jobs = 1
	cfg.Scheduler.Threshold = 1

	arms := make(map[string]*bandit.Arm, len(fuzzers))
	for i, f := range fuzzers {
		arms[f] = bandit.NewArm(cfg.Scheduler.ThetaInit(), 0, int64(i+1))
	}

	sy := &fakeSync{}
	sc := &Context{
		Cfg:       cfg,
		Fuzzers:   fuzzers,
		Arms:      arms,
		Prober:    probe.NewProber(eval, nil),
		CPU:       cpuctl.NewController(fakeDriver{}, fakeCgroup{period: 100000}, slog.Default()),
		Sync:      sy,
		Driver:    fakeDriver{},
		Buffer:    runlog.NewBuffer(),
		Logger:    slog.Default(),
		StartTime: time.Now(),
	}
	return sc, sy
}

func TestRunExploreRecordsDominantFuzzerSuccess(t *testing.T) {
	fuzzers := []string{"afl", "radamsa"}
	eval := newFakeEvaluator(fuzzers)
	// afl's coverage jumps only after the initial (pre-round) snapshot, so
	// RunExplore's own before/after diff sees it as new.
	eval.growAfter("afl", 1, 1, 2, 3, 4, 5)

	sc, sy := newTestContext(t, fuzzers, eval)

	if err := RunExplore(context.Background(), sc); err != nil {
		t.Fatalf("RunExplore: %v", err)
	}

	if sc.Arms["afl"].S == 0 {
		t.Fatalf("expected afl to register at least one success, got S=%d F=%d", sc.Arms["afl"].S, sc.Arms["afl"].F)
	}
	if sc.Arms["radamsa"].S != 0 {
		t.Fatalf("expected radamsa (no new coverage) to register no success, got S=%d", sc.Arms["radamsa"].S)
	}
	if sy.calls == 0 {
		t.Fatal("expected at least one corpus sync during explore")
	}
}

func TestExploitOnceProducesRoundSummary(t *testing.T) {
	fuzzers := []string{"afl", "radamsa"}
	eval := newFakeEvaluator(fuzzers)
	eval.set("afl", 10, 11, 12)
	eval.set("radamsa", 50)

	sc, _ := newTestContext(t, fuzzers, eval)
	sc.Cfg.Scheduler.ExploitTime = 5 * time.Millisecond

	round, err := ExploitOnce(context.Background(), sc)
	if err != nil {
		t.Fatalf("ExploitOnce: %v", err)
	}
	if len(round.Picked) == 0 {
		t.Fatal("expected at least one fuzzer to be picked")
	}
}

func TestExploitOnceFocusModeBypassesSelection(t *testing.T) {
	fuzzers := []string{"afl", "radamsa"}
	eval := newFakeEvaluator(fuzzers)

	sc, _ := newTestContext(t, fuzzers, eval)
	sc.Mode = Mode{FocusFuzzer: "afl"}
	// Force IsEnd() true from the first check so the fixed-size
	// FocusSubSliceDuration sleep returns immediately without actually
	// blocking for real wall-clock time.
	sc.Cfg.Scheduler.Timeout = time.Millisecond
	sc.StartTime = time.Now().Add(-2 * time.Hour)

	round, err := ExploitOnce(context.Background(), sc)
	if err != nil {
		t.Fatalf("ExploitOnce: %v", err)
	}
	if len(round.Picked) != 1 || round.Picked[0] != "afl" {
		t.Fatalf("focus round picked = %v, want [afl]", round.Picked)
	}
}
