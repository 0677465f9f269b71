// Package probe implements the Coverage Probe: idempotent, side-effect-free
// composition of Evaluator readings into immutable FuzzerInfo snapshots.
package probe

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcfuzz/rcfuzz/internal/bitmap"
	"github.com/rcfuzz/rcfuzz/internal/evaluator"
	"github.com/rcfuzz/rcfuzz/internal/rcerr"
)

var errProbeUnavailable = rcerr.New(rcerr.ProbeUnavailable, "require_snapshot", nil)

// ProbeRetryInterval is how long RequireSnapshot waits between retries
// while the probe is unavailable.
const ProbeRetryInterval = 10 * time.Second

// ProbeBackoffBudget is the cumulative time RequireSnapshot will spend
// retrying before escalating to FatalStartup (spec.md §7).
const ProbeBackoffBudget = 600 * time.Second

// PerFuzzerInfo is one fuzzer's coverage state at snapshot time.
type PerFuzzerInfo struct {
	Bitmap       bitmap.Bitmap
	LineCoverage int
	UniqueBugs   evaluator.UniqueBugs
}

// GlobalInfo is the cohort-wide aggregate at snapshot time.
type GlobalInfo struct {
	Bitmap       bitmap.Bitmap
	LineCoverage int
	UniqueBugs   evaluator.UniqueBugs
}

// FuzzerInfo is an immutable snapshot of the whole cohort's coverage state.
// Once built it is never mutated; every Probe call and every allocator
// decision works from a FuzzerInfo value, never from live Evaluator state.
type FuzzerInfo struct {
	PerFuzzer map[string]PerFuzzerInfo
	Global    GlobalInfo
	Timestamp float64 // monotonic seconds
}

// Prober is the Coverage Probe (C2): it never itself talks to fuzzer
// processes, only to the Evaluator collaborator.
type Prober struct {
	Eval  evaluator.Evaluator
	Clock func() time.Time
}

// NewProber constructs a Prober. A nil clock defaults to time.Now.
func NewProber(eval evaluator.Evaluator, clock func() time.Time) *Prober {
	if clock == nil {
		clock = time.Now
	}
	return &Prober{Eval: eval, Clock: clock}
}

// ProbeFuzzer returns a snapshot for one fuzzer, or ok=false if it has not
// yet produced any coverage.
func (p *Prober) ProbeFuzzer(ctx context.Context, fuzzer string) (PerFuzzerInfo, bool, error) {
	r, ok, err := p.Eval.FuzzerReading(ctx, fuzzer)
	if err != nil || !ok {
		return PerFuzzerInfo{}, false, err
	}
	return PerFuzzerInfo{
		Bitmap:       r.Coverage.Bitmap,
		LineCoverage: r.Coverage.LineCoverage,
		UniqueBugs:   r.UniqueBugs,
	}, true, nil
}

// ProbeGlobal returns the cohort aggregate, or ok=false under the same
// fresh-start rule.
func (p *Prober) ProbeGlobal(ctx context.Context, fuzzers []string) (GlobalInfo, bool, error) {
	r, ok, err := p.Eval.GlobalReading(ctx, fuzzers)
	if err != nil || !ok {
		return GlobalInfo{}, false, err
	}
	return GlobalInfo{
		Bitmap:       r.Coverage.Bitmap,
		LineCoverage: r.Coverage.LineCoverage,
		UniqueBugs:   r.UniqueBugs,
	}, true, nil
}

// TrySnapshot composes ProbeFuzzer over all fuzzers plus ProbeGlobal,
// returning ok=false if any single probe is unavailable.
func (p *Prober) TrySnapshot(ctx context.Context, fuzzers []string) (FuzzerInfo, bool, error) {
	per := make(map[string]PerFuzzerInfo, len(fuzzers))
	for _, f := range fuzzers {
		info, ok, err := p.ProbeFuzzer(ctx, f)
		if err != nil {
			return FuzzerInfo{}, false, err
		}
		if !ok {
			return FuzzerInfo{}, false, nil
		}
		per[f] = info
	}

	global, ok, err := p.ProbeGlobal(ctx, fuzzers)
	if err != nil {
		return FuzzerInfo{}, false, err
	}
	if !ok {
		return FuzzerInfo{}, false, nil
	}

	return FuzzerInfo{
		PerFuzzer: per,
		Global:    global,
		Timestamp: float64(p.Clock().UnixNano()) / 1e9,
	}, true, nil
}

// RequireSnapshot is TrySnapshot but treats an unavailable probe as
// retryable: it backs off ProbeRetryInterval between attempts, and
// escalates to FatalStartup once ProbeBackoffBudget has elapsed without a
// usable snapshot (spec.md §7's ProbeUnavailable policy). Callers use it
// only after readiness has been established (past WARMUP).
func (p *Prober) RequireSnapshot(ctx context.Context, fuzzers []string) (FuzzerInfo, error) {
	limiter := rate.NewLimiter(rate.Every(ProbeRetryInterval), 1)
	deadline := p.Clock().Add(ProbeBackoffBudget)

	for {
		info, ok, err := p.TrySnapshot(ctx, fuzzers)
		if err != nil {
			return FuzzerInfo{}, err
		}
		if ok {
			return info, nil
		}
		if !p.Clock().Before(deadline) {
			return FuzzerInfo{}, rcerr.New(rcerr.FatalStartup, "require_snapshot", errProbeUnavailable)
		}
		if err := limiter.Wait(ctx); err != nil {
			return FuzzerInfo{}, rcerr.New(rcerr.Interrupted, "require_snapshot", err)
		}
	}
}
