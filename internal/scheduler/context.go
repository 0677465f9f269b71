// Package scheduler implements the Scheduler Supervisor (C8) and its two
// driving loops: Explore (C6) and Exploit (C7). It replaces the original
// module-scope globals (ARGS, FUZZERS, CPU_ASSIGN, ...) with one
// SchedulerContext value the supervisor owns and passes to every
// component.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/bandit"
	"github.com/rcfuzz/rcfuzz/internal/config"
	"github.com/rcfuzz/rcfuzz/internal/cpuctl"
	"github.com/rcfuzz/rcfuzz/internal/driver"
	"github.com/rcfuzz/rcfuzz/internal/probe"
	"github.com/rcfuzz/rcfuzz/internal/runlog"
	"github.com/rcfuzz/rcfuzz/internal/syncsvc"
)

// GraceSeconds is the extra time past the configured timeout the
// supervisor waits in DRAIN before EXIT, per spec.md §4.8.
const GraceSeconds = 300

// SleepGranule is the largest single sleep the cancellable sleep primitive
// will block for before re-checking the deadline.
const SleepGranule = 60 * time.Second

// Mode is the tagged variant replacing the original Schedule_Base ->
// {Schedule_Focus, Schedule_RCFuzz} class hierarchy (spec.md §9). A
// non-empty FocusFuzzer selects Focus(fuzzer): bandit/policy are bypassed
// entirely and that one fuzzer runs at full share in fixed 300s granules.
type Mode struct {
	FocusFuzzer string
}

// IsFocus reports whether this Mode bypasses bandit/policy selection.
func (m Mode) IsFocus() bool { return m.FocusFuzzer != "" }

// Context is the value every scheduler component reads and, where it owns
// state (Arms), mutates. Background tasks only ever read it.
type Context struct {
	Cfg     *config.Config
	Fuzzers []string // fixed insertion order, spec.md §5 ordering guarantee
	Arms    map[string]*bandit.Arm
	Mode    Mode

	Prober *probe.Prober
	CPU    *cpuctl.Controller
	Sync   syncsvc.SyncService
	Driver driver.Driver
	Buffer *runlog.Buffer
	Logger *slog.Logger

	Clock     func() time.Time
	StartTime time.Time
}

// Now returns the context clock's current time.
func (c *Context) Now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Elapsed returns wall-clock seconds since StartTime.
func (c *Context) Elapsed() time.Duration {
	return c.Now().Sub(c.StartTime)
}

// IsEnd is the global cancellation predicate: wall-clock past
// start+timeout+300s grace.
func (c *Context) IsEnd() bool {
	return c.Elapsed() >= c.Cfg.Scheduler.Timeout+GraceSeconds*time.Second
}

// SleepUntilOrCancel blocks for d, in granules no larger than
// SleepGranule, re-checking IsEnd and ctx.Done each granule. It returns
// early (within one granule) the moment either fires.
func SleepUntilOrCancel(ctx context.Context, sc *Context, d time.Duration) {
	deadline := sc.Now().Add(d)
	for {
		if sc.IsEnd() {
			return
		}
		remaining := deadline.Sub(sc.Now())
		if remaining <= 0 {
			return
		}
		granule := remaining
		if granule > SleepGranule {
			granule = SleepGranule
		}
		timer := time.NewTimer(granule)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ResetThetas resets every arm's theta to the configured initial value, as
// done once at the start of Explore.
func (c *Context) ResetThetas() {
	theta := c.Cfg.Scheduler.ThetaInit()
	for _, arm := range c.Arms {
		arm.ResetTheta(theta)
	}
}
