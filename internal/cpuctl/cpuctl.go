// Package cpuctl implements the CPU Controller (C4): the per-fuzzer
// CPU-share setter that orchestrates the OS CPU Controller (quota) and the
// Fuzzer Driver (pause/resume/scale).
package cpuctl

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"github.com/rcfuzz/rcfuzz/internal/cgroup"
	"github.com/rcfuzz/rcfuzz/internal/driver"
)

// CallRateLimit caps how often the controller will actually touch the
// driver/cgroup for a single fuzzer, so a misbehaving caller retrying
// SetShare in a tight loop can't hammer the cgroup hierarchy.
const CallRateLimit = 20 // calls per second, per fuzzer

// ShareTolerance is the float tolerance under which two CPU shares are
// considered equal for idempotency purposes.
const ShareTolerance = 1e-9

// PausedQuotaFraction is the fraction of a core a paused fuzzer's quota is
// set to — not zero, so the process stays alive for inspection.
const PausedQuotaFraction = 0.01

// Controller is the sole writer of OS-level CPU quotas. Calls for distinct
// fuzzers may run concurrently; calls for the same fuzzer are serialized
// internally.
type Controller struct {
	Driver driver.Driver
	Cgroup cgroup.Controller
	Logger *slog.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	limiters map[string]*rate.Limiter
	current  map[string]float64
}

// NewController constructs a Controller.
func NewController(d driver.Driver, c cgroup.Controller, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Driver:   d,
		Cgroup:   c,
		Logger:   logger,
		locks:    make(map[string]*sync.Mutex),
		limiters: make(map[string]*rate.Limiter),
		current:  make(map[string]float64),
	}
}

func (c *Controller) lockFor(fuzzer string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[fuzzer]
	if !ok {
		l = &sync.Mutex{}
		c.locks[fuzzer] = l
	}
	return l
}

func (c *Controller) limiterFor(fuzzer string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[fuzzer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(CallRateLimit), 1)
		c.limiters[fuzzer] = l
	}
	return l
}

// SetShare sets fuzzer's CPU share to cpu, a fraction of JOBS. Semantics
// (in order): no-op if unchanged and already known; pause+floor-quota on
// a transition to zero (a fuzzer never seen before is assumed running,
// so the very first SetShare(f, 0) still pauses it); resume on a
// transition from zero; quota write; scale call.
func (c *Controller) SetShare(ctx context.Context, fuzzer string, cpu float64) error {
	l := c.lockFor(fuzzer)
	l.Lock()
	defer l.Unlock()

	c.mu.Lock()
	prev, known := c.current[fuzzer]
	c.mu.Unlock()

	if known && math.Abs(cpu-prev) < ShareTolerance {
		return nil
	}

	if err := c.limiterFor(fuzzer).Wait(ctx); err != nil {
		return fmt.Errorf("cpuctl: rate limit %q: %w", fuzzer, err)
	}

	period, err := c.Cgroup.Period(fuzzer)
	if err != nil {
		return fmt.Errorf("cpuctl: set_share %q: %w", fuzzer, err)
	}

	wasRunning := !known || prev > ShareTolerance

	if cpu <= ShareTolerance && wasRunning {
		if err := c.Driver.Pause(ctx, fuzzer); err != nil {
			return fmt.Errorf("cpuctl: pause %q: %w", fuzzer, err)
		}
		if err := c.Cgroup.SetQuota(fuzzer, int64(float64(period)*PausedQuotaFraction)); err != nil {
			return fmt.Errorf("cpuctl: floor quota %q: %w", fuzzer, err)
		}
		// No scale call while paused: a paused fuzzer's worker count is
		// irrelevant until it is resumed.
		c.mu.Lock()
		c.current[fuzzer] = cpu
		c.mu.Unlock()
		return nil
	}

	if !wasRunning && cpu > ShareTolerance {
		if err := c.Driver.Resume(ctx, fuzzer); err != nil {
			return fmt.Errorf("cpuctl: resume %q: %w", fuzzer, err)
		}
	}

	quota := int64(cpu * float64(period))
	if quota < cgroup.MinQuotaMicros {
		quota = cgroup.MinQuotaMicros
	}
	if err := c.Cgroup.SetQuota(fuzzer, quota); err != nil {
		return fmt.Errorf("cpuctl: quota %q: %w", fuzzer, err)
	}
	if err := c.Driver.Scale(ctx, fuzzer, int(math.Ceil(cpu))); err != nil {
		return fmt.Errorf("cpuctl: scale %q: %w", fuzzer, err)
	}

	c.mu.Lock()
	c.current[fuzzer] = cpu
	c.mu.Unlock()
	return nil
}

// CurrentShare returns the last share set for fuzzer (0 if never set).
func (c *Controller) CurrentShare(fuzzer string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current[fuzzer]
}
