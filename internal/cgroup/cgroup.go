// Package cgroup defines the OS CPU Controller collaborator: writing a
// per-fuzzer CPU quota under a supervisor-specific cgroup v2 hierarchy.
// No cgroup-writing library exists anywhere in the dependency set this
// project draws from; a quota write is two lines of file I/O, so plain
// os/path-filepath is the correct, minimal choice rather than an
// ambient-stack gap.
package cgroup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MinQuotaMicros is the minimum CPU quota the controller will ever set,
// floored so a paused fuzzer stays alive for inspection rather than being
// starved entirely.
const MinQuotaMicros = 1000

// Controller sets a CPU quota for a named fuzzer under a supervisor-owned
// hierarchy.
type Controller interface {
	// SetQuota sets fuzzer's cpu.max quota to quotaMicros out of the
	// hierarchy's period.
	SetQuota(fuzzer string, quotaMicros int64) error
	// Period returns the cfs period in microseconds, read from the
	// hierarchy.
	Period(fuzzer string) (int64, error)
}

// V2Controller writes cgroup v2's cpu.max file directly.
type V2Controller struct {
	// Root is the cgroup v2 mountpoint housing one subdirectory per
	// fuzzer, e.g. /sys/fs/cgroup/rcfuzz/<fuzzer>/cpu.max.
	Root string
}

// NewV2Controller constructs a V2Controller rooted at root.
func NewV2Controller(root string) *V2Controller {
	return &V2Controller{Root: root}
}

func (c *V2Controller) cpuMaxPath(fuzzer string) string {
	return filepath.Join(c.Root, fuzzer, "cpu.max")
}

// Period implements Controller by reading the period field out of cpu.max
// ("$MAX $PERIOD").
func (c *V2Controller) Period(fuzzer string) (int64, error) {
	data, err := os.ReadFile(c.cpuMaxPath(fuzzer))
	if err != nil {
		return 0, fmt.Errorf("cgroup: read cpu.max for %q: %w", fuzzer, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return 0, fmt.Errorf("cgroup: malformed cpu.max for %q: %q", fuzzer, data)
	}
	period, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cgroup: parse period for %q: %w", fuzzer, err)
	}
	return period, nil
}

// SetQuota implements Controller, floored at MinQuotaMicros.
func (c *V2Controller) SetQuota(fuzzer string, quotaMicros int64) error {
	if quotaMicros < MinQuotaMicros {
		quotaMicros = MinQuotaMicros
	}
	period, err := c.Period(fuzzer)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%d %d\n", quotaMicros, period)
	if err := os.WriteFile(c.cpuMaxPath(fuzzer), []byte(line), 0o644); err != nil {
		return fmt.Errorf("cgroup: write cpu.max for %q: %w", fuzzer, err)
	}
	return nil
}
