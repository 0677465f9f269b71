// Package runlog owns the supervisor's filesystem layout: the cmdline and
// health marker files, the append-only snapshot/round log, and the final
// run-log JSON written at EXIT. Grounded on the teacher's JSON report
// generator (encoding/json, indent-on-write) adapted from an HTTP-fuzz
// anomaly report to a scheduler run log.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/parallel"
)

// CompressedSnapshot is the fuzzer-info logger's on-disk shape: bitmaps are
// reduced to their popcount to keep the append-only log small, per
// spec.md §4.8's "compressed snapshot (bitmap -> popcount only)" rule.
type CompressedSnapshot struct {
	Timestamp    float64        `json:"timestamp"`
	GlobalBits   int            `json:"global_bits"`
	PerFuzzer    map[string]int `json:"per_fuzzer_bits"`
	UniqueBugs   int            `json:"unique_bugs"`
}

// RoundSummary is one Exploit round's outcome.
type RoundSummary struct {
	StartedAt    float64  `json:"started_at"`
	EndedAt      float64  `json:"ended_at"`
	Picked       []string `json:"picked"`
	FoundNewEdge bool     `json:"found_new_coverage"`
}

// RunLog is the full run-log document written to
// <output>/<target>_<datetime>.json at EXIT.
type RunLog struct {
	Cmd       string               `json:"cmd"`
	Args      []string             `json:"args"`
	Config    interface{}          `json:"config"`
	StartTime time.Time            `json:"start_time"`
	EndTime   time.Time            `json:"end_time"`
	Algorithm string               `json:"algorithm"`
	Log       []CompressedSnapshot `json:"log"`
	Round     []RoundSummary       `json:"round"`
}

// Layout resolves the well-known paths under one supervisor run's output
// directory.
type Layout struct {
	OutputDir string
	Target    string
}

func (l Layout) path(name string) string { return filepath.Join(l.OutputDir, name) }

// CmdlinePath is <output>/cmdline.
func (l Layout) CmdlinePath() string { return l.path("cmdline") }

// HealthPath is <output>/health.
func (l Layout) HealthPath() string { return l.path("health") }

// FinishPath is <output>/finish.
func (l Layout) FinishPath() string { return l.path("finish") }

// RunLogPath is <output>/<target>_<datetime>.json.
func (l Layout) RunLogPath(at time.Time) string {
	return l.path(fmt.Sprintf("%s_%s.json", l.Target, at.Format("20060102_150405")))
}

// ArchivePath is <output>/<target>_<datetime>.tar.gz, or <output>/<target>.tar.gz
// when dated is false.
func (l Layout) ArchivePath(at time.Time, dated bool) string {
	if !dated {
		return l.path(l.Target + ".tar.gz")
	}
	return l.path(fmt.Sprintf("%s_%s.tar.gz", l.Target, at.Format("20060102_150405")))
}

// WriteCmdline writes the literal invocation to <output>/cmdline.
func (l Layout) WriteCmdline(args []string) error {
	if err := os.MkdirAll(l.OutputDir, 0o755); err != nil {
		return fmt.Errorf("runlog: mkdir output dir: %w", err)
	}
	line := ""
	for i, a := range args {
		if i > 0 {
			line += " "
		}
		line += a
	}
	return os.WriteFile(l.CmdlinePath(), []byte(line+"\n"), 0o644)
}

// TouchHealth updates the health file's mtime, called every 60s by the
// health background task.
func (l Layout) TouchHealth() error {
	return touch(l.HealthPath())
}

// TouchFinish creates the finish marker at DRAIN.
func (l Layout) TouchFinish() error {
	return touch(l.FinishPath())
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("runlog: touch %s: %w", path, err)
	}
	now := time.Now()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(path, now, now)
}

// Buffer is the append-only in-memory log buffer the background log-flush
// task periodically dumps to disk. Built on a lock-free queue so the
// scheduler's hot path (appending a snapshot or round summary) never
// blocks behind a flush in progress.
type Buffer struct {
	snapshots *parallel.LockFreeQueue
	rounds    *parallel.LockFreeQueue
}

// NewBuffer constructs an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		snapshots: parallel.NewLockFreeQueue(),
		rounds:    parallel.NewLockFreeQueue(),
	}
}

// AppendSnapshot enqueues a compressed snapshot. Monotonic timestamp order
// is the caller's responsibility (the fuzzer-info logger only ever appends
// in real time).
func (b *Buffer) AppendSnapshot(s CompressedSnapshot) { b.snapshots.Enqueue(s) }

// AppendRound enqueues a round summary.
func (b *Buffer) AppendRound(r RoundSummary) { b.rounds.Enqueue(r) }

// Drain empties the buffer and returns everything collected so far, in
// FIFO order.
func (b *Buffer) Drain() ([]CompressedSnapshot, []RoundSummary) {
	var snaps []CompressedSnapshot
	for {
		v, ok := b.snapshots.Dequeue()
		if !ok {
			break
		}
		snaps = append(snaps, v.(CompressedSnapshot))
	}
	var rounds []RoundSummary
	for {
		v, ok := b.rounds.Dequeue()
		if !ok {
			break
		}
		rounds = append(rounds, v.(RoundSummary))
	}
	return snaps, rounds
}

// Flush writes the buffer's current contents into log, appending to its
// Log/Round slices. Called by the log-flush background task every 60s and
// once more at EXIT.
func (b *Buffer) Flush(log *RunLog) {
	snaps, rounds := b.Drain()
	log.Log = append(log.Log, snaps...)
	log.Round = append(log.Round, rounds...)
}

// Write marshals log as indented JSON to path.
func Write(path string, log *RunLog) error {
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("runlog: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("runlog: write %s: %w", path, err)
	}
	return nil
}
