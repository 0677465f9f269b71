// Package report builds a post-run summary out of a completed run's
// run-log JSON and renders it in one or more output formats.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

// Report is a finished run's summary: the cohort-wide coverage/bug totals
// at the end of the run, plus the full round history for drill-down.
type Report struct {
	Title       string    `json:"title"`
	GeneratedAt time.Time `json:"generated_at"`

	TargetName string `json:"target_name"`
	Algorithm  string `json:"algorithm"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	RoundsCompleted int `json:"rounds_completed"`
	SnapshotsTaken  int `json:"snapshots_taken"`

	FinalGlobalBits int            `json:"final_global_bits"`
	FinalUniqueBugs int            `json:"final_unique_bugs"`
	PerFuzzerBits   map[string]int `json:"per_fuzzer_bits"`

	Rounds []runlog.RoundSummary `json:"rounds"`
}

// MarshalJSON implements custom JSON marshaling so Duration renders as a
// human string rather than a raw nanosecond count.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// FromRunLog summarizes a finished run-log into a Report.
func FromRunLog(title string, log *runlog.RunLog) *Report {
	r := &Report{
		Title:       title,
		GeneratedAt: time.Now(),
		Algorithm:   log.Algorithm,
		StartTime:   log.StartTime,
		EndTime:     log.EndTime,
		Duration:    log.EndTime.Sub(log.StartTime),
		Rounds:      log.Round,
	}
	r.RoundsCompleted = len(log.Round)
	r.SnapshotsTaken = len(log.Log)

	if len(log.Log) > 0 {
		latest := log.Log[len(log.Log)-1]
		r.FinalGlobalBits = latest.GlobalBits
		r.FinalUniqueBugs = latest.UniqueBugs
		r.PerFuzzerBits = latest.PerFuzzer
	}
	if r.PerFuzzerBits == nil {
		r.PerFuzzerBits = make(map[string]int)
	}
	return r
}

// NewFoundRoundsCount reports how many exploit rounds found new coverage.
func (r *Report) NewFoundRoundsCount() int {
	n := 0
	for _, round := range r.Rounds {
		if round.FoundNewEdge {
			n++
		}
	}
	return n
}

// Generator renders a Report in one output format.
type Generator interface {
	Generate(report *Report, w io.Writer) error
	Extension() string
}

// Manager owns the set of registered generators and where they write.
type Manager struct {
	generators map[string]Generator
	outputDir  string
}

// NewManager creates a Manager with the standard json/html generators
// registered.
func NewManager(outputDir string) *Manager {
	m := &Manager{
		generators: make(map[string]Generator),
		outputDir:  outputDir,
	}
	m.RegisterGenerator("json", &JSONGenerator{Indent: true})
	m.RegisterGenerator("html", NewHTMLGenerator())
	return m
}

// RegisterGenerator registers a generator under format.
func (m *Manager) RegisterGenerator(format string, gen Generator) {
	m.generators[format] = gen
}

// GetGenerator returns a registered generator by format.
func (m *Manager) GetGenerator(format string) (Generator, bool) {
	gen, ok := m.generators[format]
	return gen, ok
}

// Generate writes report in the given format under the manager's output
// directory and returns the written path.
func (m *Manager) Generate(report *Report, format string) (string, error) {
	gen, ok := m.generators[format]
	if !ok {
		return "", fmt.Errorf("report: unknown format %q", format)
	}
	if err := os.MkdirAll(m.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("report: create output dir: %w", err)
	}

	name := fmt.Sprintf("report_%s.%s", report.GeneratedAt.Format("20060102_150405"), gen.Extension())
	path := filepath.Join(m.outputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("report: create file: %w", err)
	}
	defer f.Close()

	if err := gen.Generate(report, f); err != nil {
		return "", fmt.Errorf("report: generate %s: %w", format, err)
	}
	return path, nil
}

// GenerateAll writes report in every registered format.
func (m *Manager) GenerateAll(report *Report) ([]string, error) {
	var paths []string
	for format := range m.generators {
		path, err := m.Generate(report, format)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteToWriter generates report in the given format directly to w,
// bypassing the output directory.
func (m *Manager) WriteToWriter(report *Report, format string, w io.Writer) error {
	gen, ok := m.generators[format]
	if !ok {
		return fmt.Errorf("report: unknown format %q", format)
	}
	return gen.Generate(report, w)
}
