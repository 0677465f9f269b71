// Package config handles configuration loading for the scheduler: CLI
// flags merged with defaults into a single immutable Config value.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// CrashMode selects how the Evaluator deduplicates crashes for the
// bandit/policy-facing "unique_bugs" count.
type CrashMode string

const (
	CrashModeIP    CrashMode = "ip"
	CrashModeTrace CrashMode = "trace"
)

// Config is the full scheduler configuration: target, fuzzer cohort, and
// scheduling parameters. Built once at startup and shared by pointer
// thereafter (see scheduler.Context.Cfg).
type Config struct {
	Target    TargetConfig              `yaml:"target"`
	Fuzzers   map[string]FuzzerConfig   `yaml:"fuzzers"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
	Output    OutputConfig              `yaml:"output"`
}

// TargetConfig describes the binary under test.
type TargetConfig struct {
	Name       string   `yaml:"name"`
	Binary     string   `yaml:"binary"`
	Args       []string `yaml:"args"`
	BitmapSize int      `yaml:"bitmap_size"`
}

// FuzzerConfig describes one candidate fuzzer kind's static parameters.
type FuzzerConfig struct {
	Name string `yaml:"name"`
	// Diff is the static per-fuzzer difficulty constant folded into its
	// BanditArm (spec's "diff" field), independent of the CLI --diff flag
	// which seeds the initial theta.
	Diff float64 `yaml:"diff"`
	Jobs int     `yaml:"jobs"`
}

// SchedulerConfig holds the run-wide scheduling parameters, mirroring the
// original CLI contract (--explore/--exploit/--sync/--timeout/...).
type SchedulerConfig struct {
	InputDir    string        `yaml:"input"`
	OutputDir   string        `yaml:"output"`
	Fuzzers     []string      `yaml:"fuzzer"`
	ExploreTime time.Duration `yaml:"explore"`
	ExploitTime time.Duration `yaml:"exploit"`
	SyncTime    time.Duration `yaml:"sync"`
	Timeout     time.Duration `yaml:"timeout"`
	EmptySeed   bool          `yaml:"empty_seed"`
	CrashMode   CrashMode     `yaml:"crash_mode"`
	// FocusOne, when non-empty, bypasses bandit/policy selection entirely
	// and focuses a single named fuzzer for the whole run (spec.md §9's
	// Focus(fuzzer) mode).
	FocusOne string `yaml:"focus_one"`
	// Threshold is theta_init, the initial adaptive productivity
	// threshold every bandit arm is reset to at the start of Explore.
	Threshold float64 `yaml:"threshold"`
	// Diff is read at startup (original CLI flag --diff) and, when set,
	// overrides Threshold as the initial theta of every arm (see
	// ThetaInit). Resolves spec.md §9's ARGS.diff
	// open question: add the flag rather than silently dropping it.
	Diff    *float64 `yaml:"diff"`
	Tar     bool     `yaml:"tar"`
	// JOBS is the total CPU budget the supervisor may distribute, typically 1.
	Jobs float64 `yaml:"jobs"`
}

// OutputConfig controls ancillary reporting surfaces (TUI, web dashboard).
type OutputConfig struct {
	EnableTUI bool   `yaml:"enable_tui"`
	EnableWeb bool   `yaml:"enable_web"`
	WebAddr   string `yaml:"web_addr"`
	Verbose   bool   `yaml:"verbose"`
}

// AllFuzzerKinds lists every fuzzer kind the CLI recognizes for --fuzzer,
// mirroring the original CLI's choice set.
var AllFuzzerKinds = []string{
	"afl", "aflfast", "fairfuzz", "mopt", "lafintel",
	"learnafl", "redqueen", "radamsa", "qsym", "angora", "libfuzzer",
}

// DefaultConfig returns the scheduler's baseline configuration.
func DefaultConfig() *Config {
	return &Config{
		Target: TargetConfig{BitmapSize: 1 << 16},
		Fuzzers: map[string]FuzzerConfig{},
		Scheduler: SchedulerConfig{
			ExploreTime: 10 * time.Minute,
			ExploitTime: 60 * time.Second,
			SyncTime:    5 * time.Minute,
			Timeout:     24 * time.Hour,
			CrashMode:   CrashModeIP,
			Threshold:   10,
			Jobs:        1,
		},
		Output: OutputConfig{},
	}
}

// Load reads a YAML config file and merges it over DefaultConfig.
func Load(path string, readFile func(string) ([]byte, error)) (*Config, error) {
	cfg := DefaultConfig()
	data, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ThetaInit resolves the initial theta each bandit arm is reset to at the
// start of Explore: --diff when set, else --threshold.
func (s SchedulerConfig) ThetaInit() float64 {
	if s.Diff != nil {
		return *s.Diff
	}
	return s.Threshold
}
