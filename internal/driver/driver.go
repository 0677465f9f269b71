// Package driver defines the Fuzzer Driver collaborator: the external
// entry point that actually starts, stops, pauses, resumes and scales a
// single fuzzer kind's process. The scheduler never manages fuzzer
// processes directly; it only calls through this interface.
package driver

import "context"

// StartParams carries everything a Driver needs to launch one fuzzer.
type StartParams struct {
	Fuzzer     string
	SeedDir    string
	OutputDir  string
	Target     string
	Args       []string
	Jobs       int
	CgroupPath string
}

// Driver is implemented once per fuzzer kind (afl, aflfast, libfuzzer, ...).
// Stop must be idempotent: calling it on an already-stopped fuzzer is not
// an error.
type Driver interface {
	Start(ctx context.Context, p StartParams) error
	Stop(ctx context.Context, fuzzer string) error
	Pause(ctx context.Context, fuzzer string) error
	Resume(ctx context.Context, fuzzer string) error
	// Scale sets the fuzzer's internal worker count to n (n >= 1).
	Scale(ctx context.Context, fuzzer string, n int) error
}

// ReadyFile is the filename the driver creates under
// <output>/<target>/<fuzzer>/ to signal readiness.
const ReadyFile = "ready"
