// Package syncsvc defines the Sync Service collaborator: cross-fuzzer seed
// corpus copying, treated by the scheduler as an opaque blocking call.
package syncsvc

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// SyncService copies new seeds between fuzzer queues under root for the
// named target and fuzzer set. Implementations must block until the copy
// is complete; the scheduler does not interpret the result beyond
// success/failure.
type SyncService interface {
	Sync(ctx context.Context, target string, fuzzers []string, rootDir string) error
}

// RsyncService shells out to rsync to mirror each fuzzer's queue directory
// into every other fuzzer's import directory. Mirrors the original
// scheduler's treatment of corpus sync as a single opaque subprocess call.
type RsyncService struct {
	Logger *slog.Logger
}

// NewRsyncService constructs an RsyncService.
func NewRsyncService(logger *slog.Logger) *RsyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RsyncService{Logger: logger}
}

// Sync implements SyncService.
func (s *RsyncService) Sync(ctx context.Context, target string, fuzzers []string, rootDir string) error {
	for _, src := range fuzzers {
		for _, dst := range fuzzers {
			if src == dst {
				continue
			}
			srcDir := rootDir + "/" + target + "/" + src + "/queue/"
			dstDir := rootDir + "/" + target + "/" + dst + "/sync/" + src + "/"
			cmd := exec.CommandContext(ctx, "rsync", "-a", "--ignore-existing", srcDir, dstDir)
			if out, err := cmd.CombinedOutput(); err != nil {
				return fmt.Errorf("syncsvc: rsync %s->%s: %w: %s", src, dst, err, out)
			}
		}
	}
	s.Logger.Debug("corpus sync complete", "target", target, "fuzzers", fuzzers)
	return nil
}
