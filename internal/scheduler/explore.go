package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rcfuzz/rcfuzz/internal/bitmap"
)

// ExploreSubRoundDuration is the granule duration τ of one Explore
// sub-round (spec.md §4.6).
const ExploreSubRoundDuration = 30 * time.Second

// RunExplore probes every fuzzer under one-at-a-time exclusive CPU for a
// total of ExploreTime seconds, updating bandit arms as it goes. Runs
// exactly once per supervisor lifetime, at the beginning.
//
// Each outer iteration is one sub-round of wall-clock duration
// min(remain, τ); the source this was distilled from debits remain by
// run_time while looping once per fuzzer inside (so it actually burns
// |fuzzers|·run_time wall seconds per debit). This implementation instead
// splits one sub-round's duration evenly across all fuzzers, so one
// sub-round's wall time matches what gets debited from remain.
func RunExplore(ctx context.Context, sc *Context) error {
	remain := sc.Cfg.Scheduler.ExploreTime
	prev, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
	if err != nil {
		return fmt.Errorf("explore: initial snapshot: %w", err)
	}

	sc.ResetThetas()

	for remain > 0 && !sc.IsEnd() && ctx.Err() == nil {
		slice := remain
		if slice > ExploreSubRoundDuration {
			slice = ExploreSubRoundDuration
		}

		if err := runExploreSubRound(ctx, sc, slice); err != nil {
			return err
		}

		cur, err := sc.Prober.RequireSnapshot(ctx, sc.Fuzzers)
		if err != nil {
			return fmt.Errorf("explore: sub-round snapshot: %w", err)
		}

		for _, f := range sc.Fuzzers {
			after := cur.PerFuzzer[f].Bitmap
			delta, err := bitmap.Diff(after, prev.Global.Bitmap)
			if err != nil {
				return fmt.Errorf("explore: diff for %q: %w", f, err)
			}
			success := float64(delta.Popcount()) > sc.Arms[f].Theta
			sc.Arms[f].Record(success)
		}

		if err := sc.Sync.Sync(ctx, sc.Cfg.Target.Name, sc.Fuzzers, sc.Cfg.Scheduler.InputDir); err != nil {
			return fmt.Errorf("explore: sync: %w", err)
		}

		remain -= slice
		prev = cur
	}

	return nil
}

// runExploreSubRound activates every fuzzer in fixed insertion order,
// giving each an equal fraction of slice under exclusive CPU.
func runExploreSubRound(ctx context.Context, sc *Context, slice time.Duration) error {
	if len(sc.Fuzzers) == 0 {
		return nil
	}
	perFuzzer := slice / time.Duration(len(sc.Fuzzers))

	for _, f := range sc.Fuzzers {
		for _, other := range sc.Fuzzers {
			share := 0.0
			if other == f {
				share = sc.Cfg.Scheduler.Jobs
			}
			if err := sc.CPU.SetShare(ctx, other, share); err != nil {
				return fmt.Errorf("explore: set_share %q: %w", other, err)
			}
		}
		SleepUntilOrCancel(ctx, sc, perFuzzer)
		if sc.IsEnd() || ctx.Err() != nil {
			return nil
		}
	}
	return nil
}
