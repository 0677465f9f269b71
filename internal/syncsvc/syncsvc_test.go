package syncsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRsyncServiceMirrorsQueueBetweenFuzzers(t *testing.T) {
	root := t.TempDir()
	target := "target"
	fuzzers := []string{"afl", "radamsa"}

	for _, f := range fuzzers {
		if err := os.MkdirAll(filepath.Join(root, target, f, "queue"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.MkdirAll(filepath.Join(root, target, f, "sync"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	seed := filepath.Join(root, target, "afl", "queue", "seed-0001")
	if err := os.WriteFile(seed, []byte("seed"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := NewRsyncService(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Sync(ctx, target, fuzzers, root); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	mirrored := filepath.Join(root, target, "radamsa", "sync", "afl", "seed-0001")
	if _, err := os.Stat(mirrored); err != nil {
		t.Fatalf("expected afl's seed mirrored into radamsa's import dir: %v", err)
	}
}

func TestRsyncServiceSkipsSelfPairs(t *testing.T) {
	root := t.TempDir()
	target := "target"
	fuzzers := []string{"afl"}
	if err := os.MkdirAll(filepath.Join(root, target, "afl", "queue"), 0o755); err != nil {
		t.Fatal(err)
	}

	svc := NewRsyncService(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := svc.Sync(ctx, target, fuzzers, root); err != nil {
		t.Fatalf("Sync with a single fuzzer (no pairs) must not fail: %v", err)
	}
}
