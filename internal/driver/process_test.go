package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sleepCmd(p StartParams) (string, []string) {
	return "sleep", []string{"5"}
}

func TestProcessDriverStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	d := NewProcessDriver(sleepCmd, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := d.Start(ctx, StartParams{Fuzzer: "afl", OutputDir: filepath.Join(dir, "afl")})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Stop(ctx, "afl"); err != nil {
		t.Fatal(err)
	}
	// stop again must be a no-op
	if err := d.Stop(ctx, "afl"); err != nil {
		t.Fatalf("second stop must be idempotent, got %v", err)
	}
}

func TestProcessDriverScaleWritesControlFile(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "afl")
	d := NewProcessDriver(sleepCmd, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.Start(ctx, StartParams{Fuzzer: "afl", OutputDir: outDir}); err != nil {
		t.Fatal(err)
	}
	defer d.Stop(ctx, "afl")

	if err := d.Scale(ctx, "afl", 4); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "scale"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "4" {
		t.Fatalf("scale file = %q, want \"4\"", data)
	}
}
