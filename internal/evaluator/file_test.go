package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeWire(t *testing.T, dir, name string, w wireReading) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "eval"), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "eval", name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFileEvaluatorFreshStartReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvaluator(dir, 64, nil)
	_, ok, err := e.FuzzerReading(context.Background(), "afl")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false for fresh fuzzer with no eval file yet")
	}
}

func TestFileEvaluatorReadsReading(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvaluator(dir, 64, nil)
	writeWire(t, dir, "afl.json", wireReading{
		BitmapSize:   64,
		BitmapWords:  []uint64{0b101},
		LineCoverage: 10,
		BugsIP:       1,
		BugsTotal:    1,
	})
	r, ok, err := e.FuzzerReading(context.Background(), "afl")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r.Coverage.Bitmap.Popcount() != 2 {
		t.Fatalf("popcount = %d, want 2", r.Coverage.Bitmap.Popcount())
	}
	if r.UniqueBugs.Total != 1 {
		t.Fatalf("bugs total = %d, want 1", r.UniqueBugs.Total)
	}
}

func TestFileEvaluatorComputesTrace3FromRawTraces(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvaluator(dir, 64, nil)
	writeWire(t, dir, "afl.json", wireReading{
		BitmapSize:  64,
		BitmapWords: []uint64{0},
		BugsTrace3:  99, // must be overridden by the raw-trace recomputation
		RawTraces: []string{
			"SIGSEGV in parse_header at frame 1\nframe 2\nframe 3",
			"heap corruption detected in allocator free list walk",
		},
	})
	r, ok, err := e.FuzzerReading(context.Background(), "afl")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r.UniqueBugs.Trace3 != 2 {
		t.Fatalf("trace3 = %d, want 2 distinct clusters", r.UniqueBugs.Trace3)
	}
}

func TestFileEvaluatorSeedFinished(t *testing.T) {
	dir := t.TempDir()
	e := NewFileEvaluator(dir, 64, nil)
	done, err := e.SeedFinished(context.Background())
	if err != nil || done {
		t.Fatalf("expected not finished yet, got done=%v err=%v", done, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "eval"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "eval", "seed-finished"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	done, err = e.SeedFinished(context.Background())
	if err != nil || !done {
		t.Fatalf("expected finished, got done=%v err=%v", done, err)
	}
}
