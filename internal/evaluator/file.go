package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rcfuzz/rcfuzz/internal/bitmap"
	"github.com/rcfuzz/rcfuzz/internal/tracesim"
)

// wireReading is the on-disk shape the Evaluator's background service
// writes under <output>/eval/<fuzzer>.json: a flat JSON document holding
// the packed bitmap words alongside coverage and bug counts.
type wireReading struct {
	BitmapSize   int      `json:"bitmap_size"`
	BitmapWords  []uint64 `json:"bitmap_words"`
	LineCoverage int      `json:"line_coverage"`
	BugsIP       int      `json:"bugs_ip"`
	BugsTrace    int      `json:"bugs_trace"`
	BugsTrace3   int      `json:"bugs_trace3"`
	BugsTotal    int      `json:"bugs_total"`
	// RawTraces carries crash-trace text, when the background Evaluator
	// service captured it, for fuzzy trace3 dedup (see toReading).
	RawTraces []string `json:"raw_traces,omitempty"`
}

// FileEvaluator polls <output>/eval/<fuzzer>.json and <output>/eval/global.json
// for readings written out-of-process by the Evaluator background service,
// and <output>/eval/seed-finished for seed-evaluation completion.
type FileEvaluator struct {
	OutputDir  string
	BitmapSize int
	Logger     *slog.Logger
}

// NewFileEvaluator constructs a FileEvaluator rooted at outputDir, expecting
// bitmaps of bitmapSize bits.
func NewFileEvaluator(outputDir string, bitmapSize int, logger *slog.Logger) *FileEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileEvaluator{OutputDir: outputDir, BitmapSize: bitmapSize, Logger: logger}
}

func (e *FileEvaluator) evalPath(name string) string {
	return filepath.Join(e.OutputDir, "eval", name)
}

func (e *FileEvaluator) readWire(path string) (wireReading, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return wireReading{}, false, nil
		}
		return wireReading{}, false, fmt.Errorf("evaluator: read %s: %w", path, err)
	}
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return wireReading{}, false, fmt.Errorf("evaluator: decode %s: %w", path, err)
	}
	return w, true, nil
}

func (e *FileEvaluator) toReading(fuzzer string, w wireReading) (Reading, error) {
	bm, err := bitmap.FromWords(e.BitmapSize, w.BitmapWords)
	if err != nil {
		return Reading{}, err
	}
	trace3 := w.BugsTrace3
	if len(w.RawTraces) > 0 {
		trace3 = tracesim.DedupTraces(w.RawTraces)
	}
	return Reading{
		FuzzerID: fuzzer,
		Coverage: Coverage{Bitmap: bm, LineCoverage: w.LineCoverage},
		UniqueBugs: UniqueBugs{
			IP:        w.BugsIP,
			Trace:     w.BugsTrace,
			Trace3:    trace3,
			Total:     w.BugsTotal,
			RawTraces: w.RawTraces,
		},
	}, nil
}

// FuzzerReading implements Evaluator.
func (e *FileEvaluator) FuzzerReading(ctx context.Context, fuzzer string) (Reading, bool, error) {
	w, ok, err := e.readWire(e.evalPath(fuzzer + ".json"))
	if err != nil || !ok {
		return Reading{}, ok, err
	}
	r, err := e.toReading(fuzzer, w)
	return r, true, err
}

// GlobalReading implements Evaluator.
func (e *FileEvaluator) GlobalReading(ctx context.Context, fuzzers []string) (Reading, bool, error) {
	w, ok, err := e.readWire(e.evalPath("global.json"))
	if err != nil || !ok {
		return Reading{}, ok, err
	}
	r, err := e.toReading("", w)
	return r, true, err
}

// Alive implements Evaluator by checking the output directory is still
// reachable; a real deployment would instead ping the Evaluator's own
// liveness endpoint.
func (e *FileEvaluator) Alive(ctx context.Context) bool {
	_, err := os.Stat(e.OutputDir)
	return err == nil
}

// SeedFinished implements Evaluator.
func (e *FileEvaluator) SeedFinished(ctx context.Context) (bool, error) {
	_, err := os.Stat(e.evalPath("seed-finished"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("evaluator: stat seed-finished: %w", err)
}
