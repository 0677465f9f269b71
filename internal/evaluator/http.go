package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/rcfuzz/rcfuzz/internal/bitmap"
	"github.com/rcfuzz/rcfuzz/internal/tracesim"
)

// HTTPEvaluator talks to a networked Evaluator service over HTTP, for
// deployments where coverage extraction runs as its own process rather
// than writing files the scheduler polls. Grounded on the teacher's
// fasthttp-backed request engine.
type HTTPEvaluator struct {
	BaseURL    string
	BitmapSize int
	Client     *fasthttp.Client
	Logger     *slog.Logger
}

// NewHTTPEvaluator constructs an HTTPEvaluator against baseURL (e.g.
// "http://127.0.0.1:9000").
func NewHTTPEvaluator(baseURL string, bitmapSize int, logger *slog.Logger) *HTTPEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEvaluator{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		BitmapSize: bitmapSize,
		Client:     &fasthttp.Client{MaxConnsPerHost: 8},
		Logger:     logger,
	}
}

func (e *HTTPEvaluator) get(ctx context.Context, path string) ([]byte, int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(e.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodGet)

	deadline := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < deadline {
			deadline = d
		}
	}

	if err := e.Client.DoTimeout(req, resp, deadline); err != nil {
		return nil, 0, fmt.Errorf("evaluator: http get %s: %w", path, err)
	}
	body := append([]byte(nil), resp.Body()...)
	return body, resp.StatusCode(), nil
}

func (e *HTTPEvaluator) toReading(fuzzer string, w wireReading) (Reading, error) {
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
func (e *HTTPEvaluator) FuzzerReading(ctx context.Context, fuzzer string) (Reading, bool, error) {
	body, status, err := e.get(ctx, "/fuzzer/"+fuzzer)
	if err != nil {
		return Reading{}, false, err
	}
	if status == fasthttp.StatusNotFound {
		return Reading{}, false, nil
	}
	if status != fasthttp.StatusOK {
		return Reading{}, false, fmt.Errorf("evaluator: http get /fuzzer/%s: status %d", fuzzer, status)
	}
	var w wireReading
	if err := json.Unmarshal(body, &w); err != nil {
		return Reading{}, false, fmt.Errorf("evaluator: decode response: %w", err)
	}
	r, err := e.toReading(fuzzer, w)
	return r, true, err
}

// GlobalReading implements Evaluator.
func (e *HTTPEvaluator) GlobalReading(ctx context.Context, fuzzers []string) (Reading, bool, error) {
	body, status, err := e.get(ctx, "/global")
	if err != nil {
		return Reading{}, false, err
	}
	if status == fasthttp.StatusNotFound {
		return Reading{}, false, nil
	}
	if status != fasthttp.StatusOK {
		return Reading{}, false, fmt.Errorf("evaluator: http get /global: status %d", status)
	}
	var w wireReading
	if err := json.Unmarshal(body, &w); err != nil {
		return Reading{}, false, fmt.Errorf("evaluator: decode response: %w", err)
	}
	r, err := e.toReading("", w)
	return r, true, err
}

// Alive implements Evaluator.
func (e *HTTPEvaluator) Alive(ctx context.Context) bool {
	_, status, err := e.get(ctx, "/health")
	return err == nil && status == fasthttp.StatusOK
}

// SeedFinished implements Evaluator.
func (e *HTTPEvaluator) SeedFinished(ctx context.Context) (bool, error) {
	_, status, err := e.get(ctx, "/seed-finished")
	if err != nil {
		return false, err
	}
	return status == fasthttp.StatusOK, nil
}
