package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPEvaluatorReadsFuzzerReading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fuzzer/afl" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(wireReading{
			BitmapSize:   64,
			BitmapWords:  []uint64{0b101},
			LineCoverage: 10,
			BugsIP:       1,
			BugsTotal:    1,
		})
	}))
	defer srv.Close()

	e := NewHTTPEvaluator(srv.URL, 64, nil)
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

func TestHTTPEvaluatorFreshStartReturnsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	e := NewHTTPEvaluator(srv.URL, 64, nil)
	_, ok, err := e.FuzzerReading(context.Background(), "afl")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected ok=false on 404")
	}
}

func TestHTTPEvaluatorAlive(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" && healthy {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewHTTPEvaluator(srv.URL, 64, nil)
	if !e.Alive(context.Background()) {
		t.Fatal("expected Alive to report true")
	}

	healthy = false
	if e.Alive(context.Background()) {
		t.Fatal("expected Alive to report false once the service degrades")
	}
}

func TestHTTPEvaluatorDedupsRawTraces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wireReading{
			BitmapSize:  64,
			BitmapWords: []uint64{0},
			BugsTrace3:  99,
			RawTraces: []string{
				"SIGSEGV in parse_header at frame 1\nframe 2\nframe 3",
				"heap corruption detected in allocator free list walk",
			},
		})
	}))
	defer srv.Close()

	e := NewHTTPEvaluator(srv.URL, 64, nil)
	r, ok, err := e.GlobalReading(context.Background(), []string{"afl"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r.UniqueBugs.Trace3 == 99 {
		t.Fatal("expected trace3 to be recomputed from raw traces, not passed through")
	}
}
