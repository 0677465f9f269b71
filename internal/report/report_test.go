package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rcfuzz/rcfuzz/internal/runlog"
)

func sampleRunLog() *runlog.RunLog {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &runlog.RunLog{
		Cmd:       "rcfuzz",
		Algorithm: "rcfuzz",
		StartTime: start,
		EndTime:   start.Add(90 * time.Minute),
		Log: []runlog.CompressedSnapshot{
			{Timestamp: 0, GlobalBits: 50, PerFuzzer: map[string]int{"afl": 30, "radamsa": 25}, UniqueBugs: 1},
			{Timestamp: 60, GlobalBits: 120, PerFuzzer: map[string]int{"afl": 70, "radamsa": 60}, UniqueBugs: 3},
		},
		Round: []runlog.RoundSummary{
			{StartedAt: 600, EndedAt: 660, Picked: []string{"afl"}, FoundNewEdge: true},
			{StartedAt: 660, EndedAt: 720, Picked: []string{"radamsa"}, FoundNewEdge: false},
		},
	}
}

func TestFromRunLog(t *testing.T) {
	r := FromRunLog("nightly run", sampleRunLog())

	require.Equal(t, 2, r.RoundsCompleted)
	require.Equal(t, 2, r.SnapshotsTaken)
	require.Equal(t, 120, r.FinalGlobalBits)
	require.Equal(t, 3, r.FinalUniqueBugs)
	require.Equal(t, 70, r.PerFuzzerBits["afl"])
	require.Equal(t, 90*time.Minute, r.Duration)
}

func TestReport_NewFoundRoundsCount(t *testing.T) {
	r := FromRunLog("nightly run", sampleRunLog())
	require.Equal(t, 1, r.NewFoundRoundsCount())
}

func TestJSONGenerator_Generate(t *testing.T) {
	r := FromRunLog("nightly run", sampleRunLog())
	gen := &JSONGenerator{Indent: true}

	var buf bytes.Buffer
	require.NoError(t, gen.Generate(r, &buf))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, "nightly run", decoded["title"])

	_, ok := decoded["duration"].(string)
	require.True(t, ok, "expected duration to marshal as a string")
}

func TestJSONGenerator_Extension(t *testing.T) {
	gen := &JSONGenerator{}
	require.Equal(t, "json", gen.Extension())
}

func TestHTMLGenerator_Generate(t *testing.T) {
	r := FromRunLog("nightly run", sampleRunLog())
	gen := NewHTMLGenerator()

	var buf bytes.Buffer
	require.NoError(t, gen.Generate(r, &buf))

	html := buf.String()
	require.Contains(t, html, "nightly run")
	require.Contains(t, html, "afl")
}

func TestManager_GenerateAll(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	r := FromRunLog("nightly run", sampleRunLog())

	paths, err := m.GenerateAll(r)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		_, err := os.Stat(p)
		require.NoError(t, err, "expected report file to exist at %s", p)
	}
}

func TestManager_UnknownFormat(t *testing.T) {
	m := NewManager(t.TempDir())
	r := FromRunLog("nightly run", sampleRunLog())

	_, err := m.Generate(r, "xml")
	require.Error(t, err)
}

func TestManager_WriteToWriter(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "reports"))
	r := FromRunLog("nightly run", sampleRunLog())

	var buf bytes.Buffer
	require.NoError(t, m.WriteToWriter(r, "json", &buf))
	require.NotZero(t, buf.Len())
}
