package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLayoutPaths(t *testing.T) {
	l := Layout{OutputDir: "/tmp/out", Target: "demo"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := l.RunLogPath(at); got != filepath.Join("/tmp/out", "demo_20260102_030405.json") {
		t.Fatalf("unexpected run log path: %s", got)
	}
	if got := l.ArchivePath(at, false); got != filepath.Join("/tmp/out", "demo.tar.gz") {
		t.Fatalf("unexpected archive path: %s", got)
	}
}

func TestWriteCmdlineAndTouch(t *testing.T) {
	dir := t.TempDir()
	l := Layout{OutputDir: dir, Target: "demo"}
	if err := l.WriteCmdline([]string{"rcfuzz", "--target", "demo"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(l.CmdlinePath())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "rcfuzz --target demo\n" {
		t.Fatalf("cmdline = %q", data)
	}
	if err := l.TouchHealth(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(l.HealthPath()); err != nil {
		t.Fatal(err)
	}
}

func TestBufferDrainIsFIFO(t *testing.T) {
	b := NewBuffer()
	b.AppendSnapshot(CompressedSnapshot{Timestamp: 1})
	b.AppendSnapshot(CompressedSnapshot{Timestamp: 2})
	b.AppendRound(RoundSummary{StartedAt: 1})

	snaps, rounds := b.Drain()
	if len(snaps) != 2 || snaps[0].Timestamp != 1 || snaps[1].Timestamp != 2 {
		t.Fatalf("unexpected snapshot drain order: %+v", snaps)
	}
	if len(rounds) != 1 {
		t.Fatalf("unexpected round drain: %+v", rounds)
	}

	snaps2, rounds2 := b.Drain()
	if len(snaps2) != 0 || len(rounds2) != 0 {
		t.Fatalf("expected empty buffer after drain, got %v %v", snaps2, rounds2)
	}
}

func TestFlushAppendsToRunLog(t *testing.T) {
	b := NewBuffer()
	b.AppendSnapshot(CompressedSnapshot{Timestamp: 5})
	log := &RunLog{Algorithm: "rcfuzz"}
	b.Flush(log)
	if len(log.Log) != 1 {
		t.Fatalf("expected 1 log entry after flush, got %d", len(log.Log))
	}
}

func TestWriteProducesReadableJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	log := &RunLog{Algorithm: "rcfuzz", Cmd: "rcfuzz"}
	if err := Write(path, log); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}
