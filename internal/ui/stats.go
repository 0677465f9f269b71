// Package ui provides statistics display components.
package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stats holds the cohort's coverage and bug state, updated from the
// scheduler's FuzzerInfo snapshots and round summaries.
type Stats struct {
	mu sync.RWMutex

	StartTime time.Time

	RoundsCompleted  int64
	SnapshotsTaken   int64
	LastRoundNewEdge bool

	GlobalBits         int
	GlobalLineCoverage int

	BugsIP     int
	BugsTrace  int
	BugsTrace3 int
	BugsTotal  int

	PerFuzzerBits map[string]int

	Mode string // "explore", "exploit", or "" before warmup completes
}

// NewStats creates a new Stats instance
func NewStats() *Stats {
	return &Stats{
		StartTime:     time.Now(),
		PerFuzzerBits: make(map[string]int),
	}
}

// RecordSnapshot folds one probe snapshot into the running display state.
func (s *Stats) RecordSnapshot(mode string, globalBits, lineCoverage, bugsIP, bugsTrace, bugsTrace3, bugsTotal int, perFuzzerBits map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SnapshotsTaken++
	s.Mode = mode
	s.GlobalBits = globalBits
	s.GlobalLineCoverage = lineCoverage
	s.BugsIP = bugsIP
	s.BugsTrace = bugsTrace
	s.BugsTrace3 = bugsTrace3
	s.BugsTotal = bugsTotal

	for k := range s.PerFuzzerBits {
		delete(s.PerFuzzerBits, k)
	}
	for k, v := range perFuzzerBits {
		s.PerFuzzerBits[k] = v
	}
}

// RecordRound marks one exploit round's completion.
func (s *Stats) RecordRound(foundNewEdge bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.RoundsCompleted++
	s.LastRoundNewEdge = foundNewEdge
}

// GetElapsedTime returns the elapsed time since start
func (s *Stats) GetElapsedTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.StartTime)
}

// Snapshot returns a copy of current stats
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perFuzzer := make(map[string]int, len(s.PerFuzzerBits))
	for k, v := range s.PerFuzzerBits {
		perFuzzer[k] = v
	}

	return StatsSnapshot{
		RoundsCompleted:    s.RoundsCompleted,
		SnapshotsTaken:     s.SnapshotsTaken,
		LastRoundNewEdge:   s.LastRoundNewEdge,
		GlobalBits:         s.GlobalBits,
		GlobalLineCoverage: s.GlobalLineCoverage,
		BugsIP:             s.BugsIP,
		BugsTrace:          s.BugsTrace,
		BugsTrace3:         s.BugsTrace3,
		BugsTotal:          s.BugsTotal,
		PerFuzzerBits:      perFuzzer,
		Mode:               s.Mode,
		ElapsedTime:        time.Since(s.StartTime),
	}
}

// StatsSnapshot is an immutable snapshot of stats
type StatsSnapshot struct {
	RoundsCompleted    int64
	SnapshotsTaken     int64
	LastRoundNewEdge   bool
	GlobalBits         int
	GlobalLineCoverage int
	BugsIP             int
	BugsTrace          int
	BugsTrace3         int
	BugsTotal          int
	PerFuzzerBits      map[string]int
	Mode               string
	ElapsedTime        time.Duration
}

// StatsView renders the statistics panel
type StatsView struct {
	width  int
	height int
}

// NewStatsView creates a new stats view
func NewStatsView(width, height int) *StatsView {
	return &StatsView{
		width:  width,
		height: height,
	}
}

// SetSize updates the view size
func (v *StatsView) SetSize(width, height int) {
	v.width = width
	v.height = height
}

// Render renders the stats view
func (v *StatsView) Render(snap StatsSnapshot) string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("📊 Coverage"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Mode", strings.ToUpper(snap.Mode)))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Global bits", formatNumber(int64(snap.GlobalBits))))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Line coverage", formatNumber(int64(snap.GlobalLineCoverage))))
	b.WriteString("\n")
	b.WriteString(RenderLabelValue("Rounds", formatNumber(snap.RoundsCompleted)))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("🐛 Unique bugs"))
	b.WriteString("\n\n")

	b.WriteString(RenderLabelValue("Total", formatNumber(int64(snap.BugsTotal))))
	b.WriteString("\n")
	b.WriteString("  ")
	b.WriteString(BugIPStyle.Render(fmt.Sprintf("ip: %d", snap.BugsIP)))
	b.WriteString(" | ")
	b.WriteString(BugTraceStyle.Render(fmt.Sprintf("trace: %d", snap.BugsTrace)))
	b.WriteString(" | ")
	b.WriteString(BugTrace3Style.Render(fmt.Sprintf("trace3: %d", snap.BugsTrace3)))
	b.WriteString("\n\n")

	b.WriteString(HeaderStyle.Render("⚡ Cohort"))
	b.WriteString("\n\n")
	b.WriteString(RenderLabelValue("Elapsed", formatDuration(snap.ElapsedTime)))
	b.WriteString("\n")

	for _, name := range sortedKeys(snap.PerFuzzerBits) {
		b.WriteString(RenderLabelValue(name, formatNumber(int64(snap.PerFuzzerBits[name]))))
		b.WriteString("\n")
	}

	return StatsPanelStyle.Width(v.width).Render(b.String())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// Helper functions

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
