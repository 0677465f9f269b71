// Package ui provides a TUI dashboard for rcfuzz, showing the scheduler's
// live phase, coverage, and bug counts without blocking the run itself.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Status mirrors the supervisor's lifecycle state machine for display.
type Status int

const (
	StatusInit Status = iota
	StatusWarmup
	StatusExplore
	StatusExploit
	StatusDrain
	StatusExit
)

func (s Status) String() string {
	switch s {
	case StatusInit:
		return "Init"
	case StatusWarmup:
		return "Warmup"
	case StatusExplore:
		return "Explore"
	case StatusExploit:
		return "Exploit"
	case StatusDrain:
		return "Drain"
	case StatusExit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// LogEntry represents a log message
type LogEntry struct {
	Time    time.Time
	Level   string
	Message string
}

// Dashboard is the main TUI model. It only renders state pushed in by the
// caller (SetPhase/AddLog/RecordSnapshot/RecordRound) — it never drives the
// scheduler itself, so closing the TUI never stops a run.
type Dashboard struct {
	width  int
	height int

	status    Status
	stats     *Stats
	statsView *StatsView
	spinner   *SpinnerProgress
	progress  *ProgressView

	logs    []LogEntry
	maxLogs int

	target         string
	timeoutSeconds int64

	tickCount int
}

// NewDashboard creates a new dashboard instance for the given target label
// (e.g. the target binary path).
func NewDashboard(target string) *Dashboard {
	progress := NewProgressView(76)
	progress.SetTitle("Run progress")
	return &Dashboard{
		width:     80,
		height:    24,
		status:    StatusInit,
		stats:     NewStats(),
		statsView: NewStatsView(40, 15),
		spinner:   NewSpinnerProgress(),
		progress:  progress,
		logs:      make([]LogEntry, 0, 100),
		maxLogs:   50,
		target:    target,
	}
}

// SetTimeout records the run's total wall-clock budget so RecordElapsed can
// render it as a fraction. A zero timeout leaves the bar at 0% throughout.
func (d *Dashboard) SetTimeout(timeout time.Duration) {
	d.timeoutSeconds = int64(timeout.Seconds())
}

// RecordElapsed updates the progress bar with how far into the run's budget
// the supervisor currently is.
func (d *Dashboard) RecordElapsed(elapsed time.Duration) {
	eta := ""
	if d.timeoutSeconds > 0 {
		remaining := time.Duration(d.timeoutSeconds)*time.Second - elapsed
		if remaining < 0 {
			remaining = 0
		}
		eta = remaining.Round(time.Second).String()
	}
	d.progress.Update(int64(elapsed.Seconds()), d.timeoutSeconds, eta)
}

// AddLog adds a log entry
func (d *Dashboard) AddLog(level, message string) {
	entry := LogEntry{
		Time:    time.Now(),
		Level:   level,
		Message: message,
	}

	d.logs = append(d.logs, entry)

	if len(d.logs) > d.maxLogs {
		d.logs = d.logs[len(d.logs)-d.maxLogs:]
	}
}

// GetStats returns the stats for external updates
func (d *Dashboard) GetStats() *Stats {
	return d.stats
}

// SetPhase updates the displayed supervisor phase.
func (d *Dashboard) SetPhase(status Status) {
	d.status = status
	if status == StatusExit {
		d.spinner.Stop()
	} else {
		d.spinner.Start()
	}
	d.AddLog("INFO", "phase -> "+status.String())
}

// RecordSnapshot folds a probe snapshot into the stats panel.
func (d *Dashboard) RecordSnapshot(mode string, globalBits, lineCoverage, bugsIP, bugsTrace, bugsTrace3, bugsTotal int, perFuzzerBits map[string]int) {
	d.stats.RecordSnapshot(mode, globalBits, lineCoverage, bugsIP, bugsTrace, bugsTrace3, bugsTotal, perFuzzerBits)
}

// RecordRound marks an exploit round's completion.
func (d *Dashboard) RecordRound(foundNewEdge bool) {
	d.stats.RecordRound(foundNewEdge)
	if foundNewEdge {
		d.AddLog("INFO", "round found new coverage")
	}
}

// --- Bubbletea Model interface ---

// TickMsg is sent on each animation tick
type TickMsg time.Time

// Init initializes the model
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update handles messages
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.statsView.SetSize(d.width/3, d.height-10)
		d.progress.SetSize(d.width - 4)

	case TickMsg:
		d.tickCount++
		d.spinner.Tick()
		return d, tickCmd()
	}

	return d, nil
}

// View renders the dashboard
func (d *Dashboard) View() string {
	if d.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(d.renderHeader())
	b.WriteString("\n")

	mainContent := lipgloss.JoinHorizontal(
		lipgloss.Top,
		d.renderStatsPanel(),
		d.renderLogPanel(),
	)
	b.WriteString(mainContent)
	b.WriteString("\n")

	b.WriteString(d.progress.Render())
	b.WriteString("\n")

	b.WriteString(d.renderFooter())

	return b.String()
}

func (d *Dashboard) renderHeader() string {
	title := TitleStyle.Render("⚡ rcfuzz")

	var statusText string
	switch d.status {
	case StatusExplore, StatusExploit:
		statusText = RunningStyle.Render("● " + strings.ToUpper(d.status.String()))
	case StatusDrain:
		statusText = PausedStyle.Render("⏸ DRAIN")
	case StatusExit:
		statusText = StoppedStyle.Render("■ EXIT")
	default:
		statusText = HelpStyle.Render("○ " + strings.ToUpper(d.status.String()))
	}

	target := ""
	if d.target != "" {
		target = LabelStyle.Render("Target: ") + InfoStyle.Render(d.target)
	}

	leftSide := title + "  " + statusText
	rightSide := target

	padding := d.width - lipgloss.Width(leftSide) - lipgloss.Width(rightSide) - 2
	if padding < 0 {
		padding = 0
	}

	header := leftSide + strings.Repeat(" ", padding) + rightSide

	return BoxStyle.Width(d.width - 2).Render(header)
}

func (d *Dashboard) renderStatsPanel() string {
	snap := d.stats.Snapshot()
	return d.statsView.Render(snap)
}

func (d *Dashboard) renderLogPanel() string {
	var b strings.Builder

	b.WriteString(HeaderStyle.Render("📝 Activity Log"))
	b.WriteString("\n\n")

	startIdx := 0
	if len(d.logs) > 8 {
		startIdx = len(d.logs) - 8
	}

	for i := startIdx; i < len(d.logs); i++ {
		log := d.logs[i]

		timeStr := log.Time.Format("15:04:05")

		var levelStyle lipgloss.Style
		switch log.Level {
		case "ERROR":
			levelStyle = ErrorStyle
		case "WARN":
			levelStyle = WarningStyle
		case "INFO":
			levelStyle = InfoStyle
		default:
			levelStyle = HelpStyle
		}

		line := fmt.Sprintf("%s %s %s",
			HelpStyle.Render(timeStr),
			levelStyle.Render(fmt.Sprintf("%-5s", log.Level)),
			log.Message,
		)

		if len(line) > d.width/2-10 {
			line = line[:d.width/2-13] + "..."
		}

		b.WriteString(line)
		b.WriteString("\n")
	}

	return LogPanelStyle.Width(d.width/2 - 4).Render(b.String())
}

func (d *Dashboard) renderFooter() string {
	return FooterStyle.Render(RenderHelp("q", "quit (does not stop the run)"))
}

// Run starts the TUI application
func Run(d *Dashboard) error {
	p := tea.NewProgram(d, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RunWithProgram returns the tea.Program for external control
func RunWithProgram(d *Dashboard) *tea.Program {
	return tea.NewProgram(d, tea.WithAltScreen())
}
