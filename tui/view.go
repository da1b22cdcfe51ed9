package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"hbatch-monitor/render"
)

// Color palette, matching the monitor's output colors
var (
	colorPrimary = lipgloss.Color("#22adf2") // Blue
	colorAccent  = lipgloss.Color("#ff6b2b") // Orange
	colorSuccess = lipgloss.Color("#50c878") // Emerald
	colorError   = lipgloss.Color("#ff7a7a") // Red
	colorMuted   = lipgloss.Color("#6B7280") // Gray
	colorText    = lipgloss.Color("#F9FAFB") // White
	colorTextDim = lipgloss.Color("#c0c0c0") // Light gray
	colorBorder  = lipgloss.Color("#374151") // Dark gray
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			Background(colorPrimary).
			Padding(0, 2).
			MarginBottom(1)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorAccent).
				Bold(true).
				MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(1, 2).
			MarginTop(1)

	statLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(11)

	statValueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	statUnitStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	fileBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 2).
			MarginTop(1)

	fileLabelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Width(8)

	filePathStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	successStyle = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	logBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1).
			MarginTop(1)
)

// styleOutputLine applies a monitor OutputLine's color/bold/center hints.
func styleOutputLine(line render.OutputLine, width int) string {
	text := strings.Trim(line.Text, "\n")
	style := lipgloss.NewStyle()
	if line.Color != "" {
		style = style.Foreground(lipgloss.Color(line.Color))
	}
	if line.Bold {
		style = style.Bold(true)
	}
	if line.Center && width > 0 {
		style = style.Width(width - 8).Align(lipgloss.Center)
	}
	return style.Render(text)
}

// formatClock renders an ETA wall-clock time, or a dash when unavailable.
func formatClock(t time.Time, show bool) string {
	if !show || t.IsZero() {
		return "—"
	}
	return t.Format("03:04:05 PM")
}

// formatSecondsLabel renders a seconds figure, or a dash when there is no
// data yet.
func formatSecondsLabel(seconds float64) string {
	if seconds <= 0 {
		return "—"
	}
	return render.FormatSeconds(seconds)
}

// formatFrameCount renders "done / total" with a marker for log-derived totals.
func formatFrameCount(done, total int, source render.TotalSource) string {
	if total <= 0 {
		return "— / —"
	}
	suffix := ""
	if source == render.SourceInference {
		suffix = " ~"
	}
	return fmt.Sprintf("%d / %d%s", done, total, suffix)
}

func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	if maxLen < 20 {
		return path[:maxLen-3] + "..."
	}
	half := (maxLen - 5) / 2
	return path[:half] + " ... " + path[len(path)-half:]
}

// View renders the TUI
func (m Model) View() string {
	var b strings.Builder

	title := titleStyle.Render(" Houdini Batch Render ")
	b.WriteString(title + "\n")

	switch m.state {
	case StateStarting:
		b.WriteString("\n" + statValueStyle.Render("  Launching hython...") + "\n")
	case StateRendering, StateStopping:
		b.WriteString(m.renderActiveView())
	case StateDone:
		b.WriteString(m.renderDoneView())
	case StateError:
		b.WriteString(m.renderErrorView())
	}

	help := helpStyle.Render("  [I] Interrupt  •  [K] Kill  •  [L] Raw log  •  [Q] Quit")
	b.WriteString("\n" + help + "\n")

	return b.String()
}

func (m Model) renderActiveView() string {
	var b strings.Builder

	b.WriteString("\n")
	if m.state == StateStopping {
		b.WriteString(warningStyle.Render("  Stopping after current frame...") + "\n\n")
	}

	// Overall progress in frames
	var overallPct float64
	if m.total > 0 {
		overallPct = float64(m.done) / float64(m.total)
	}
	if overallPct > 1 {
		overallPct = 1
	}
	b.WriteString("  " + m.overall.ViewAs(overallPct) + "  " +
		statValueStyle.Render(formatFrameCount(m.done, m.total, m.totalSource)) + "\n")

	// Current frame progress
	if m.hasFrame {
		framePct := float64(m.curPercent) / 100
		if framePct > 1 {
			framePct = 1
		}
		label := fmt.Sprintf("Frame %d  %d%%", m.curFrame, m.curPercent)
		b.WriteString("  " + m.frameBar.ViewAs(framePct) + "  " + statUnitStyle.Render(label) + "\n")
	}

	b.WriteString(statsBoxStyle.Render(m.buildStatsGrid()))
	b.WriteString("\n")
	b.WriteString(fileBoxStyle.Render(m.buildFilesSection()))

	b.WriteString("\n")
	header := "  Render Output"
	if m.showRaw {
		header = "  Raw Log"
	}
	b.WriteString(sectionHeaderStyle.Render(header) + "\n")
	b.WriteString(logBoxStyle.Render(m.logView.View()))

	return b.String()
}

func (m Model) buildStatsGrid() string {
	var lines []string

	spacer := lipgloss.NewStyle().Width(6).Render("")

	line1 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Elapsed"),
		statValueStyle.Render(render.FormatSeconds(m.labels.Elapsed)),
		spacer,
		statLabelStyle.Render("Average"),
		statValueStyle.Render(formatSecondsLabel(m.labels.Average)),
	)
	lines = append(lines, line1)

	line2 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("Remaining"),
		statValueStyle.Render(formatSecondsLabel(m.labels.Remaining)),
		spacer,
		statLabelStyle.Render("Total"),
		statValueStyle.Render(formatSecondsLabel(m.labels.Total)),
	)
	lines = append(lines, line2)

	line3 := lipgloss.JoinHorizontal(lipgloss.Top,
		statLabelStyle.Render("ETA"),
		statValueStyle.Render(formatClock(m.labels.ETA, m.labels.ShowETA)),
		spacer,
		statLabelStyle.Render("Skipped"),
		statValueStyle.Render(fmt.Sprintf("%d", m.skipped)),
	)
	lines = append(lines, line3)

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) buildFilesSection() string {
	maxPathLen := m.width - 16
	if maxPathLen < 20 {
		maxPathLen = 60
	}

	lines := []string{
		fileLabelStyle.Render("Scene") + filePathStyle.Render(truncatePath(m.job.HipPath, maxPathLen)),
		fileLabelStyle.Render("Node") + filePathStyle.Render(m.job.OutNode),
	}
	if m.lastImage != "" {
		lines = append(lines,
			fileLabelStyle.Render("Image")+filePathStyle.Render(truncatePath(m.lastImage, maxPathLen)))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderDoneView() string {
	var b strings.Builder

	b.WriteString("\n")
	switch {
	case m.killedJob:
		b.WriteString(errorStyle.Render("  ✗ Render Killed") + "\n")
	case m.exitCode != 0:
		b.WriteString(errorStyle.Render(fmt.Sprintf("  ✗ Render exited with code %d", m.exitCode)) + "\n")
	default:
		b.WriteString(successStyle.Render("  ✓ Render Complete") + "\n")
	}

	var lines []string
	lines = append(lines,
		statLabelStyle.Render("Frames")+statValueStyle.Render(fmt.Sprintf("%d rendered, %d skipped", m.completed, m.skipped)))
	lines = append(lines,
		statLabelStyle.Render("Time")+statValueStyle.Render(render.FormatSeconds(m.labels.Elapsed)))
	if m.labels.Average > 0 {
		lines = append(lines,
			statLabelStyle.Render("Average")+statValueStyle.Render(render.FormatSeconds(m.labels.Average)))
	}
	if m.lastImage != "" {
		lines = append(lines,
			statLabelStyle.Render("Image")+filePathStyle.Render(m.lastImage))
	}
	b.WriteString(statsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))

	if m.showRaw && m.logView.TotalLineCount() > 0 {
		b.WriteString("\n")
		b.WriteString(sectionHeaderStyle.Render("  Raw Log") + "\n")
		b.WriteString(logBoxStyle.Render(m.logView.View()))
	}

	return b.String()
}

func (m Model) renderErrorView() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(errorStyle.Render("  ✗ Render Failed To Start") + "\n\n")

	errBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorError).
		Padding(0, 2).
		Foreground(colorError).
		Render(m.errMsg)
	b.WriteString(errBox + "\n")

	return b.String()
}
