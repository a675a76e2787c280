package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	cyanColor    = lipgloss.Color("#06B6D4")

	titleStyle   = lipgloss.NewStyle().Bold(true)
	labelStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	cyanStyle    = lipgloss.NewStyle().Foreground(cyanColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(mutedColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "active", "healthy", "ok":
		return successStyle
	case "failed", "offline", "unhealthy":
		return errorStyle
	case "running", "busy", "degraded":
		return warningStyle
	case "pending":
		return cyanStyle
	default:
		return lipgloss.NewStyle()
	}
}

func statusIcon(status string) string {
	switch status {
	case "completed":
		return successStyle.Render("✓")
	case "failed":
		return errorStyle.Render("✗")
	case "running":
		return warningStyle.Render("⏳")
	case "pending":
		return cyanStyle.Render("◯")
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	return statusStyle(status).Render("● " + status)
}

// panel renders a titled, bordered block of "label: value" lines.
func panel(title string, rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	for _, r := range rows {
		b.WriteString("\n")
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", width+1, r[0]+":")))
		b.WriteString(" ")
		b.WriteString(r[1])
	}
	return panelStyle.Render(b.String())
}

// table lays out rows in padded columns. Cells may carry ANSI styling, so
// widths are measured with lipgloss rather than len.
func table(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			s := lipgloss.NewStyle().Width(widths[i] + 3)
			if style != nil {
				s = s.Inherit(*style)
			}
			parts[i] = s.Render(cell)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	var b strings.Builder
	b.WriteString(line(headers, &headerStyle))
	for _, row := range rows {
		b.WriteString("\n")
		b.WriteString(line(row, nil))
	}
	return b.String()
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s", t.Local().Format("Mon, 02 Jan 2006 15:04:05 MST"), labelStyle.Render("("+relativeTime(*t)+" ago)"))
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
