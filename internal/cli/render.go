package cli

import (
	"fmt"
	"strings"

	"github.com/ashureev/focus-labs/internal/client"
	"github.com/ashureev/focus-labs/internal/domain"
	"github.com/ashureev/focus-labs/internal/scoring"
	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

func colored(hex, s string) string {
	if noColor {
		return s
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Bold(true).Render(s)
}

func label(s string) string {
	if noColor {
		return s
	}
	return labelStyle.Render(s)
}

// renderScore colors a score the way the extension badge does.
func renderScore(r domain.Reading) string {
	text := fmt.Sprintf("%d%% %s", r.AttentionScore, r.Level)
	if r.IsCalibrating() && r.Calibration != nil {
		text = fmt.Sprintf("calibrating %d/%d", r.Calibration.Progress, r.Calibration.Total)
	}
	return colored(scoring.BadgeFor(r.AttentionScore).Color.Hex(), text)
}

func renderStatus(st domain.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", label("State:   "), boldOrPlain(string(st.State)))
	task := st.ActiveTaskID
	if task == "" {
		task = "-"
	}
	fmt.Fprintf(&b, "%s %s\n", label("Task:    "), task)
	fmt.Fprintf(&b, "%s %s\n", label("Source:  "), st.ActiveSource.DisplayName())

	conns := make([]string, 0, len(domain.SourceKinds))
	for _, kind := range domain.SourceKinds {
		mark := colored(domain.BadgeAlert.Hex(), "down")
		if st.Connections[kind] {
			mark = colored(domain.BadgeGood.Hex(), "up")
		}
		conns = append(conns, string(kind)+"="+mark)
	}
	fmt.Fprintf(&b, "%s %s\n", label("Sources: "), strings.Join(conns, " "))

	if st.LatestReading != nil {
		fmt.Fprintf(&b, "%s %s\n", label("Reading: "), renderScore(*st.LatestReading))
	}
	return b.String()
}

func renderTask(t client.Task) string {
	marker := " "
	if t.Active {
		marker = "*"
	}
	avg := "-"
	if len(t.AttentionHistory) > 0 {
		avg = fmt.Sprintf("%.0f%%", t.AverageAttention)
	}
	return fmt.Sprintf("%s %-36s %-5s %5s %6ds  %s", marker, t.ID, t.State, avg, t.TotalFocusTime, t.Text)
}

func boldOrPlain(s string) string {
	if noColor {
		return s
	}
	return boldStyle.Render(s)
}
