package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

var (
	colorNormal   = lipgloss.Color("#2e7d32")
	colorElevated = lipgloss.Color("#f9a825")
	colorCritical = lipgloss.Color("#c62828")
	colorMuted    = lipgloss.Color("#6b7785")
	colorAccent   = lipgloss.Color("#1565c0")
)

// Styles holds the lipgloss styles of the terminal views.
type Styles struct {
	Title  lipgloss.Style
	Label  lipgloss.Style
	Value  lipgloss.Style
	Muted  lipgloss.Style
	Metric lipgloss.Style
	Box    lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Label:  lipgloss.NewStyle().Foreground(colorMuted),
		Value:  lipgloss.NewStyle().Bold(true),
		Muted:  lipgloss.NewStyle().Foreground(colorMuted).Italic(true),
		Metric: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).MarginRight(1),
		Box:    lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).PaddingLeft(1),
	}
}

func severityColor(s vitals.Severity) lipgloss.Color {
	switch s {
	case vitals.Critical:
		return colorCritical
	case vitals.Elevated:
		return colorElevated
	}
	return colorNormal
}

// Terminal renders views for the CLI.
type Terminal struct {
	styles Styles
	width  int
}

func NewTerminal() *Terminal {
	return &Terminal{styles: DefaultStyles(), width: 48}
}

func (t *Terminal) metric(label, value string, color lipgloss.Color) string {
	body := t.styles.Label.Render(label) + "\n" + t.styles.Value.Foreground(color).Render(value)
	return t.styles.Metric.Render(body)
}

// Report renders the metric row, the advisory box, the gauge and the trend.
func (t *Terminal) Report(r *analysis.Report) string {
	p := r.Profile
	sev := severityColor(p.Severity)

	metrics := lipgloss.JoinHorizontal(lipgloss.Top,
		t.metric("Risk score", fmt.Sprintf("%d/100", p.RiskScore), sev),
		t.metric("Max safe heart rate", fmt.Sprintf("%d bpm", p.MaxSafeBPM), colorAccent),
		t.metric("Status", p.StatusLabel, sev),
	)

	advisory := t.styles.Box.BorderForeground(sev).Render(
		t.styles.Title.Render("AI coach suggestion") + "\n" + p.AdvisoryText + "\n" + t.styles.Value.Render(p.ActionText),
	)

	gauge := t.styles.Label.Render("Real-time monitoring") + "\n" +
		GaugeBar(r.Gauge, t.width) + "\n" +
		fmt.Sprintf("reading %s bpm, safe ceiling %d",
			lipgloss.NewStyle().Foreground(severityColor(r.Gauge.Severity)).Render(fmt.Sprint(r.Gauge.Value)),
			r.Gauge.SafeCeiling)

	trend := t.styles.Label.Render("Safety trend ") + Sparkline(r.History.Values()) + " " + string(r.History.Trend)

	return lipgloss.JoinVertical(lipgloss.Left,
		t.styles.Title.Render("VitalSense AI | "+r.Persona.Label),
		t.styles.Muted.Render("Analysis complete: "+r.Upload.Name),
		"",
		metrics,
		advisory,
		"",
		gauge,
		"",
		trend,
		t.styles.Muted.Render(Disclaimer),
	)
}

// History renders a series as a sparkline over a month table.
func (t *Terminal) History(s vitals.HistorySeries) string {
	var rows strings.Builder
	for _, p := range s.Points {
		fmt.Fprintf(&rows, "%s  %s\n",
			t.styles.Label.Render(p.Timestamp.Format("Jan 2006")),
			t.styles.Value.Render(fmt.Sprintf("%5.1f", p.SafetyScore)))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		t.styles.Title.Render(fmt.Sprintf("Safety score history | %s", s.Persona.Info().Label)),
		Sparkline(s.Values())+"  "+t.styles.Muted.Render("trend: "+string(s.Trend)),
		"",
		strings.TrimRight(rows.String(), "\n"),
	)
}

// Waiting renders the empty state shown before any document is provided.
func (t *Terminal) Waiting(persona vitals.PersonaID, allowed []string) string {
	body := strings.Join([]string{
		t.styles.Value.Render("Waiting for input."),
		fmt.Sprintf("Selected user: %s", persona.Info().Label),
		fmt.Sprintf("Pass --file with a clinical document (%s).", strings.Join(allowed, ", ")),
		"",
		"1. Reads unstructured documents (OCR).",
		"2. Extracts clinical constraints.",
		"3. Computes your safe training zone.",
	}, "\n")
	return t.styles.Metric.BorderForeground(colorAccent).Render(body)
}

// Personas renders the persona selector.
func (t *Terminal) Personas(current vitals.PersonaID) string {
	lines := []string{t.styles.Title.Render("Example users")}
	for _, p := range vitals.Personas() {
		mark := "  "
		if p.ID == current {
			mark = "▶ "
		}
		line := fmt.Sprintf("%s%-9s %s", mark, p.ID, p.Label)
		if len(p.Aliases) > 0 {
			line += t.styles.Muted.Render(" (also: " + strings.Join(p.Aliases, ", ") + ")")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
