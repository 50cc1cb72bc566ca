// Package render formats analysis results for people: markdown-flavored
// text for chat channels and styled panels for the terminal.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/stellarlinkco/vitalsense/internal/analysis"
	"github.com/stellarlinkco/vitalsense/internal/vitals"
)

// Disclaimer is appended to every report.
const Disclaimer = "Simulated values for demonstration only. Not medical advice."

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

// Sparkline draws values on a 0..100 scale, one rune per value.
func Sparkline(values []float64) string {
	var sb strings.Builder
	top := len(sparkTicks) - 1
	for _, v := range values {
		i := int(math.Round(v / 100 * float64(top)))
		sb.WriteRune(sparkTicks[min(max(i, 0), top)])
	}
	return sb.String()
}

// GaugeBar draws g as a one-line dial of width cells: '=' normal zone,
// '~' elevated zone, '!' critical zone and '|' the current value.
func GaugeBar(g vitals.Gauge, width int) string {
	if width < 10 {
		width = 10
	}
	span := float64(g.Max - g.Min)
	cells := make([]rune, width)
	for i := range cells {
		v := g.Min + int(float64(i)*span/float64(width))
		cells[i] = zoneRune(g, v)
	}
	pos := int(float64(g.Value-g.Min) / span * float64(width))
	cells[min(max(pos, 0), width-1)] = '|'
	return fmt.Sprintf("%d [%s] %d", g.Min, string(cells), g.Max)
}

func zoneRune(g vitals.Gauge, v int) rune {
	for _, z := range g.Zones {
		if v >= z.From && v < z.To {
			switch z.Severity {
			case vitals.Normal:
				return '='
			case vitals.Elevated:
				return '~'
			}
			return '!'
		}
	}
	return '!'
}

func severityMark(s vitals.Severity) string {
	switch s {
	case vitals.Critical:
		return "🛑"
	case vitals.Elevated:
		return "⚠️"
	}
	return "✅"
}

// ReportText is the chat rendering of a completed analysis.
func ReportText(r *analysis.Report) string {
	p := r.Profile
	var sb strings.Builder
	fmt.Fprintf(&sb, "✅ **Analysis complete** for %s\n", r.Persona.Label)
	fmt.Fprintf(&sb, "File: `%s`\n\n", r.Upload.Name)
	fmt.Fprintf(&sb, "**Risk score:** %d/100\n", p.RiskScore)
	fmt.Fprintf(&sb, "**Max safe heart rate:** %d bpm\n", p.MaxSafeBPM)
	fmt.Fprintf(&sb, "**Status:** %s %s\n\n", severityMark(p.Severity), p.StatusLabel)
	fmt.Fprintf(&sb, "**AI coach:** %s\n%s\n\n", p.AdvisoryText, p.ActionText)
	fmt.Fprintf(&sb, "```\n%s\n```\n", GaugeBar(r.Gauge, 40))
	fmt.Fprintf(&sb, "Reference reading %d bpm (%s)\n\n", r.Gauge.Value, r.Gauge.Severity)
	fmt.Fprintf(&sb, "Safety trend: %s %s\n\n", Sparkline(r.History.Values()), r.History.Trend)
	sb.WriteString(Disclaimer)
	return sb.String()
}

// HistoryText lists a history series month by month.
func HistoryText(s vitals.HistorySeries) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**Safety score, last %d months** (%s)\n", len(s.Points), s.Persona.Info().Name)
	fmt.Fprintf(&sb, "%s  trend: %s\n```\n", Sparkline(s.Values()), s.Trend)
	for _, p := range s.Points {
		fmt.Fprintf(&sb, "%s  %5.1f\n", p.Timestamp.Format("2006-01-02"), p.SafetyScore)
	}
	sb.WriteString("```")
	return sb.String()
}

// SampleText is a one-line live reading.
func SampleText(s vitals.Sample) string {
	return fmt.Sprintf("%s Live reading: %d bpm (max safe %d, %s)",
		severityMark(s.Severity), s.BPM, s.MaxSafeBPM, s.Severity)
}

// PersonasText lists the personas, marking current.
func PersonasText(current vitals.PersonaID) string {
	var sb strings.Builder
	sb.WriteString("**Example users**\n")
	for _, p := range vitals.Personas() {
		mark := "  "
		if p.ID == current {
			mark = "▶ "
		}
		fmt.Fprintf(&sb, "%s`%s` %s\n", mark, p.ID, p.Label)
	}
	sb.WriteString("\nChoose one with /persona <name>.")
	return sb.String()
}

// WaitingText is shown while no document has been provided.
func WaitingText(persona vitals.PersonaID, allowed []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👋 **Waiting for input.** Selected user: %s\n", persona.Info().Label)
	fmt.Fprintf(&sb, "Upload a clinical document (%s) to start the analysis.\n\n", strings.ToUpper(strings.Join(allowed, ", ")))
	sb.WriteString("What VitalSense does:\n")
	sb.WriteString("1. **Reads** unstructured documents (OCR).\n")
	sb.WriteString("2. **Extracts** clinical constraints such as arrhythmias or deficiencies.\n")
	sb.WriteString("3. **Computes** your safe training zone.")
	return sb.String()
}

// HelpText lists the chat commands.
func HelpText() string {
	return strings.Join([]string{
		"**VitalSense AI** commands:",
		"/personas - list example users",
		"/persona <name> - select an example user",
		"/analyze - analyze the last uploaded document",
		"/history - 12-month safety history",
		"/subscribe [cron] - daily history digest",
		"/unsubscribe - stop the digest",
		"/pause, /resume - pause or resume the digest",
		"/digest - send the digest now",
		"/status - current selection and subscriptions",
		"",
		"Send a PDF or image to start an analysis.",
	}, "\n")
}
