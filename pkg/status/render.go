package status

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const barWidth = 20

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)
	sectionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// RenderJSON writes the report as indented JSON.
func RenderJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// RenderText writes the human-readable report.
func RenderText(w io.Writer, r Report) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("PULSEGATE HEALTH STATUS"))
	b.WriteString("\n\n")
	if r.Healthy {
		b.WriteString(okStyle.Render("✓ Overall Status: HEALTHY"))
	} else {
		b.WriteString(badStyle.Render("✗ Overall Status: ISSUES DETECTED"))
	}
	b.WriteString("\n\n")

	section(&b, "CONFIGURATION")
	fmt.Fprintf(&b, "Enabled: %s\n", yesNo(r.Config.Enabled, "Yes", "No"))
	fmt.Fprintf(&b, "API Key: %s\n", yesNo(r.Config.APIKeyConfigured, "Configured", "Not Configured"))
	fmt.Fprintf(&b, "API URL: %s\n", r.Config.APIURL)
	fmt.Fprintf(&b, "Environment: %s\n", r.Config.Environment)
	fmt.Fprintf(&b, "Cache Driver: %s\n", r.Config.CacheDriver)
	fmt.Fprintf(&b, "Batch Interval: %s\n\n", r.Config.BatchInterval)

	section(&b, "GLOBAL PAUSE STATUS")
	switch {
	case r.Global == nil:
		b.WriteString(okStyle.Render("✓ Not paused"))
		b.WriteString("\n")
	case r.Global.Paused:
		b.WriteString(badStyle.Render("✗ PAUSED"))
		fmt.Fprintf(&b, "\n  Reason: %s\n  Until: %s\n  Remaining: %s\n",
			r.Global.Reason, r.Global.PausedUntil.Format(time.RFC3339), FormatRemaining(r.Global.RemainingSeconds))
	default:
		b.WriteString(warnStyle.Render("○ Pause expired (cleaning up)"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	section(&b, "FEATURE STATUS")
	for _, fs := range r.Features {
		name := fmt.Sprintf("%-20s", fs.Feature)
		switch {
		case !fs.Enabled:
			fmt.Fprintf(&b, "  %s %s %s\n", dimStyle.Render("-"), name, dimStyle.Render("Disabled"))
		case fs.Pause == nil:
			fmt.Fprintf(&b, "  %s %s Active\n", okStyle.Render("✓"), name)
		case fs.Pause.Paused:
			fmt.Fprintf(&b, "  %s %s %s (reason: %s, remaining: %s)\n",
				badStyle.Render("✗"), name, badStyle.Render("PAUSED"), fs.Pause.Reason, FormatRemaining(fs.Pause.RemainingSeconds))
		default:
			fmt.Fprintf(&b, "  %s %s %s\n", warnStyle.Render("○"), name, warnStyle.Render("Pause expired"))
		}
	}
	b.WriteString("\n")

	section(&b, "BUFFER STATUS")
	fmt.Fprintf(&b, "Total Items: %d (max per feature: %d)\n\n", r.TotalBuffered, r.MaxPerFeature)
	for _, fs := range r.Features {
		style, icon := okStyle, "✓"
		switch {
		case fs.FillPercent >= 80:
			style, icon = badStyle, "✗"
		case fs.FillPercent >= 50:
			style, icon = warnStyle, "!"
		}
		fmt.Fprintf(&b, "  %s %-20s %6d items [%s] %3.0f%%\n",
			style.Render(icon), fs.Feature, fs.Buffered, Bar(fs.FillPercent), fs.FillPercent)
	}
	b.WriteString("\n")

	if recs := Recommendations(r); len(recs) > 0 {
		section(&b, "RECOMMENDATIONS")
		for _, rec := range recs {
			if strings.HasPrefix(rec, " ") {
				b.WriteString(rec + "\n")
				continue
			}
			b.WriteString("• " + rec + "\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Last checked: %s\n", r.Timestamp.Format(time.RFC3339))
	_, err := io.WriteString(w, b.String())
	return err
}

// Bar draws a fixed-width fill bar for a percentage.
func Bar(percent float64) string {
	filled := int(percent/100*barWidth + 0.5)
	if filled < 0 {
		filled = 0
	}
	if filled > barWidth {
		filled = barWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}

// FormatRemaining renders seconds as "Xm Ys", "Ys" or "expired".
func FormatRemaining(seconds int64) string {
	if seconds <= 0 {
		return "expired"
	}
	if m := seconds / 60; m > 0 {
		return fmt.Sprintf("%dm %ds", m, seconds%60)
	}
	return fmt.Sprintf("%ds", seconds)
}

func section(b *strings.Builder, title string) {
	b.WriteString(sectionStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", 61)))
	b.WriteString("\n")
}

func yesNo(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return badStyle.Render(no)
}
