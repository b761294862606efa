// Package report renders the summary of a purge run.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/gh-run-purge/internal/domain"
)

// Format selects how a summary is written
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// pendingPreview caps the ids listed by a dry run in text output
const pendingPreview = 20

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().
			Width(14).
			Foreground(lipgloss.Color("244"))

	goodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))
)

// ParseFormat accepts text, json or yaml (case-insensitive)
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "":
		return FormatText, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// Write renders sum to w in the given format
func Write(w io.Writer, sum domain.Summary, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sum); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		_, err := io.WriteString(w, Text(sum))
		return err
	}
	return fmt.Errorf("unknown output format %q", f)
}

// Text renders a human readable summary
func Text(sum domain.Summary) string {
	var b strings.Builder

	title := "Purge summary"
	if sum.DryRun {
		title = "Purge summary (dry run)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Statuses", strings.Join(sum.Statuses, ", "))
	if sum.DryRun {
		row("Would delete", warningStyle.Render(humanize.Comma(int64(len(sum.Pending)))))
	} else {
		row("Deleted", goodStyle.Render(humanize.Comma(int64(sum.Deleted))))
	}
	failed := humanize.Comma(int64(sum.Failed))
	if sum.Failed > 0 {
		failed = errorStyle.Render(failed)
	}
	row("Failed", failed)
	row("Batches", humanize.Comma(int64(sum.Batches)))
	row("Hibernations", fmt.Sprintf("%d", sum.Hibernations))
	row("Backoffs", fmt.Sprintf("%d", sum.Backoffs))
	row("Elapsed", sum.Elapsed.Round(time.Second).String())
	if sum.Session != "" {
		row("Session", sum.Session)
	}

	if sum.DryRun && len(sum.Pending) > 0 {
		ids := make([]string, 0, pendingPreview)
		for i, id := range sum.Pending {
			if i == pendingPreview {
				break
			}
			ids = append(ids, id.String())
		}
		line := strings.Join(ids, " ")
		if more := len(sum.Pending) - len(ids); more > 0 {
			line += fmt.Sprintf(" ... and %d more", more)
		}
		row("Runs", line)
	}

	return b.String()
}
