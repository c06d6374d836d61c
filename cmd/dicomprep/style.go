package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/mrsinham/dicomprep/internal/output"
	"github.com/mrsinham/dicomprep/internal/pipeline"
)

var (
	panelStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(1, 2)

	titleStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("63")).
		Bold(true).
		MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	valueStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("252")).
		Bold(true)

	warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")).
		Bold(true)

	headerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("63")).
		Bold(true).
		Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
		Padding(0, 1)
)

// panel renders a titled box of "label: value" lines.
func panel(title string, lines [][2]string) string {
	width := 0
	for _, l := range lines {
		width = max(width, len(l[0]))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")
	for i, l := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-*s", width+1, l[0]+":")))
		sb.WriteString(" ")
		sb.WriteString(valueStyle.Render(l[1]))
	}
	return panelStyle.Render(sb.String())
}

// renderRunSummary formats the outcome of a pipeline run.
func renderRunSummary(s pipeline.Summary, outputDir string) string {
	st := s.Stats
	lines := [][2]string{
		{"Run", s.RunID},
		{"Studies", fmt.Sprintf("%d processed of %d", s.Processed, s.Studies)},
		{"Outcomes", counts(st.Studies, output.AllOutcomes())},
		{"Series", counts(st.Series, output.AllStatuses())},
		{"Patients", fmt.Sprint(st.Patients)},
		{"Written", fmt.Sprintf("%d files, %s", st.Files, humanize.Bytes(uint64(st.BytesWritten)))},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"Output", outputDir},
	}
	out := panel("dicomprep run", lines)
	if s.Cancelled {
		out += "\n" + warnStyle.Render("Run cancelled: studies not started were left out.")
	}
	return out
}

func counts[K ~string](m map[K]int, order []K) string {
	parts := make([]string, 0, len(order))
	for _, k := range order {
		if n := m[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, k))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// renderInventory formats inventory rows as a table.
func renderInventory(rows []output.InventoryRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers("PATIENT", "STUDY", "SERIES", "DESCRIPTION", "LABEL", "FILES", "SIZE", "PROBLEM").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, r := range rows {
		t.Row(
			r.PatientID,
			shorten(r.StudyID, 24),
			shorten(r.SeriesID, 24),
			r.SeriesDescription,
			r.SequenceLabel,
			fmt.Sprint(r.NumDicomFiles),
			r.NativeSize,
			shorten(r.Problem, 40),
		)
	}
	return t.String()
}

// renderLabelCounts summarizes how many series carry each label.
func renderLabelCounts(rows []output.InventoryRow) string {
	byLabel := make(map[string]int)
	for _, r := range rows {
		byLabel[r.SequenceLabel]++
	}
	labels := make([]string, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	lines := make([][2]string, len(labels))
	for i, l := range labels {
		lines[i] = [2]string{l, fmt.Sprint(byLabel[l])}
	}
	return panel("Series per label", lines)
}

// shorten keeps the end of long identifiers, where UIDs differ.
func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "…" + s[len(s)-n+1:]
}
