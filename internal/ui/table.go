package ui

import (
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/chronodiff/chronodiff/internal/schema"
)

// TimelineHeaders are the column titles of RenderTimeline.
var TimelineHeaders = []string{"RECORD", "TIME", "FILES", "ADDED", "REMOVED", "DURATION"}

// RenderTimeline writes entries as a table, newest first as given.
func RenderTimeline(w io.Writer, entries []schema.TimelineEntry) error {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.RecordID,
			e.Timestamp.Local().Format(time.DateTime),
			strconv.Itoa(e.Files),
			"+" + strconv.Itoa(e.LinesAdded),
			"-" + strconv.Itoa(e.LinesRemoved),
			strconv.FormatInt(e.DurationMS, 10) + "ms",
		})
	}
	return RenderTable(w, TimelineHeaders, rows)
}

// RenderTable writes a borderless table with a bold header row.
func RenderTable(w io.Writer, headers []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(false).
		BorderColumn(true).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return boldStyle
			}
			return lipgloss.NewStyle()
		})

	_, err := io.WriteString(w, t.String()+"\n")
	return err
}
