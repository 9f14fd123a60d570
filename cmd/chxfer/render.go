package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/johndauphine/chxfer/internal/batch"
	"github.com/johndauphine/chxfer/internal/transfer"
)

var (
	colorPurple = lipgloss.Color("#7D56F4")
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4141")
	colorGray   = lipgloss.Color("#626262")

	styleHeader = lipgloss.NewStyle().
			Foreground(colorPurple).
			Bold(true).
			Padding(0, 1)

	styleCell = lipgloss.NewStyle().Padding(0, 1)

	styleBorder = lipgloss.NewStyle().Foreground(colorGray)

	styleCaption = lipgloss.NewStyle().Foreground(colorGray)

	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)

	styleError = lipgloss.NewStyle().Foreground(colorRed).Bold(true)

	styleWarning = lipgloss.NewStyle().Foreground(colorRed)
)

// maxCellWidth truncates long values so wide rows stay readable.
const maxCellWidth = 40

func renderPreview(pv *transfer.Preview) string {
	headers := make([]string, len(pv.Columns))
	for i, c := range pv.Columns {
		headers[i] = headerText(c)
	}
	rows := make([][]string, len(pv.Rows))
	for i, r := range pv.Rows {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = truncate(v, maxCellWidth)
		}
		rows[i] = row
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styleBorder).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styleHeader
			}
			return styleCell
		})

	return lipgloss.JoinVertical(lipgloss.Left,
		t.Render(),
		styleCaption.Render(fmt.Sprintf("%d rows", len(pv.Rows))),
	)
}

func headerText(c batch.Column) string {
	if c.Type == "" {
		return c.Name
	}
	return c.Name + " " + styleCaption.Render(c.Type)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func okText(ok bool) string {
	if ok {
		return styleSuccess.Render("ok")
	}
	return styleError.Render("FAILED")
}
