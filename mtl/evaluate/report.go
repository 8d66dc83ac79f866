// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package evaluate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	totalRowStyle = lipgloss.NewStyle().Bold(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

// Report renders the scores as a table, with one row per type and a micro-averaged row for entities and
// for relations.
func Report(name string, scores *Scores) string {
	var totalRows []int
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		Headers("Task", "Type", "Gold", "Predicted", "Correct", "Precision", "Recall", "F1")
	numRows := 0
	addRow := func(task, typeName string, c Counts) {
		table.Row(task, typeName,
			humanize.Comma(int64(c.Gold)), humanize.Comma(int64(c.Predicted)), humanize.Comma(int64(c.Correct)),
			percent(c.Precision()), percent(c.Recall()), percent(c.F1()))
		numRows++
	}
	for _, task := range []struct {
		name   string
		total  Counts
		byType map[string]*Counts
		types  []string
	}{
		{"NER", scores.Entities, scores.EntitiesByType, scores.EntityTypes()},
		{"RE", scores.Relations, scores.RelationsByType, scores.RelationTypes()},
	} {
		for _, typeName := range task.types {
			addRow(task.name, typeName, *task.byType[typeName])
		}
		totalRows = append(totalRows, numRows)
		addRow(task.name, "(micro)", task.total)
	}
	table.StyleFunc(func(row, col int) (s lipgloss.Style) {
		switch {
		case row < 0:
			return headerRowStyle
		case slices.Contains(totalRows, row):
			s = totalRowStyle
		case row%2 == 0:
			s = oddRowStyle
		default:
			s = evenRowStyle
		}
		if col >= 2 {
			s = s.Align(lipgloss.Right)
		}
		return
	})

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("%s: %s sentences", name, humanize.Comma(int64(scores.Sentences)))))
	sb.WriteString("\n")
	sb.WriteString(table.String())
	sb.WriteString("\n")
	return sb.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", 100*v)
}
