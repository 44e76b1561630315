package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/examprep/examprep-cli/internal/model"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func hitRatioTable(rows []model.HitRatioRow) string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			fmt.Sprintf("%d", r.UnitNumber),
			r.Title,
			fmt.Sprintf("%d%%", r.HitRatio),
			r.Confidence,
		})
	}
	return renderTable(
		[]string{"Unit", "Title", "Hit ratio", "Confidence"},
		out,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	)
}

func checkpointTable(list []model.CheckpointSummary) string {
	out := make([][]string, 0, len(list))
	for _, c := range list {
		out = append(out, []string{
			c.ID,
			c.Subject,
			fmt.Sprintf("%d/%d", c.Completed, c.TotalUnits),
			c.Timestamp.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(
		[]string{"ID", "Subject", "Units", "Updated"},
		out,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	)
}
