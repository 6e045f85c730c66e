package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/willibrandon/tusk-sub004/internal/history"
	"github.com/willibrandon/tusk-sub004/internal/registry"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/server/tuskwire"
)

const nullDisplay = "NULL"

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

func cellText(c tuskwire.Cell) string {
	if c.Null {
		return nullDisplay
	}
	return c.Text
}

func rowTexts(rows [][]tuskwire.Cell) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		texts := make([]string, len(r))
		for j, c := range r {
			texts[j] = cellText(c)
		}
		out[i] = texts
	}
	return out
}

func columnNames(cols []executor.ColumnDescriptor) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// printRows renders one result table followed by the row count footer.
func printRows(w io.Writer, cols []executor.ColumnDescriptor, rows [][]string, total int64, truncated bool) {
	table := newTable(w, columnNames(cols))
	table.AppendBulk(rows)
	table.Render()

	switch {
	case truncated:
		fmt.Fprintf(w, "(%d rows, truncated)\n", total)
	case total == 1:
		fmt.Fprintln(w, "(1 row)")
	default:
		fmt.Fprintf(w, "(%d rows)\n", total)
	}
}

// printOutcome prints an outcome whose rows, if any, are still attached.
func printOutcome(w io.Writer, out *tuskwire.Outcome) {
	switch out.Status {
	case executor.StatusCancelled:
		fmt.Fprintln(w, "cancelled")
		return
	case executor.StatusError:
		printError(w, out)
		return
	}

	switch {
	case out.Plan != nil:
		printPlan(w, out.Plan)
	case len(out.Columns) > 0:
		printRows(w, out.Columns, rowTexts(out.Rows), out.TotalRows, out.Truncated)
	default:
		printTag(w, out)
	}
}

func printTag(w io.Writer, out *tuskwire.Outcome) {
	if out.CommandTag != "" {
		fmt.Fprintln(w, out.CommandTag)
		return
	}
	fmt.Fprintf(w, "OK (%d affected)\n", out.RowsAffected)
}

func printError(w io.Writer, out *tuskwire.Outcome) {
	d := out.Diagnostics
	if d == nil {
		fmt.Fprintln(w, "ERROR: unknown error")
		return
	}

	code := ""
	if d.Code != "" {
		code = " " + d.Code
	}
	fmt.Fprintf(w, "%s%s: %s\n", d.Severity, code, d.Message)
	if d.Line > 0 {
		fmt.Fprintf(w, "LINE %d, COLUMN %d\n", d.Line, d.Column)
	}
	if d.Detail != "" {
		fmt.Fprintf(w, "DETAIL: %s\n", d.Detail)
	}
	if d.Hint != "" {
		fmt.Fprintf(w, "HINT: %s\n", d.Hint)
	}
}

func printPlan(w io.Writer, p *executor.Plan) {
	if p.Root != nil {
		p.Root.Walk(func(n *executor.PlanNode, depth int) {
			prefix := ""
			if depth > 0 {
				prefix = strings.Repeat("  ", depth) + "-> "
			}
			fmt.Fprintf(w, "%s%s  (cost=%.2f..%.2f rows=%.0f width=%d)", prefix, planLabel(n),
				n.StartupCost, n.TotalCost, n.PlanRows, n.PlanWidth)
			if n.ActualTotalTime != nil && n.ActualRows != nil {
				fmt.Fprintf(w, " (actual time=%.3f rows=%.0f)", *n.ActualTotalTime, *n.ActualRows)
			}
			fmt.Fprintln(w)
		})
	}
	if p.PlanningTime != nil {
		fmt.Fprintf(w, "Planning Time: %.3f ms\n", *p.PlanningTime)
	}
	if p.ExecutionTime != nil {
		fmt.Fprintf(w, "Execution Time: %.3f ms\n", *p.ExecutionTime)
	}
}

func planLabel(n *executor.PlanNode) string {
	label := n.NodeType
	switch {
	case n.IndexName != "" && n.RelationName != "":
		label += " using " + n.IndexName + " on " + n.RelationName
	case n.RelationName != "":
		label += " on " + n.RelationName
	}
	if n.Alias != "" && n.Alias != n.RelationName {
		label += " " + n.Alias
	}
	return label
}

func printRunning(w io.Writer, running []registry.Running) {
	if len(running) == 0 {
		fmt.Fprintln(w, "no running queries")
		return
	}
	table := newTable(w, []string{"ID", "ELAPSED", "SQL"})
	for _, r := range running {
		table.Append([]string{r.ID, r.Elapsed.Round(time.Millisecond).String(), history.CompactOneLine(r.SQL)})
	}
	table.Render()
}

func printHistory(w io.Writer, entries []executor.HistoryEntry) {
	table := newTable(w, []string{"AT", "CONNECTION", "STATUS", "MS", "ROWS", "SQL"})
	for _, e := range entries {
		status := string(e.Status)
		if e.SQLState != "" {
			status += " " + e.SQLState
		}
		table.Append([]string{
			e.At.Local().Format(time.DateTime),
			e.ConnectionID,
			status,
			fmt.Sprint(e.ElapsedMS),
			fmt.Sprint(e.Rows + e.RowsAffected),
			history.CompactOneLine(e.SQL),
		})
	}
	table.Render()
}
