// Package report renders plan and summary output for pgfreeze.
package report

import (
	"fmt"
	"strings"

	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/pgfreeze/internal/freezer"
)

// RenderTargets formats a candidate list as an aligned table, highest
// priority first.
func RenderTargets(mode freezer.Mode, dbName string, targets []freezer.MaintenanceTarget) string {
	var b strings.Builder

	header := fmt.Sprintf("%s: %d candidate(s), %s priority", dbName, len(targets), mode)
	b.WriteString(color.Bold.Sprint(header) + "\n")

	if len(targets) == 0 {
		b.WriteString("  nothing to do\n")
		return b.String()
	}

	metricName := "age"
	if mode == freezer.ModeRatio {
		metricName = "dead %"
	}

	rows := make([][]string, 0, len(targets)+1)
	rows = append(rows, []string{"TABLE", strings.ToUpper(metricName), "SIZE"})
	for _, t := range targets {
		var metric string
		if mode == freezer.ModeRatio {
			metric = fmt.Sprintf("%.1f%%", t.DeadFraction*100)
		} else {
			metric = fmt.Sprintf("%d", t.FreezeAge)
		}
		rows = append(rows, []string{t.Table, metric, formatBytes(t.SizeBytes)})
	}

	writeAligned(&b, rows)
	return b.String()
}

// RenderDatabases formats the discovered database list with wraparound ages.
func RenderDatabases(infos []freezer.DatabaseInfo) string {
	var b strings.Builder

	rows := make([][]string, 0, len(infos)+1)
	rows = append(rows, []string{"DATABASE", "FROZEN XID AGE"})
	for _, info := range infos {
		rows = append(rows, []string{info.Name, fmt.Sprintf("%d", info.FrozenXIDAge)})
	}

	writeAligned(&b, rows)
	return b.String()
}

// RenderSummary formats the terminal run record.
func RenderSummary(result *freezer.RunResult) string {
	var b strings.Builder

	switch {
	case result.Cancelled:
		b.WriteString(color.Yellow.Sprint("run cancelled by operator") + "\n")
	case result.Halted:
		b.WriteString(color.Yellow.Sprint("vacuuming halted due to timeout") + "\n")
	default:
		b.WriteString(color.Green.Sprint("all tables vacuumed") + "\n")
	}

	fmt.Fprintf(&b, "(%d tables in %d databases, %s)\n",
		result.TablesProcessed, result.DatabasesProcessed, result.Duration.Round(1e9))

	if len(result.Skips) > 0 {
		b.WriteString(color.Yellow.Sprintf("%d table(s) skipped:", len(result.Skips)) + "\n")
		rows := make([][]string, 0, len(result.Skips))
		for _, skip := range result.Skips {
			rows = append(rows, []string{skip.Database, skip.Table, skip.Reason})
		}
		writeAligned(&b, rows)
	}

	return b.String()
}

// writeAligned pads each column to its widest cell. Width is measured with
// runewidth so multi-byte relation names stay aligned.
func writeAligned(b *strings.Builder, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	for _, row := range rows {
		b.WriteString("  ")
		for i, cell := range row {
			b.WriteString(runewidth.FillRight(cell, widths[i]))
			if i < len(row)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
}

// formatBytes renders a byte count with a binary unit suffix.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
