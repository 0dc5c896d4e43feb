package store

import (
	"fmt"
	"strings"

	"tally/internal/core"
)

var csvHeaders = []string{"Date", "Amount", "Category", "Note", "Recurring"}

// ExportCSV renders the snapshot's expenses as CSV, one row per expense,
// every field quoted. Amounts are formatted at two decimals; the category
// column carries the resolved name ("Unknown" when the id no longer
// resolves). A pure transform with no side effects.
func ExportCSV(snap core.Snapshot) string {
	names := make(map[string]string, len(snap.Categories))
	for _, c := range snap.Categories {
		names[c.ID] = c.Name
	}

	var b strings.Builder
	writeCSVRow(&b, csvHeaders)
	for _, e := range snap.Expenses {
		name, ok := names[e.CategoryID]
		if !ok {
			name = "Unknown"
		}
		recurring := ""
		if e.IsRecurring {
			recurring = string(e.RecurringType)
		}
		writeCSVRow(&b, []string{
			e.Date.ISO(),
			fmt.Sprintf("%.2f", e.Amount),
			name,
			e.Note,
			recurring,
		})
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteByte('\n')
}
