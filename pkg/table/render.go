package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

const maxCellWidth = 50

// Markdown renders the table as a bounded markdown grid. Pending and failed
// cells render as placeholder markers when showPending is set, long values
// are truncated, and a note is appended when rows exceed maxRows.
func (t *ComparisonTable) Markdown(maxRows int, showPending, excludeInternal bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.Rows) == 0 {
		return "*No products in table yet.*"
	}

	fieldNames := t.fieldNamesLocked(excludeInternal)
	if len(fieldNames) == 0 {
		return "*No fields defined.*"
	}

	var sb strings.Builder
	sb.WriteString("| " + strings.Join(fieldNames, " | ") + " |\n")
	sb.WriteString("| " + strings.Join(repeat("---", len(fieldNames)), " | ") + " |")

	for i, row := range t.Rows {
		if i >= maxRows {
			break
		}
		cells := make([]string, 0, len(fieldNames))
		for _, fieldName := range fieldNames {
			cells = append(cells, renderCell(row.Cells[fieldName], showPending))
		}
		sb.WriteString("\n| " + strings.Join(cells, " | ") + " |")
	}

	if len(t.Rows) > maxRows {
		sb.WriteString(fmt.Sprintf(
			"\n\n*Showing %d of %d products. Export to CSV for full table.*",
			maxRows, len(t.Rows)))
	}
	return sb.String()
}

func renderCell(cell *Cell, showPending bool) string {
	switch {
	case cell == nil:
		return "—"
	case cell.Status == StatusPending && showPending:
		return "*(pending)*"
	case cell.Status == StatusFailed && showPending:
		return "*(failed)*"
	case cell.Value == nil:
		return "—"
	}

	val := fmt.Sprintf("%v", cell.Value)
	if utf8.RuneCountInString(val) > maxCellWidth {
		val = string([]rune(val)[:maxCellWidth-3]) + "..."
	}
	return strings.ReplaceAll(val, "|", "\\|")
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// CSV exports the full untruncated table. Qualification fields are excluded
// when excludeInternal is set; non-enriched values export as empty strings.
// Returns "" when no fields are defined.
func (t *ComparisonTable) CSV(excludeInternal bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	fieldNames := t.fieldNamesLocked(excludeInternal)
	if len(fieldNames) == 0 {
		return ""
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	_ = writer.Write(fieldNames)
	for _, row := range t.Rows {
		record := make([]string, 0, len(fieldNames))
		for _, fieldName := range fieldNames {
			cell := row.Cells[fieldName]
			if cell == nil || cell.Value == nil {
				record = append(record, "")
			} else {
				record = append(record, fmt.Sprintf("%v", cell.Value))
			}
		}
		_ = writer.Write(record)
	}
	writer.Flush()

	return buf.String()
}
