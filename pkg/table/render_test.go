package table

import (
	"encoding/csv"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestMarkdownEmptyTable(t *testing.T) {
	tbl := New("standing desk")
	if got := tbl.Markdown(10, true, true); got != "*No products in table yet.*" {
		t.Errorf("unexpected empty render: %q", got)
	}
}

func TestMarkdownNoFields(t *testing.T) {
	tbl := New("standing desk")
	tbl.AddField(FieldDefinition{Name: QualificationField, DataType: TypeBoolean, Category: FieldQualification})
	tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")

	if got := tbl.Markdown(10, true, true); got != "*No fields defined.*" {
		t.Errorf("all-internal table should render as no fields: %q", got)
	}
}

func TestMarkdownMarkers(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	tbl.UpdateCell(rowID, "name", "Jarvis Bamboo", StatusEnriched, "lattice", "")
	tbl.UpdateCell(rowID, "price", nil, StatusFailed, "", "timeout")

	md := tbl.Markdown(10, true, true)
	if !strings.Contains(md, "Jarvis Bamboo") {
		t.Error("enriched value should render")
	}
	if !strings.Contains(md, "*(failed)*") {
		t.Error("failed cell should render a marker")
	}
	if strings.Contains(md, QualificationField) {
		t.Error("qualification column should be excluded")
	}
}

func TestMarkdownTruncatesLongValues(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	long := strings.Repeat("x", 80)
	tbl.UpdateCell(rowID, "name", long, StatusEnriched, "lattice", "")

	md := tbl.Markdown(10, true, true)
	if strings.Contains(md, long) {
		t.Error("long value should be truncated")
	}
	if !strings.Contains(md, strings.Repeat("x", 47)+"...") {
		t.Error("truncation should keep 47 chars plus ellipsis")
	}
}

func TestMarkdownTruncatesOnRuneBoundaries(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	long := strings.Repeat("ü", 80)
	tbl.UpdateCell(rowID, "name", long, StatusEnriched, "lattice", "")

	md := tbl.Markdown(10, true, true)
	if !utf8.ValidString(md) {
		t.Fatal("truncated markdown contains invalid UTF-8")
	}
	if !strings.Contains(md, strings.Repeat("ü", 47)+"...") {
		t.Error("truncation should keep 47 runes plus ellipsis")
	}
}

func TestMarkdownEscapesPipes(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	tbl.UpdateCell(rowID, "name", "a|b", StatusEnriched, "lattice", "")

	if !strings.Contains(tbl.Markdown(10, true, true), `a\|b`) {
		t.Error("pipes in values should be escaped")
	}
}

func TestMarkdownTruncationNote(t *testing.T) {
	tbl := newTestTable()
	names := []string{"Jarvis", "Uplift", "Vari", "Flexispot"}
	for _, n := range names {
		tbl.AddRow(Candidate{Name: n}, "")
	}

	md := tbl.Markdown(2, true, true)
	if !strings.Contains(md, "Showing 2 of 4 products") {
		t.Errorf("expected truncation note, got:\n%s", md)
	}
	// Only header, separator, 2 rows, blank, note.
	if got := strings.Count(md, "\n| "); got != 3 { // separator + 2 data rows
		t.Errorf("expected 2 data rows after header, got %d table lines", got)
	}
}

func TestCSVExport(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	tbl.UpdateCell(rowID, "name", "Jarvis Bamboo", StatusEnriched, "lattice", "")
	tbl.UpdateCell(rowID, QualificationField, "yes", StatusEnriched, "lattice", "")

	out := tbl.CSV(true)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("CSV output should parse: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}
	if len(records[0]) != 2 {
		t.Errorf("qualification field should be excluded from header: %v", records[0])
	}
	if records[1][0] != "Jarvis Bamboo" {
		t.Errorf("enriched value should export: %v", records[1])
	}
	if records[1][1] != "" {
		t.Errorf("pending value should export empty: %v", records[1])
	}
}

func TestCSVNoFields(t *testing.T) {
	tbl := New("standing desk")
	if got := tbl.CSV(true); got != "" {
		t.Errorf("table without fields should export empty string, got %q", got)
	}
}

func TestCSVQuoting(t *testing.T) {
	tbl := newTestTable()
	rowID, _ := tbl.AddRow(Candidate{Name: "Jarvis Bamboo"}, "")
	tbl.UpdateCell(rowID, "name", `desk, adjustable "pro"`, StatusEnriched, "lattice", "")

	records, err := csv.NewReader(strings.NewReader(tbl.CSV(true))).ReadAll()
	if err != nil {
		t.Fatalf("CSV with commas and quotes should round-trip: %v", err)
	}
	if records[1][0] != `desk, adjustable "pro"` {
		t.Errorf("value should survive quoting: %q", records[1][0])
	}
}
