package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/table"
)

type fakeBackend struct {
	calls   int
	lastReq Request
	results func(req Request) []RowResult
	err     error
}

func (f *fakeBackend) EnrichRows(_ context.Context, req Request) ([]RowResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.results(req), nil
}

func buildTestTable(t *testing.T, names ...string) (*table.ComparisonTable, []string) {
	t.Helper()

	tbl := table.New("kettles")
	tbl.AddField(table.FieldDefinition{Name: "price", Prompt: "Find the price.", DataType: table.TypeString, Category: table.FieldStandard})
	tbl.AddField(table.FieldDefinition{Name: "capacity", Prompt: "Find the capacity.", DataType: table.TypeNumber, Category: table.FieldCategoryBased})
	tbl.AddField(table.FieldDefinition{Name: table.QualificationField, Prompt: "Meets requirements?", DataType: table.TypeBoolean, Category: table.FieldQualification})

	rowIDs := make([]string, 0, len(names))
	for _, name := range names {
		id, added := tbl.AddRow(table.Candidate{Name: name, Manufacturer: "Acme"}, "test query")
		if !added {
			t.Fatalf("row %q not added", name)
		}
		rowIDs = append(rowIDs, id)
	}
	return tbl, rowIDs
}

func TestEnrichTableFillsPendingCells(t *testing.T) {
	tbl, ids := buildTestTable(t, "Acme Kettle One")

	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, len(req.Rows))
		for i, row := range req.Rows {
			out[i] = RowResult{RowID: row.RowID, Values: map[string]any{
				"price":                  "$49.99",
				"capacity":               1.7,
				table.QualificationField: true,
			}}
		}
		return out
	}}

	engine := NewEngine(backend, logx.NewLogger("test"))
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("EnrichTable failed: %v", err)
	}

	row := tbl.RowByID(ids[0])
	if row.Cells["price"].Status != table.StatusEnriched || row.Cells["price"].Value != "$49.99" {
		t.Errorf("price cell not enriched: %+v", row.Cells["price"])
	}
	if row.Cells["price"].Source != "lattice" {
		t.Errorf("unexpected cell source: %q", row.Cells["price"].Source)
	}
	if row.MeetsRequirements == nil || !*row.MeetsRequirements {
		t.Error("qualification cell should derive MeetsRequirements")
	}
	if len(tbl.PendingCells()) != 0 {
		t.Errorf("expected no pending cells, got %d", len(tbl.PendingCells()))
	}
}

func TestEnrichTableMissingKeyStillEnriched(t *testing.T) {
	tbl, ids := buildTestTable(t, "Acme Kettle One")

	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, len(req.Rows))
		for i, row := range req.Rows {
			out[i] = RowResult{RowID: row.RowID, Values: map[string]any{"price": "$20"}}
		}
		return out
	}}

	engine := NewEngine(backend, logx.NewLogger("test"))
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("EnrichTable failed: %v", err)
	}

	cell := tbl.RowByID(ids[0]).Cells["capacity"]
	if cell.Status != table.StatusEnriched {
		t.Errorf("missing key should still mark cell enriched, got %s", cell.Status)
	}
	if cell.Value != nil {
		t.Errorf("missing key should leave value nil, got %v", cell.Value)
	}
}

func TestEnrichTableRowFailureIsolated(t *testing.T) {
	tbl, ids := buildTestTable(t, "Acme Kettle One", "Acme Kettle Two")

	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, len(req.Rows))
		for i, row := range req.Rows {
			if i == 1 {
				out[i] = RowResult{RowID: row.RowID, Err: errors.New("search timed out")}
				continue
			}
			out[i] = RowResult{RowID: row.RowID, Values: map[string]any{
				"price": "$30", "capacity": 1.5, table.QualificationField: "yes",
			}}
		}
		return out
	}}

	engine := NewEngine(backend, logx.NewLogger("test"))
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("EnrichTable failed: %v", err)
	}

	good := tbl.RowByID(ids[0])
	if good.Cells["price"].Status != table.StatusEnriched {
		t.Errorf("healthy row should be enriched, got %s", good.Cells["price"].Status)
	}

	bad := tbl.RowByID(ids[1])
	for _, name := range []string{"price", "capacity", table.QualificationField} {
		cell := bad.Cells[name]
		if cell.Status != table.StatusFailed {
			t.Errorf("failed row cell %s should be failed, got %s", name, cell.Status)
		}
		if cell.Error == "" {
			t.Errorf("failed cell %s missing error message", name)
		}
	}
	if bad.MeetsRequirements != nil {
		t.Error("failed row should not have MeetsRequirements set")
	}
}

func TestEnrichTableIdempotent(t *testing.T) {
	tbl, _ := buildTestTable(t, "Acme Kettle One")

	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, len(req.Rows))
		for i, row := range req.Rows {
			out[i] = RowResult{RowID: row.RowID, Values: map[string]any{
				"price": "$30", "capacity": 1.5, table.QualificationField: false,
			}}
		}
		return out
	}}

	engine := NewEngine(backend, logx.NewLogger("test"))
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if backend.calls != 1 {
		t.Errorf("second pass with no pending cells should skip backend, got %d calls", backend.calls)
	}
}

func TestEnrichTableNewFieldOnlyEnrichesNewCells(t *testing.T) {
	tbl, ids := buildTestTable(t, "Acme Kettle One")

	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, len(req.Rows))
		for i, row := range req.Rows {
			values := make(map[string]any)
			for _, f := range row.Fields {
				values[f.Name] = "filled"
			}
			out[i] = RowResult{RowID: row.RowID, Values: values}
		}
		return out
	}}

	engine := NewEngine(backend, logx.NewLogger("test"))
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}

	tbl.AddField(table.FieldDefinition{Name: "warranty", Prompt: "Find the warranty.", DataType: table.TypeString, Category: table.FieldUserDriven})
	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	if backend.calls != 2 {
		t.Fatalf("expected 2 backend calls, got %d", backend.calls)
	}
	lastRow := backend.lastReq.Rows[0]
	if len(lastRow.Fields) != 1 || lastRow.Fields[0].Name != "warranty" {
		t.Errorf("second pass should only request the new field, got %+v", lastRow.Fields)
	}
	if tbl.RowByID(ids[0]).Cells["warranty"].Status != table.StatusEnriched {
		t.Error("new field cell not enriched")
	}
}

func TestEnrichTableBackendError(t *testing.T) {
	tbl, _ := buildTestTable(t, "Acme Kettle One")

	backend := &fakeBackend{err: errors.New("backend exploded")}
	engine := NewEngine(backend, logx.NewLogger("test"))

	if err := engine.EnrichTable(context.Background(), tbl); err == nil {
		t.Fatal("expected error from backend failure")
	}
}

func TestEnrichTableShortResultListFailsMissingRows(t *testing.T) {
	tbl, ids := buildTestTable(t, "Acme Kettle One", "Acme Kettle Two", "Acme Kettle Three")

	// One result short: the first two rows come back, the third does not.
	backend := &fakeBackend{results: func(req Request) []RowResult {
		out := make([]RowResult, 0, 2)
		for _, row := range req.Rows[:2] {
			out = append(out, RowResult{RowID: row.RowID, Values: map[string]any{"price": "$30"}})
		}
		return out
	}}
	engine := NewEngine(backend, logx.NewLogger("test"))

	if err := engine.EnrichTable(context.Background(), tbl); err != nil {
		t.Fatalf("EnrichTable failed: %v", err)
	}

	for _, id := range ids[:2] {
		row := tbl.RowByID(id)
		if row.Cells["price"].Status != table.StatusEnriched {
			t.Errorf("row %s price cell should be enriched, got %s", id, row.Cells["price"].Status)
		}
	}

	missing := tbl.RowByID(ids[2])
	for _, name := range []string{"price", "capacity", table.QualificationField} {
		cell := missing.Cells[name]
		if cell.Status != table.StatusFailed {
			t.Errorf("cell %s should be failed, got %s", name, cell.Status)
		}
		if cell.Error == "" {
			t.Errorf("cell %s should carry an error message", name)
		}
	}
	if got := len(tbl.PendingCells()); got != 0 {
		t.Errorf("expected no pending cells after the pass, got %d", got)
	}
}
