// Package enrich fills pending comparison table cells with researched
// values. The engine batches pending work per row and delegates the actual
// research to a Backend; the production backend runs web searches per row.
package enrich

import (
	"context"
	"fmt"

	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/table"
)

// cellSource marks cells written by the enrichment backend.
const cellSource = "lattice"

// RowInput describes one row's enrichment work: the candidate plus the
// field definitions its pending cells need.
type RowInput struct {
	RowID     string
	Candidate table.Candidate
	Fields    []table.FieldDefinition
}

// Request is a batched enrichment call.
type Request struct {
	Rows []RowInput
}

// RowResult is the outcome for one row. Values is keyed by field name;
// missing keys mean the backend found nothing for that field.
type RowResult struct {
	RowID  string
	Values map[string]any
	Err    error
}

// Backend performs the actual research. Implementations must return one
// RowResult per input row, in input order. A row-level failure is reported
// in RowResult.Err; EnrichRows itself only errors when the whole batch is
// unusable.
type Backend interface {
	EnrichRows(ctx context.Context, req Request) ([]RowResult, error)
}

// Engine drives table enrichment through a Backend.
type Engine struct {
	backend Backend
	logger  *logx.Logger
}

// NewEngine creates an enrichment engine.
func NewEngine(backend Backend, logger *logx.Logger) *Engine {
	return &Engine{backend: backend, logger: logger}
}

// EnrichTable fills every pending or flagged cell in the table. Cells that
// are already enriched are untouched, so repeated calls only work on what
// is new. Per-row failures mark that row's pending cells failed and do not
// affect other rows.
func (e *Engine) EnrichTable(ctx context.Context, tbl *table.ComparisonTable) error {
	pending := tbl.PendingCells()
	if len(pending) == 0 {
		e.logger.Info("No pending cells to enrich")
		return nil
	}

	e.logger.Info("⚡ Enriching %d pending cells", len(pending))

	// Group pending cells by row, preserving row order
	fieldsByRow := make(map[string][]string)
	rowOrder := make([]string, 0)
	for _, pc := range pending {
		if _, ok := fieldsByRow[pc.RowID]; !ok {
			rowOrder = append(rowOrder, pc.RowID)
		}
		fieldsByRow[pc.RowID] = append(fieldsByRow[pc.RowID], pc.FieldName)
	}

	rows := make([]RowInput, 0, len(rowOrder))
	for _, rowID := range rowOrder {
		row := tbl.RowByID(rowID)
		if row == nil {
			continue
		}

		fields := make([]table.FieldDefinition, 0, len(fieldsByRow[rowID]))
		for _, name := range fieldsByRow[rowID] {
			if def, ok := tbl.FieldByName(name); ok {
				fields = append(fields, def)
			}
		}
		if len(fields) == 0 {
			continue
		}

		rows = append(rows, RowInput{RowID: rowID, Candidate: row.Candidate, Fields: fields})
	}

	if len(rows) == 0 {
		e.logger.Warn("Pending cells reference no known rows or fields")
		return nil
	}

	results, err := e.backend.EnrichRows(ctx, Request{Rows: rows})
	if err != nil {
		return fmt.Errorf("enrichment backend failed: %w", err)
	}
	if len(results) != len(rows) {
		e.logger.Warn("Enrichment backend returned %d results for %d rows", len(results), len(rows))
	}

	enriched := 0
	failed := 0
	for i, row := range rows {
		rowID := row.RowID
		fieldNames := fieldsByRow[rowID]

		// Results are positional. A row with no result fails; the rows
		// that did come back are still written.
		if i >= len(results) {
			for _, name := range fieldNames {
				tbl.UpdateCell(rowID, name, nil, table.StatusFailed, cellSource, "no result returned for row")
				failed++
			}
			continue
		}

		result := results[i]
		if result.Err != nil {
			e.logger.Warn("Enrichment failed for row %s: %v", rowID, result.Err)
			for _, name := range fieldNames {
				tbl.UpdateCell(rowID, name, nil, table.StatusFailed, cellSource, result.Err.Error())
				failed++
			}
			continue
		}

		for _, name := range fieldNames {
			// Missing keys still count as enriched: the backend looked
			// and found nothing.
			value := result.Values[name]
			tbl.UpdateCell(rowID, name, value, table.StatusEnriched, cellSource, "")
			enriched++
		}
	}

	e.logger.Info("⚡ Enrichment complete: %d cells enriched, %d failed", enriched, failed)
	return nil
}
