// Package table implements the living comparison table: a cell-tracked
// product grid that grows incrementally as rows and fields are added, and
// drives enrichment from the set of cells still pending.
package table

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CellStatus tracks a cell through the enrichment lifecycle.
type CellStatus string

const (
	StatusPending  CellStatus = "pending"  // Needs enrichment
	StatusEnriched CellStatus = "enriched" // Successfully enriched
	StatusFailed   CellStatus = "failed"   // Enrichment failed
	StatusFlagged  CellStatus = "flagged"  // Flagged for re-enrichment
)

// FieldCategory classifies where a field definition came from.
type FieldCategory string

const (
	FieldStandard      FieldCategory = "standard"
	FieldCategoryBased FieldCategory = "category"
	FieldUserDriven    FieldCategory = "user_driven"
	FieldQualification FieldCategory = "qualification" // Internal, excluded from display
)

// DataType declares the expected type of an enriched value.
type DataType string

const (
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeList    DataType = "list"
	TypeDict    DataType = "dict"
)

// FieldDefinition describes one comparison column.
type FieldDefinition struct {
	Name     string        `json:"name"`
	Prompt   string        `json:"prompt"` // Extraction prompt given to the enricher
	DataType DataType      `json:"data_type"`
	Category FieldCategory `json:"category"`
}

// Cell is a single table cell with tracking metadata.
type Cell struct {
	Value      any        `json:"value,omitempty"`
	Status     CellStatus `json:"status"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	Source     string     `json:"source,omitempty"` // "lattice", "advisor", "user"
	Error      string     `json:"error,omitempty"`
}

// Candidate is a discovered product. Immutable once discovered; identity is
// the normalized name.
type Candidate struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	OfficialURL  string `json:"official_url,omitempty"` // Only from verified citations
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
}

// Row holds one candidate and its cells. The cell set always matches the
// table's current field set.
type Row struct {
	ID                string           `json:"row_id"`
	Candidate         Candidate        `json:"candidate"`
	Cells             map[string]*Cell `json:"cells"`
	MeetsRequirements *bool            `json:"meets_requirements,omitempty"`
	AddedAt           time.Time        `json:"added_at"`
	SourceQuery       string           `json:"source_query,omitempty"`
}

// QualificationField is the boolean qualification field whose enriched value
// derives Row.MeetsRequirements.
const QualificationField = "meets_requirements"

// ComparisonTable is the single source of truth for comparison data.
// Mutating operations are safe for concurrent use and bump LastModified.
type ComparisonTable struct {
	mu sync.Mutex

	Category     string            `json:"category,omitempty"`
	Fields       []FieldDefinition `json:"fields"`
	Rows         []*Row            `json:"rows"`
	CreatedAt    time.Time         `json:"created_at"`
	LastModified time.Time         `json:"last_modified"`
}

// New creates an empty table for a product category.
func New(category string) *ComparisonTable {
	now := time.Now().UTC()
	return &ComparisonTable{
		Category:     category,
		CreatedAt:    now,
		LastModified: now,
	}
}

// HasCandidate reports whether a row with a matching name already exists.
// Matching is deliberately permissive: normalized-equal or one name
// containing the other counts as a match.
func (t *ComparisonTable) HasCandidate(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasCandidateLocked(name)
}

func (t *ComparisonTable) hasCandidateLocked(name string) bool {
	normalized := NormalizeName(name)
	for _, row := range t.Rows {
		if NamesMatch(normalized, NormalizeName(row.Candidate.Name)) {
			return true
		}
	}
	return false
}

// AddRow adds a new row unless the candidate duplicates an existing one.
// Returns the new row id and true, or "" and false on a duplicate.
func (t *ComparisonTable) AddRow(candidate Candidate, sourceQuery string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasCandidateLocked(candidate.Name) {
		return "", false
	}

	row := &Row{
		ID:          uuid.New().String(),
		Candidate:   candidate,
		Cells:       make(map[string]*Cell, len(t.Fields)),
		AddedAt:     time.Now().UTC(),
		SourceQuery: sourceQuery,
	}
	for _, field := range t.Fields {
		row.Cells[field.Name] = &Cell{Status: StatusPending}
	}

	t.Rows = append(t.Rows, row)
	t.LastModified = time.Now().UTC()
	return row.ID, true
}

// AddField appends a field definition and back-fills a pending cell on every
// existing row. No-op if a field with the same name exists.
func (t *ComparisonTable) AddField(field FieldDefinition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.Fields {
		if existing.Name == field.Name {
			return
		}
	}

	t.Fields = append(t.Fields, field)
	for _, row := range t.Rows {
		row.Cells[field.Name] = &Cell{Status: StatusPending}
	}
	t.LastModified = time.Now().UTC()
}

// UpdateCell overwrites a cell's value and status. EnrichedAt is set only
// when the new status is enriched. Silent no-op for unknown row ids.
// An enriched qualification cell derives the row's MeetsRequirements flag.
func (t *ComparisonTable) UpdateCell(rowID, fieldName string, value any, status CellStatus, source, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	row := t.rowByIDLocked(rowID)
	if row == nil {
		return
	}

	cell := &Cell{
		Value:  value,
		Status: status,
		Source: source,
		Error:  errMsg,
	}
	if status == StatusEnriched {
		now := time.Now().UTC()
		cell.EnrichedAt = &now
	}
	row.Cells[fieldName] = cell

	if fieldName == QualificationField && status == StatusEnriched {
		meets := ParseTruthy(value)
		row.MeetsRequirements = &meets
	}

	t.LastModified = time.Now().UTC()
}

// PendingCell identifies one cell awaiting enrichment.
type PendingCell struct {
	RowID     string
	FieldName string
}

// PendingCells returns every cell with pending or flagged status, in row
// order with fields in definition order.
func (t *ComparisonTable) PendingCells() []PendingCell {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []PendingCell
	for _, row := range t.Rows {
		for _, field := range t.Fields {
			cell, ok := row.Cells[field.Name]
			if !ok {
				continue
			}
			if cell.Status == StatusPending || cell.Status == StatusFlagged {
				pending = append(pending, PendingCell{RowID: row.ID, FieldName: field.Name})
			}
		}
	}
	return pending
}

// FieldNames returns field names in definition order. Qualification fields
// are excluded when excludeInternal is true.
func (t *ComparisonTable) FieldNames(excludeInternal bool) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fieldNamesLocked(excludeInternal)
}

func (t *ComparisonTable) fieldNamesLocked(excludeInternal bool) []string {
	names := make([]string, 0, len(t.Fields))
	for _, field := range t.Fields {
		if excludeInternal && field.Category == FieldQualification {
			continue
		}
		names = append(names, field.Name)
	}
	return names
}

// FieldByName returns the field definition with the given name.
func (t *ComparisonTable) FieldByName(name string) (FieldDefinition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, field := range t.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return FieldDefinition{}, false
}

// RowByID returns the row with the given id, or nil.
func (t *ComparisonTable) RowByID(rowID string) *Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rowByIDLocked(rowID)
}

func (t *ComparisonTable) rowByIDLocked(rowID string) *Row {
	for _, row := range t.Rows {
		if row.ID == rowID {
			return row
		}
	}
	return nil
}

// QualifiedRows returns rows whose MeetsRequirements is true.
func (t *ComparisonTable) QualifiedRows() []*Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	var qualified []*Row
	for _, row := range t.Rows {
		if row.MeetsRequirements != nil && *row.MeetsRequirements {
			qualified = append(qualified, row)
		}
	}
	return qualified
}

// RowCount returns the number of rows.
func (t *ComparisonTable) RowCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Rows)
}

// EnrichmentProgress returns (enriched cells, total cells).
func (t *ComparisonTable) EnrichmentProgress() (enriched, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, row := range t.Rows {
		for _, cell := range row.Cells {
			total++
			if cell.Status == StatusEnriched {
				enriched++
			}
		}
	}
	return enriched, total
}

// ParseTruthy reports whether an enriched value counts as true. Accepts
// boolean true and the string variants "true"/"yes"/"1" the enricher is
// known to emit; anything else is false.
func ParseTruthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch v {
		case "TRUE", "True", "true", "Yes", "yes", "1":
			return true
		}
	}
	return false
}
