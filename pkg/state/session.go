package state

import (
	"time"

	"github.com/google/uuid"

	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/table"
)

// PlannedQuery is one search query awaiting user confirmation.
type PlannedQuery struct {
	Query string `json:"query"`
	Angle string `json:"angle"`
}

// DiscoveredCandidate pairs a found candidate with the query that surfaced
// it, held in session state between discovery and enrichment confirmation.
type DiscoveredCandidate struct {
	Candidate   table.Candidate `json:"candidate"`
	SourceQuery string          `json:"source_query,omitempty"`
}

// Session is the full state of one research conversation. Every field is
// explicit and typed; the whole struct serializes to JSON for persistence.
type Session struct {
	ID           string           `json:"id"`
	Phase        proto.Phase      `json:"phase"`
	Requirements UserRequirements `json:"requirements"`

	Table *table.ComparisonTable `json:"table,omitempty"`

	// Checkpoint state. At most one checkpoint is pending at a time;
	// AwaitingCheckpoint names it and the Pending* fields carry the data
	// the confirmation will act on.
	AwaitingCheckpoint proto.Checkpoint        `json:"awaiting_checkpoint,omitempty"`
	PendingQueryPlan   []PlannedQuery          `json:"pending_query_plan,omitempty"`
	PendingFields      []table.FieldDefinition `json:"pending_fields,omitempty"`
	PendingCandidates  []DiscoveredCandidate   `json:"pending_candidates,omitempty"`
	PendingIntent      string                  `json:"pending_intent,omitempty"`
	RequestedFields    []string                `json:"requested_fields,omitempty"`
	ActionChoices      []proto.Choice          `json:"action_choices,omitempty"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a fresh session in the intake phase.
func NewSession() *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.New().String(),
		Phase:     proto.PhaseIntake,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// GetSessionID implements metrics.SessionProvider.
func (s *Session) GetSessionID() string {
	return s.ID
}

// GetPhase implements metrics.SessionProvider.
func (s *Session) GetPhase() proto.Phase {
	return s.Phase
}

// SetCheckpoint records a pending checkpoint with its choices. Any previous
// checkpoint state is replaced wholesale so stale pending data cannot leak
// across checkpoints.
func (s *Session) SetCheckpoint(cp proto.Checkpoint, choices []proto.Choice) {
	s.AwaitingCheckpoint = cp
	s.ActionChoices = choices
	s.UpdatedAt = time.Now().UTC()
}

// ClearCheckpoint resets all checkpoint fields together.
func (s *Session) ClearCheckpoint() {
	s.AwaitingCheckpoint = proto.CheckpointNone
	s.PendingQueryPlan = nil
	s.PendingFields = nil
	s.PendingCandidates = nil
	s.PendingIntent = ""
	s.RequestedFields = nil
	s.ActionChoices = nil
	s.UpdatedAt = time.Now().UTC()
}

// AwaitingConfirmation reports whether a checkpoint is pending.
func (s *Session) AwaitingConfirmation() bool {
	return s.AwaitingCheckpoint != proto.CheckpointNone
}

// Touch bumps the modification timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now().UTC()
}
