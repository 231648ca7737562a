// Package proto defines the conversation protocol between the user-facing
// surface and the workflow engine: phases, checkpoints, inbound events and
// outbound replies.
package proto

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase represents the conversation phase.
type Phase string

const (
	PhaseIntake   Phase = "intake"   // Gathering requirements
	PhaseResearch Phase = "research" // Searching and enriching candidates
	PhaseAdvise   Phase = "advise"   // Presenting results and follow-ups
	PhaseComplete Phase = "complete" // User is done
	PhaseError    Phase = "error"    // Unrecoverable node failure
)

func (p Phase) String() string {
	return string(p)
}

// IsValid reports whether p is a known phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIntake, PhaseResearch, PhaseAdvise, PhaseComplete, PhaseError:
		return true
	}
	return false
}

// IsTerminal reports whether no further events are expected.
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete
}

// Checkpoint identifies a pending confirmation gate. The conversation pauses
// at a checkpoint and resumes only when a confirmation event resolves it.
type Checkpoint string

const (
	CheckpointNone         Checkpoint = ""
	CheckpointRequirements Checkpoint = "requirements" // Confirm requirements before searching
	CheckpointFields       Checkpoint = "fields"       // Confirm field list before enriching
	CheckpointIntent       Checkpoint = "intent"       // Confirm a destructive restart
)

// EventKind distinguishes free-form user text from checkpoint confirmations.
// Confirmations travel out-of-band as typed events rather than being parsed
// out of message text.
type EventKind string

const (
	EventKindMessage      EventKind = "message"
	EventKindConfirmation EventKind = "confirmation"
)

// Event is a single inbound user turn.
type Event struct {
	ID         string     `json:"id"`
	Kind       EventKind  `json:"kind"`
	Content    string     `json:"content,omitempty"`    // User text for message events
	Checkpoint Checkpoint `json:"checkpoint,omitempty"` // Which gate a confirmation resolves
	Choice     string     `json:"choice,omitempty"`     // Selected choice id
	ReceivedAt time.Time  `json:"received_at"`
}

// NewMessageEvent creates a free-form text event.
func NewMessageEvent(content string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Kind:       EventKindMessage,
		Content:    content,
		ReceivedAt: time.Now().UTC(),
	}
}

// NewConfirmationEvent creates a checkpoint resolution event.
func NewConfirmationEvent(checkpoint Checkpoint, choice string) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Kind:       EventKindConfirmation,
		Checkpoint: checkpoint,
		Choice:     choice,
		ReceivedAt: time.Now().UTC(),
	}
}

// Validate checks structural invariants before the event enters the engine.
func (e *Event) Validate() error {
	switch e.Kind {
	case EventKindMessage:
		if e.Content == "" {
			return fmt.Errorf("message event requires content")
		}
	case EventKindConfirmation:
		if e.Checkpoint == CheckpointNone {
			return fmt.Errorf("confirmation event requires a checkpoint")
		}
		if e.Choice == "" {
			return fmt.Errorf("confirmation event requires a choice")
		}
	default:
		return fmt.Errorf("unknown event kind: %s", e.Kind)
	}
	return nil
}

// Choice is one selectable action offered at a checkpoint.
type Choice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Well-known choice ids offered at checkpoints.
const (
	ChoiceStartSearch  = "start_search"
	ChoiceKeepRefining = "keep_refining"
	ChoiceEnrichNow    = "enrich_now"
	ChoiceAdjustFields = "adjust_fields"
	ChoiceConfirm      = "confirm"
	ChoiceCancel       = "cancel"
)

// Reply is the engine's response to one event.
type Reply struct {
	Content       string     `json:"content"`
	Phase         Phase      `json:"phase"`
	Checkpoint    Checkpoint `json:"checkpoint,omitempty"` // Non-empty when awaiting confirmation
	Choices       []Choice   `json:"choices,omitempty"`
	TableMarkdown string     `json:"table_markdown,omitempty"`
}

// AwaitingConfirmation reports whether the reply pauses at a checkpoint.
func (r *Reply) AwaitingConfirmation() bool {
	return r.Checkpoint != CheckpointNone
}

// HasChoice reports whether id is among the offered choices.
func (r *Reply) HasChoice(id string) bool {
	for _, c := range r.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Intent classifies a user message in the advise phase.
type Intent string

const (
	IntentQuestion  Intent = "question"   // Question about current results
	IntentNewSearch Intent = "new_search" // Start over with a different category
	IntentAddFields Intent = "add_fields" // Add comparison fields to the table
	IntentRefine    Intent = "refine"     // Narrow results with extra requirements
	IntentDone      Intent = "done"       // User is finished
)

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentQuestion, IntentNewSearch, IntentAddFields, IntentRefine, IntentDone:
		return true
	}
	return false
}
