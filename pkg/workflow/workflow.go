// Package workflow implements the conversation state machine that drives a
// research session through its phases: intake gathers requirements, research
// discovers and enriches candidates, advise presents results and handles
// follow-ups. Confirmation checkpoints pause the machine until the user
// resolves them with an out-of-band confirmation event.
package workflow

import (
	"context"
	"fmt"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/contextmgr"
	"github.com/matt-house-e/shortlist/pkg/enrich"
	"github.com/matt-house-e/shortlist/pkg/explorer"
	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/state"
)

// tableDisplayRows caps how many rows replies embed; the full table remains
// available through CSV export.
const tableDisplayRows = 20

// Engine processes inbound events against a session and advances the phase
// machine. All collaborators are injected; the engine itself holds no global
// state and is safe to rebuild per session.
type Engine struct {
	chat     llm.LLMClient
	explorer *explorer.Explorer
	enricher *enrich.Engine
	conv     *contextmgr.ContextManager
	logger   *logx.Logger
}

// NewEngine wires a workflow engine from its collaborators.
func NewEngine(chat llm.LLMClient, exp *explorer.Explorer, enr *enrich.Engine, conv *contextmgr.ContextManager, logger *logx.Logger) *Engine {
	return &Engine{
		chat:     chat,
		explorer: exp,
		enricher: enr,
		conv:     conv,
		logger:   logger,
	}
}

// Conversation exposes the engine's conversation history, used by the caller
// to persist and restore context across restarts.
func (e *Engine) Conversation() *contextmgr.ContextManager {
	return e.conv
}

// ProcessEvent routes one inbound event through the phase machine and returns
// the reply. Node failures do not return an error; they log, move the session
// to the error phase, and reply with an apology so the conversation survives.
// An error return means the event itself was malformed.
func (e *Engine) ProcessEvent(ctx context.Context, session *state.Session, event *proto.Event) (*proto.Reply, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	defer session.Touch()

	var (
		reply *proto.Reply
		err   error
	)
	switch event.Kind {
	case proto.EventKindConfirmation:
		reply, err = e.handleConfirmation(ctx, session, event)
	case proto.EventKindMessage:
		reply, err = e.handleMessage(ctx, session, event)
	default:
		return nil, fmt.Errorf("unhandled event kind %q", event.Kind)
	}
	if err != nil {
		reply = e.failNode(session, err)
	}

	if reply.Content != "" {
		e.conv.AddMessage("assistant", reply.Content)
	}
	e.conv.CompactIfNeeded()
	return reply, nil
}

// handleConfirmation resolves a checkpoint. A confirmation that arrives when
// no matching checkpoint is pending gets a gentle redirect instead of an
// error; stale confirmations are expected when users scroll back.
func (e *Engine) handleConfirmation(ctx context.Context, session *state.Session, event *proto.Event) (*proto.Reply, error) {
	if !session.AwaitingConfirmation() || event.Checkpoint != session.AwaitingCheckpoint {
		return &proto.Reply{
			Content: "There's nothing to confirm right now. Tell me what you'd like to do next.",
			Phase:   session.Phase,
		}, nil
	}

	switch event.Checkpoint {
	case proto.CheckpointRequirements:
		return e.confirmRequirements(ctx, session, event.Choice)
	case proto.CheckpointFields:
		return e.confirmFields(ctx, session, event.Choice)
	case proto.CheckpointIntent:
		return e.confirmIntent(ctx, session, event.Choice)
	}
	return nil, fmt.Errorf("unhandled checkpoint %q", event.Checkpoint)
}

// handleMessage routes free-form text. Text during the requirements
// checkpoint is treated as continued refinement; text during the fields
// checkpoint adjusts the pending field set; text during the intent checkpoint
// cancels the pending action and falls through to normal advise handling.
func (e *Engine) handleMessage(ctx context.Context, session *state.Session, event *proto.Event) (*proto.Reply, error) {
	e.conv.AddMessage("user", event.Content)

	if session.AwaitingConfirmation() {
		switch session.AwaitingCheckpoint {
		case proto.CheckpointRequirements:
			session.ClearCheckpoint()
		case proto.CheckpointFields:
			return e.adjustPendingFields(ctx, session, event.Content)
		case proto.CheckpointIntent:
			e.logger.Info("Pending intent %q canceled by free-form message", session.PendingIntent)
			session.ClearCheckpoint()
		}
	}

	switch session.Phase {
	case proto.PhaseIntake:
		return e.runIntake(ctx, session, event.Content)
	case proto.PhaseResearch:
		return e.runResearchMessage(ctx, session)
	case proto.PhaseAdvise:
		return e.runAdvise(ctx, session, event.Content)
	case proto.PhaseComplete:
		return &proto.Reply{
			Content: "This session is complete. Start a new session to research something else.",
			Phase:   proto.PhaseComplete,
		}, nil
	case proto.PhaseError:
		return e.recoverFromError(ctx, session, event.Content)
	}
	return nil, fmt.Errorf("unknown phase %q", session.Phase)
}

// failNode converts a node error into a survivable error-phase reply. The
// checkpoint state is cleared atomically so no half-pending action lingers.
func (e *Engine) failNode(session *state.Session, err error) *proto.Reply {
	e.logger.Error("Node failed in phase %s: %v", session.Phase, err)
	session.ClearCheckpoint()
	session.LastError = err.Error()
	session.Phase = proto.PhaseError
	return &proto.Reply{
		Content: "I apologize, but I ran into a problem processing that. Your progress is saved - send another message and we'll pick up from there.",
		Phase:   proto.PhaseError,
	}
}

// recoverFromError routes the first message after a node failure back into a
// working phase: advise when results already exist, intake otherwise.
func (e *Engine) recoverFromError(ctx context.Context, session *state.Session, text string) (*proto.Reply, error) {
	session.LastError = ""
	if session.Table != nil && session.Table.RowCount() > 0 {
		session.Phase = proto.PhaseAdvise
		return e.runAdvise(ctx, session, text)
	}
	session.Phase = proto.PhaseIntake
	return e.runIntake(ctx, session, text)
}

// runResearchMessage handles the rare case of free text arriving in the
// research phase with no checkpoint pending, which indicates the session
// state lost its pending action. Results that already exist win; otherwise
// the search restarts.
func (e *Engine) runResearchMessage(ctx context.Context, session *state.Session) (*proto.Reply, error) {
	if session.Table != nil && session.Table.RowCount() > 0 {
		session.Phase = proto.PhaseAdvise
		return &proto.Reply{
			Content:       "Here's where we left off:",
			Phase:         proto.PhaseAdvise,
			TableMarkdown: session.Table.Markdown(tableDisplayRows, true, true),
		}, nil
	}

	e.logger.Warn("Research phase message with no pending action, restarting search")
	plan := e.explorer.GenerateQueryPlan(ctx, &session.Requirements)
	return e.runSearch(ctx, session, plan, "Something went wrong on my end. Let me restart the search.\n\n")
}
