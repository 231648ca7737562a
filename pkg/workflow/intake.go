package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/state"
)

const intakeSystemPrompt = `You are a friendly product research assistant gathering requirements before a search.
Your job in this phase:
- Work out what product category the user wants
- Capture their hard requirements (must-haves), preferences (nice-to-haves), budget, and use case
- Ask ONE focused follow-up question at a time about whatever is still missing
- Never recommend specific products yet; that comes after the search
Keep replies short and conversational.`

const extractionSystemPrompt = `You extract structured purchase requirements from a shopping conversation.
Record only what the user actually said; never invent requirements.
Set ready_to_search to true ONLY when the user explicitly signals they want the search to begin (e.g. "go ahead", "start searching", "that's everything").`

// requirementsUpdate is the structured output of one intake extraction turn.
type requirementsUpdate struct {
	Category      string   `json:"category"`
	MustHaves     []string `json:"must_haves"`
	NiceToHaves   []string `json:"nice_to_haves"`
	Budget        string   `json:"budget"`
	UseCase       string   `json:"use_case"`
	Context       string   `json:"context"`
	ReadyToSearch bool     `json:"ready_to_search"`
}

func (u requirementsUpdate) toRequirements() state.UserRequirements {
	return state.UserRequirements{
		Category:    strings.TrimSpace(u.Category),
		MustHaves:   u.MustHaves,
		NiceToHaves: u.NiceToHaves,
		Budget:      strings.TrimSpace(u.Budget),
		UseCase:     strings.TrimSpace(u.UseCase),
		Context:     strings.TrimSpace(u.Context),
	}
}

var extractRequirementsTool = llm.ToolDefinition{
	Name:        "record_requirements",
	Description: "Record purchase requirements mentioned in the latest user message.",
	InputSchema: llm.InputSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"category": {
				Type:        "string",
				Description: "Product category the user wants, e.g. 'wireless headphones'. Empty if not yet known.",
			},
			"must_haves": {
				Type:        "array",
				Description: "Hard requirements the product must satisfy",
				Items:       &llm.Property{Type: "string"},
			},
			"nice_to_haves": {
				Type:        "array",
				Description: "Preferences that are wanted but not required",
				Items:       &llm.Property{Type: "string"},
			},
			"budget": {
				Type:        "string",
				Description: "Budget or price range, e.g. 'under $300'. Empty if not mentioned.",
			},
			"use_case": {
				Type:        "string",
				Description: "What the product will be used for. Empty if not mentioned.",
			},
			"context": {
				Type:        "string",
				Description: "Any other relevant context the user shared",
			},
			"ready_to_search": {
				Type:        "boolean",
				Description: "True only when the user explicitly asks to start the search",
			},
		},
		Required: []string{"ready_to_search"},
	},
}

// runIntake extracts requirements from the user's message, merges them into
// the session, and either presents the requirements checkpoint or asks a
// follow-up question. Extraction failures propagate; inventing requirements
// silently would poison everything downstream.
func (e *Engine) runIntake(ctx context.Context, session *state.Session, text string) (*proto.Reply, error) {
	update, err := llm.GenerateStructured[requirementsUpdate](ctx, e.chat, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(extractionSystemPrompt),
			llm.NewUserMessage(fmt.Sprintf("Known requirements so far: %s\n\nLatest user message: %s",
				session.Requirements.SummaryLine(), text)),
		},
		MaxTokens: 1024,
	}, extractRequirementsTool)
	if err != nil {
		return nil, fmt.Errorf("requirement extraction: %w", err)
	}

	session.Requirements.Merge(update.toRequirements())
	e.logger.Debug("Requirements after merge: %s", session.Requirements.SummaryLine())

	if session.Requirements.Ready() && update.ReadyToSearch {
		return e.presentRequirementsCheckpoint(ctx, session, "")
	}
	return e.intakeFollowUp(ctx, session), nil
}

// presentRequirementsCheckpoint plans the searches and pauses at the
// requirements gate. The plan is held in session state so the confirmation
// can act on exactly what the user saw.
func (e *Engine) presentRequirementsCheckpoint(ctx context.Context, session *state.Session, prefix string) (*proto.Reply, error) {
	plan := e.explorer.GenerateQueryPlan(ctx, &session.Requirements)
	session.PendingQueryPlan = plan
	session.SetCheckpoint(proto.CheckpointRequirements, []proto.Choice{
		{ID: proto.ChoiceStartSearch, Label: "Start the search"},
		{ID: proto.ChoiceKeepRefining, Label: "Keep refining requirements"},
	})

	content := fmt.Sprintf("%sHere's what I'm looking for: %s\n\n"+
		"I've planned %d searches across review sites, Reddit, brand catalogs, and comparison articles.\n\n"+
		"Ready to start, or is there anything you'd like to add first?",
		prefix, session.Requirements.SummaryLine(), len(plan))

	return &proto.Reply{
		Content:    content,
		Phase:      session.Phase,
		Checkpoint: proto.CheckpointRequirements,
		Choices:    session.ActionChoices,
	}, nil
}

// intakeFollowUp generates the next conversational question. A chat failure
// here is not fatal; a deterministic question about the biggest gap stands in.
func (e *Engine) intakeFollowUp(ctx context.Context, session *state.Session) *proto.Reply {
	prompt := intakeSystemPrompt + "\n\nCurrent requirements: " + session.Requirements.SummaryLine() +
		"\nStill missing: " + missingRequirements(&session.Requirements)

	resp, err := e.chat.Complete(ctx, llm.CompletionRequest{
		Messages:  e.conv.ToCompletionMessages(prompt),
		MaxTokens: 1024,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			e.logger.Warn("Intake follow-up generation failed: %v", err)
		}
		return &proto.Reply{
			Content: fallbackFollowUp(&session.Requirements),
			Phase:   proto.PhaseIntake,
		}
	}
	return &proto.Reply{
		Content: resp.Content,
		Phase:   proto.PhaseIntake,
	}
}

func missingRequirements(req *state.UserRequirements) string {
	var missing []string
	if req.Category == "" {
		missing = append(missing, "product category")
	}
	if len(req.MustHaves) == 0 {
		missing = append(missing, "must-have requirements")
	}
	if req.Budget == "" && req.UseCase == "" {
		missing = append(missing, "budget or use case")
	}
	if len(missing) == 0 {
		return "nothing - waiting for the user to say they're ready"
	}
	return strings.Join(missing, ", ")
}

func fallbackFollowUp(req *state.UserRequirements) string {
	switch {
	case req.Category == "":
		return "What kind of product are you shopping for?"
	case len(req.MustHaves) == 0:
		return fmt.Sprintf("What features does the %s absolutely need to have?", req.Category)
	case req.Budget == "" && req.UseCase == "":
		return "What's your budget, or what will you mainly use it for?"
	default:
		return "Anything else I should know, or shall we start the search?"
	}
}
