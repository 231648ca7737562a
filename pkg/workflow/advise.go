package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/explorer"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/state"
)

const adviseSystemPrompt = `You are a product research advisor. The research phase produced a comparison table, included below.
Answer the user's questions using ONLY the table data. Be specific: name products, cite their values, and say when a cell is unknown.
If asked for a recommendation, favor products marked as meeting the requirements and explain the tradeoffs.`

const intentSystemPrompt = `You classify what a user wants to do next after reviewing product research results.
Intents:
- question: asking about or discussing the current results
- new_search: wants more or different product options, requiring a fresh search
- add_fields: wants additional comparison attributes researched for the current products
- refine: wants to change their requirements (budget, must-haves, category)
- done: satisfied and finished
When the intent is add_fields, list the requested attribute names.`

type intentClassification struct {
	Intent          string   `json:"intent"`
	RequestedFields []string `json:"requested_fields"`
}

var classifyIntentTool = llm.ToolDefinition{
	Name:        "classify_intent",
	Description: "Record the user's intent for their latest message.",
	InputSchema: llm.InputSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"intent": {
				Type:        "string",
				Description: "What the user wants to do next",
				Enum:        []string{"question", "new_search", "add_fields", "refine", "done"},
			},
			"requested_fields": {
				Type:        "array",
				Description: "Attribute names requested, only for add_fields",
				Items:       &llm.Property{Type: "string"},
			},
		},
		Required: []string{"intent"},
	},
}

// runAdvise classifies the user's intent and either answers directly or
// pauses at the intent checkpoint. Only question and done execute
// immediately; anything that would rebuild results needs confirmation.
func (e *Engine) runAdvise(ctx context.Context, session *state.Session, text string) (*proto.Reply, error) {
	intent, requested := e.classifyIntent(ctx, text)
	e.logger.Debug("Advise intent: %s (fields: %v)", intent, requested)

	switch intent {
	case proto.IntentDone:
		session.Phase = proto.PhaseComplete
		return &proto.Reply{
			Content: "Great! I'm glad I could help. Good luck with your purchase! 👋",
			Phase:   proto.PhaseComplete,
		}, nil

	case proto.IntentNewSearch:
		return e.presentIntentCheckpoint(session, intent, nil,
			"Just to confirm: you'd like me to run a fresh search for more options? "+
				"I'll add anything new to the comparison table."), nil

	case proto.IntentAddFields:
		if len(requested) == 0 {
			return &proto.Reply{
				Content: "Which attributes would you like me to add to the comparison?",
				Phase:   proto.PhaseAdvise,
			}, nil
		}
		return e.presentIntentCheckpoint(session, intent, requested,
			fmt.Sprintf("Just to confirm: you'd like me to research %s for every product in the table?",
				strings.Join(requested, ", "))), nil

	case proto.IntentRefine:
		return e.presentIntentCheckpoint(session, intent, nil,
			"Just to confirm: you'd like to change your requirements? "+
				"We'll go back over them and then re-run the research."), nil

	default:
		return e.answerQuestion(ctx, session), nil
	}
}

// presentIntentCheckpoint parks a consequential intent behind the intent
// gate. The typed choice ids resolve it; free text cancels it.
func (e *Engine) presentIntentCheckpoint(session *state.Session, intent proto.Intent, requested []string, content string) *proto.Reply {
	session.PendingIntent = string(intent)
	session.RequestedFields = requested
	session.SetCheckpoint(proto.CheckpointIntent, []proto.Choice{
		{ID: proto.ChoiceConfirm, Label: "Yes, go ahead"},
		{ID: proto.ChoiceCancel, Label: "No, never mind"},
	})
	return &proto.Reply{
		Content:    content,
		Phase:      proto.PhaseAdvise,
		Checkpoint: proto.CheckpointIntent,
		Choices:    session.ActionChoices,
	}
}

// confirmIntent resolves the intent checkpoint and executes the parked action.
func (e *Engine) confirmIntent(ctx context.Context, session *state.Session, choice string) (*proto.Reply, error) {
	if choice == proto.ChoiceCancel {
		session.ClearCheckpoint()
		return &proto.Reply{
			Content: "No problem - what else would you like to know about the results?",
			Phase:   proto.PhaseAdvise,
		}, nil
	}
	if choice != proto.ChoiceConfirm {
		return e.repromptCheckpoint(session, proto.CheckpointIntent), nil
	}

	intent := proto.Intent(session.PendingIntent)
	requested := session.RequestedFields
	session.ClearCheckpoint()

	switch intent {
	case proto.IntentNewSearch:
		// The live table survives the new search; dedup on insert means
		// only genuinely new products get pending cells.
		plan := e.explorer.GenerateQueryPlan(ctx, &session.Requirements)
		return e.runSearch(ctx, session, plan, "")

	case proto.IntentAddFields:
		return e.addFieldsAndEnrich(ctx, session, requested)

	case proto.IntentRefine:
		session.Phase = proto.PhaseIntake
		return &proto.Reply{
			Content: "Sure - tell me what's changed about what you need.",
			Phase:   proto.PhaseIntake,
		}, nil

	default:
		// Confirmed but the parked intent is gone; show the results again.
		e.logger.Warn("Intent confirmed with no pending intent")
		return e.answerQuestion(ctx, session), nil
	}
}

// addFieldsAndEnrich adds the requested fields to the live table and fills
// only the new cells. With no products yet, a field request forces a search
// first.
func (e *Engine) addFieldsAndEnrich(ctx context.Context, session *state.Session, requested []string) (*proto.Reply, error) {
	if session.Table == nil || session.Table.RowCount() == 0 {
		plan := e.explorer.GenerateQueryPlan(ctx, &session.Requirements)
		return e.runSearch(ctx, session, plan,
			"I need to find products first, then I can research those attributes.\n\n")
	}

	added := 0
	for _, name := range requested {
		def, ok := explorer.UserFieldDefinition(name)
		if !ok {
			continue
		}
		session.Table.AddField(def)
		added++
	}
	if added == 0 {
		return &proto.Reply{
			Content: "I couldn't turn that into comparison fields - could you name the attributes differently?",
			Phase:   proto.PhaseAdvise,
		}, nil
	}

	label := "fields"
	if added == 1 {
		label = "field"
	}
	return e.runEnrich(ctx, session, fmt.Sprintf("Added %d new %s.\n\n", added, label))
}

// answerQuestion responds to a question about the current results. A chat
// failure degrades to showing the table rather than killing the session.
func (e *Engine) answerQuestion(ctx context.Context, session *state.Session) *proto.Reply {
	markdown := ""
	if session.Table != nil {
		markdown = session.Table.Markdown(tableDisplayRows, true, true)
	}

	prompt := adviseSystemPrompt
	if markdown != "" {
		prompt += "\n\nComparison table:\n" + markdown
	}

	resp, err := e.chat.Complete(ctx, llm.CompletionRequest{
		Messages:  e.conv.ToCompletionMessages(prompt),
		MaxTokens: 2048,
	})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			e.logger.Warn("Advise answer generation failed: %v", err)
		}
		return &proto.Reply{
			Content:       "Here's the full comparison so far:",
			Phase:         proto.PhaseAdvise,
			TableMarkdown: markdown,
		}
	}
	return &proto.Reply{
		Content: resp.Content,
		Phase:   proto.PhaseAdvise,
	}
}

// classifyIntent asks the model for the user's intent, with a keyword
// fallback so classification failures never block the conversation.
func (e *Engine) classifyIntent(ctx context.Context, text string) (proto.Intent, []string) {
	out, err := llm.GenerateStructured[intentClassification](ctx, e.chat, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(intentSystemPrompt),
			llm.NewUserMessage(text),
		},
		MaxTokens: 512,
	}, classifyIntentTool)
	if err == nil {
		intent := proto.Intent(out.Intent)
		if intent.IsValid() {
			fields := make([]string, 0, len(out.RequestedFields))
			for _, f := range out.RequestedFields {
				if strings.TrimSpace(f) != "" {
					fields = append(fields, strings.TrimSpace(f))
				}
			}
			return intent, fields
		}
	}
	if err != nil {
		e.logger.Warn("Intent classification failed, using keyword fallback: %v", err)
	}
	return fallbackIntent(text), nil
}

func fallbackIntent(text string) proto.Intent {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "i'm done", "im done", "that's all", "thats all", "thank", "goodbye", "bye", "perfect, "):
		return proto.IntentDone
	case containsAny(t, "more option", "other option", "find more", "search again", "start over", "something else entirely"):
		return proto.IntentNewSearch
	case containsAny(t, "add field", "add a field", "add column", "compare on", "also compare", "also show"):
		return proto.IntentAddFields
	case containsAny(t, "change my requirement", "change the requirement", "my budget is now", "different budget"):
		return proto.IntentRefine
	default:
		return proto.IntentQuestion
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
