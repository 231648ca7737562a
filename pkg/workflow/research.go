package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/explorer"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/state"
	"github.com/matt-house-e/shortlist/pkg/table"
)

var fieldsCheckpointChoices = []proto.Choice{
	{ID: proto.ChoiceEnrichNow, Label: "Analyze these products now"},
	{ID: proto.ChoiceAdjustFields, Label: "Adjust the comparison fields first"},
}

// confirmRequirements resolves the requirements checkpoint.
func (e *Engine) confirmRequirements(ctx context.Context, session *state.Session, choice string) (*proto.Reply, error) {
	switch choice {
	case proto.ChoiceKeepRefining:
		session.ClearCheckpoint()
		return &proto.Reply{
			Content: "No problem - tell me more about what you're looking for.",
			Phase:   proto.PhaseIntake,
		}, nil

	case proto.ChoiceStartSearch:
		plan := session.PendingQueryPlan
		session.ClearCheckpoint()
		if len(plan) == 0 {
			// Confirmed but the plan is gone; re-plan rather than guess.
			e.logger.Warn("Search confirmed with no pending query plan, re-planning")
			return e.presentRequirementsCheckpoint(ctx, session,
				"Something went wrong on my end - I've re-planned the search.\n\n")
		}
		session.Phase = proto.PhaseResearch
		return e.runSearch(ctx, session, plan, "")

	default:
		return e.repromptCheckpoint(session, proto.CheckpointRequirements), nil
	}
}

// runSearch executes the query plan, generates the comparison fields, and
// pauses at the fields checkpoint. Candidates and fields are parked in
// session state until the user confirms enrichment.
func (e *Engine) runSearch(ctx context.Context, session *state.Session, plan []state.PlannedQuery, prefix string) (*proto.Reply, error) {
	session.Phase = proto.PhaseResearch

	discoveries := e.explorer.Explore(ctx, plan, session.Requirements.Category)
	if len(discoveries) == 0 {
		session.Phase = proto.PhaseIntake
		return &proto.Reply{
			Content: prefix + "I couldn't find any products matching those requirements. " +
				"Could we loosen something - maybe the budget or one of the must-haves?",
			Phase: proto.PhaseIntake,
		}, nil
	}

	fields := e.explorer.GenerateFields(ctx, &session.Requirements)
	session.PendingCandidates = discoveries
	session.PendingFields = fields
	session.SetCheckpoint(proto.CheckpointFields, fieldsCheckpointChoices)

	content := fmt.Sprintf("%s🔍 Found %d products!\n\nI'll compare them on these fields:\n%s\n\n"+
		"Ready to analyze them, or would you like to adjust the fields first?",
		prefix, len(discoveries), formatFieldList(fields))

	return &proto.Reply{
		Content:    content,
		Phase:      proto.PhaseResearch,
		Checkpoint: proto.CheckpointFields,
		Choices:    session.ActionChoices,
	}, nil
}

// confirmFields resolves the fields checkpoint.
func (e *Engine) confirmFields(ctx context.Context, session *state.Session, choice string) (*proto.Reply, error) {
	switch choice {
	case proto.ChoiceAdjustFields:
		// Keep the checkpoint pending; the next message carries the changes.
		return &proto.Reply{
			Content:    "Sure - tell me which fields to add or remove.",
			Phase:      proto.PhaseResearch,
			Checkpoint: proto.CheckpointFields,
			Choices:    session.ActionChoices,
		}, nil

	case proto.ChoiceEnrichNow:
		fields := session.PendingFields
		candidates := session.PendingCandidates
		session.ClearCheckpoint()
		if len(fields) == 0 || len(candidates) == 0 {
			e.logger.Warn("Enrichment confirmed with no pending candidates or fields, restarting search")
			plan := e.explorer.GenerateQueryPlan(ctx, &session.Requirements)
			return e.runSearch(ctx, session, plan, "Something went wrong on my end. Let me restart the search.\n\n")
		}

		// Repeat searches grow the existing table. Dedup on insert drops
		// candidates already present, so only new rows get pending cells.
		tbl := session.Table
		if tbl == nil {
			tbl = table.New(session.Requirements.Category)
		}
		if len(tbl.FieldNames(false)) == 0 {
			for _, f := range fields {
				tbl.AddField(f)
			}
		}
		for _, d := range candidates {
			tbl.AddRow(d.Candidate, d.SourceQuery)
		}
		session.Table = tbl
		return e.runEnrich(ctx, session, "")

	default:
		return e.repromptCheckpoint(session, proto.CheckpointFields), nil
	}
}

// runEnrich fills every pending cell and moves the session to advise.
func (e *Engine) runEnrich(ctx context.Context, session *state.Session, prefix string) (*proto.Reply, error) {
	if err := e.enricher.EnrichTable(ctx, session.Table); err != nil {
		return nil, fmt.Errorf("enrichment: %w", err)
	}

	session.Phase = proto.PhaseAdvise
	qualified := len(session.Table.QualifiedRows())
	total := session.Table.RowCount()

	content := fmt.Sprintf("%sResearch complete! I found %d products that match your requirements (out of %d analyzed).\n\n"+
		"Ask me anything about them, or tell me what to do next.", prefix, qualified, total)

	return &proto.Reply{
		Content:       content,
		Phase:         proto.PhaseAdvise,
		TableMarkdown: session.Table.Markdown(tableDisplayRows, true, true),
	}, nil
}

const fieldAdjustSystemPrompt = `You adjust the comparison fields for a product research table based on user feedback.
Fields to add need a snake_case name, a detailed extraction prompt a researcher can follow, and a data type.
Only remove fields the user explicitly asked to drop.`

type fieldAdjustment struct {
	Add    []adjustedField `json:"add"`
	Remove []string        `json:"remove"`
}

type adjustedField struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	DataType string `json:"data_type"`
}

var fieldAdjustTool = llm.ToolDefinition{
	Name:        "adjust_comparison_fields",
	Description: "Record field additions and removals requested by the user.",
	InputSchema: llm.InputSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"add": {
				Type:        "array",
				Description: "Fields to add to the comparison",
				Items: &llm.Property{
					Type: "object",
					Properties: map[string]*llm.Property{
						"name":   {Type: "string", Description: "snake_case field identifier"},
						"prompt": {Type: "string", Description: "Detailed extraction prompt for the researcher"},
						"data_type": {
							Type:        "string",
							Description: "Expected value type",
							Enum:        []string{"string", "number", "boolean"},
						},
					},
					Required: []string{"name"},
				},
			},
			"remove": {
				Type:        "array",
				Description: "Names of existing fields to drop",
				Items:       &llm.Property{Type: "string"},
			},
		},
	},
}

// adjustPendingFields applies free-form field changes while the fields
// checkpoint is pending, then re-presents the checkpoint with the updated
// list. Standard and qualification fields cannot be removed.
func (e *Engine) adjustPendingFields(ctx context.Context, session *state.Session, text string) (*proto.Reply, error) {
	current := make([]string, 0, len(session.PendingFields))
	for _, f := range session.PendingFields {
		if f.Category == table.FieldCategoryBased || f.Category == table.FieldUserDriven {
			current = append(current, f.Name)
		}
	}

	adj, err := llm.GenerateStructured[fieldAdjustment](ctx, e.chat, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(fieldAdjustSystemPrompt),
			llm.NewUserMessage(fmt.Sprintf("Current adjustable fields: %s\n\nUser request: %s",
				strings.Join(current, ", "), text)),
		},
		MaxTokens: 1024,
	}, fieldAdjustTool)
	if err != nil {
		e.logger.Warn("Field adjustment parsing failed: %v", err)
		return &proto.Reply{
			Content:    "I couldn't work out the field changes from that - could you rephrase? For example: \"add battery life, drop warranty\".",
			Phase:      proto.PhaseResearch,
			Checkpoint: proto.CheckpointFields,
			Choices:    session.ActionChoices,
		}, nil
	}

	session.PendingFields = applyFieldAdjustment(session.PendingFields, adj)
	session.Touch()

	content := fmt.Sprintf("Updated! I'll compare on these fields:\n%s\n\nReady to analyze?",
		formatFieldList(session.PendingFields))
	return &proto.Reply{
		Content:    content,
		Phase:      proto.PhaseResearch,
		Checkpoint: proto.CheckpointFields,
		Choices:    session.ActionChoices,
	}, nil
}

func applyFieldAdjustment(fields []table.FieldDefinition, adj fieldAdjustment) []table.FieldDefinition {
	removed := make(map[string]bool, len(adj.Remove))
	for _, name := range adj.Remove {
		removed[explorer.NormalizeFieldName(name)] = true
	}

	out := make([]table.FieldDefinition, 0, len(fields)+len(adj.Add))
	existing := make(map[string]bool, len(fields))
	for _, f := range fields {
		removable := f.Category == table.FieldCategoryBased || f.Category == table.FieldUserDriven
		if removable && removed[f.Name] {
			continue
		}
		existing[f.Name] = true
		out = append(out, f)
	}

	for _, a := range adj.Add {
		def, ok := explorer.UserFieldDefinition(a.Name)
		if !ok || existing[def.Name] {
			continue
		}
		if strings.TrimSpace(a.Prompt) != "" {
			def.Prompt = a.Prompt
		}
		if a.DataType != "" {
			def.DataType = parseAdjustedType(a.DataType)
		}
		existing[def.Name] = true
		out = append(out, def)
	}
	return out
}

func parseAdjustedType(s string) table.DataType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number":
		return table.TypeNumber
	case "boolean":
		return table.TypeBoolean
	case "list":
		return table.TypeList
	default:
		return table.TypeString
	}
}

// formatFieldList renders user-visible fields as bullets, skipping the
// internal qualification fields.
func formatFieldList(fields []table.FieldDefinition) string {
	var b strings.Builder
	for _, f := range fields {
		if f.Category == table.FieldQualification {
			continue
		}
		fmt.Fprintf(&b, "• %s (%s)\n", strings.ReplaceAll(f.Name, "_", " "), f.DataType)
	}
	return strings.TrimRight(b.String(), "\n")
}

// repromptCheckpoint re-presents the pending choices after an unrecognized
// choice id.
func (e *Engine) repromptCheckpoint(session *state.Session, cp proto.Checkpoint) *proto.Reply {
	return &proto.Reply{
		Content:    "Please pick one of the options below.",
		Phase:      session.Phase,
		Checkpoint: cp,
		Choices:    session.ActionChoices,
	}
}
