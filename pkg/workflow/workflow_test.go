package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/contextmgr"
	"github.com/matt-house-e/shortlist/pkg/enrich"
	"github.com/matt-house-e/shortlist/pkg/explorer"
	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/search"
	"github.com/matt-house-e/shortlist/pkg/state"
	"github.com/matt-house-e/shortlist/pkg/table"
)

// scriptedChat answers structured calls from a per-tool script and plain
// completions with a canned reply. Unscripted tools error, which exercises
// the deterministic fallbacks.
func scriptedChat(script map[string]map[string]any) llm.LLMClient {
	return llm.WrapClient(func(_ context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
		if len(req.Tools) == 0 {
			return llm.CompletionResponse{Content: "Happy to help with that."}, nil
		}
		name := req.Tools[0].Name
		params, ok := script[name]
		if !ok {
			return llm.CompletionResponse{}, errors.New("no script for tool " + name)
		}
		return llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{ID: "call-1", Name: name, Parameters: params}},
		}, nil
	}, func() string { return "scripted" })
}

type fakeSearch struct {
	payload string
}

func (f *fakeSearch) SearchWithCitations(_ context.Context, _, _ string) (*search.Response, error) {
	return &search.Response{Content: f.payload}, nil
}

// fakeBackend answers every requested field, marking all rows qualified.
type fakeBackend struct {
	calls   int
	lastReq enrich.Request
}

func (f *fakeBackend) EnrichRows(_ context.Context, req enrich.Request) ([]enrich.RowResult, error) {
	f.calls++
	f.lastReq = req
	results := make([]enrich.RowResult, len(req.Rows))
	for i, row := range req.Rows {
		values := make(map[string]any, len(row.Fields))
		for _, fld := range row.Fields {
			if fld.Name == table.QualificationField {
				values[fld.Name] = true
			} else {
				values[fld.Name] = "some value"
			}
		}
		results[i] = enrich.RowResult{RowID: row.RowID, Values: values}
	}
	return results, nil
}

const searchPayload = `Here are the results:
[
    {"name": "Sony WH-1000XM5", "manufacturer": "Sony", "description": "Flagship noise cancelling headphones"},
    {"name": "Bose QuietComfort Ultra", "manufacturer": "Bose", "description": "Premium comfort and ANC"},
    {"name": "Sennheiser Momentum 4", "manufacturer": "Sennheiser", "description": "60 hour battery life"}
]`

func newTestEngine(t *testing.T, script map[string]map[string]any) (*Engine, *fakeBackend) {
	t.Helper()
	chat := scriptedChat(script)
	cfg := &config.SearchConfig{MinQueries: 2, MaxQueries: 6, MaxProducts: 20}
	exp, err := explorer.New(chat, &fakeSearch{payload: searchPayload}, cfg, logx.NewLogger("test"))
	require.NoError(t, err)
	backend := &fakeBackend{}
	enricher := enrich.NewEngine(backend, logx.NewLogger("test"))
	return NewEngine(chat, exp, enricher, contextmgr.NewContextManager(), logx.NewLogger("test")), backend
}

func readyRequirements() state.UserRequirements {
	return state.UserRequirements{
		Category:  "wireless headphones",
		MustHaves: []string{"noise cancelling"},
		Budget:    "under $400",
	}
}

func TestIntakePresentsRequirementsCheckpointWhenReady(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"record_requirements": {
			"category":        "wireless headphones",
			"must_haves":      []any{"noise cancelling"},
			"budget":          "under $400",
			"ready_to_search": true,
		},
	})
	session := state.NewSession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("I want noise cancelling headphones under $400, go ahead"))
	require.NoError(t, err)

	assert.Equal(t, proto.CheckpointRequirements, reply.Checkpoint)
	assert.True(t, reply.HasChoice(proto.ChoiceStartSearch))
	assert.True(t, reply.HasChoice(proto.ChoiceKeepRefining))
	assert.Equal(t, proto.PhaseIntake, session.Phase)
	assert.NotEmpty(t, session.PendingQueryPlan)
	assert.Contains(t, reply.Content, "wireless headphones")
}

func TestIntakeAsksFollowUpWhenNotReady(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"record_requirements": {
			"category":        "wireless headphones",
			"ready_to_search": false,
		},
	})
	session := state.NewSession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("I'm looking for headphones"))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseIntake, reply.Phase)
	assert.False(t, reply.AwaitingConfirmation())
	assert.NotEmpty(t, reply.Content)
	assert.Equal(t, "wireless headphones", session.Requirements.Category)
}

func TestConfirmationWithNoPendingCheckpoint(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := state.NewSession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointRequirements, proto.ChoiceStartSearch))
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "nothing to confirm")
	assert.Equal(t, proto.PhaseIntake, reply.Phase)
	assert.False(t, reply.AwaitingConfirmation())
}

func TestStartSearchReachesFieldsCheckpoint(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := state.NewSession()
	session.Requirements = readyRequirements()
	session.PendingQueryPlan = []state.PlannedQuery{
		{Query: "best wireless headphones 2026", Angle: "review_site"},
		{Query: "reddit favorite anc headphones", Angle: "reddit"},
	}
	session.SetCheckpoint(proto.CheckpointRequirements, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointRequirements, proto.ChoiceStartSearch))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseResearch, session.Phase)
	assert.Equal(t, proto.CheckpointFields, reply.Checkpoint)
	assert.True(t, reply.HasChoice(proto.ChoiceEnrichNow))
	assert.True(t, reply.HasChoice(proto.ChoiceAdjustFields))
	assert.Len(t, session.PendingCandidates, 3)
	assert.NotEmpty(t, session.PendingFields)
	assert.Contains(t, reply.Content, "Found 3 products")
}

func TestKeepRefiningReturnsToIntake(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := state.NewSession()
	session.Requirements = readyRequirements()
	session.PendingQueryPlan = []state.PlannedQuery{{Query: "q", Angle: "review_site"}}
	session.SetCheckpoint(proto.CheckpointRequirements, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointRequirements, proto.ChoiceKeepRefining))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseIntake, reply.Phase)
	assert.False(t, session.AwaitingConfirmation())
	assert.Nil(t, session.PendingQueryPlan)
}

func enrichReadySession() *state.Session {
	session := state.NewSession()
	session.Requirements = readyRequirements()
	session.Phase = proto.PhaseResearch
	session.PendingFields = []table.FieldDefinition{
		{Category: table.FieldStandard, Name: "name", Prompt: "Extract the name", DataType: table.TypeString},
		{Category: table.FieldCategoryBased, Name: "battery_life", Prompt: "Extract battery life", DataType: table.TypeString},
		{Category: table.FieldQualification, Name: table.QualificationField, Prompt: "Does it qualify?", DataType: table.TypeBoolean},
	}
	session.PendingCandidates = []state.DiscoveredCandidate{
		{Candidate: table.Candidate{Name: "Sony WH-1000XM5", Manufacturer: "Sony"}, SourceQuery: "best anc"},
		{Candidate: table.Candidate{Name: "Bose QuietComfort Ultra", Manufacturer: "Bose"}, SourceQuery: "best anc"},
	}
	session.SetCheckpoint(proto.CheckpointFields, fieldsCheckpointChoices)
	return session
}

func TestEnrichNowBuildsAndFillsTable(t *testing.T) {
	engine, backend := newTestEngine(t, nil)
	session := enrichReadySession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointFields, proto.ChoiceEnrichNow))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseAdvise, session.Phase)
	assert.False(t, session.AwaitingConfirmation())
	assert.Contains(t, reply.Content, "Research complete")
	assert.NotEmpty(t, reply.TableMarkdown)
	assert.Equal(t, 1, backend.calls)

	require.NotNil(t, session.Table)
	assert.Equal(t, 2, session.Table.RowCount())
	assert.Empty(t, session.Table.PendingCells())
	assert.Len(t, session.Table.QualifiedRows(), 2)
}

func TestEnrichNowWithLostStateRestartsSearch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := enrichReadySession()
	session.PendingCandidates = nil

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointFields, proto.ChoiceEnrichNow))
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "Something went wrong")
	// Restarted search lands back on the fields checkpoint with fresh finds.
	assert.Equal(t, proto.CheckpointFields, reply.Checkpoint)
	assert.NotEmpty(t, session.PendingCandidates)
}

func TestAdjustFieldsMessageUpdatesPendingSet(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"adjust_comparison_fields": {
			"add": []any{
				map[string]any{"name": "Weight", "prompt": "Extract the weight in grams", "data_type": "number"},
			},
			"remove": []any{"battery_life"},
		},
	})
	session := enrichReadySession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("swap battery life for weight"))
	require.NoError(t, err)

	assert.Equal(t, proto.CheckpointFields, reply.Checkpoint)

	names := make([]string, 0, len(session.PendingFields))
	for _, f := range session.PendingFields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "weight")
	assert.NotContains(t, names, "battery_life")
	// Standard fields survive removal attempts.
	assert.Contains(t, names, "name")

	for _, f := range session.PendingFields {
		if f.Name == "weight" {
			assert.Equal(t, table.TypeNumber, f.DataType)
			assert.Equal(t, "Extract the weight in grams", f.Prompt)
		}
	}
}

func adviseSession(t *testing.T, engine *Engine) *state.Session {
	t.Helper()
	session := enrichReadySession()
	_, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointFields, proto.ChoiceEnrichNow))
	require.NoError(t, err)
	require.Equal(t, proto.PhaseAdvise, session.Phase)
	return session
}

func TestAdviseDoneCompletesSession(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := adviseSession(t, engine)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("thanks, that's all I needed"))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseComplete, session.Phase)
	assert.Equal(t, proto.PhaseComplete, reply.Phase)

	reply, err = engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("actually one more thing"))
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "complete")
}

func TestAdviseQuestionAnswersDirectly(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"classify_intent": {"intent": "question"},
	})
	session := adviseSession(t, engine)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("which one has the best battery life?"))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseAdvise, reply.Phase)
	assert.False(t, reply.AwaitingConfirmation())
	assert.NotEmpty(t, reply.Content)
}

func TestNewSearchGrowsExistingTable(t *testing.T) {
	engine, backend := newTestEngine(t, map[string]map[string]any{
		"classify_intent": {"intent": "new_search"},
	})
	session := adviseSession(t, engine)
	tbl := session.Table
	require.Equal(t, 2, tbl.RowCount())
	require.Equal(t, 1, backend.calls)

	enrichedIDs := make(map[string]bool, len(tbl.Rows))
	for _, row := range tbl.Rows {
		enrichedIDs[row.ID] = true
	}

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("can you find me some more options?"))
	require.NoError(t, err)
	require.Equal(t, proto.CheckpointIntent, reply.Checkpoint)

	reply, err = engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointIntent, proto.ChoiceConfirm))
	require.NoError(t, err)
	require.Equal(t, proto.CheckpointFields, reply.Checkpoint)

	_, err = engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointFields, proto.ChoiceEnrichNow))
	require.NoError(t, err)

	// The original table grew in place. The search returned the two
	// products already in the table plus one new one.
	require.Same(t, tbl, session.Table)
	assert.Equal(t, 3, session.Table.RowCount())
	assert.Empty(t, session.Table.PendingCells())

	kept := 0
	for _, row := range session.Table.Rows {
		if enrichedIDs[row.ID] {
			kept++
		}
	}
	assert.Equal(t, 2, kept, "enriched rows should keep their ids")

	// Only the new row was enriched on the second pass.
	require.Equal(t, 2, backend.calls)
	require.Len(t, backend.lastReq.Rows, 1)
	assert.Equal(t, "Sennheiser Momentum 4", backend.lastReq.Rows[0].Candidate.Name)
}

func TestAddFieldsIntentGatesOnConfirmation(t *testing.T) {
	engine, backend := newTestEngine(t, map[string]map[string]any{
		"classify_intent": {
			"intent":           "add_fields",
			"requested_fields": []any{"warranty length"},
		},
	})
	session := adviseSession(t, engine)
	require.Equal(t, 1, backend.calls)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("can you also compare warranty length?"))
	require.NoError(t, err)

	assert.Equal(t, proto.CheckpointIntent, reply.Checkpoint)
	assert.True(t, reply.HasChoice(proto.ChoiceConfirm))
	assert.True(t, reply.HasChoice(proto.ChoiceCancel))
	assert.Equal(t, string(proto.IntentAddFields), session.PendingIntent)
	// Nothing enriched until the user confirms.
	assert.Equal(t, 1, backend.calls)

	reply, err = engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointIntent, proto.ChoiceConfirm))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseAdvise, session.Phase)
	assert.Contains(t, reply.Content, "Research complete")
	assert.Equal(t, 2, backend.calls)

	// Only the new field's cells went to the backend.
	for _, row := range backend.lastReq.Rows {
		require.Len(t, row.Fields, 1)
		assert.Equal(t, "warranty_length", row.Fields[0].Name)
	}
	_, ok := session.Table.FieldByName("warranty_length")
	assert.True(t, ok)
}

func TestAddFieldsWithNoRowsForcesSearch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := state.NewSession()
	session.Requirements = readyRequirements()
	session.Phase = proto.PhaseAdvise
	session.PendingIntent = string(proto.IntentAddFields)
	session.RequestedFields = []string{"warranty length"}
	session.SetCheckpoint(proto.CheckpointIntent, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointIntent, proto.ChoiceConfirm))
	require.NoError(t, err)

	assert.Contains(t, reply.Content, "find products first")
	assert.Equal(t, proto.CheckpointFields, reply.Checkpoint)
	assert.Equal(t, proto.PhaseResearch, session.Phase)
}

func TestMessageDuringIntentCheckpointCancels(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"classify_intent": {"intent": "question"},
	})
	session := adviseSession(t, engine)
	session.PendingIntent = string(proto.IntentNewSearch)
	session.SetCheckpoint(proto.CheckpointIntent, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("wait, which one is the lightest?"))
	require.NoError(t, err)

	assert.Empty(t, session.PendingIntent)
	assert.False(t, session.AwaitingConfirmation())
	assert.Equal(t, proto.PhaseAdvise, reply.Phase)
}

func TestIntentCancelStaysInAdvise(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := adviseSession(t, engine)
	session.PendingIntent = string(proto.IntentNewSearch)
	session.SetCheckpoint(proto.CheckpointIntent, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointIntent, proto.ChoiceCancel))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseAdvise, reply.Phase)
	assert.False(t, session.AwaitingConfirmation())
	assert.NotNil(t, session.Table)
}

func TestRefineIntentReturnsToIntake(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := adviseSession(t, engine)
	session.PendingIntent = string(proto.IntentRefine)
	session.SetCheckpoint(proto.CheckpointIntent, nil)

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewConfirmationEvent(proto.CheckpointIntent, proto.ChoiceConfirm))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseIntake, session.Phase)
	assert.Equal(t, proto.PhaseIntake, reply.Phase)
	// Requirements survive so refinement merges into them.
	assert.Equal(t, "wireless headphones", session.Requirements.Category)
}

func TestNodeFailureMovesToErrorPhase(t *testing.T) {
	engine, _ := newTestEngine(t, nil) // record_requirements unscripted
	session := state.NewSession()

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("I want a laptop"))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseError, session.Phase)
	assert.Equal(t, proto.PhaseError, reply.Phase)
	assert.NotEmpty(t, session.LastError)
	assert.Contains(t, reply.Content, "apologize")
}

func TestErrorRecoveryRoutesToAdviseWithResults(t *testing.T) {
	engine, _ := newTestEngine(t, map[string]map[string]any{
		"classify_intent": {"intent": "question"},
	})
	session := adviseSession(t, engine)
	session.Phase = proto.PhaseError
	session.LastError = "enrichment: boom"

	reply, err := engine.ProcessEvent(context.Background(),
		session, proto.NewMessageEvent("what did you find?"))
	require.NoError(t, err)

	assert.Equal(t, proto.PhaseAdvise, session.Phase)
	assert.Equal(t, proto.PhaseAdvise, reply.Phase)
	assert.Empty(t, session.LastError)
}

func TestInvalidEventRejected(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	session := state.NewSession()

	_, err := engine.ProcessEvent(context.Background(), session, &proto.Event{Kind: proto.EventKindMessage})
	assert.Error(t, err)
}

func TestFallbackIntent(t *testing.T) {
	cases := []struct {
		text string
		want proto.Intent
	}{
		{"thanks, that's all", proto.IntentDone},
		{"can you find more options?", proto.IntentNewSearch},
		{"please also compare warranty", proto.IntentAddFields},
		{"my budget is now $200", proto.IntentRefine},
		{"which one is best for travel?", proto.IntentQuestion},
	}
	for _, tc := range cases {
		if got := fallbackIntent(tc.text); got != tc.want {
			t.Errorf("fallbackIntent(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestFormatFieldListSkipsInternalFields(t *testing.T) {
	fields := []table.FieldDefinition{
		{Category: table.FieldStandard, Name: "name", DataType: table.TypeString},
		{Category: table.FieldCategoryBased, Name: "battery_life", DataType: table.TypeNumber},
		{Category: table.FieldQualification, Name: table.QualificationField, DataType: table.TypeBoolean},
	}
	out := formatFieldList(fields)
	assert.Contains(t, out, "battery life")
	assert.False(t, strings.Contains(out, table.QualificationField))
}
