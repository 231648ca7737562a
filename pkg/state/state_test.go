package state

import (
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/matt-house-e/shortlist/pkg/persistence"
	"github.com/matt-house-e/shortlist/pkg/proto"
	"github.com/matt-house-e/shortlist/pkg/table"
)

func TestUserRequirements_Merge(t *testing.T) {
	r := UserRequirements{
		Category:  "wireless headphones",
		MustHaves: []string{"noise cancelling"},
		Budget:    "$200",
	}

	r.Merge(UserRequirements{
		MustHaves:   []string{"Noise Cancelling", "30h battery"},
		NiceToHaves: []string{"multipoint"},
		UseCase:     "commuting",
	})

	assert.Equal(t, "wireless headphones", r.Category)
	assert.Equal(t, []string{"noise cancelling", "30h battery"}, r.MustHaves)
	assert.Equal(t, []string{"multipoint"}, r.NiceToHaves)
	assert.Equal(t, "$200", r.Budget)
	assert.Equal(t, "commuting", r.UseCase)
}

func TestUserRequirements_Ready(t *testing.T) {
	var r UserRequirements
	assert.False(t, r.Ready())

	r.Category = "laptops"
	assert.False(t, r.Ready())

	r.MustHaves = []string{"16GB RAM"}
	assert.False(t, r.Ready())

	r.Budget = "$1500"
	assert.True(t, r.Ready())

	r.Budget = ""
	r.UseCase = "video editing"
	assert.True(t, r.Ready())
}

func TestUserRequirements_SummaryLine(t *testing.T) {
	var r UserRequirements
	assert.Equal(t, "no requirements captured yet", r.SummaryLine())

	r = UserRequirements{
		Category:  "standing desks",
		MustHaves: []string{"electric", "memory presets"},
		Budget:    "under $600",
	}
	summary := r.SummaryLine()
	assert.Contains(t, summary, "standing desks")
	assert.Contains(t, summary, "must have: electric, memory presets")
	assert.Contains(t, summary, "budget: under $600")
}

func TestSession_CheckpointLifecycle(t *testing.T) {
	s := NewSession()
	assert.Equal(t, proto.PhaseIntake, s.Phase)
	assert.False(t, s.AwaitingConfirmation())

	s.PendingQueryPlan = []PlannedQuery{{Query: "best laptops 2026", Angle: "review_site"}}
	s.PendingCandidates = []DiscoveredCandidate{{Candidate: table.Candidate{Name: "ThinkPad X1"}}}
	s.PendingIntent = string(proto.IntentNewSearch)
	s.RequestedFields = []string{"weight"}
	s.SetCheckpoint(proto.CheckpointRequirements, []proto.Choice{
		{ID: proto.ChoiceStartSearch, Label: "Start searching"},
		{ID: proto.ChoiceKeepRefining, Label: "Keep refining"},
	})
	assert.True(t, s.AwaitingConfirmation())
	assert.Len(t, s.ActionChoices, 2)

	s.ClearCheckpoint()
	assert.False(t, s.AwaitingConfirmation())
	assert.Nil(t, s.PendingQueryPlan)
	assert.Nil(t, s.PendingFields)
	assert.Nil(t, s.PendingCandidates)
	assert.Empty(t, s.PendingIntent)
	assert.Nil(t, s.RequestedFields)
	assert.Nil(t, s.ActionChoices)
}

func TestManager_PerSessionLocking(t *testing.T) {
	m := NewManager()

	var mu sync.Mutex
	order := []string{}

	unlock := m.Lock("sess-1")
	done := make(chan struct{})
	go func() {
		u := m.Lock("sess-1")
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		u()
		close(done)
	}()

	// Independent session is not blocked
	u2 := m.Lock("sess-2")
	u2()

	mu.Lock()
	order = append(order, "first")
	mu.Unlock()
	unlock()
	<-done

	assert.Equal(t, []string{"first", "second"}, order)
}

func setupStateDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := persistence.InitializeDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSaveAndLoadSession(t *testing.T) {
	db := setupStateDB(t)

	s := NewSession()
	s.Phase = proto.PhaseResearch
	s.Requirements = UserRequirements{
		Category:  "robot vacuums",
		MustHaves: []string{"lidar mapping"},
		Budget:    "$400",
	}
	s.Table = table.New("robot vacuums")
	s.Table.AddField(table.FieldDefinition{Name: "name", Prompt: "Product name", DataType: table.TypeString, Category: table.FieldStandard})
	s.Table.AddRow(table.Candidate{Name: "Roborock Q5"}, "best robot vacuums")
	s.SetCheckpoint(proto.CheckpointFields, []proto.Choice{{ID: proto.ChoiceEnrichNow, Label: "Enrich now"}})

	require.NoError(t, persistence.CreateSession(db, s.ID, ""))
	require.NoError(t, SaveSession(db, s))

	restored, err := LoadSession(db, s.ID)
	require.NoError(t, err)

	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, proto.PhaseResearch, restored.Phase)
	assert.Equal(t, "robot vacuums", restored.Requirements.Category)
	assert.Equal(t, proto.CheckpointFields, restored.AwaitingCheckpoint)
	require.NotNil(t, restored.Table)
	assert.Equal(t, 1, restored.Table.RowCount())
	assert.True(t, restored.Table.HasCandidate("Roborock Q5"))
}

func TestLoadSession_NotFound(t *testing.T) {
	db := setupStateDB(t)

	_, err := LoadSession(db, "missing")
	assert.True(t, errors.Is(err, persistence.ErrSessionNotFound))
}
