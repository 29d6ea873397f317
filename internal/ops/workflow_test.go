package ops

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/config"
	"github.com/caliber-ai/caliber/internal/coordinator"
	"github.com/caliber-ai/caliber/internal/db"
	"github.com/caliber-ai/caliber/internal/pcp"
	"github.com/caliber-ai/caliber/internal/store"
)

func newSQLiteEnv(t *testing.T) *Env {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	s := store.NewSQLite(database)
	cfg := config.DefaultConfig()
	engine := pcp.New(s, cfg.OrphanPolicy, nil)
	assembler := assemble.New(s, nil, nil)
	coord, err := coordinator.New(s, engine, assembler, time.Minute, nil)
	require.NoError(t, err)
	return &Env{Store: s, Engine: engine, Assembler: assembler, Coordinator: coord, Config: cfg}
}

// TestAgentSessionWorkflow drives a full session over SQLite: create
// a trajectory and scope, run turn/validate/commit cycles, trip the
// memory limit, roll back, and read history back.
func TestAgentSessionWorkflow(t *testing.T) {
	env := newSQLiteEnv(t)
	ctx := context.Background()

	traj, err := TrajectoryCreate(ctx, env, TrajectoryCreateInput{Name: "ship the feature"})
	require.NoError(t, err)

	scope, err := ScopeCreate(ctx, env, ScopeCreateInput{
		TrajectoryID: string(traj.Trajectory.ID),
		Name:         "implementation",
		MaxTokens:    100,
	})
	require.NoError(t, err)
	scopeID := string(scope.Scope.ID)

	// Two committed cycles at 40 tokens each.
	for i := 0; i < 2; i++ {
		_, err := TurnAppend(ctx, env, TurnAppendInput{
			ScopeID:       scopeID,
			InputContent:  "implement the next piece",
			OutputContent: "piece implemented",
			TokenCount:    40,
		})
		require.NoError(t, err)
		validated, err := Validate(ctx, env, ValidateInput{ScopeID: scopeID})
		require.NoError(t, err)
		require.True(t, validated.Result.Pass, "reason: %s", validated.Result.Reason)
		_, err = Commit(ctx, env, CommitInput{ScopeID: scopeID})
		require.NoError(t, err)
	}

	// A third 40-token turn trips the 100-token limit.
	_, err = TurnAppend(ctx, env, TurnAppendInput{
		ScopeID:       scopeID,
		InputContent:  "one more piece",
		OutputContent: "over budget",
		TokenCount:    40,
	})
	require.NoError(t, err)
	validated, err := Validate(ctx, env, ValidateInput{ScopeID: scopeID})
	require.NoError(t, err)
	require.False(t, validated.Result.Pass)
	require.Equal(t, "memory limit exceeded", validated.Result.Reason)

	rolledBack, err := Rollback(ctx, env, RollbackInput{ScopeID: scopeID})
	require.NoError(t, err)
	require.NotNil(t, rolledBack.Checkpoint)
	require.Equal(t, 80, rolledBack.Checkpoint.TokenCount)

	// History: two checkpoints, strictly ordered.
	history, err := CheckpointList(ctx, env, CheckpointListInput{ScopeID: scopeID})
	require.NoError(t, err)
	require.Len(t, history.Items, 2)
	require.Greater(t, history.Items[1].Sequence, history.Items[0].Sequence)

	// Assembly sees only the committed turns.
	window, err := Assemble(ctx, env, AssembleInput{ScopeID: scopeID, TokenBudget: 100})
	require.NoError(t, err)
	require.Len(t, window.Window.Turns, 2)
	require.Equal(t, 80, window.Window.TokenCount)

	// The scope survives a reload from disk with its pointer intact.
	got, err := ScopeGet(ctx, env, ScopeGetInput{ID: scopeID})
	require.NoError(t, err)
	require.Equal(t, 80, got.Scope.TokensCommitted)
	require.NotNil(t, got.Scope.CheckpointID)
	require.Len(t, got.Turns, 2)
}
