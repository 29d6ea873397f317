package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/caliber-ai/caliber/internal/db"
	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/store"
)

// eachBackend runs fn once per Store implementation so both backends
// stay behaviorally interchangeable.
func eachBackend(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		database, err := db.Init(t.TempDir())
		if err != nil {
			t.Fatalf("db.Init: %v", err)
		}
		defer database.Close()
		fn(t, store.NewSQLite(database))
	})
	t.Run("memory", func(t *testing.T) {
		fn(t, store.NewMemory())
	})
}

func testTrajectory() *entity.Trajectory {
	now := time.Now().UTC().Truncate(time.Second)
	return &entity.Trajectory{
		ID:        entity.NewTrajectoryID(),
		Name:      "refactor-auth",
		Status:    entity.TrajectoryActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testScope(trajID entity.TrajectoryID) *entity.Scope {
	now := time.Now().UTC().Truncate(time.Second)
	return &entity.Scope{
		ID:           entity.NewScopeID(),
		TrajectoryID: trajID,
		Name:         "planning",
		Status:       entity.ScopeOpen,
		Limit:        entity.MemoryLimit{MaxTokens: 4000},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testTurn(scopeID entity.ScopeID, seq int) *entity.Turn {
	return &entity.Turn{
		ID:            entity.NewTurnID(),
		ScopeID:       scopeID,
		Sequence:      seq,
		InputContent:  "describe the login flow",
		OutputContent: "the login flow has three steps",
		TokenCount:    12,
		State:         entity.TurnProvisional,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestTrajectoryRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		traj := testTrajectory()

		if err := s.Trajectories().Put(ctx, traj); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Trajectories().Get(ctx, traj.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Name != traj.Name || got.Status != traj.Status {
			t.Errorf("got %+v, want %+v", got, traj)
		}
		if !got.CreatedAt.Equal(traj.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, traj.CreatedAt)
		}
	})
}

func TestTrajectoryGetMissing(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		_, err := s.Trajectories().Get(context.Background(), entity.NewTrajectoryID())
		if !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("err = %v, want not found", err)
		}
	})
}

func TestTrajectoryUpdate(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		traj := testTrajectory()
		if err := s.Trajectories().Put(ctx, traj); err != nil {
			t.Fatalf("Put: %v", err)
		}

		traj.Status = entity.TrajectoryCompleted
		traj.UpdatedAt = traj.UpdatedAt.Add(time.Minute)
		if err := s.Trajectories().Put(ctx, traj); err != nil {
			t.Fatalf("second Put: %v", err)
		}

		got, err := s.Trajectories().Get(ctx, traj.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != entity.TrajectoryCompleted {
			t.Errorf("Status = %q, want completed", got.Status)
		}
	})
}

func TestTrajectoryList(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := s.Trajectories().Put(ctx, testTrajectory()); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		all, err := s.Trajectories().List(ctx, 0, 0)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("len = %d, want 5", len(all))
		}

		page, err := s.Trajectories().List(ctx, 2, 3)
		if err != nil {
			t.Fatalf("List page: %v", err)
		}
		if len(page) != 2 {
			t.Errorf("page len = %d, want 2", len(page))
		}
	})
}

func TestScopeRoundTrip(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		traj := testTrajectory()
		if err := s.Trajectories().Put(ctx, traj); err != nil {
			t.Fatalf("Put trajectory: %v", err)
		}

		scope := testScope(traj.ID)
		ckpt := entity.NewCheckpointID()
		scope.CheckpointID = &ckpt
		scope.Revision = 7
		scope.TokensCommitted = 321
		if err := s.Scopes().Put(ctx, scope); err != nil {
			t.Fatalf("Put: %v", err)
		}

		got, err := s.Scopes().Get(ctx, scope.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.CheckpointID == nil || *got.CheckpointID != ckpt {
			t.Errorf("CheckpointID = %v, want %s", got.CheckpointID, ckpt)
		}
		if got.Revision != 7 || got.TokensCommitted != 321 {
			t.Errorf("Revision/TokensCommitted = %d/%d", got.Revision, got.TokensCommitted)
		}
		if got.Limit.MaxTokens != 4000 {
			t.Errorf("MaxTokens = %d, want 4000", got.Limit.MaxTokens)
		}
	})
}

func TestTurnSequenceConflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		scopeID := entity.NewScopeID()

		first := testTurn(scopeID, 1)
		if err := s.Turns().Put(ctx, first); err != nil {
			t.Fatalf("Put: %v", err)
		}

		dup := testTurn(scopeID, 1)
		if err := s.Turns().Put(ctx, dup); !errors.Is(err, errors.ErrConflict) {
			t.Fatalf("duplicate sequence err = %v, want conflict", err)
		}

		// Discarding the first turn frees its sequence slot.
		first.State = entity.TurnDiscarded
		if err := s.Turns().Put(ctx, first); err != nil {
			t.Fatalf("discard: %v", err)
		}
		if err := s.Turns().Put(ctx, dup); err != nil {
			t.Fatalf("reuse after discard: %v", err)
		}
	})
}

func TestTurnListFilters(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		scopeID := entity.NewScopeID()

		states := []entity.TurnState{
			entity.TurnCommitted, entity.TurnCommitted,
			entity.TurnProvisional, entity.TurnDiscarded,
		}
		for i, st := range states {
			turn := testTurn(scopeID, i+1)
			turn.State = st
			if err := s.Turns().Put(ctx, turn); err != nil {
				t.Fatalf("Put seq %d: %v", i+1, err)
			}
		}

		// Default filter hides discarded turns.
		visible, err := s.Turns().ListByScope(ctx, scopeID, store.TurnFilter{})
		if err != nil {
			t.Fatalf("ListByScope: %v", err)
		}
		if len(visible) != 3 {
			t.Fatalf("visible = %d, want 3", len(visible))
		}
		for i, turn := range visible {
			if turn.Sequence != i+1 {
				t.Errorf("turn %d sequence = %d, want ascending", i, turn.Sequence)
			}
		}

		discarded, err := s.Turns().ListByScope(ctx, scopeID, store.TurnFilter{
			States: []entity.TurnState{entity.TurnDiscarded},
		})
		if err != nil {
			t.Fatalf("ListByScope discarded: %v", err)
		}
		if len(discarded) != 1 || discarded[0].Sequence != 4 {
			t.Errorf("discarded = %+v, want single seq 4", discarded)
		}

		after, err := s.Turns().ListByScope(ctx, scopeID, store.TurnFilter{AfterSequence: 2})
		if err != nil {
			t.Fatalf("ListByScope after: %v", err)
		}
		if len(after) != 1 || after[0].Sequence != 3 {
			t.Errorf("after = %+v, want single seq 3", after)
		}
	})
}

func TestTurnIDListsSurvive(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		turn := testTurn(entity.NewScopeID(), 1)
		turn.ArtifactIDs = []entity.ArtifactID{entity.NewArtifactID(), entity.NewArtifactID()}
		turn.NoteIDs = []entity.NoteID{entity.NewNoteID()}

		if err := s.Turns().Put(ctx, turn); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Turns().Get(ctx, turn.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.ArtifactIDs) != 2 || got.ArtifactIDs[0] != turn.ArtifactIDs[0] {
			t.Errorf("ArtifactIDs = %v, want %v", got.ArtifactIDs, turn.ArtifactIDs)
		}
		if len(got.NoteIDs) != 1 || got.NoteIDs[0] != turn.NoteIDs[0] {
			t.Errorf("NoteIDs = %v, want %v", got.NoteIDs, turn.NoteIDs)
		}
	})
}

func TestArtifactFindByHash(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		trajID := entity.NewTrajectoryID()
		content := "package main"
		hash := entity.HashContent(content)

		for i := 0; i < 2; i++ {
			a := &entity.Artifact{
				ID:           entity.NewArtifactID(),
				TrajectoryID: trajID,
				TurnID:       entity.NewTurnID(),
				Name:         "main.go",
				MimeType:     "text/x-go",
				Content:      content,
				ContentHash:  hash,
				CreatedAt:    time.Now().UTC().Truncate(time.Second),
			}
			if err := s.Artifacts().Put(ctx, a); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		found, err := s.Artifacts().FindByHash(ctx, hash)
		if err != nil {
			t.Fatalf("FindByHash: %v", err)
		}
		if len(found) != 2 {
			t.Errorf("len = %d, want 2", len(found))
		}

		none, err := s.Artifacts().FindByHash(ctx, entity.HashContent("other"))
		if err != nil {
			t.Fatalf("FindByHash miss: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("miss len = %d, want 0", len(none))
		}
	})
}

func TestNoteQueryTagsAndOrphans(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		trajID := entity.NewTrajectoryID()

		put := func(tags []string, orphaned bool) entity.NoteID {
			n := &entity.Note{
				ID:                 entity.NewNoteID(),
				Content:            "auth middleware rejects expired tokens",
				Tags:               tags,
				SourceTrajectoryID: trajID,
				TokenCount:         8,
				Orphaned:           orphaned,
				CreatedAt:          time.Now().UTC().Truncate(time.Second),
			}
			if err := s.Notes().Put(ctx, n); err != nil {
				t.Fatalf("Put: %v", err)
			}
			return n.ID
		}

		put([]string{"auth", "bug"}, false)
		newest := put([]string{"auth"}, false)
		put([]string{"perf"}, false)
		put([]string{"auth"}, true)

		got, err := s.Notes().Query(ctx, store.NoteFilter{Tags: []string{"auth"}})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2 (orphan excluded)", len(got))
		}
		if got[0].ID != newest {
			t.Errorf("first = %s, want newest %s", got[0].ID, newest)
		}

		withOrphans, err := s.Notes().Query(ctx, store.NoteFilter{Tags: []string{"auth"}, IncludeOrphaned: true})
		if err != nil {
			t.Fatalf("Query orphans: %v", err)
		}
		if len(withOrphans) != 3 {
			t.Errorf("len = %d, want 3", len(withOrphans))
		}

		limited, err := s.Notes().Query(ctx, store.NoteFilter{Tags: []string{"auth", "perf"}, Limit: 2})
		if err != nil {
			t.Fatalf("Query limit: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limited len = %d, want 2", len(limited))
		}
	})
}

func TestCheckpointChain(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		scopeID := entity.NewScopeID()

		var parent *entity.CheckpointID
		var ids []entity.CheckpointID
		for seq := 1; seq <= 3; seq++ {
			c := &entity.Checkpoint{
				ID:         entity.NewCheckpointID(),
				ScopeID:    scopeID,
				ParentID:   parent,
				Sequence:   seq,
				TurnIDs:    []entity.TurnID{entity.NewTurnID()},
				Digest:     entity.HashContent("state"),
				TokenCount: seq * 10,
				Validation: "passed",
				CreatedAt:  time.Now().UTC().Truncate(time.Second),
			}
			if err := s.Checkpoints().Put(ctx, c); err != nil {
				t.Fatalf("Put seq %d: %v", seq, err)
			}
			id := c.ID
			parent = &id
			ids = append(ids, id)
		}

		chain, err := s.Checkpoints().ListByScope(ctx, scopeID)
		if err != nil {
			t.Fatalf("ListByScope: %v", err)
		}
		if len(chain) != 3 {
			t.Fatalf("len = %d, want 3", len(chain))
		}
		if chain[0].ParentID != nil {
			t.Errorf("root has parent %v", chain[0].ParentID)
		}
		for i := 1; i < len(chain); i++ {
			if chain[i].ParentID == nil || *chain[i].ParentID != ids[i-1] {
				t.Errorf("chain[%d].ParentID = %v, want %s", i, chain[i].ParentID, ids[i-1])
			}
		}
	})
}

func TestDelegationSequence(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		trajID := entity.NewTrajectoryID()
		from, to := entity.NewAgentID(), entity.NewAgentID()

		for i := 1; i <= 2; i++ {
			seq, err := s.Delegations().NextSequence(ctx, trajID)
			if err != nil {
				t.Fatalf("NextSequence: %v", err)
			}
			if seq != i {
				t.Fatalf("seq = %d, want %d", seq, i)
			}
			now := time.Now().UTC().Truncate(time.Second)
			d := &entity.Delegation{
				ID:           entity.NewDelegationID(),
				TrajectoryID: trajID,
				FromAgentID:  from,
				ToAgentID:    to,
				Sequence:     seq,
				Payload:      `{"task":"review"}`,
				Status:       entity.DelegationPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.Delegations().Put(ctx, d); err != nil {
				t.Fatalf("Put: %v", err)
			}
		}

		list, err := s.Delegations().ListByTrajectory(ctx, trajID)
		if err != nil {
			t.Fatalf("ListByTrajectory: %v", err)
		}
		if len(list) != 2 || list[0].Sequence != 1 || list[1].Sequence != 2 {
			t.Errorf("list = %+v, want sequences 1,2", list)
		}
	})
}

func TestWithinTxCommitAndAbort(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		traj := testTrajectory()

		err := s.WithinTx(ctx, func(tx store.Store) error {
			if err := tx.Trajectories().Put(ctx, traj); err != nil {
				return err
			}
			// Writes inside the transaction are visible to it.
			if _, err := tx.Trajectories().Get(ctx, traj.ID); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			t.Fatalf("WithinTx: %v", err)
		}
		if _, err := s.Trajectories().Get(ctx, traj.ID); err != nil {
			t.Fatalf("Get after commit: %v", err)
		}

		ghost := testTrajectory()
		abort := errors.NewInvalidRequest("abort")
		err = s.WithinTx(ctx, func(tx store.Store) error {
			if err := tx.Trajectories().Put(ctx, ghost); err != nil {
				return err
			}
			return abort
		})
		if err != abort {
			t.Fatalf("WithinTx err = %v, want abort sentinel", err)
		}
		if _, err := s.Trajectories().Get(ctx, ghost.ID); !errors.Is(err, errors.ErrNotFound) {
			t.Errorf("aborted write visible: %v", err)
		}
	})
}

func TestWithinTxNested(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		traj := testTrajectory()

		err := s.WithinTx(ctx, func(tx store.Store) error {
			return tx.WithinTx(ctx, func(inner store.Store) error {
				return inner.Trajectories().Put(ctx, traj)
			})
		})
		if err != nil {
			t.Fatalf("nested WithinTx: %v", err)
		}
		if _, err := s.Trajectories().Get(ctx, traj.ID); err != nil {
			t.Errorf("Get after nested commit: %v", err)
		}
	})
}
