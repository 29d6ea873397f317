package ops

import (
	"context"
	"strings"
	"time"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/store"
)

// TrajectoryCreateInput contains parameters for TrajectoryCreate.
type TrajectoryCreateInput struct {
	Name string
}

// TrajectoryCreateOutput contains the result of TrajectoryCreate.
type TrajectoryCreateOutput struct {
	Trajectory entity.Trajectory `json:"trajectory"`
}

// TrajectoryCreate creates an active trajectory.
func TrajectoryCreate(ctx context.Context, env *Env, input TrajectoryCreateInput) (*TrajectoryCreateOutput, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}

	now := time.Now().UTC()
	trajectory := entity.Trajectory{
		ID:        entity.NewTrajectoryID(),
		Name:      name,
		Status:    entity.TrajectoryActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := env.Store.Trajectories().Put(ctx, &trajectory); err != nil {
		return nil, err
	}
	return &TrajectoryCreateOutput{Trajectory: trajectory}, nil
}

// TrajectoryGetInput contains parameters for TrajectoryGet.
type TrajectoryGetInput struct {
	ID string
}

// TrajectoryGetOutput contains the trajectory and its scopes.
type TrajectoryGetOutput struct {
	Trajectory entity.Trajectory `json:"trajectory"`
	Scopes     []entity.Scope    `json:"scopes"`
}

// TrajectoryGet fetches a trajectory with its scopes.
func TrajectoryGet(ctx context.Context, env *Env, input TrajectoryGetInput) (*TrajectoryGetOutput, error) {
	id, err := entity.ParseTrajectoryID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	trajectory, err := env.Store.Trajectories().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	scopes, err := env.Store.Scopes().ListByTrajectory(ctx, id)
	if err != nil {
		return nil, err
	}
	if scopes == nil {
		scopes = []entity.Scope{}
	}
	return &TrajectoryGetOutput{Trajectory: *trajectory, Scopes: scopes}, nil
}

// TrajectoryListInput contains parameters for TrajectoryList.
type TrajectoryListInput struct {
	Limit  int // default: 20, max: 100
	Offset int
}

// TrajectoryListOutput contains the result of TrajectoryList.
type TrajectoryListOutput struct {
	Items      []entity.Trajectory `json:"items"`
	Pagination Pagination          `json:"pagination"`
}

// TrajectoryList returns trajectories in ID (creation) order.
func TrajectoryList(ctx context.Context, env *Env, input TrajectoryListInput) (*TrajectoryListOutput, error) {
	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	// Fetch one extra row to learn whether more remain.
	items, err := env.Store.Trajectories().List(ctx, limit+1, offset)
	if err != nil {
		return nil, err
	}
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if items == nil {
		items = []entity.Trajectory{}
	}
	return &TrajectoryListOutput{
		Items:      items,
		Pagination: Pagination{Limit: limit, Offset: offset, HasMore: hasMore},
	}, nil
}

// TrajectoryDeleteInput contains parameters for TrajectoryDelete.
type TrajectoryDeleteInput struct {
	ID string
	// Archive keeps all records, marking the trajectory archived and
	// its scopes closed. Without it the trajectory, its scopes, and
	// their turns and checkpoints are removed; artifacts and notes
	// survive with orphaned provenance.
	Archive bool
}

// TrajectoryDeleteOutput contains the result of TrajectoryDelete.
type TrajectoryDeleteOutput struct {
	ID       string `json:"id"`
	Archived bool   `json:"archived"`
}

// TrajectoryDelete cascades deletion (or archival) over the
// trajectory's scopes.
func TrajectoryDelete(ctx context.Context, env *Env, input TrajectoryDeleteInput) (*TrajectoryDeleteOutput, error) {
	id, err := entity.ParseTrajectoryID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	trajectory, err := env.Store.Trajectories().Get(ctx, id)
	if err != nil {
		return nil, err
	}

	err = env.Store.WithinTx(ctx, func(tx store.Store) error {
		scopes, err := tx.Scopes().ListByTrajectory(ctx, id)
		if err != nil {
			return err
		}
		if input.Archive {
			now := time.Now().UTC()
			for i := range scopes {
				scopes[i].Status = entity.ScopeClosed
				scopes[i].UpdatedAt = now
				if err := tx.Scopes().Put(ctx, &scopes[i]); err != nil {
					return err
				}
			}
			trajectory.Status = entity.TrajectoryArchived
			trajectory.UpdatedAt = now
			return tx.Trajectories().Put(ctx, trajectory)
		}

		for i := range scopes {
			if err := deleteScopeContents(ctx, tx, scopes[i].ID); err != nil {
				return err
			}
			if err := tx.Scopes().Delete(ctx, scopes[i].ID); err != nil {
				return err
			}
		}
		artifacts, err := tx.Artifacts().ListByTrajectory(ctx, id)
		if err != nil {
			return err
		}
		for i := range artifacts {
			artifacts[i].Orphaned = true
			if err := tx.Artifacts().Put(ctx, &artifacts[i]); err != nil {
				return err
			}
		}
		return tx.Trajectories().Delete(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &TrajectoryDeleteOutput{ID: string(id), Archived: input.Archive}, nil
}

func deleteScopeContents(ctx context.Context, tx store.Store, scopeID entity.ScopeID) error {
	turns, err := tx.Turns().ListByScope(ctx, scopeID, store.TurnFilter{
		States: []entity.TurnState{entity.TurnProvisional, entity.TurnCommitted, entity.TurnDiscarded},
	})
	if err != nil {
		return err
	}
	for _, turn := range turns {
		if err := tx.Turns().Delete(ctx, turn.ID); err != nil {
			return err
		}
	}
	checkpoints, err := tx.Checkpoints().ListByScope(ctx, scopeID)
	if err != nil {
		return err
	}
	for _, checkpoint := range checkpoints {
		if err := tx.Checkpoints().Delete(ctx, checkpoint.ID); err != nil {
			return err
		}
	}
	return nil
}
