package ops

import (
	"context"
	"strings"
	"time"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/store"
)

// ScopeCreateInput contains parameters for ScopeCreate. A memory
// limit is required; the core defines no default budgets.
type ScopeCreateInput struct {
	TrajectoryID string
	Name         string
	MaxTokens    int
	MaxTurns     int
}

// ScopeCreateOutput contains the result of ScopeCreate.
type ScopeCreateOutput struct {
	Scope entity.Scope `json:"scope"`
}

// ScopeCreate creates an open scope under a trajectory.
func ScopeCreate(ctx context.Context, env *Env, input ScopeCreateInput) (*ScopeCreateOutput, error) {
	trajectoryID, err := entity.ParseTrajectoryID(strings.TrimSpace(input.TrajectoryID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	limit := entity.MemoryLimit{MaxTokens: input.MaxTokens, MaxTurns: input.MaxTurns}
	if !limit.Valid() {
		return nil, errors.NewInvalidRequest("a memory limit is required: set max_tokens and/or max_turns")
	}

	trajectory, err := env.Store.Trajectories().Get(ctx, trajectoryID)
	if err != nil {
		return nil, err
	}
	if trajectory.Status != entity.TrajectoryActive {
		return nil, errors.NewConflict("trajectory " + string(trajectoryID) + " is " + string(trajectory.Status))
	}

	now := time.Now().UTC()
	scope := entity.Scope{
		ID:           entity.NewScopeID(),
		TrajectoryID: trajectoryID,
		Name:         name,
		Status:       entity.ScopeOpen,
		Limit:        limit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := env.Store.Scopes().Put(ctx, &scope); err != nil {
		return nil, err
	}
	return &ScopeCreateOutput{Scope: scope}, nil
}

// ScopeGetInput contains parameters for ScopeGet.
type ScopeGetInput struct {
	ID string
}

// ScopeGetOutput contains the scope and its visible turns.
type ScopeGetOutput struct {
	Scope entity.Scope  `json:"scope"`
	Turns []entity.Turn `json:"turns"`
}

// ScopeGet fetches a scope with its provisional and committed turns.
func ScopeGet(ctx context.Context, env *Env, input ScopeGetInput) (*ScopeGetOutput, error) {
	id, err := entity.ParseScopeID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	scope, err := env.Store.Scopes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	turns, err := env.Store.Turns().ListByScope(ctx, id, store.TurnFilter{})
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []entity.Turn{}
	}
	return &ScopeGetOutput{Scope: *scope, Turns: turns}, nil
}

// ScopeCloseInput contains parameters for ScopeClose.
type ScopeCloseInput struct {
	ID string
}

// ScopeCloseOutput contains the result of ScopeClose.
type ScopeCloseOutput struct {
	Scope entity.Scope `json:"scope"`
}

// ScopeClose marks a scope closed; closed scopes accept no turns.
func ScopeClose(ctx context.Context, env *Env, input ScopeCloseInput) (*ScopeCloseOutput, error) {
	id, err := entity.ParseScopeID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	scope, err := env.Store.Scopes().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if scope.Status == entity.ScopeClosed {
		return &ScopeCloseOutput{Scope: *scope}, nil
	}
	scope.Status = entity.ScopeClosed
	scope.UpdatedAt = time.Now().UTC()
	if err := env.Store.Scopes().Put(ctx, scope); err != nil {
		return nil, err
	}
	return &ScopeCloseOutput{Scope: *scope}, nil
}
