package ops

import (
	"context"
	"strings"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/pcp"
)

// ValidateInput contains parameters for Validate.
type ValidateInput struct {
	ScopeID string
}

// ValidateOutput contains the validation result.
type ValidateOutput struct {
	Result pcp.ValidationResult `json:"result"`
}

// Validate runs the scope's invariants over its provisional turns.
func Validate(ctx context.Context, env *Env, input ValidateInput) (*ValidateOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	result, err := env.Engine.Validate(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return &ValidateOutput{Result: *result}, nil
}

// CommitInput contains parameters for Commit.
type CommitInput struct {
	ScopeID string
}

// CommitOutput contains the checkpoint a commit produced.
type CommitOutput struct {
	Checkpoint entity.Checkpoint `json:"checkpoint"`
}

// Commit folds validated provisional turns into a new checkpoint.
func Commit(ctx context.Context, env *Env, input CommitInput) (*CommitOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	checkpoint, err := env.Engine.Commit(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return &CommitOutput{Checkpoint: *checkpoint}, nil
}

// RollbackInput contains parameters for Rollback.
type RollbackInput struct {
	ScopeID string
}

// RollbackOutput contains the checkpoint the scope reverted to.
// Checkpoint is nil when the scope reverted to its empty initial
// state.
type RollbackOutput struct {
	Checkpoint *entity.Checkpoint `json:"checkpoint,omitempty"`
}

// Rollback reverts a scope to its current checkpoint.
func Rollback(ctx context.Context, env *Env, input RollbackInput) (*RollbackOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	checkpoint, err := env.Engine.Rollback(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return &RollbackOutput{Checkpoint: checkpoint}, nil
}

// CheckpointListInput contains parameters for CheckpointList.
type CheckpointListInput struct {
	ScopeID string
}

// CheckpointListOutput contains the scope's checkpoint chain, oldest
// first.
type CheckpointListOutput struct {
	Items []entity.Checkpoint `json:"items"`
}

// CheckpointList returns a scope's checkpoint history.
func CheckpointList(ctx context.Context, env *Env, input CheckpointListInput) (*CheckpointListOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	if _, err := env.Store.Scopes().Get(ctx, scopeID); err != nil {
		return nil, err
	}
	items, err := env.Store.Checkpoints().ListByScope(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []entity.Checkpoint{}
	}
	return &CheckpointListOutput{Items: items}, nil
}
