package ops

import (
	"context"
	"strings"

	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
)

// AssembleInput contains parameters for Assemble.
type AssembleInput struct {
	ScopeID     string
	TokenBudget int
	NoteTags    []string
	Query       string
	MaxNotes    int
}

// AssembleOutput contains the assembled context window.
type AssembleOutput struct {
	Window assemble.Window `json:"window"`
}

// Assemble builds a bounded context window for a scope.
func Assemble(ctx context.Context, env *Env, input AssembleInput) (*AssembleOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	window, err := env.Assembler.Assemble(ctx, assemble.Request{
		ScopeID:     scopeID,
		TokenBudget: input.TokenBudget,
		NoteTags:    input.NoteTags,
		Query:       input.Query,
		MaxNotes:    input.MaxNotes,
	})
	if err != nil {
		return nil, err
	}
	return &AssembleOutput{Window: *window}, nil
}
