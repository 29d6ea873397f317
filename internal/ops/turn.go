package ops

import (
	"context"
	"strings"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/pcp"
)

// TurnAppendInput contains parameters for TurnAppend.
type TurnAppendInput struct {
	ScopeID       string
	InputContent  string
	OutputContent string
	TokenCount    int // 0: estimate from content
	ArtifactIDs   []string
	NoteIDs       []string
}

// TurnAppendOutput contains the result of TurnAppend.
type TurnAppendOutput struct {
	Turn     entity.Turn `json:"turn"`
	Revision int64       `json:"revision"`
}

// TurnAppend adds a provisional turn to an open scope.
func TurnAppend(ctx context.Context, env *Env, input TurnAppendInput) (*TurnAppendOutput, error) {
	scopeID, err := entity.ParseScopeID(strings.TrimSpace(input.ScopeID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid scope id")
	}
	if strings.TrimSpace(input.InputContent) == "" {
		return nil, errors.NewInvalidRequest("input_content is required")
	}

	artifactIDs := make([]entity.ArtifactID, 0, len(input.ArtifactIDs))
	for _, raw := range input.ArtifactIDs {
		id, err := entity.ParseArtifactID(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.NewInvalidRequest("invalid artifact id: " + raw)
		}
		artifactIDs = append(artifactIDs, id)
	}
	noteIDs := make([]entity.NoteID, 0, len(input.NoteIDs))
	for _, raw := range input.NoteIDs {
		id, err := entity.ParseNoteID(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.NewInvalidRequest("invalid note id: " + raw)
		}
		noteIDs = append(noteIDs, id)
	}

	turn, err := env.Engine.AppendTurn(ctx, pcp.AppendRequest{
		ScopeID:       scopeID,
		InputContent:  input.InputContent,
		OutputContent: input.OutputContent,
		TokenCount:    input.TokenCount,
		ArtifactIDs:   artifactIDs,
		NoteIDs:       noteIDs,
	})
	if err != nil {
		return nil, err
	}
	scope, err := env.Store.Scopes().Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	return &TurnAppendOutput{Turn: *turn, Revision: scope.Revision}, nil
}
