package ops

import (
	"context"
	"strings"
	"time"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
)

// ArtifactCreateInput contains parameters for ArtifactCreate.
type ArtifactCreateInput struct {
	TrajectoryID string
	TurnID       string // producing turn; optional for imported artifacts
	Name         string
	MimeType     string
	Content      string
}

// ArtifactCreateOutput contains the result of ArtifactCreate.
type ArtifactCreateOutput struct {
	Artifact entity.Artifact `json:"artifact"`
	// Duplicates lists existing artifacts carrying the same content
	// hash, for caller-side deduplication.
	Duplicates []string `json:"duplicates,omitempty"`
}

// ArtifactCreate stores a generated output with a content hash.
func ArtifactCreate(ctx context.Context, env *Env, input ArtifactCreateInput) (*ArtifactCreateOutput, error) {
	trajectoryID, err := entity.ParseTrajectoryID(strings.TrimSpace(input.TrajectoryID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid trajectory id")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, errors.NewInvalidRequest("name is required")
	}
	if input.Content == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	var turnID entity.TurnID
	if raw := strings.TrimSpace(input.TurnID); raw != "" {
		turnID, err = entity.ParseTurnID(raw)
		if err != nil {
			return nil, errors.NewInvalidRequest("invalid turn id")
		}
		if _, err := env.Store.Turns().Get(ctx, turnID); err != nil {
			return nil, err
		}
	}
	if _, err := env.Store.Trajectories().Get(ctx, trajectoryID); err != nil {
		return nil, err
	}

	mimeType := strings.TrimSpace(input.MimeType)
	if mimeType == "" {
		mimeType = "text/plain"
	}
	hash := entity.HashContent(input.Content)
	existing, err := env.Store.Artifacts().FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	artifact := entity.Artifact{
		ID:           entity.NewArtifactID(),
		TrajectoryID: trajectoryID,
		TurnID:       turnID,
		Name:         strings.TrimSpace(input.Name),
		MimeType:     mimeType,
		Content:      input.Content,
		ContentHash:  hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := env.Store.Artifacts().Put(ctx, &artifact); err != nil {
		return nil, err
	}

	out := &ArtifactCreateOutput{Artifact: artifact}
	for _, dup := range existing {
		out.Duplicates = append(out.Duplicates, string(dup.ID))
	}
	return out, nil
}

// ArtifactGetInput contains parameters for ArtifactGet.
type ArtifactGetInput struct {
	ID string
}

// ArtifactGetOutput contains the artifact and an integrity flag.
type ArtifactGetOutput struct {
	Artifact entity.Artifact `json:"artifact"`
	// IntegrityOK reports whether the stored content still matches
	// its recorded hash.
	IntegrityOK bool `json:"integrity_ok"`
}

// ArtifactGet fetches an artifact and re-verifies its content hash.
func ArtifactGet(ctx context.Context, env *Env, input ArtifactGetInput) (*ArtifactGetOutput, error) {
	id, err := entity.ParseArtifactID(strings.TrimSpace(input.ID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid artifact id")
	}
	artifact, err := env.Store.Artifacts().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ArtifactGetOutput{
		Artifact:    *artifact,
		IntegrityOK: entity.HashContent(artifact.Content) == artifact.ContentHash,
	}, nil
}
