package ops

import (
	"context"
	"strings"
	"time"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/store"
)

// NoteCreateInput contains parameters for NoteCreate.
type NoteCreateInput struct {
	Content            string
	Tags               []string
	SourceTrajectoryID string
	TokenCount         int // 0: estimate from content
}

// NoteCreateOutput contains the result of NoteCreate.
type NoteCreateOutput struct {
	Note entity.Note `json:"note"`
}

// NoteCreate records a cross-trajectory note. Tags are normalized so
// later tag matches are case and whitespace insensitive.
func NoteCreate(ctx context.Context, env *Env, input NoteCreateInput) (*NoteCreateOutput, error) {
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.NewInvalidRequest("content is required")
	}
	sourceID, err := entity.ParseTrajectoryID(strings.TrimSpace(input.SourceTrajectoryID))
	if err != nil {
		return nil, errors.NewInvalidRequest("invalid source trajectory id")
	}
	if _, err := env.Store.Trajectories().Get(ctx, sourceID); err != nil {
		return nil, err
	}

	tags := make([]string, 0, len(input.Tags))
	seen := make(map[string]bool, len(input.Tags))
	for _, tag := range input.Tags {
		normalized := entity.Normalize(tag)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		tags = append(tags, normalized)
	}

	tokens := input.TokenCount
	if tokens <= 0 {
		tokens = entity.EstimateTokens(input.Content)
	}
	note := entity.Note{
		ID:                 entity.NewNoteID(),
		Content:            input.Content,
		Tags:               tags,
		SourceTrajectoryID: sourceID,
		TokenCount:         tokens,
		CreatedAt:          time.Now().UTC(),
	}
	if err := env.Store.Notes().Put(ctx, &note); err != nil {
		return nil, err
	}
	return &NoteCreateOutput{Note: note}, nil
}

// NoteSearchInput contains parameters for NoteSearch.
type NoteSearchInput struct {
	Tags            []string
	IncludeOrphaned bool
	Limit           int // default: 20, max: 100
}

// NoteSearchOutput contains matching notes, newest first.
type NoteSearchOutput struct {
	Items []entity.Note `json:"items"`
}

// NoteSearch finds notes by tag. Semantic ranking happens during
// context assembly; the search surface is recency ordered.
func NoteSearch(ctx context.Context, env *Env, input NoteSearchInput) (*NoteSearchOutput, error) {
	if len(input.Tags) == 0 {
		return nil, errors.NewInvalidRequest("at least one tag is required")
	}
	tags := make([]string, 0, len(input.Tags))
	for _, tag := range input.Tags {
		if normalized := entity.Normalize(tag); normalized != "" {
			tags = append(tags, normalized)
		}
	}

	items, err := env.Store.Notes().Query(ctx, store.NoteFilter{
		Tags:            tags,
		IncludeOrphaned: input.IncludeOrphaned,
		Limit:           clampLimit(input.Limit),
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []entity.Note{}
	}
	return &NoteSearchOutput{Items: items}, nil
}
