// Package assemble builds bounded context windows for agent turns.
// Selection is deterministic: committed turns newest first, whole
// turns only, then tag-matched notes into whatever budget remains.
package assemble

import (
	"context"
	"log/slog"

	"github.com/philippgille/chromem-go"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/llm"
	"github.com/caliber-ai/caliber/internal/store"
)

// Request describes one assembly. TokenBudget is required; there is
// no default budget.
type Request struct {
	ScopeID     entity.ScopeID `json:"scope_id"`
	TokenBudget int            `json:"token_budget"`
	// NoteTags selects cross-trajectory notes for leftover budget.
	// Empty means no notes.
	NoteTags []string `json:"note_tags,omitempty"`
	// Query re-ranks tag-matched notes by semantic similarity when an
	// embedder is configured. Empty keeps recency ordering.
	Query string `json:"query,omitempty"`
	// MaxNotes bounds the note count; 0 means bounded by budget only.
	MaxNotes int `json:"max_notes,omitempty"`
}

// Window is an assembled context. Turns are in ascending sequence
// order and TokenCount never exceeds the requested budget.
type Window struct {
	ScopeID    entity.ScopeID `json:"scope_id"`
	Turns      []entity.Turn  `json:"turns"`
	Notes      []entity.Note  `json:"notes,omitempty"`
	TokenCount int            `json:"token_count"`
	Budget     int            `json:"budget"`
}

// Assembler selects context from the store. The embedder is optional;
// without one, note ranking is recency only.
type Assembler struct {
	store    store.Store
	embedder llm.Embedder
	logger   *slog.Logger
}

func New(s store.Store, embedder llm.Embedder, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: s, embedder: embedder, logger: logger}
}

// Assemble builds a context window for the scope under the budget.
//
// Turns are considered newest first and included whole. The walk stops
// at the first turn that does not fit: a turn's input/output pair is
// never split, and skipping past a non-fitting turn would present an
// older turn as if the newer one never happened. If the scope has
// committed turns but none fit, the budget cannot produce a coherent
// context and BudgetTooSmall is returned.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Window, error) {
	if req.TokenBudget <= 0 {
		return nil, errors.NewInvalidRequest("token_budget must be positive")
	}
	scope, err := a.store.Scopes().Get(ctx, req.ScopeID)
	if err != nil {
		return nil, err
	}

	turns, err := a.store.Turns().ListByScope(ctx, scope.ID, store.TurnFilter{
		States: []entity.TurnState{entity.TurnCommitted},
	})
	if err != nil {
		return nil, err
	}

	window := &Window{ScopeID: scope.ID, Budget: req.TokenBudget}
	used := 0
	cut := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		if used+turns[i].TokenCount > req.TokenBudget {
			break
		}
		used += turns[i].TokenCount
		cut = i
	}
	if cut == len(turns) && len(turns) > 0 {
		return nil, errors.NewBudgetTooSmall(string(scope.ID), req.TokenBudget)
	}
	window.Turns = turns[cut:]
	window.TokenCount = used

	if len(req.NoteTags) > 0 && used < req.TokenBudget {
		notes, err := a.selectNotes(ctx, req, req.TokenBudget-used)
		if err != nil {
			return nil, err
		}
		window.Notes = notes
		for _, n := range notes {
			window.TokenCount += n.TokenCount
		}
	}
	return window, nil
}

// selectNotes returns tag-matched notes fitting the remaining budget.
// Candidates arrive newest first (descending ID, which is descending
// creation time for ULIDs); a semantic re-rank may reorder them. Notes
// are independent units, so one that does not fit is skipped rather
// than ending the walk.
func (a *Assembler) selectNotes(ctx context.Context, req Request, remaining int) ([]entity.Note, error) {
	candidates, err := a.store.Notes().Query(ctx, store.NoteFilter{Tags: req.NoteTags})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	if req.Query != "" && a.embedder != nil {
		if ranked, err := a.rankBySimilarity(ctx, req.Query, candidates); err != nil {
			a.logger.Warn("semantic rank failed, using recency order", "error", err)
		} else {
			candidates = ranked
		}
	}

	var out []entity.Note
	for _, n := range candidates {
		if req.MaxNotes > 0 && len(out) >= req.MaxNotes {
			break
		}
		if n.TokenCount > remaining {
			continue
		}
		remaining -= n.TokenCount
		out = append(out, n)
	}
	return out, nil
}

// rankBySimilarity orders candidates by similarity to the query using
// an ephemeral in-memory chromem collection.
func (a *Assembler) rankBySimilarity(ctx context.Context, query string, candidates []entity.Note) ([]entity.Note, error) {
	byID := make(map[string]entity.Note, len(candidates))
	embed := chromem.EmbeddingFunc(a.embedder.Embed)

	col, err := chromem.NewDB().GetOrCreateCollection("rank", nil, embed)
	if err != nil {
		return nil, err
	}
	for _, n := range candidates {
		byID[string(n.ID)] = n
		if err := col.AddDocument(ctx, chromem.Document{
			ID:      string(n.ID),
			Content: n.Content,
		}); err != nil {
			return nil, err
		}
	}

	results, err := col.Query(ctx, query, len(candidates), nil, nil)
	if err != nil {
		return nil, err
	}
	ranked := make([]entity.Note, 0, len(candidates))
	for _, res := range results {
		if n, ok := byID[res.ID]; ok {
			ranked = append(ranked, n)
			delete(byID, res.ID)
		}
	}
	// Anything the vector query dropped keeps its recency position at
	// the tail.
	for _, n := range candidates {
		if _, left := byID[string(n.ID)]; left {
			ranked = append(ranked, n)
		}
	}
	return ranked, nil
}
