// Package pcp implements the validation-checkpoint-recovery cycle
// that gates every scope mutation. Provisional turns accumulate in a
// scope, a validation run checks them against the scope's limits, and
// only then does a commit fold them into an immutable checkpoint.
// Failed validation rolls the scope back to its last checkpoint.
package pcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/caliber-ai/caliber/internal/config"
	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/store"
)

// phase is the engine-side lifecycle of a scope. It lives in process
// memory: validation is pure with respect to storage, so the pending
// "validated, awaiting commit" condition is never persisted.
type phase int

const (
	phaseOpen phase = iota
	phaseValidating
)

type scopeState struct {
	phase phase
	// validatedRevision is the scope revision the last passing
	// validation observed. Commit refuses any other revision.
	validatedRevision int64
	lastResult        *ValidationResult
}

// ValidationResult is the outcome of one validation run.
type ValidationResult struct {
	ScopeID           entity.ScopeID `json:"scope_id"`
	Pass              bool           `json:"pass"`
	Reason            string         `json:"reason,omitempty"`
	Revision          int64          `json:"revision"`
	ProvisionalTurns  int            `json:"provisional_turns"`
	ProvisionalTokens int            `json:"provisional_tokens"`
}

// Engine drives validate/commit/rollback for all scopes. Safe for
// concurrent use; per-scope write exclusion is the coordinator's job,
// the engine only guards its own state map.
type Engine struct {
	store        store.Store
	orphanPolicy config.OrphanPolicy
	logger       *slog.Logger

	mu     sync.Mutex
	states map[entity.ScopeID]*scopeState
}

// New builds an engine. The orphan policy decides what happens to
// artifacts and notes whose producing turn is rolled back.
func New(s store.Store, orphanPolicy config.OrphanPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:        s,
		orphanPolicy: orphanPolicy,
		logger:       logger,
		states:       make(map[entity.ScopeID]*scopeState),
	}
}

func (e *Engine) state(id entity.ScopeID) *scopeState {
	st, ok := e.states[id]
	if !ok {
		st = &scopeState{}
		e.states[id] = st
	}
	return st
}

// AppendRequest describes one provisional turn. TokenCount may be
// supplied by the caller's tokenizer; zero means estimate from the
// content.
type AppendRequest struct {
	ScopeID       entity.ScopeID      `json:"scope_id"`
	InputContent  string              `json:"input_content"`
	OutputContent string              `json:"output_content"`
	TokenCount    int                 `json:"token_count,omitempty"`
	ArtifactIDs   []entity.ArtifactID `json:"artifact_ids,omitempty"`
	NoteIDs       []entity.NoteID     `json:"note_ids,omitempty"`
}

// AppendTurn adds a provisional turn to an open scope and bumps the
// scope revision. Appends are refused while a validation run is
// pending so the validated set cannot drift silently.
func (e *Engine) AppendTurn(ctx context.Context, req AppendRequest) (*entity.Turn, error) {
	scopeID := req.ScopeID
	e.mu.Lock()
	if e.state(scopeID).phase == phaseValidating {
		e.mu.Unlock()
		return nil, errors.NewConflict(fmt.Sprintf("scope %s has a pending validation; commit or roll back first", scopeID))
	}
	e.mu.Unlock()

	scope, err := e.store.Scopes().Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	if scope.Status != entity.ScopeOpen {
		return nil, errors.NewConflict(fmt.Sprintf("scope %s is %s, not open", scopeID, scope.Status))
	}

	all, err := e.store.Turns().ListByScope(ctx, scopeID, store.TurnFilter{})
	if err != nil {
		return nil, err
	}
	seq := 1
	if len(all) > 0 {
		seq = all[len(all)-1].Sequence + 1
	}

	tokens := req.TokenCount
	if tokens <= 0 {
		tokens = entity.EstimateTokens(req.InputContent + " " + req.OutputContent)
	}
	turn := &entity.Turn{
		ID:            entity.NewTurnID(),
		ScopeID:       scopeID,
		Sequence:      seq,
		InputContent:  req.InputContent,
		OutputContent: req.OutputContent,
		TokenCount:    tokens,
		State:         entity.TurnProvisional,
		ArtifactIDs:   req.ArtifactIDs,
		NoteIDs:       req.NoteIDs,
		CreatedAt:     time.Now().UTC(),
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		if err := tx.Turns().Put(ctx, turn); err != nil {
			return err
		}
		scope.Revision++
		scope.UpdatedAt = time.Now().UTC()
		return tx.Scopes().Put(ctx, scope)
	})
	if err != nil {
		return nil, err
	}
	return turn, nil
}

// Validate checks the provisional turn set against the scope's
// configured invariants. It reads but never writes: the outcome and
// the observed revision are held engine-side until commit or rollback.
func (e *Engine) Validate(ctx context.Context, scopeID entity.ScopeID) (*ValidationResult, error) {
	scope, err := e.store.Scopes().Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	provisional, err := e.store.Turns().ListByScope(ctx, scopeID, store.TurnFilter{
		States: []entity.TurnState{entity.TurnProvisional},
	})
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{
		ScopeID:          scopeID,
		Revision:         scope.Revision,
		ProvisionalTurns: len(provisional),
	}
	for _, turn := range provisional {
		result.ProvisionalTokens += turn.TokenCount
	}
	result.Pass, result.Reason = e.check(ctx, scope, provisional, result.ProvisionalTokens)

	e.mu.Lock()
	st := e.state(scopeID)
	st.phase = phaseValidating
	st.validatedRevision = scope.Revision
	st.lastResult = result
	e.mu.Unlock()

	e.logger.Debug("validation run",
		"scope_id", scopeID, "pass", result.Pass, "reason", result.Reason,
		"provisional_turns", result.ProvisionalTurns)
	return result, nil
}

func (e *Engine) check(ctx context.Context, scope *entity.Scope, provisional []entity.Turn, provisionalTokens int) (bool, string) {
	if len(provisional) == 0 {
		return false, "no provisional turns"
	}
	if scope.Limit.MaxTokens > 0 && scope.TokensCommitted+provisionalTokens > scope.Limit.MaxTokens {
		return false, "memory limit exceeded"
	}
	if scope.Limit.MaxTurns > 0 {
		committed, err := e.store.Turns().ListByScope(ctx, scope.ID, store.TurnFilter{
			States: []entity.TurnState{entity.TurnCommitted},
		})
		if err != nil {
			return false, "turn count unavailable: " + err.Error()
		}
		if len(committed)+len(provisional) > scope.Limit.MaxTurns {
			return false, "memory limit exceeded"
		}
	}
	seen := make(map[int]bool, len(provisional))
	for _, turn := range provisional {
		if seen[turn.Sequence] {
			return false, fmt.Sprintf("duplicate sequence number %d", turn.Sequence)
		}
		seen[turn.Sequence] = true
		for _, artifactID := range turn.ArtifactIDs {
			if _, err := e.store.Artifacts().Get(ctx, artifactID); err != nil {
				return false, fmt.Sprintf("artifact %s not resolvable", artifactID)
			}
		}
	}
	return true, ""
}

// Commit folds the validated provisional turns into a new checkpoint.
// The last validation must have passed, and the scope revision must
// still be the one validated; a drifted revision means some other
// write slipped in and the commit is refused with StaleRevision.
//
// The checkpoint write, turn state flips, and scope pointer advance
// happen in one transaction. A storage failure leaves the scope
// awaiting commit so the caller can retry or intervene; the engine
// never retries on its own.
func (e *Engine) Commit(ctx context.Context, scopeID entity.ScopeID) (*entity.Checkpoint, error) {
	e.mu.Lock()
	st := e.state(scopeID)
	if st.lastResult == nil {
		e.mu.Unlock()
		return nil, errors.NewValidationFailed(string(scopeID), "commit requires a prior validation run")
	}
	if !st.lastResult.Pass {
		e.mu.Unlock()
		return nil, errors.NewValidationFailed(string(scopeID), st.lastResult.Reason)
	}
	pending := st.phase == phaseValidating
	validatedRevision := st.validatedRevision
	e.mu.Unlock()

	scope, err := e.store.Scopes().Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}
	// The revision check runs before the pending check: a commit whose
	// validated set has since drifted must report StaleRevision, not a
	// generic missing-validation error.
	if scope.Revision != validatedRevision {
		return nil, errors.NewStaleRevision(string(scopeID), validatedRevision, scope.Revision)
	}
	if !pending {
		return nil, errors.NewValidationFailed(string(scopeID), "no pending validation to commit")
	}

	var checkpoint *entity.Checkpoint
	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		provisional, err := tx.Turns().ListByScope(ctx, scopeID, store.TurnFilter{
			States: []entity.TurnState{entity.TurnProvisional},
		})
		if err != nil {
			return err
		}
		committed, err := tx.Turns().ListByScope(ctx, scopeID, store.TurnFilter{
			States: []entity.TurnState{entity.TurnCommitted},
		})
		if err != nil {
			return err
		}

		tokens := scope.TokensCommitted
		turnIDs := make([]entity.TurnID, 0, len(committed)+len(provisional))
		for _, turn := range committed {
			turnIDs = append(turnIDs, turn.ID)
		}
		seq := 0
		for i := range provisional {
			turn := provisional[i]
			turn.State = entity.TurnCommitted
			if err := tx.Turns().Put(ctx, &turn); err != nil {
				return err
			}
			turnIDs = append(turnIDs, turn.ID)
			tokens += turn.TokenCount
			seq = turn.Sequence
		}

		checkpoint = &entity.Checkpoint{
			ID:         entity.NewCheckpointID(),
			ScopeID:    scopeID,
			ParentID:   scope.CheckpointID,
			Sequence:   seq,
			TurnIDs:    turnIDs,
			Digest:     digest(turnIDs, tokens),
			TokenCount: tokens,
			Validation: "passed",
			CreatedAt:  time.Now().UTC(),
		}
		if err := tx.Checkpoints().Put(ctx, checkpoint); err != nil {
			return err
		}

		scope.CheckpointID = &checkpoint.ID
		scope.TokensCommitted = tokens
		scope.UpdatedAt = time.Now().UTC()
		return tx.Scopes().Put(ctx, scope)
	})
	if err != nil {
		// The pending validation survives a failed commit on purpose.
		return nil, err
	}

	// The validated revision is retained so a later commit against a
	// drifted scope still reports StaleRevision.
	e.mu.Lock()
	e.state(scopeID).phase = phaseOpen
	e.mu.Unlock()

	e.logger.Info("checkpoint committed",
		"scope_id", scopeID, "checkpoint_id", checkpoint.ID,
		"sequence", checkpoint.Sequence, "tokens", checkpoint.TokenCount)
	return checkpoint, nil
}

// Rollback discards every turn past the scope's current checkpoint
// and returns that checkpoint (nil when the scope has never been
// checkpointed and reverts to empty). Discarded turns are kept as
// audit records; their artifacts and notes are orphaned or deleted
// per the engine's policy. Rollback with nothing to discard is a
// no-op, so repeated calls converge.
func (e *Engine) Rollback(ctx context.Context, scopeID entity.ScopeID) (*entity.Checkpoint, error) {
	scope, err := e.store.Scopes().Get(ctx, scopeID)
	if err != nil {
		return nil, err
	}

	var checkpoint *entity.Checkpoint
	baseSequence := 0
	baseTokens := 0
	if scope.CheckpointID != nil {
		checkpoint, err = e.store.Checkpoints().Get(ctx, *scope.CheckpointID)
		if err != nil {
			return nil, err
		}
		baseSequence = checkpoint.Sequence
		baseTokens = checkpoint.TokenCount
	}

	err = e.store.WithinTx(ctx, func(tx store.Store) error {
		doomed, err := tx.Turns().ListByScope(ctx, scopeID, store.TurnFilter{AfterSequence: baseSequence})
		if err != nil {
			return err
		}
		for i := range doomed {
			turn := doomed[i]
			turn.State = entity.TurnDiscarded
			if err := tx.Turns().Put(ctx, &turn); err != nil {
				return err
			}
			if err := e.orphanProducts(ctx, tx, &turn); err != nil {
				return err
			}
		}

		scope.Revision = 0
		scope.TokensCommitted = baseTokens
		scope.UpdatedAt = time.Now().UTC()
		return tx.Scopes().Put(ctx, scope)
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	delete(e.states, scopeID)
	e.mu.Unlock()

	e.logger.Info("scope rolled back",
		"scope_id", scopeID, "to_sequence", baseSequence, "policy", e.orphanPolicy)
	return checkpoint, nil
}

// orphanProducts applies the orphan policy to the artifacts and notes
// a discarded turn produced. The provenance link is what broke, so
// mark is a soft-delete, not a referential error.
func (e *Engine) orphanProducts(ctx context.Context, tx store.Store, turn *entity.Turn) error {
	for _, artifactID := range turn.ArtifactIDs {
		artifact, err := tx.Artifacts().Get(ctx, artifactID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if e.orphanPolicy == config.OrphanDelete {
			if err := tx.Artifacts().Delete(ctx, artifactID); err != nil {
				return err
			}
			continue
		}
		artifact.Orphaned = true
		if err := tx.Artifacts().Put(ctx, artifact); err != nil {
			return err
		}
	}
	for _, noteID := range turn.NoteIDs {
		note, err := tx.Notes().Get(ctx, noteID)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if e.orphanPolicy == config.OrphanDelete {
			if err := tx.Notes().Delete(ctx, noteID); err != nil {
				return err
			}
			continue
		}
		note.Orphaned = true
		if err := tx.Notes().Put(ctx, note); err != nil {
			return err
		}
	}
	return nil
}

// LastResult returns the most recent validation outcome for a scope,
// or nil when none is pending.
func (e *Engine) LastResult(scopeID entity.ScopeID) *ValidationResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[scopeID]; ok {
		return st.lastResult
	}
	return nil
}

func digest(turnIDs []entity.TurnID, tokens int) string {
	parts := make([]string, 0, len(turnIDs)+1)
	for _, id := range turnIDs {
		parts = append(parts, string(id))
	}
	parts = append(parts, fmt.Sprintf("tokens=%d", tokens))
	return entity.HashContent(strings.Join(parts, "\n"))
}
