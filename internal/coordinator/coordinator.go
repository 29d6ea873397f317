// Package coordinator serializes agent access to scopes and routes
// delegation between agents. The lock table is process-local state
// owned by the Coordinator, not the store: the storage layer never
// arbitrates writers.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/caliber-ai/caliber/internal/assemble"
	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
	"github.com/caliber-ai/caliber/internal/pcp"
	"github.com/caliber-ai/caliber/internal/store"
)

// Handle proves lock ownership. Release accepts only the handle that
// was granted, so a reclaimed lock cannot be released by its previous
// holder.
type Handle struct {
	ID        entity.LockID  `json:"id"`
	ScopeID   entity.ScopeID `json:"scope_id"`
	AgentID   entity.AgentID `json:"agent_id"`
	ExpiresAt time.Time      `json:"expires_at"`
}

type lockEntry struct {
	holder *Handle
	// released is closed when the current holder lets go; waiters
	// re-contend rather than inheriting the lock.
	released chan struct{}
}

// Coordinator owns the lock registry and the delegation log.
type Coordinator struct {
	store     store.Store
	engine    *pcp.Engine
	assembler *assemble.Assembler
	lease     time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[entity.ScopeID]*lockEntry
}

// New builds a coordinator. The lease duration bounds how long a
// crashed holder can block a scope and must be positive.
func New(s store.Store, engine *pcp.Engine, assembler *assemble.Assembler, lease time.Duration, logger *slog.Logger) (*Coordinator, error) {
	if lease <= 0 {
		return nil, errors.NewInvalidRequest("lock lease duration must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     s,
		engine:    engine,
		assembler: assembler,
		lease:     lease,
		logger:    logger,
		locks:     make(map[entity.ScopeID]*lockEntry),
	}, nil
}

// Acquire takes the exclusive lock on a scope. With a zero timeout a
// held lock fails immediately with AlreadyLocked; otherwise the call
// waits until the lock frees, the holder's lease expires, or the
// timeout elapses (LockTimeout). An expired lease is reclaimed by the
// next acquirer.
func (c *Coordinator) Acquire(ctx context.Context, scopeID entity.ScopeID, agentID entity.AgentID, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		entry, ok := c.locks[scopeID]
		if !ok {
			entry = &lockEntry{}
			c.locks[scopeID] = entry
		}
		now := time.Now()
		if entry.holder == nil || now.After(entry.holder.ExpiresAt) {
			if entry.holder != nil {
				c.logger.Warn("reclaiming expired lock",
					"scope_id", scopeID, "previous_holder", entry.holder.AgentID)
			}
			handle := &Handle{
				ID:        entity.NewLockID(),
				ScopeID:   scopeID,
				AgentID:   agentID,
				ExpiresAt: now.Add(c.lease),
			}
			entry.holder = handle
			entry.released = make(chan struct{})
			c.mu.Unlock()
			return handle, nil
		}
		if timeout <= 0 {
			holder := string(entry.holder.AgentID)
			c.mu.Unlock()
			return nil, errors.NewAlreadyLocked(string(scopeID), holder)
		}
		released := entry.released
		untilExpiry := time.Until(entry.holder.ExpiresAt)
		c.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.NewLockTimeout(string(scopeID))
		}
		wait := remaining
		if untilExpiry > 0 && untilExpiry < wait {
			wait = untilExpiry
		}
		timer := time.NewTimer(wait)
		select {
		case <-released:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.NewLockTimeout(string(scopeID))
		}
		timer.Stop()
	}
}

// Release frees the lock. Releasing an already-released or superseded
// handle is a no-op.
func (c *Coordinator) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.locks[handle.ScopeID]
	if !ok || entry.holder == nil || entry.holder.ID != handle.ID {
		return
	}
	entry.holder = nil
	close(entry.released)
}

// Holder reports the current valid lock holder of a scope, if any.
func (c *Coordinator) Holder(scopeID entity.ScopeID) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.locks[scopeID]
	if !ok || entry.holder == nil || time.Now().After(entry.holder.ExpiresAt) {
		return nil
	}
	h := *entry.holder
	return &h
}

// Delegate records a durable message from one agent to another.
// Sequence numbers are handed out inside the same transaction as the
// insert, so per-trajectory ordering is observable by any reader.
func (c *Coordinator) Delegate(ctx context.Context, from, to entity.AgentID, trajectoryID entity.TrajectoryID, payload string) (*entity.Delegation, error) {
	if from == to {
		return nil, errors.NewInvalidRequest("an agent cannot delegate to itself")
	}
	if _, err := c.store.Trajectories().Get(ctx, trajectoryID); err != nil {
		return nil, err
	}

	var delegation *entity.Delegation
	err := c.store.WithinTx(ctx, func(tx store.Store) error {
		seq, err := tx.Delegations().NextSequence(ctx, trajectoryID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		delegation = &entity.Delegation{
			ID:           entity.NewDelegationID(),
			TrajectoryID: trajectoryID,
			FromAgentID:  from,
			ToAgentID:    to,
			Sequence:     seq,
			Payload:      payload,
			Status:       entity.DelegationPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.Delegations().Put(ctx, delegation)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("delegation recorded",
		"delegation_id", delegation.ID, "trajectory_id", trajectoryID,
		"from", from, "to", to, "sequence", delegation.Sequence)
	return delegation, nil
}

var delegationTransitions = map[entity.DelegationStatus][]entity.DelegationStatus{
	entity.DelegationPending:    {entity.DelegationAccepted, entity.DelegationRejected},
	entity.DelegationAccepted:   {entity.DelegationInProgress, entity.DelegationFailed},
	entity.DelegationInProgress: {entity.DelegationCompleted, entity.DelegationFailed},
}

// AdvanceDelegation moves a delegation along its status machine.
// Terminal statuses admit no further transitions.
func (c *Coordinator) AdvanceDelegation(ctx context.Context, id entity.DelegationID, to entity.DelegationStatus) (*entity.Delegation, error) {
	delegation, err := c.store.Delegations().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, next := range delegationTransitions[delegation.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, errors.NewConflict(fmt.Sprintf("delegation %s cannot go %s -> %s", id, delegation.Status, to))
	}
	delegation.Status = to
	delegation.UpdatedAt = time.Now().UTC()
	if err := c.store.Delegations().Put(ctx, delegation); err != nil {
		return nil, err
	}
	return delegation, nil
}

// AgentRuntime executes one agent turn against an assembled context.
// Delivery and model invocation live behind this interface.
type AgentRuntime interface {
	ExecuteTurn(ctx context.Context, window *assemble.Window, input string) (output string, err error)
}

// RunRequest drives one full coordinated turn.
type RunRequest struct {
	ScopeID     entity.ScopeID `json:"scope_id"`
	AgentID     entity.AgentID `json:"agent_id"`
	Input       string         `json:"input"`
	TokenBudget int            `json:"token_budget"`
	LockTimeout time.Duration  `json:"lock_timeout"`
	NoteTags    []string       `json:"note_tags,omitempty"`
}

// RunResult reports what a coordinated turn produced. Checkpoint is
// nil when validation failed and the scope was rolled back.
type RunResult struct {
	Turn       *entity.Turn          `json:"turn"`
	Window     *assemble.Window      `json:"window"`
	Validation *pcp.ValidationResult `json:"validation"`
	Checkpoint *entity.Checkpoint    `json:"checkpoint,omitempty"`
}

// RunTurn is the full write path: acquire the scope lock, assemble
// context, execute the agent, append the provisional turn, validate,
// then commit or roll back. The lock is held across the whole cycle
// so the validated set cannot drift under a concurrent writer.
func (c *Coordinator) RunTurn(ctx context.Context, runtime AgentRuntime, req RunRequest) (*RunResult, error) {
	handle, err := c.Acquire(ctx, req.ScopeID, req.AgentID, req.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer c.Release(handle)

	window, err := c.assembler.Assemble(ctx, assemble.Request{
		ScopeID:     req.ScopeID,
		TokenBudget: req.TokenBudget,
		NoteTags:    req.NoteTags,
		Query:       req.Input,
	})
	if err != nil {
		return nil, err
	}

	output, err := runtime.ExecuteTurn(ctx, window, req.Input)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("agent execution: %w", err))
	}

	turn, err := c.engine.AppendTurn(ctx, pcp.AppendRequest{
		ScopeID:       req.ScopeID,
		InputContent:  req.Input,
		OutputContent: output,
	})
	if err != nil {
		return nil, err
	}

	result := &RunResult{Turn: turn, Window: window}
	result.Validation, err = c.engine.Validate(ctx, req.ScopeID)
	if err != nil {
		return nil, err
	}
	if !result.Validation.Pass {
		if _, err := c.engine.Rollback(ctx, req.ScopeID); err != nil {
			return nil, err
		}
		return result, errors.NewValidationFailed(string(req.ScopeID), result.Validation.Reason)
	}
	result.Checkpoint, err = c.engine.Commit(ctx, req.ScopeID)
	if err != nil {
		return nil, err
	}
	return result, nil
}
