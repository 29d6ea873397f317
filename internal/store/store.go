// Package store abstracts durable persistence for the memory
// hierarchy. The core depends only on the Store interface; SQLite
// backs production and an in-memory arena backs tests.
package store

import (
	"context"

	"github.com/caliber-ai/caliber/internal/entity"
)

// TurnFilter narrows ListByScope results. Zero value returns every
// non-discarded turn in ascending sequence order.
type TurnFilter struct {
	// States restricts to the given turn states. Empty means
	// provisional + committed (discarded turns are audit records and
	// must be asked for explicitly).
	States []entity.TurnState
	// AfterSequence returns only turns with sequence strictly greater.
	AfterSequence int
	// Limit bounds the result set; 0 means no limit.
	Limit int
	// Offset skips the first n matching turns.
	Offset int
}

// NoteFilter narrows note queries.
type NoteFilter struct {
	// Tags matches notes carrying at least one of the given tags.
	Tags []string
	// IncludeOrphaned includes notes whose producing turn was rolled back.
	IncludeOrphaned bool
	// Limit bounds the result set; 0 means no limit.
	Limit int
}

// Trajectories provides trajectory persistence.
type Trajectories interface {
	Get(ctx context.Context, id entity.TrajectoryID) (*entity.Trajectory, error)
	Put(ctx context.Context, t *entity.Trajectory) error
	Delete(ctx context.Context, id entity.TrajectoryID) error
	List(ctx context.Context, limit, offset int) ([]entity.Trajectory, error)
}

// Scopes provides scope persistence.
type Scopes interface {
	Get(ctx context.Context, id entity.ScopeID) (*entity.Scope, error)
	Put(ctx context.Context, s *entity.Scope) error
	Delete(ctx context.Context, id entity.ScopeID) error
	ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Scope, error)
}

// Turns provides turn persistence. ListByScope is ordered by sequence
// ascending.
type Turns interface {
	Get(ctx context.Context, id entity.TurnID) (*entity.Turn, error)
	Put(ctx context.Context, t *entity.Turn) error
	Delete(ctx context.Context, id entity.TurnID) error
	ListByScope(ctx context.Context, id entity.ScopeID, f TurnFilter) ([]entity.Turn, error)
}

// Artifacts provides artifact persistence.
type Artifacts interface {
	Get(ctx context.Context, id entity.ArtifactID) (*entity.Artifact, error)
	Put(ctx context.Context, a *entity.Artifact) error
	Delete(ctx context.Context, id entity.ArtifactID) error
	ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Artifact, error)
	// FindByHash returns artifacts sharing a content hash, for dedup.
	FindByHash(ctx context.Context, hash string) ([]entity.Artifact, error)
}

// Notes provides note persistence.
type Notes interface {
	Get(ctx context.Context, id entity.NoteID) (*entity.Note, error)
	Put(ctx context.Context, n *entity.Note) error
	Delete(ctx context.Context, id entity.NoteID) error
	Query(ctx context.Context, f NoteFilter) ([]entity.Note, error)
}

// Checkpoints provides checkpoint persistence. ListByScope is ordered
// by sequence ascending.
type Checkpoints interface {
	Get(ctx context.Context, id entity.CheckpointID) (*entity.Checkpoint, error)
	Put(ctx context.Context, c *entity.Checkpoint) error
	Delete(ctx context.Context, id entity.CheckpointID) error
	ListByScope(ctx context.Context, id entity.ScopeID) ([]entity.Checkpoint, error)
}

// Delegations provides delegation persistence. NextSequence hands out
// the next per-trajectory ordinal; callers must invoke it inside
// WithinTx together with the Put that uses it.
type Delegations interface {
	Get(ctx context.Context, id entity.DelegationID) (*entity.Delegation, error)
	Put(ctx context.Context, d *entity.Delegation) error
	NextSequence(ctx context.Context, id entity.TrajectoryID) (int, error)
	ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Delegation, error)
}

// Store bundles all entity repositories behind one capability
// interface. Put is atomic per entity and reads observe the most
// recent committed Put for the same key.
type Store interface {
	Trajectories() Trajectories
	Scopes() Scopes
	Turns() Turns
	Artifacts() Artifacts
	Notes() Notes
	Checkpoints() Checkpoints
	Delegations() Delegations

	// WithinTx runs fn atomically: either every write inside fn is
	// durably applied, or none is. Reads inside fn observe its prior
	// writes. Needed by commit/rollback, which must never be
	// partially observable.
	WithinTx(ctx context.Context, fn func(Store) error) error
}
