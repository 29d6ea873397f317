// Package entity defines the memory hierarchy data model:
// Trajectory → Scope → Turn, plus Artifacts, Notes, and Checkpoints.
package entity

import "time"

// TrajectoryStatus is the lifecycle state of a trajectory.
type TrajectoryStatus string

const (
	TrajectoryActive    TrajectoryStatus = "active"
	TrajectoryCompleted TrajectoryStatus = "completed"
	TrajectoryArchived  TrajectoryStatus = "archived"
)

// ScopeStatus is the lifecycle state of a scope.
type ScopeStatus string

const (
	ScopeOpen   ScopeStatus = "open"
	ScopeLocked ScopeStatus = "locked"
	ScopeClosed ScopeStatus = "closed"
)

// TurnState tracks whether a turn has been committed into a checkpoint.
type TurnState string

const (
	// TurnProvisional: appended but not yet covered by a checkpoint.
	TurnProvisional TurnState = "provisional"
	// TurnCommitted: covered by a checkpoint.
	TurnCommitted TurnState = "committed"
	// TurnDiscarded: removed by rollback, retained for audit.
	TurnDiscarded TurnState = "discarded"
)

// Trajectory is the top-level task container. It exclusively owns its
// scopes; deleting a trajectory cascades to them.
type Trajectory struct {
	ID        TrajectoryID     `json:"id"`
	Name      string           `json:"name"`
	Status    TrajectoryStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// MemoryLimit bounds a scope's retained content. At least one of the
// two limits must be positive; there is no built-in default.
type MemoryLimit struct {
	MaxTokens int `json:"max_tokens,omitempty"`
	MaxTurns  int `json:"max_turns,omitempty"`
}

// Valid reports whether the limit is usable.
func (l MemoryLimit) Valid() bool {
	return l.MaxTokens > 0 || l.MaxTurns > 0
}

// Scope is an isolated memory partition within a trajectory.
//
// Revision is a monotonic counter bumped on every provisional write.
// The checkpoint engine records the revision it validated so a commit
// against a since-changed provisional set can be rejected.
type Scope struct {
	ID              ScopeID       `json:"id"`
	TrajectoryID    TrajectoryID  `json:"trajectory_id"`
	Name            string        `json:"name"`
	Status          ScopeStatus   `json:"status"`
	Limit           MemoryLimit   `json:"limit"`
	CheckpointID    *CheckpointID `json:"checkpoint_id,omitempty"`
	Revision        int64         `json:"revision"`
	TokensCommitted int           `json:"tokens_committed"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Turn is one input/output exchange inside a scope. Turns are
// append-only: once committed they are never mutated, only superseded
// or discarded by rollback.
type Turn struct {
	ID            TurnID       `json:"id"`
	ScopeID       ScopeID      `json:"scope_id"`
	Sequence      int          `json:"sequence"`
	InputContent  string       `json:"input_content"`
	OutputContent string       `json:"output_content"`
	TokenCount    int          `json:"token_count"`
	State         TurnState    `json:"state"`
	ArtifactIDs   []ArtifactID `json:"artifact_ids,omitempty"`
	NoteIDs       []NoteID     `json:"note_ids,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Artifact is a generated output attached to a trajectory. The content
// hash is a SHA-256 digest of the raw content, used for deduplication
// and integrity checks. Orphaned marks an artifact whose producing
// turn was rolled back; the provenance link is soft-deleted rather
// than treated as a foreign-key violation.
type Artifact struct {
	ID          ArtifactID   `json:"id"`
	TrajectoryID TrajectoryID `json:"trajectory_id"`
	TurnID      TurnID       `json:"turn_id"`
	Name        string       `json:"name"`
	MimeType    string       `json:"mime_type"`
	Content     string       `json:"content"`
	ContentHash string       `json:"content_hash"`
	Orphaned    bool         `json:"orphaned,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Note is a cross-trajectory semantic annotation. The source
// trajectory is provenance, not ownership; notes outlive scopes and
// are never rolled back.
type Note struct {
	ID                 NoteID       `json:"id"`
	Content            string       `json:"content"`
	Tags               []string     `json:"tags,omitempty"`
	SourceTrajectoryID TrajectoryID `json:"source_trajectory_id"`
	TokenCount         int          `json:"token_count"`
	Orphaned           bool         `json:"orphaned,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Checkpoint is an immutable snapshot of a scope's committed state.
// Checkpoints form a singly linked history per scope via ParentID.
type Checkpoint struct {
	ID         CheckpointID  `json:"id"`
	ScopeID    ScopeID       `json:"scope_id"`
	ParentID   *CheckpointID `json:"parent_id,omitempty"`
	Sequence   int           `json:"sequence"`
	TurnIDs    []TurnID      `json:"turn_ids"`
	Digest     string        `json:"digest"`
	TokenCount int           `json:"token_count"`
	Validation string        `json:"validation"`
	CreatedAt  time.Time     `json:"created_at"`
}

// DelegationStatus is the delivery state of a delegation record.
type DelegationStatus string

const (
	DelegationPending    DelegationStatus = "pending"
	DelegationAccepted   DelegationStatus = "accepted"
	DelegationInProgress DelegationStatus = "in_progress"
	DelegationCompleted  DelegationStatus = "completed"
	DelegationRejected   DelegationStatus = "rejected"
	DelegationFailed     DelegationStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s DelegationStatus) Terminal() bool {
	switch s {
	case DelegationCompleted, DelegationRejected, DelegationFailed:
		return true
	}
	return false
}

// Delegation is a durable message from one agent to another within a
// trajectory. Sequence is strictly increasing per trajectory so a
// second delegation is observable strictly after the first.
type Delegation struct {
	ID           DelegationID     `json:"id"`
	TrajectoryID TrajectoryID     `json:"trajectory_id"`
	FromAgentID  AgentID          `json:"from_agent_id"`
	ToAgentID    AgentID          `json:"to_agent_id"`
	Sequence     int              `json:"sequence"`
	Payload      string           `json:"payload"`
	Status       DelegationStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}
