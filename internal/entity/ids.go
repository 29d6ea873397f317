package entity

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Entity IDs are ULIDs: 128-bit, lexicographically time-sortable.
// Each entity type gets its own Go type so a ScopeID can never be
// passed where a TurnID is expected.

type (
	TrajectoryID string
	ScopeID      string
	TurnID       string
	ArtifactID   string
	NoteID       string
	CheckpointID string
	AgentID      string
	DelegationID string
	LockID       string
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// newULID generates a monotonic ULID. The shared entropy source keeps
// IDs generated in the same millisecond in strictly increasing order.
func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// ulid.New only fails if the entropy reader fails; crypto/rand
		// failing is not a recoverable condition.
		panic(fmt.Sprintf("ulid generation failed: %v", err))
	}
	return id.String()
}

func NewTrajectoryID() TrajectoryID { return TrajectoryID(newULID()) }
func NewScopeID() ScopeID           { return ScopeID(newULID()) }
func NewTurnID() TurnID             { return TurnID(newULID()) }
func NewArtifactID() ArtifactID     { return ArtifactID(newULID()) }
func NewNoteID() NoteID             { return NoteID(newULID()) }
func NewCheckpointID() CheckpointID { return CheckpointID(newULID()) }
func NewAgentID() AgentID           { return AgentID(newULID()) }
func NewDelegationID() DelegationID { return DelegationID(newULID()) }
func NewLockID() LockID             { return LockID(newULID()) }

// parseID validates that s is a well-formed ULID.
func parseID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return fmt.Errorf("invalid id %q: %w", s, err)
	}
	return nil
}

func ParseTrajectoryID(s string) (TrajectoryID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return TrajectoryID(s), nil
}

func ParseScopeID(s string) (ScopeID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return ScopeID(s), nil
}

func ParseTurnID(s string) (TurnID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return TurnID(s), nil
}

func ParseArtifactID(s string) (ArtifactID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return ArtifactID(s), nil
}

func ParseNoteID(s string) (NoteID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return NoteID(s), nil
}

func ParseCheckpointID(s string) (CheckpointID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return CheckpointID(s), nil
}

func ParseDelegationID(s string) (DelegationID, error) {
	if err := parseID(s); err != nil {
		return "", err
	}
	return DelegationID(s), nil
}
