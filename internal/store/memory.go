package store

import (
	"context"
	"sort"
	"sync"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
)

// Memory is an in-process Store used by tests and as a scratch
// backend. Entities are stored by value; reads return copies so
// callers never alias the arena.
type Memory struct {
	mu   sync.RWMutex
	isTx bool
	data *memData
}

type memData struct {
	trajectories map[entity.TrajectoryID]entity.Trajectory
	scopes       map[entity.ScopeID]entity.Scope
	turns        map[entity.TurnID]entity.Turn
	artifacts    map[entity.ArtifactID]entity.Artifact
	notes        map[entity.NoteID]entity.Note
	checkpoints  map[entity.CheckpointID]entity.Checkpoint
	delegations  map[entity.DelegationID]entity.Delegation
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: &memData{
		trajectories: make(map[entity.TrajectoryID]entity.Trajectory),
		scopes:       make(map[entity.ScopeID]entity.Scope),
		turns:        make(map[entity.TurnID]entity.Turn),
		artifacts:    make(map[entity.ArtifactID]entity.Artifact),
		notes:        make(map[entity.NoteID]entity.Note),
		checkpoints:  make(map[entity.CheckpointID]entity.Checkpoint),
		delegations:  make(map[entity.DelegationID]entity.Delegation),
	}}
}

func (d *memData) clone() *memData {
	out := &memData{
		trajectories: make(map[entity.TrajectoryID]entity.Trajectory, len(d.trajectories)),
		scopes:       make(map[entity.ScopeID]entity.Scope, len(d.scopes)),
		turns:        make(map[entity.TurnID]entity.Turn, len(d.turns)),
		artifacts:    make(map[entity.ArtifactID]entity.Artifact, len(d.artifacts)),
		notes:        make(map[entity.NoteID]entity.Note, len(d.notes)),
		checkpoints:  make(map[entity.CheckpointID]entity.Checkpoint, len(d.checkpoints)),
		delegations:  make(map[entity.DelegationID]entity.Delegation, len(d.delegations)),
	}
	for k, v := range d.trajectories {
		out.trajectories[k] = v
	}
	for k, v := range d.scopes {
		out.scopes[k] = copyScope(v)
	}
	for k, v := range d.turns {
		out.turns[k] = copyTurn(v)
	}
	for k, v := range d.artifacts {
		out.artifacts[k] = v
	}
	for k, v := range d.notes {
		out.notes[k] = copyNote(v)
	}
	for k, v := range d.checkpoints {
		out.checkpoints[k] = copyCheckpoint(v)
	}
	for k, v := range d.delegations {
		out.delegations[k] = v
	}
	return out
}

// copy helpers detach the slice and pointer fields so arena values
// never share backing storage with caller-held entities.

func copyScope(s entity.Scope) entity.Scope {
	if s.CheckpointID != nil {
		id := *s.CheckpointID
		s.CheckpointID = &id
	}
	return s
}

func copyTurn(t entity.Turn) entity.Turn {
	t.ArtifactIDs = append([]entity.ArtifactID(nil), t.ArtifactIDs...)
	t.NoteIDs = append([]entity.NoteID(nil), t.NoteIDs...)
	return t
}

func copyNote(n entity.Note) entity.Note {
	n.Tags = append([]string(nil), n.Tags...)
	return n
}

func copyCheckpoint(c entity.Checkpoint) entity.Checkpoint {
	if c.ParentID != nil {
		id := *c.ParentID
		c.ParentID = &id
	}
	c.TurnIDs = append([]entity.TurnID(nil), c.TurnIDs...)
	return c
}

// WithinTx clones the arena, applies fn to the clone, and swaps it in
// on success. The store lock is held for the duration, so transactions
// are serialized. Nested calls reuse the enclosing transaction.
func (m *Memory) WithinTx(_ context.Context, fn func(Store) error) error {
	if m.isTx {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &Memory{isTx: true, data: m.data.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

func (m *Memory) Trajectories() Trajectories { return memTrajectories{m} }
func (m *Memory) Scopes() Scopes             { return memScopes{m} }
func (m *Memory) Turns() Turns               { return memTurns{m} }
func (m *Memory) Artifacts() Artifacts       { return memArtifacts{m} }
func (m *Memory) Notes() Notes               { return memNotes{m} }
func (m *Memory) Checkpoints() Checkpoints   { return memCheckpoints{m} }
func (m *Memory) Delegations() Delegations   { return memDelegations{m} }

func (m *Memory) rlock() func() {
	if m.isTx {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *Memory) lock() func() {
	if m.isTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// ── trajectories ──

type memTrajectories struct{ m *Memory }

func (r memTrajectories) Get(_ context.Context, id entity.TrajectoryID) (*entity.Trajectory, error) {
	defer r.m.rlock()()
	t, ok := r.m.data.trajectories[id]
	if !ok {
		return nil, errors.NewNotFound("trajectory", string(id))
	}
	return &t, nil
}

func (r memTrajectories) Put(_ context.Context, t *entity.Trajectory) error {
	defer r.m.lock()()
	r.m.data.trajectories[t.ID] = *t
	return nil
}

func (r memTrajectories) Delete(_ context.Context, id entity.TrajectoryID) error {
	defer r.m.lock()()
	delete(r.m.data.trajectories, id)
	return nil
}

func (r memTrajectories) List(_ context.Context, limit, offset int) ([]entity.Trajectory, error) {
	defer r.m.rlock()()
	out := make([]entity.Trajectory, 0, len(r.m.data.trajectories))
	for _, t := range r.m.data.trajectories {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// ── scopes ──

type memScopes struct{ m *Memory }

func (r memScopes) Get(_ context.Context, id entity.ScopeID) (*entity.Scope, error) {
	defer r.m.rlock()()
	s, ok := r.m.data.scopes[id]
	if !ok {
		return nil, errors.NewNotFound("scope", string(id))
	}
	s = copyScope(s)
	return &s, nil
}

func (r memScopes) Put(_ context.Context, s *entity.Scope) error {
	defer r.m.lock()()
	r.m.data.scopes[s.ID] = copyScope(*s)
	return nil
}

func (r memScopes) Delete(_ context.Context, id entity.ScopeID) error {
	defer r.m.lock()()
	delete(r.m.data.scopes, id)
	return nil
}

func (r memScopes) ListByTrajectory(_ context.Context, id entity.TrajectoryID) ([]entity.Scope, error) {
	defer r.m.rlock()()
	var out []entity.Scope
	for _, s := range r.m.data.scopes {
		if s.TrajectoryID == id {
			out = append(out, copyScope(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── turns ──

type memTurns struct{ m *Memory }

func (r memTurns) Get(_ context.Context, id entity.TurnID) (*entity.Turn, error) {
	defer r.m.rlock()()
	t, ok := r.m.data.turns[id]
	if !ok {
		return nil, errors.NewNotFound("turn", string(id))
	}
	t = copyTurn(t)
	return &t, nil
}

func (r memTurns) Put(_ context.Context, t *entity.Turn) error {
	defer r.m.lock()()
	if t.State != entity.TurnDiscarded {
		for _, other := range r.m.data.turns {
			if other.ID != t.ID && other.ScopeID == t.ScopeID &&
				other.Sequence == t.Sequence && other.State != entity.TurnDiscarded {
				return errors.NewConflict("duplicate sequence " + string(t.ScopeID))
			}
		}
	}
	r.m.data.turns[t.ID] = copyTurn(*t)
	return nil
}

func (r memTurns) Delete(_ context.Context, id entity.TurnID) error {
	defer r.m.lock()()
	delete(r.m.data.turns, id)
	return nil
}

func (r memTurns) ListByScope(_ context.Context, id entity.ScopeID, f TurnFilter) ([]entity.Turn, error) {
	defer r.m.rlock()()
	states := f.States
	if len(states) == 0 {
		states = []entity.TurnState{entity.TurnProvisional, entity.TurnCommitted}
	}
	wanted := make(map[entity.TurnState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	var out []entity.Turn
	for _, t := range r.m.data.turns {
		if t.ScopeID != id || !wanted[t.State] || t.Sequence <= f.AfterSequence {
			continue
		}
		out = append(out, copyTurn(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return paginate(out, f.Limit, f.Offset), nil
}

// ── artifacts ──

type memArtifacts struct{ m *Memory }

func (r memArtifacts) Get(_ context.Context, id entity.ArtifactID) (*entity.Artifact, error) {
	defer r.m.rlock()()
	a, ok := r.m.data.artifacts[id]
	if !ok {
		return nil, errors.NewNotFound("artifact", string(id))
	}
	return &a, nil
}

func (r memArtifacts) Put(_ context.Context, a *entity.Artifact) error {
	defer r.m.lock()()
	r.m.data.artifacts[a.ID] = *a
	return nil
}

func (r memArtifacts) Delete(_ context.Context, id entity.ArtifactID) error {
	defer r.m.lock()()
	delete(r.m.data.artifacts, id)
	return nil
}

func (r memArtifacts) ListByTrajectory(_ context.Context, id entity.TrajectoryID) ([]entity.Artifact, error) {
	defer r.m.rlock()()
	var out []entity.Artifact
	for _, a := range r.m.data.artifacts {
		if a.TrajectoryID == id {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memArtifacts) FindByHash(_ context.Context, hash string) ([]entity.Artifact, error) {
	defer r.m.rlock()()
	var out []entity.Artifact
	for _, a := range r.m.data.artifacts {
		if a.ContentHash == hash {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── notes ──

type memNotes struct{ m *Memory }

func (r memNotes) Get(_ context.Context, id entity.NoteID) (*entity.Note, error) {
	defer r.m.rlock()()
	n, ok := r.m.data.notes[id]
	if !ok {
		return nil, errors.NewNotFound("note", string(id))
	}
	n = copyNote(n)
	return &n, nil
}

func (r memNotes) Put(_ context.Context, n *entity.Note) error {
	defer r.m.lock()()
	r.m.data.notes[n.ID] = copyNote(*n)
	return nil
}

func (r memNotes) Delete(_ context.Context, id entity.NoteID) error {
	defer r.m.lock()()
	delete(r.m.data.notes, id)
	return nil
}

func (r memNotes) Query(_ context.Context, f NoteFilter) ([]entity.Note, error) {
	defer r.m.rlock()()
	var out []entity.Note
	for _, n := range r.m.data.notes {
		if n.Orphaned && !f.IncludeOrphaned {
			continue
		}
		if len(f.Tags) > 0 && !hasAnyTag(n.Tags, f.Tags) {
			continue
		}
		out = append(out, copyNote(n))
	}
	// ULIDs order by creation time, so descending ID is newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, f.Limit, 0), nil
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// ── checkpoints ──

type memCheckpoints struct{ m *Memory }

func (r memCheckpoints) Get(_ context.Context, id entity.CheckpointID) (*entity.Checkpoint, error) {
	defer r.m.rlock()()
	c, ok := r.m.data.checkpoints[id]
	if !ok {
		return nil, errors.NewNotFound("checkpoint", string(id))
	}
	c = copyCheckpoint(c)
	return &c, nil
}

func (r memCheckpoints) Put(_ context.Context, c *entity.Checkpoint) error {
	defer r.m.lock()()
	r.m.data.checkpoints[c.ID] = copyCheckpoint(*c)
	return nil
}

func (r memCheckpoints) Delete(_ context.Context, id entity.CheckpointID) error {
	defer r.m.lock()()
	delete(r.m.data.checkpoints, id)
	return nil
}

func (r memCheckpoints) ListByScope(_ context.Context, id entity.ScopeID) ([]entity.Checkpoint, error) {
	defer r.m.rlock()()
	var out []entity.Checkpoint
	for _, c := range r.m.data.checkpoints {
		if c.ScopeID == id {
			out = append(out, copyCheckpoint(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// ── delegations ──

type memDelegations struct{ m *Memory }

func (r memDelegations) Get(_ context.Context, id entity.DelegationID) (*entity.Delegation, error) {
	defer r.m.rlock()()
	d, ok := r.m.data.delegations[id]
	if !ok {
		return nil, errors.NewNotFound("delegation", string(id))
	}
	return &d, nil
}

func (r memDelegations) Put(_ context.Context, d *entity.Delegation) error {
	defer r.m.lock()()
	for _, other := range r.m.data.delegations {
		if other.ID != d.ID && other.TrajectoryID == d.TrajectoryID && other.Sequence == d.Sequence {
			return errors.NewConflict("duplicate delegation sequence " + string(d.TrajectoryID))
		}
	}
	r.m.data.delegations[d.ID] = *d
	return nil
}

func (r memDelegations) NextSequence(_ context.Context, id entity.TrajectoryID) (int, error) {
	defer r.m.rlock()()
	max := 0
	for _, d := range r.m.data.delegations {
		if d.TrajectoryID == id && d.Sequence > max {
			max = d.Sequence
		}
	}
	return max + 1, nil
}

func (r memDelegations) ListByTrajectory(_ context.Context, id entity.TrajectoryID) ([]entity.Delegation, error) {
	defer r.m.rlock()()
	var out []entity.Delegation
	for _, d := range r.m.data.delegations {
		if d.TrajectoryID == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}
