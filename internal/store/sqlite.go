package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caliber-ai/caliber/internal/entity"
	"github.com/caliber-ai/caliber/internal/errors"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same repo code
// serves plain calls and WithinTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the durable Store backed by a SQLite database initialized
// via internal/db.
type SQLite struct {
	db *sql.DB
	q  dbtx
}

// NewSQLite wraps an initialized database handle.
func NewSQLite(database *sql.DB) *SQLite {
	return &SQLite{db: database, q: database}
}

func (s *SQLite) Trajectories() Trajectories { return sqliteTrajectories{s.q} }
func (s *SQLite) Scopes() Scopes             { return sqliteScopes{s.q} }
func (s *SQLite) Turns() Turns               { return sqliteTurns{s.q} }
func (s *SQLite) Artifacts() Artifacts       { return sqliteArtifacts{s.q} }
func (s *SQLite) Notes() Notes               { return sqliteNotes{s.q} }
func (s *SQLite) Checkpoints() Checkpoints   { return sqliteCheckpoints{s.q} }
func (s *SQLite) Delegations() Delegations   { return sqliteDelegations{s.q} }

// WithinTx runs fn inside a single SQLite transaction. Nested calls
// reuse the enclosing transaction.
func (s *SQLite) WithinTx(ctx context.Context, fn func(Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(err)
	}
	if err := fn(&SQLite{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

// marshalIDs JSON-encodes an ID slice, returning NULL for empty.
func marshalIDs[T ~string](ids []T) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalIDs[T ~string](raw sql.NullString) ([]T, error) {
	if !raw.Valid {
		return nil, nil
	}
	var ids []T
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ── trajectories ──

type sqliteTrajectories struct{ q dbtx }

func (r sqliteTrajectories) Get(ctx context.Context, id entity.TrajectoryID) (*entity.Trajectory, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT id, name, status, created_at, updated_at
		FROM trajectories WHERE id = ?`, string(id))

	var t entity.Trajectory
	var created, updated int64
	err := row.Scan(&t.ID, &t.Name, &t.Status, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("trajectory", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.UpdatedAt = time.Unix(updated, 0).UTC()
	return &t, nil
}

func (r sqliteTrajectories) Put(ctx context.Context, t *entity.Trajectory) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO trajectories (id, name, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		string(t.ID), t.Name, string(t.Status), t.CreatedAt.Unix(), t.UpdatedAt.Unix())
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteTrajectories) Delete(ctx context.Context, id entity.TrajectoryID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM trajectories WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteTrajectories) List(ctx context.Context, limit, offset int) ([]entity.Trajectory, error) {
	query := `SELECT id, name, status, created_at, updated_at FROM trajectories ORDER BY id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Trajectory
	for rows.Next() {
		var t entity.Trajectory
		var created, updated int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &created, &updated); err != nil {
			return nil, errors.NewStorage(err)
		}
		t.CreatedAt = time.Unix(created, 0).UTC()
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── scopes ──

type sqliteScopes struct{ q dbtx }

const scopeColumns = `id, trajectory_id, name, status, max_tokens, max_turns, checkpoint_id, revision, tokens_committed, created_at, updated_at`

func scanScope(scan func(...any) error) (*entity.Scope, error) {
	var s entity.Scope
	var checkpoint sql.NullString
	var created, updated int64
	err := scan(&s.ID, &s.TrajectoryID, &s.Name, &s.Status,
		&s.Limit.MaxTokens, &s.Limit.MaxTurns, &checkpoint,
		&s.Revision, &s.TokensCommitted, &created, &updated)
	if err != nil {
		return nil, err
	}
	if checkpoint.Valid {
		id := entity.CheckpointID(checkpoint.String)
		s.CheckpointID = &id
	}
	s.CreatedAt = time.Unix(created, 0).UTC()
	s.UpdatedAt = time.Unix(updated, 0).UTC()
	return &s, nil
}

func (r sqliteScopes) Get(ctx context.Context, id entity.ScopeID) (*entity.Scope, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE id = ?`, string(id))
	s, err := scanScope(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("scope", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return s, nil
}

func (r sqliteScopes) Put(ctx context.Context, s *entity.Scope) error {
	var checkpoint sql.NullString
	if s.CheckpointID != nil {
		checkpoint = sql.NullString{String: string(*s.CheckpointID), Valid: true}
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO scopes (`+scopeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			max_tokens = excluded.max_tokens,
			max_turns = excluded.max_turns,
			checkpoint_id = excluded.checkpoint_id,
			revision = excluded.revision,
			tokens_committed = excluded.tokens_committed,
			updated_at = excluded.updated_at`,
		string(s.ID), string(s.TrajectoryID), s.Name, string(s.Status),
		s.Limit.MaxTokens, s.Limit.MaxTurns, checkpoint,
		s.Revision, s.TokensCommitted, s.CreatedAt.Unix(), s.UpdatedAt.Unix())
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteScopes) Delete(ctx context.Context, id entity.ScopeID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM scopes WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteScopes) ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Scope, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+scopeColumns+` FROM scopes WHERE trajectory_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Scope
	for rows.Next() {
		s, err := scanScope(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── turns ──

type sqliteTurns struct{ q dbtx }

const turnColumns = `id, scope_id, sequence, input_content, output_content, token_count, state, artifact_ids, note_ids, created_at`

func scanTurn(scan func(...any) error) (*entity.Turn, error) {
	var t entity.Turn
	var artifactIDs, noteIDs sql.NullString
	var created int64
	err := scan(&t.ID, &t.ScopeID, &t.Sequence, &t.InputContent, &t.OutputContent,
		&t.TokenCount, &t.State, &artifactIDs, &noteIDs, &created)
	if err != nil {
		return nil, err
	}
	t.ArtifactIDs, err = unmarshalIDs[entity.ArtifactID](artifactIDs)
	if err != nil {
		return nil, err
	}
	t.NoteIDs, err = unmarshalIDs[entity.NoteID](noteIDs)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0).UTC()
	return &t, nil
}

func (r sqliteTurns) Get(ctx context.Context, id entity.TurnID) (*entity.Turn, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+turnColumns+` FROM turns WHERE id = ?`, string(id))
	t, err := scanTurn(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("turn", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return t, nil
}

func (r sqliteTurns) Put(ctx context.Context, t *entity.Turn) error {
	artifactIDs, err := marshalIDs(t.ArtifactIDs)
	if err != nil {
		return errors.NewStorage(err)
	}
	noteIDs, err := marshalIDs(t.NoteIDs)
	if err != nil {
		return errors.NewStorage(err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO turns (`+turnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			artifact_ids = excluded.artifact_ids,
			note_ids = excluded.note_ids`,
		string(t.ID), string(t.ScopeID), t.Sequence, t.InputContent, t.OutputContent,
		t.TokenCount, string(t.State), artifactIDs, noteIDs, t.CreatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewConflict(fmt.Sprintf("duplicate sequence %d in scope %s", t.Sequence, t.ScopeID))
		}
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteTurns) Delete(ctx context.Context, id entity.TurnID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM turns WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteTurns) ListByScope(ctx context.Context, id entity.ScopeID, f TurnFilter) ([]entity.Turn, error) {
	states := f.States
	if len(states) == 0 {
		states = []entity.TurnState{entity.TurnProvisional, entity.TurnCommitted}
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]

	query := `SELECT ` + turnColumns + ` FROM turns WHERE scope_id = ? AND state IN (` + placeholders + `) AND sequence > ? ORDER BY sequence ASC`
	args := []any{string(id)}
	for _, st := range states {
		args = append(args, string(st))
	}
	args = append(args, f.AfterSequence)
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Turn
	for rows.Next() {
		t, err := scanTurn(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── artifacts ──

type sqliteArtifacts struct{ q dbtx }

const artifactColumns = `id, trajectory_id, turn_id, name, mime_type, content, content_hash, orphaned, created_at`

func scanArtifact(scan func(...any) error) (*entity.Artifact, error) {
	var a entity.Artifact
	var orphaned int
	var created int64
	err := scan(&a.ID, &a.TrajectoryID, &a.TurnID, &a.Name, &a.MimeType,
		&a.Content, &a.ContentHash, &orphaned, &created)
	if err != nil {
		return nil, err
	}
	a.Orphaned = orphaned != 0
	a.CreatedAt = time.Unix(created, 0).UTC()
	return &a, nil
}

func (r sqliteArtifacts) Get(ctx context.Context, id entity.ArtifactID) (*entity.Artifact, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, string(id))
	a, err := scanArtifact(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return a, nil
}

func (r sqliteArtifacts) Put(ctx context.Context, a *entity.Artifact) error {
	orphaned := 0
	if a.Orphaned {
		orphaned = 1
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO artifacts (`+artifactColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			orphaned = excluded.orphaned`,
		string(a.ID), string(a.TrajectoryID), string(a.TurnID), a.Name, a.MimeType,
		a.Content, a.ContentHash, orphaned, a.CreatedAt.Unix())
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteArtifacts) Delete(ctx context.Context, id entity.ArtifactID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteArtifacts) ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Artifact, error) {
	return r.list(ctx, `trajectory_id = ?`, string(id))
}

func (r sqliteArtifacts) FindByHash(ctx context.Context, hash string) ([]entity.Artifact, error) {
	return r.list(ctx, `content_hash = ?`, hash)
}

func (r sqliteArtifacts) list(ctx context.Context, where string, arg any) ([]entity.Artifact, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── notes ──

type sqliteNotes struct{ q dbtx }

const noteColumns = `id, content, tags_json, source_trajectory_id, token_count, orphaned, created_at`

func scanNote(scan func(...any) error) (*entity.Note, error) {
	var n entity.Note
	var tagsJSON sql.NullString
	var orphaned int
	var created int64
	err := scan(&n.ID, &n.Content, &tagsJSON, &n.SourceTrajectoryID, &n.TokenCount, &orphaned, &created)
	if err != nil {
		return nil, err
	}
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &n.Tags); err != nil {
			return nil, err
		}
	}
	n.Orphaned = orphaned != 0
	n.CreatedAt = time.Unix(created, 0).UTC()
	return &n, nil
}

func (r sqliteNotes) Get(ctx context.Context, id entity.NoteID) (*entity.Note, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, string(id))
	n, err := scanNote(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("note", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return n, nil
}

func (r sqliteNotes) Put(ctx context.Context, n *entity.Note) error {
	var tagsJSON sql.NullString
	if len(n.Tags) > 0 {
		data, err := json.Marshal(n.Tags)
		if err != nil {
			return errors.NewStorage(err)
		}
		tagsJSON = sql.NullString{String: string(data), Valid: true}
	}
	orphaned := 0
	if n.Orphaned {
		orphaned = 1
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO notes (`+noteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			tags_json = excluded.tags_json,
			orphaned = excluded.orphaned`,
		string(n.ID), n.Content, tagsJSON, string(n.SourceTrajectoryID),
		n.TokenCount, orphaned, n.CreatedAt.Unix())
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteNotes) Delete(ctx context.Context, id entity.NoteID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteNotes) Query(ctx context.Context, f NoteFilter) ([]entity.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes`
	var conds []string
	var args []any

	if len(f.Tags) > 0 {
		// tags_json holds a JSON array of strings; a quoted substring
		// match is exact for tag values without embedded quotes.
		tagConds := make([]string, 0, len(f.Tags))
		for _, tag := range f.Tags {
			tagConds = append(tagConds, `tags_json LIKE ?`)
			args = append(args, `%"`+tag+`"%`)
		}
		conds = append(conds, `(`+strings.Join(tagConds, ` OR `)+`)`)
	}
	if !f.IncludeOrphaned {
		conds = append(conds, `orphaned = 0`)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Note
	for rows.Next() {
		n, err := scanNote(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── checkpoints ──

type sqliteCheckpoints struct{ q dbtx }

const checkpointColumns = `id, scope_id, parent_id, sequence, turn_ids, digest, token_count, validation, created_at`

func scanCheckpoint(scan func(...any) error) (*entity.Checkpoint, error) {
	var c entity.Checkpoint
	var parent sql.NullString
	var turnIDs string
	var created int64
	err := scan(&c.ID, &c.ScopeID, &parent, &c.Sequence, &turnIDs, &c.Digest, &c.TokenCount, &c.Validation, &created)
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		id := entity.CheckpointID(parent.String)
		c.ParentID = &id
	}
	if err := json.Unmarshal([]byte(turnIDs), &c.TurnIDs); err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

func (r sqliteCheckpoints) Get(ctx context.Context, id entity.CheckpointID) (*entity.Checkpoint, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, string(id))
	c, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("checkpoint", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return c, nil
}

func (r sqliteCheckpoints) Put(ctx context.Context, c *entity.Checkpoint) error {
	var parent sql.NullString
	if c.ParentID != nil {
		parent = sql.NullString{String: string(*c.ParentID), Valid: true}
	}
	turnIDs, err := json.Marshal(c.TurnIDs)
	if err != nil {
		return errors.NewStorage(err)
	}
	// Checkpoints are immutable: insert only, no upsert clause.
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO checkpoints (`+checkpointColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.ScopeID), parent, c.Sequence, string(turnIDs),
		c.Digest, c.TokenCount, c.Validation, c.CreatedAt.Unix())
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteCheckpoints) Delete(ctx context.Context, id entity.CheckpointID) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, string(id))
	if err != nil {
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteCheckpoints) ListByScope(ctx context.Context, id entity.ScopeID) ([]entity.Checkpoint, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE scope_id = ? ORDER BY sequence ASC`, string(id))
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Checkpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}

// ── delegations ──

type sqliteDelegations struct{ q dbtx }

const delegationColumns = `id, trajectory_id, from_agent_id, to_agent_id, sequence, payload, status, created_at, updated_at`

func scanDelegation(scan func(...any) error) (*entity.Delegation, error) {
	var d entity.Delegation
	var created, updated int64
	err := scan(&d.ID, &d.TrajectoryID, &d.FromAgentID, &d.ToAgentID, &d.Sequence, &d.Payload, &d.Status, &created, &updated)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(created, 0).UTC()
	d.UpdatedAt = time.Unix(updated, 0).UTC()
	return &d, nil
}

func (r sqliteDelegations) Get(ctx context.Context, id entity.DelegationID) (*entity.Delegation, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, string(id))
	d, err := scanDelegation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("delegation", string(id))
	}
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return d, nil
}

func (r sqliteDelegations) Put(ctx context.Context, d *entity.Delegation) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO delegations (`+delegationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		string(d.ID), string(d.TrajectoryID), string(d.FromAgentID), string(d.ToAgentID),
		d.Sequence, d.Payload, string(d.Status), d.CreatedAt.Unix(), d.UpdatedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.NewConflict(fmt.Sprintf("duplicate delegation sequence %d in trajectory %s", d.Sequence, d.TrajectoryID))
		}
		return errors.NewStorage(err)
	}
	return nil
}

func (r sqliteDelegations) NextSequence(ctx context.Context, id entity.TrajectoryID) (int, error) {
	var next int
	err := r.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM delegations WHERE trajectory_id = ?`,
		string(id)).Scan(&next)
	if err != nil {
		return 0, errors.NewStorage(err)
	}
	return next, nil
}

func (r sqliteDelegations) ListByTrajectory(ctx context.Context, id entity.TrajectoryID) ([]entity.Delegation, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE trajectory_id = ? ORDER BY sequence ASC`, string(id))
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	defer rows.Close()

	var out []entity.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows.Scan)
		if err != nil {
			return nil, errors.NewStorage(err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(err)
	}
	return out, nil
}
