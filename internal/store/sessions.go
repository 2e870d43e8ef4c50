package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// SessionField selects which versioned session document a conditional
// update targets. The column names are fixed at compile time; field values
// never reach SQL from input.
type SessionField int

const (
	// SessionMetadata targets the metadata document.
	SessionMetadata SessionField = iota + 1
	// SessionAgentState targets the agent-state document.
	SessionAgentState
)

func (f SessionField) columns() (doc, version string) {
	switch f {
	case SessionMetadata:
		return "metadata", "metadata_version"
	case SessionAgentState:
		return "agent_state", "agent_state_version"
	default:
		panic(fmt.Sprintf("unknown session field %d", f))
	}
}

const sessionColumns = `id, namespace, tag, machine_id,
	metadata, metadata_version, agent_state, agent_state_version,
	todos, todos_updated_at, native_handle, summary, resumed_from,
	creator_chat_id, active, active_at, seq, created_at, updated_at`

// GetOrCreateSession returns the session identified by (namespace, tag),
// creating it with the supplied id when absent. Sessions without a tag are
// always created fresh. Idempotent: a second call for the same (namespace,
// tag) returns the original row and created=false.
func (s *Store) GetOrCreateSession(ctx context.Context, id, namespace, tag, machineID string, now time.Time) (model.Session, bool, error) {
	var (
		out     model.Session
		created bool
	)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if tag != "" {
			existing, err := scanSession(tx.QueryRowContext(ctx, `
				SELECT `+sessionColumns+`
				FROM sessions
				WHERE namespace = ? AND tag = ?
			`, namespace, tag))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup session by tag: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, namespace, tag, machine_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, namespace, nullable(tag), machineID, nanos(now), nanos(now))
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		inserted, err := scanSession(tx.QueryRowContext(ctx, `
			SELECT `+sessionColumns+` FROM sessions WHERE id = ?
		`, id))
		if err != nil {
			return fmt.Errorf("read inserted session: %w", err)
		}
		out = inserted
		created = true
		return nil
	})
	if err != nil {
		return model.Session{}, false, err
	}
	return out, created, nil
}

// CreateSession inserts a fully specified session row. Used by the resume
// protocol's fallback path, where resumed_from and native_handle are known
// at creation time.
func (s *Store) CreateSession(ctx context.Context, sess model.Session, now time.Time) (model.Session, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(id, namespace, tag, machine_id, native_handle, summary, resumed_from, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Namespace, nullable(sess.Tag), sess.MachineID,
		sess.NativeHandle, sess.Summary, sess.ResumedFrom, nanos(now), nanos(now))
	if err != nil {
		return model.Session{}, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, sess.ID)
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (model.Session, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, model.NewNotFound("session", id)
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions in a namespace, oldest first.
func (s *Store) ListSessions(ctx context.Context, namespace string) ([]model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE namespace = ?
		ORDER BY created_at ASC, id ASC
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a session. Messages and subscription rows cascade
// via foreign keys; this is the only path that destroys log entries other
// than an explicit trim.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewNotFound("session", id)
	}
	return nil
}

// UpdateSessionDoc performs the optimistic-concurrency write for a
// versioned session document. The guard, the version increment, the
// change-counter bump, and the value write are a single atomic statement;
// no lock is held across any network round trip.
//
// A nil doc is an explicit "clear to empty", not "leave unchanged".
//
// On a stale expectedVersion the stored value and version are re-read and
// returned inside a CONFLICT error so the caller can rebase-and-retry or
// abort. Returns the new version on success.
func (s *Store) UpdateSessionDoc(ctx context.Context, id string, field SessionField, doc model.Doc, expectedVersion int64, now time.Time) (int64, error) {
	docCol, verCol := field.columns()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET `+docCol+` = ?, `+verCol+` = `+verCol+` + 1, seq = seq + 1, updated_at = ?
		WHERE id = ? AND `+verCol+` = ?
	`, docArg(doc), nanos(now), id, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update session %s: %w", docCol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update session %s: rows affected: %w", docCol, err)
	}
	if n > 0 {
		return expectedVersion + 1, nil
	}

	// Zero rows matched: either the guard is stale or the session is gone.
	var (
		current sql.NullString
		version int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT `+docCol+`, `+verCol+` FROM sessions WHERE id = ?
	`, id).Scan(&current, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.NewNotFound("session", id)
	}
	if err != nil {
		return 0, fmt.Errorf("reread session %s: %w", docCol, err)
	}
	return 0, model.NewVersionConflict("session", id, version, docFromNull(current))
}

// SetSessionTodos writes the todos document under the last-writer-wins
// timestamp guard: accepted only when updatedAt is strictly greater than
// the stored todos_updated_at. Out-of-order producers lose silently by
// timestamp, never by arrival order - this is deliberately not a version
// counter, so uncoordinated producers need no shared state.
func (s *Store) SetSessionTodos(ctx context.Context, id string, doc model.Doc, updatedAt, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions
		SET todos = ?, todos_updated_at = ?, seq = seq + 1, updated_at = ?
		WHERE id = ? AND todos_updated_at < ?
	`, docArg(doc), nanos(updatedAt), nanos(now), id, nanos(updatedAt))
	if err != nil {
		return fmt.Errorf("set session todos: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set session todos: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var stored int64
	err = s.db.QueryRowContext(ctx, `
		SELECT todos_updated_at FROM sessions WHERE id = ?
	`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewNotFound("session", id)
	}
	if err != nil {
		return fmt.Errorf("reread session todos: %w", err)
	}
	return model.NewTimestampConflict("session", id, fromNanos(stored))
}

// SetSessionActive records a presence transition. Going online refreshes
// active_at; going offline leaves active_at at the last online instant.
func (s *Store) SetSessionActive(ctx context.Context, id string, active bool, now time.Time) error {
	var res sql.Result
	var err error
	if active {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions
			SET active = 1, active_at = ?, seq = seq + 1, updated_at = ?
			WHERE id = ?
		`, nanos(now), nanos(now), id)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE sessions
			SET active = 0, seq = seq + 1, updated_at = ?
			WHERE id = ?
		`, nanos(now), id)
	}
	if err != nil {
		return fmt.Errorf("set session active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set session active: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewNotFound("session", id)
	}
	return nil
}

// SetSessionSummary stores the last known conversation summary consumed by
// the resume protocol's context carryover.
func (s *Store) SetSessionSummary(ctx context.Context, id, summary string, now time.Time) error {
	return s.setSessionText(ctx, id, "summary", summary, now)
}

// SetSessionNativeHandle records the remote agent's own session identifier
// for later native resume.
func (s *Store) SetSessionNativeHandle(ctx context.Context, id, handle string, now time.Time) error {
	return s.setSessionText(ctx, id, "native_handle", handle, now)
}

// setSessionText updates one of the fixed plain-text session columns.
func (s *Store) setSessionText(ctx context.Context, id, column, value string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET `+column+` = ?, seq = seq + 1, updated_at = ? WHERE id = ?
	`, value, nanos(now), id)
	if err != nil {
		return fmt.Errorf("set session %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set session %s: rows affected: %w", column, err)
	}
	if n == 0 {
		return model.NewNotFound("session", id)
	}
	return nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (model.Session, error) {
	var (
		sess                 model.Session
		tag                  sql.NullString
		metadata, agentState sql.NullString
		todos                sql.NullString
		todosAt, activeAt    int64
		active               int
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&sess.ID, &sess.Namespace, &tag, &sess.MachineID,
		&metadata, &sess.MetadataVersion, &agentState, &sess.AgentStateVersion,
		&todos, &todosAt, &sess.NativeHandle, &sess.Summary, &sess.ResumedFrom,
		&sess.CreatorChatID, &active, &activeAt, &sess.Seq, &createdAt, &updatedAt,
	); err != nil {
		return model.Session{}, err
	}
	sess.Tag = tag.String
	sess.Metadata = docFromNull(metadata)
	sess.AgentState = docFromNull(agentState)
	sess.Todos = docFromNull(todos)
	sess.TodosUpdatedAt = fromNanos(todosAt)
	sess.Active = active != 0
	sess.ActiveAt = fromNanos(activeAt)
	sess.CreatedAt = fromNanos(createdAt)
	sess.UpdatedAt = fromNanos(updatedAt)
	return sess, nil
}

// docArg maps a Doc to its SQL argument: nil docs store as NULL.
func docArg(doc model.Doc) any {
	if doc == nil {
		return nil
	}
	return string(doc)
}

// docFromNull is the inverse of docArg.
func docFromNull(v sql.NullString) model.Doc {
	if !v.Valid {
		return nil
	}
	return model.Doc(v.String)
}

// nullable maps "" to NULL for columns where empty means absent.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
