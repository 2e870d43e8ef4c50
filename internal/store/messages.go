package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// Built-in page size bounds. Callers never reach SQL with an unclamped
// limit.
const (
	// DefaultPageLimit applies when the caller passes limit <= 0.
	DefaultPageLimit = 200
	// MaxPageLimit is the hard ceiling for any single page.
	MaxPageLimit = 500
)

// PageLimits bounds caller-supplied page sizes. The store starts with
// DefaultPageLimits; SetPageLimits installs configured values.
type PageLimits struct {
	Default int
	Max     int
}

// DefaultPageLimits returns the built-in pagination bounds.
func DefaultPageLimits() PageLimits {
	return PageLimits{Default: DefaultPageLimit, Max: MaxPageLimit}
}

// Clamp normalizes a caller-supplied page limit. Non-positive values
// fall back to the default; values above the ceiling are capped.
func (p PageLimits) Clamp(limit int) int {
	if limit <= 0 {
		return p.Default
	}
	if limit > p.Max {
		return p.Max
	}
	return limit
}

const messageColumns = `session_id, seq, id, content, local_id, created_at`

// AppendMessage appends a message to a session's log and returns the
// stored row. When msg.LocalID is set and a message with that (session,
// local id) already exists, the original is returned unchanged - retry
// safety for at-least-once delivery from an unreliable transport.
//
// The next seq is MAX(existing)+1 computed inside the same transaction
// that inserts the row and bumps the session change counter, so seq values
// are gap-free in insertion order even with interleaved appends. The
// single-connection pool serializes the whole unit.
func (s *Store) AppendMessage(ctx context.Context, msg model.Message, now time.Time) (model.Message, error) {
	var out model.Message

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if msg.LocalID != "" {
			existing, err := scanMessage(tx.QueryRowContext(ctx, `
				SELECT `+messageColumns+`
				FROM messages
				WHERE session_id = ? AND local_id = ?
			`, msg.SessionID, msg.LocalID))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup message by local id: %w", err)
			}
		}

		// The session row must exist; bumping its counter doubles as the
		// existence check.
		res, err := tx.ExecContext(ctx, `
			UPDATE sessions SET seq = seq + 1, updated_at = ? WHERE id = ?
		`, nanos(now), msg.SessionID)
		if err != nil {
			return fmt.Errorf("bump session counter: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("bump session counter: rows affected: %w", err)
		}
		if n == 0 {
			return model.NewNotFound("session", msg.SessionID)
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?
		`, msg.SessionID).Scan(&seq); err != nil {
			return fmt.Errorf("next message seq: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, seq, id, content, local_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.SessionID, seq, msg.ID, string(msg.Content), nullable(msg.LocalID), nanos(now)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}

		out = msg
		out.Seq = seq
		out.CreatedAt = now.UTC()
		return nil
	})
	if err != nil {
		return model.Message{}, err
	}
	return out, nil
}

// PageBefore returns up to limit messages with seq strictly below
// beforeSeq, re-ordered ascending. beforeSeq <= 0 means "from the end".
// This is the backward-scrolling fetch path.
func (s *Store) PageBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) ([]model.Message, error) {
	limit = s.pages.Clamp(limit)

	var (
		rows *sql.Rows
		err  error
	)
	if beforeSeq > 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE session_id = ? AND seq < ?
			ORDER BY seq DESC
			LIMIT ?
		`, sessionID, beforeSeq, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		`, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("page messages before: %w", err)
	}
	defer rows.Close()

	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Fetched newest-first; callers read oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// PageAfter returns up to limit messages with seq strictly above afterSeq,
// in ascending order. afterSeq = 0 pages from the beginning.
func (s *Store) PageAfter(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]model.Message, error) {
	limit = s.pages.Clamp(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("page messages after: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// TrimMessages deletes the oldest messages of a session, preserving the
// most recent keep. A no-op when the session holds keep or fewer messages.
// The session change counter is bumped only when rows were deleted.
func (s *Store) TrimMessages(ctx context.Context, sessionID string, keep int, now time.Time) (model.TrimResult, error) {
	if keep < 0 {
		keep = 0
	}

	var result model.TrimResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// Seq of the keep-th most recent message. Everything strictly
		// below it goes.
		var threshold int64
		err := tx.QueryRowContext(ctx, `
			SELECT seq FROM messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT 1 OFFSET ?
		`, sessionID, maxInt(keep-1, 0)).Scan(&threshold)
		if errors.Is(err, sql.ErrNoRows) {
			// Fewer than keep messages exist (or none at all).
			var remaining int64
			if err := tx.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM messages WHERE session_id = ?
			`, sessionID).Scan(&remaining); err != nil {
				return fmt.Errorf("count messages: %w", err)
			}
			result = model.TrimResult{Deleted: 0, Remaining: remaining}
			return nil
		}
		if err != nil {
			return fmt.Errorf("find trim threshold: %w", err)
		}

		if keep == 0 {
			// Keep nothing: the threshold row itself goes too.
			threshold++
		}

		res, err := tx.ExecContext(ctx, `
			DELETE FROM messages WHERE session_id = ? AND seq < ?
		`, sessionID, threshold)
		if err != nil {
			return fmt.Errorf("trim messages: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("trim messages: rows affected: %w", err)
		}

		var remaining int64
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages WHERE session_id = ?
		`, sessionID).Scan(&remaining); err != nil {
			return fmt.Errorf("count remaining messages: %w", err)
		}

		if deleted > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE sessions SET seq = seq + 1, updated_at = ? WHERE id = ?
			`, nanos(now), sessionID); err != nil {
				return fmt.Errorf("bump session counter: %w", err)
			}
		}

		result = model.TrimResult{Deleted: deleted, Remaining: remaining}
		return nil
	})
	if err != nil {
		return model.TrimResult{}, err
	}
	return result, nil
}

// CountMessages returns the number of messages in a session's log.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE session_id = ?
	`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ClampLimit normalizes a page limit against the built-in bounds.
func ClampLimit(limit int) int {
	return DefaultPageLimits().Clamp(limit)
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	msgs := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

func scanMessage(row scanner) (model.Message, error) {
	var (
		msg       model.Message
		content   string
		localID   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&msg.SessionID, &msg.Seq, &msg.ID, &content, &localID, &createdAt); err != nil {
		return model.Message{}, err
	}
	msg.Content = model.Doc(content)
	msg.LocalID = localID.String
	msg.CreatedAt = fromNanos(createdAt)
	return msg, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
