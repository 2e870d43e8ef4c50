package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// SubscribeChat upserts a chat-identity subscription. Re-subscribing the
// same identity refreshes updated_at rather than duplicating the row.
func (s *Store) SubscribeChat(ctx context.Context, sessionID, chatID string, now time.Time) (model.Subscription, error) {
	return s.subscribe(ctx, sessionID, "chat_id", chatID, now)
}

// SubscribeClient upserts a client-identity subscription.
func (s *Store) SubscribeClient(ctx context.Context, sessionID, clientID string, now time.Time) (model.Subscription, error) {
	return s.subscribe(ctx, sessionID, "client_id", clientID, now)
}

func (s *Store) subscribe(ctx context.Context, sessionID, column, identity string, now time.Time) (model.Subscription, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return model.Subscription{}, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (session_id, `+column+`, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, `+column+`) WHERE `+column+` IS NOT NULL
		DO UPDATE SET updated_at = excluded.updated_at
	`, sessionID, identity, nanos(now), nanos(now))
	if err != nil {
		return model.Subscription{}, fmt.Errorf("subscribe %s: %w", column, err)
	}

	var (
		sub                  model.Subscription
		createdAt, updatedAt int64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT created_at, updated_at FROM subscriptions
		WHERE session_id = ? AND `+column+` = ?
	`, sessionID, identity).Scan(&createdAt, &updatedAt)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("read subscription: %w", err)
	}

	sub.SessionID = sessionID
	if column == "chat_id" {
		sub.ChatID = identity
	} else {
		sub.ClientID = identity
	}
	sub.CreatedAt = fromNanos(createdAt)
	sub.UpdatedAt = fromNanos(updatedAt)
	return sub, nil
}

// UnsubscribeChat removes a chat subscription. When the identity is also
// the session's creator, the creator designation is cleared in the same
// transaction so the identity stops receiving events entirely.
func (s *Store) UnsubscribeChat(ctx context.Context, sessionID, chatID string, now time.Time) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM subscriptions WHERE session_id = ? AND chat_id = ?
		`, sessionID, chatID); err != nil {
			return fmt.Errorf("unsubscribe chat: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET creator_chat_id = '', seq = seq + 1, updated_at = ?
			WHERE id = ? AND creator_chat_id = ?
		`, nanos(now), sessionID, chatID); err != nil {
			return fmt.Errorf("clear creator: %w", err)
		}
		return nil
	})
}

// UnsubscribeClient removes a client subscription.
func (s *Store) UnsubscribeClient(ctx context.Context, sessionID, clientID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE session_id = ? AND client_id = ?
	`, sessionID, clientID)
	if err != nil {
		return fmt.Errorf("unsubscribe client: %w", err)
	}
	return nil
}

// SetCreator designates the session's creator chat identity.
func (s *Store) SetCreator(ctx context.Context, sessionID, chatID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET creator_chat_id = ?, seq = seq + 1, updated_at = ?
		WHERE id = ?
	`, chatID, nanos(now), sessionID)
	if err != nil {
		return fmt.Errorf("set creator: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set creator: rows affected: %w", err)
	}
	if n == 0 {
		return model.NewNotFound("session", sessionID)
	}
	return nil
}

// Recipients computes the delivery target set for a session event: the
// de-duplicated union of the creator chat identity and all chat
// subscribers, plus - separately, because the delivery transport differs -
// all client subscribers. Both sets come back sorted for deterministic
// fan-out order.
func (s *Store) Recipients(ctx context.Context, sessionID string) (model.Recipients, error) {
	var creator string
	err := s.db.QueryRowContext(ctx, `
		SELECT creator_chat_id FROM sessions WHERE id = ?
	`, sessionID).Scan(&creator)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Recipients{}, model.NewNotFound("session", sessionID)
	}
	if err != nil {
		return model.Recipients{}, fmt.Errorf("read creator: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, client_id FROM subscriptions WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return model.Recipients{}, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	chatSet := map[string]struct{}{}
	clientSet := map[string]struct{}{}
	if creator != "" {
		chatSet[creator] = struct{}{}
	}
	for rows.Next() {
		var chatID, clientID sql.NullString
		if err := rows.Scan(&chatID, &clientID); err != nil {
			return model.Recipients{}, fmt.Errorf("scan subscription: %w", err)
		}
		if chatID.Valid {
			chatSet[chatID.String] = struct{}{}
		}
		if clientID.Valid {
			clientSet[clientID.String] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return model.Recipients{}, fmt.Errorf("iterate subscriptions: %w", err)
	}

	return model.Recipients{
		ChatIDs:   sortedKeys(chatSet),
		ClientIDs: sortedKeys(clientSet),
	}, nil
}

func (s *Store) requireSession(ctx context.Context, sessionID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewNotFound("session", sessionID)
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
