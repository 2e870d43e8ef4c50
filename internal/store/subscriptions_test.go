package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/internal/model"
)

func TestSubscribeChat_CreatesSubscription(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	sub, err := s.SubscribeChat(context.Background(), "sess-1", "chat-1", testTime(1))
	require.NoError(t, err)

	assert.Equal(t, "sess-1", sub.SessionID)
	assert.Equal(t, "chat-1", sub.ChatID)
	assert.Empty(t, sub.ClientID)
}

func TestSubscribeChat_IdempotentUpsert(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	first, err := s.SubscribeChat(context.Background(), "sess-1", "chat-1", testTime(1))
	require.NoError(t, err)

	second, err := s.SubscribeChat(context.Background(), "sess-1", "chat-1", testTime(5))
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt, "re-subscribe keeps created_at")
	assert.Equal(t, testTime(5), second.UpdatedAt, "re-subscribe refreshes updated_at")

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM subscriptions").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSubscribeChat_SessionNotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.SubscribeChat(context.Background(), "missing", "chat-1", testTime(0))
	assert.True(t, model.IsNotFound(err))
}

func TestRecipients_UnionCreatorAndSubscribers(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	require.NoError(t, s.SetCreator(context.Background(), "sess-1", "chat-creator", testTime(0)))
	_, err := s.SubscribeChat(context.Background(), "sess-1", "chat-a", testTime(1))
	require.NoError(t, err)
	_, err = s.SubscribeChat(context.Background(), "sess-1", "chat-b", testTime(2))
	require.NoError(t, err)
	_, err = s.SubscribeClient(context.Background(), "sess-1", "client-x", testTime(3))
	require.NoError(t, err)

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-a", "chat-b", "chat-creator"}, rec.ChatIDs)
	assert.Equal(t, []string{"client-x"}, rec.ClientIDs)
}

func TestRecipients_DeduplicatesCreatorSubscriber(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	// Creator also subscribes explicitly; must appear once.
	require.NoError(t, s.SetCreator(context.Background(), "sess-1", "chat-1", testTime(0)))
	_, err := s.SubscribeChat(context.Background(), "sess-1", "chat-1", testTime(1))
	require.NoError(t, err)

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-1"}, rec.ChatIDs)
}

func TestRecipients_EmptyWithoutCreatorOrSubscribers(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Empty(t, rec.ChatIDs)
	assert.Empty(t, rec.ClientIDs)
}

func TestRecipients_SessionNotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Recipients(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
}

func TestUnsubscribeChat_RemovesSubscription(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	_, err := s.SubscribeChat(context.Background(), "sess-1", "chat-1", testTime(1))
	require.NoError(t, err)

	require.NoError(t, s.UnsubscribeChat(context.Background(), "sess-1", "chat-1", testTime(2)))

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ChatIDs)
}

func TestUnsubscribeChat_ClearsMatchingCreator(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	require.NoError(t, s.SetCreator(context.Background(), "sess-1", "chat-1", testTime(0)))

	// Unsubscribing the creator identity silences it completely; the
	// implicit creator membership must not keep it in the set.
	require.NoError(t, s.UnsubscribeChat(context.Background(), "sess-1", "chat-1", testTime(1)))

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ChatIDs)
}

func TestUnsubscribeChat_LeavesOtherCreator(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	require.NoError(t, s.SetCreator(context.Background(), "sess-1", "chat-creator", testTime(0)))
	_, err := s.SubscribeChat(context.Background(), "sess-1", "chat-other", testTime(1))
	require.NoError(t, err)

	require.NoError(t, s.UnsubscribeChat(context.Background(), "sess-1", "chat-other", testTime(2)))

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-creator"}, rec.ChatIDs)
}

func TestUnsubscribeClient_RemovesSubscription(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	_, err := s.SubscribeClient(context.Background(), "sess-1", "client-1", testTime(1))
	require.NoError(t, err)

	require.NoError(t, s.UnsubscribeClient(context.Background(), "sess-1", "client-1"))

	rec, err := s.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ClientIDs)
}

func TestUnsubscribe_UnknownIdentityIsNoOp(t *testing.T) {
	s := createTestStore(t)
	createTestSession(t, s, "sess-1", "")

	assert.NoError(t, s.UnsubscribeChat(context.Background(), "sess-1", "never-subscribed", testTime(1)))
	assert.NoError(t, s.UnsubscribeClient(context.Background(), "sess-1", "never-subscribed"))
}
