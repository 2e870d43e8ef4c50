package notify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tclock "github.com/tetherhq/tether/internal/clock"
	"github.com/tetherhq/tether/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := tclock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewService(s, clk), s
}

func createSession(t *testing.T, s *store.Store, id string) {
	t.Helper()
	_, _, err := s.GetOrCreateSession(context.Background(), id, "default", "", "machine-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
}

func TestSubscribe_ChatIdentity(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	sub, err := svc.Subscribe(context.Background(), "sess-1", Identity{ChatID: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, "chat-1", sub.ChatID)

	rec, err := svc.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-1"}, rec.ChatIDs)
	assert.Empty(t, rec.ClientIDs)
}

func TestSubscribe_ClientIdentity(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	sub, err := svc.Subscribe(context.Background(), "sess-1", Identity{ClientID: "client-1"})
	require.NoError(t, err)
	assert.Equal(t, "client-1", sub.ClientID)

	rec, err := svc.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ChatIDs, "client subscribers never join the chat set")
	assert.Equal(t, []string{"client-1"}, rec.ClientIDs)
}

func TestSubscribe_RejectsBothOrNeither(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	_, err := svc.Subscribe(context.Background(), "sess-1", Identity{})
	assert.Error(t, err, "empty identity")

	_, err = svc.Subscribe(context.Background(), "sess-1", Identity{ChatID: "c", ClientID: "cl"})
	assert.Error(t, err, "both identities")
}

func TestRecipients_CreatorUnionSubscribers(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	require.NoError(t, svc.SetCreator(context.Background(), "sess-1", "chat-creator"))
	_, err := svc.Subscribe(context.Background(), "sess-1", Identity{ChatID: "chat-creator"})
	require.NoError(t, err)
	_, err = svc.Subscribe(context.Background(), "sess-1", Identity{ChatID: "chat-extra"})
	require.NoError(t, err)

	rec, err := svc.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"chat-creator", "chat-extra"}, rec.ChatIDs, "creator deduped against its own subscription")
}

func TestUnsubscribe_CreatorStopsReceiving(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	require.NoError(t, svc.SetCreator(context.Background(), "sess-1", "chat-1"))
	require.NoError(t, svc.Unsubscribe(context.Background(), "sess-1", Identity{ChatID: "chat-1"}))

	rec, err := svc.Recipients(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, rec.ChatIDs)
}

func TestUnsubscribe_ValidatesIdentity(t *testing.T) {
	svc, s := newTestService(t)
	createSession(t, s, "sess-1")

	assert.Error(t, svc.Unsubscribe(context.Background(), "sess-1", Identity{}))
}
