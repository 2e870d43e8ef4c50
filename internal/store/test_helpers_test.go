package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tetherhq/tether/internal/model"
)

// createTestStore creates a fresh on-disk store under t.TempDir().
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession inserts a session with the given id and tag and returns it.
func createTestSession(t *testing.T, s *Store, id, tag string) model.Session {
	t.Helper()
	sess, created, err := s.GetOrCreateSession(context.Background(), id, "default", tag, "machine-1", testTime(0))
	if err != nil {
		t.Fatalf("GetOrCreateSession() failed: %v", err)
	}
	if !created {
		t.Fatalf("session %q already existed", id)
	}
	return sess
}

// testTime returns a fixed base instant offset by n seconds.
func testTime(n int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
}

func appendTestMessage(t *testing.T, s *Store, sessionID, id, content string, at time.Time) model.Message {
	t.Helper()
	msg, err := s.AppendMessage(context.Background(), model.Message{
		SessionID: sessionID,
		ID:        id,
		Content:   model.Doc(content),
	}, at)
	if err != nil {
		t.Fatalf("AppendMessage() failed: %v", err)
	}
	return msg
}
