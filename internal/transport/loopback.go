package transport

import (
	"context"
	"fmt"
	"sync"
)

// Loopback is an in-process Transport for tests and single-machine
// deployments where the daemon runs in the same process as the hub.
// Spawn behavior is scriptable per machine; liveness events are emitted
// by the test or the co-resident daemon via the Emit methods.
type Loopback struct {
	mu      sync.Mutex
	events  chan Event
	closed  bool
	spawn   func(req SpawnRequest) (string, error)
	spawned []SpawnRequest
	sent    map[string][][]byte
}

// NewLoopback creates a loopback transport. spawn decides the session id
// for each spawn request; nil means "honor req.SessionID or fail".
func NewLoopback(spawn func(req SpawnRequest) (string, error)) *Loopback {
	return &Loopback{
		events: make(chan Event, 64),
		spawn:  spawn,
		sent:   make(map[string][][]byte),
	}
}

// Spawn records the request and delegates to the configured spawn func.
func (l *Loopback) Spawn(_ context.Context, req SpawnRequest) (string, error) {
	l.mu.Lock()
	l.spawned = append(l.spawned, req)
	spawn := l.spawn
	l.mu.Unlock()

	if spawn != nil {
		return spawn(req)
	}
	if req.SessionID == "" {
		return "", fmt.Errorf("loopback spawn: no session id and no spawn func")
	}
	return req.SessionID, nil
}

// Send records the payload for later inspection.
func (l *Loopback) Send(_ context.Context, sessionID string, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("loopback send: transport closed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	l.sent[sessionID] = append(l.sent[sessionID], buf)
	return nil
}

// Events returns the liveness stream.
func (l *Loopback) Events() <-chan Event {
	return l.events
}

// Close closes the event stream. Idempotent.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

// Emit pushes a liveness event onto the stream. The send happens under
// the mutex so it serializes with Close; a full buffer drops the event
// rather than deadlocking against Close.
func (l *Loopback) Emit(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
	}
}

// Spawned returns all spawn requests seen so far.
func (l *Loopback) Spawned() []SpawnRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SpawnRequest, len(l.spawned))
	copy(out, l.spawned)
	return out
}

// Sent returns payloads delivered to a session, in order.
func (l *Loopback) Sent(sessionID string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent[sessionID]...)
}
