// Package transport is the channel to remote agent processes: spawn,
// message delivery, and the push-driven liveness event stream the
// presence tracker consumes. The payload is opaque to everything above
// this package.
package transport

import "context"

// EventType classifies liveness events from remote processes.
type EventType string

const (
	// EventOnline means the remote process registered itself.
	EventOnline EventType = "online"
	// EventOffline means the remote process went away.
	EventOffline EventType = "offline"
	// EventAttached means the logical channel for a session is ready to
	// receive messages.
	EventAttached EventType = "attached"
)

// Event is one liveness transition reported by a remote process.
type Event struct {
	SessionID string    `json:"session_id,omitempty"`
	MachineID string    `json:"machine_id,omitempty"`
	Type      EventType `json:"type"`
}

// SpawnRequest asks a machine's daemon to start an agent process.
type SpawnRequest struct {
	MachineID string `json:"machine_id"`
	Directory string `json:"directory"`

	// SessionID, when set, requests re-attachment to an existing logical
	// session id instead of a fresh one.
	SessionID string `json:"session_id,omitempty"`

	// NativeHandle seeds the agent's own resume mechanism when the
	// logical session id could not be revived.
	NativeHandle string `json:"native_handle,omitempty"`
}

// Transport connects the hub to remote agent processes. Implementations
// must be safe for concurrent use.
type Transport interface {
	// Spawn starts (or resumes) an agent process and returns the session
	// id it is serving. Spawn returning is not "online" - the caller
	// still waits for the liveness event.
	Spawn(ctx context.Context, req SpawnRequest) (string, error)

	// Send delivers an opaque payload to a session's channel.
	Send(ctx context.Context, sessionID string, payload []byte) error

	// Events is the stream of liveness transitions. Closed by Close.
	Events() <-chan Event

	Close() error
}
