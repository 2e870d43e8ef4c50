package model

import (
	"encoding/json"
	"time"
)

// Doc is an opaque JSON document stored verbatim. The core never inspects
// its contents - only the version/sequence envelope around it. A nil Doc
// means "cleared to empty" for nullable fields.
type Doc = json.RawMessage

// Session is a logical, resumable unit of work tied to one remote agent
// conversation. metadata, agentState and todos are independently guarded:
// metadata/agentState by per-field version counters, todos by a
// last-writer-wins timestamp (multiple producers may deliver out of order,
// so they cannot share a version counter).
type Session struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`
	// Tag is an optional logical grouping key. (Namespace, Tag) identifies
	// a session for idempotent get-or-create.
	Tag       string `json:"tag,omitempty"`
	MachineID string `json:"machine_id,omitempty"`

	Metadata          Doc   `json:"metadata,omitempty"`
	MetadataVersion   int64 `json:"metadata_version"`
	AgentState        Doc   `json:"agent_state,omitempty"`
	AgentStateVersion int64 `json:"agent_state_version"`

	Todos          Doc       `json:"todos,omitempty"`
	TodosUpdatedAt time.Time `json:"todos_updated_at,omitempty"`

	// NativeHandle is the remote agent's own last-known session identifier,
	// used to seed a resume attempt after the process died.
	NativeHandle string `json:"native_handle,omitempty"`

	// Summary is the last known conversation summary, consumed by the
	// resume protocol's context carryover.
	Summary string `json:"summary,omitempty"`

	// ResumedFrom is set on sessions created by the resume fallback path.
	ResumedFrom string `json:"resumed_from,omitempty"`

	// CreatorChatID is the zero-or-one designated creator chat identity,
	// always part of the chat recipient set until cleared.
	CreatorChatID string `json:"creator_chat_id,omitempty"`

	Active   bool      `json:"active"`
	ActiveAt time.Time `json:"active_at,omitempty"`

	// Seq is the session-wide change counter, bumped on every accepted
	// mutation. Polling clients use it for cheap change detection; it is
	// independent of message sequence numbers.
	Seq int64 `json:"seq"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Machine is a physical/daemon host that can run zero or more sessions.
// Its namespace is immutable after creation.
type Machine struct {
	ID        string `json:"id"`
	Namespace string `json:"namespace"`

	Metadata           Doc   `json:"metadata,omitempty"`
	MetadataVersion    int64 `json:"metadata_version"`
	DaemonState        Doc   `json:"daemon_state,omitempty"`
	DaemonStateVersion int64 `json:"daemon_state_version"`

	Active   bool      `json:"active"`
	ActiveAt time.Time `json:"active_at,omitempty"`

	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one entry in a session's append-only log. (SessionID, Seq) is
// unique and gap-free in insertion order; (SessionID, LocalID) is unique
// when LocalID is present, giving at-least-once producers idempotent
// retries.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int64     `json:"seq"`
	Content   Doc       `json:"content"`
	LocalID   string    `json:"local_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is one (session, identity) notification row. Exactly one of
// ChatID or ClientID is set.
type Subscription struct {
	SessionID string    `json:"session_id"`
	ChatID    string    `json:"chat_id,omitempty"`
	ClientID  string    `json:"client_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recipients is the computed delivery target set for a session event.
// Chat and client identities stay separate because they use different
// delivery transports.
type Recipients struct {
	ChatIDs   []string `json:"chat_ids"`
	ClientIDs []string `json:"client_ids"`
}

// TrimResult reports the effect of a message log trim.
type TrimResult struct {
	Deleted   int64 `json:"deleted"`
	Remaining int64 `json:"remaining"`
}
