// Package resume re-attaches a disconnected session to a live remote
// process: first by reviving the same logical session id, then by falling
// back to a freshly spawned id seeded with the agent's native resume
// handle, or with a synthesized context message when no handle exists.
package resume

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	tclock "github.com/tetherhq/tether/internal/clock"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/presence"
	"github.com/tetherhq/tether/internal/transport"
)

// Store is the slice of durable storage the protocol needs.
type Store interface {
	GetSession(ctx context.Context, id string) (model.Session, error)
	CreateSession(ctx context.Context, sess model.Session, now time.Time) (model.Session, error)
	PageBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) ([]model.Message, error)
	AppendMessage(ctx context.Context, msg model.Message, now time.Time) (model.Message, error)
}

// IDGenerator mints session and message ids.
type IDGenerator interface {
	Generate() string
}

// Config bounds the protocol's two wait stages and the carryover size.
type Config struct {
	// OnlineTimeout bounds the wait for the remote process to register
	// itself after a spawn.
	OnlineTimeout time.Duration

	// AttachTimeout bounds the wait for the session's transport channel
	// to become ready once the process is online. Online and attached are
	// observably different events; collapsing them sends messages into a
	// void.
	AttachTimeout time.Duration

	MaxTurns int
	MaxChars int
}

// DefaultConfig returns the standard timeouts.
func DefaultConfig() Config {
	return Config{
		OnlineTimeout: 60 * time.Second,
		AttachTimeout: 5 * time.Second,
		MaxTurns:      DefaultMaxTurns,
		MaxChars:      DefaultMaxChars,
	}
}

// Protocol drives the resume state machine. It never retries a failed
// attempt on its own and never cleans up a spawned-but-unattached
// process; both are the caller's call.
type Protocol struct {
	store     Store
	tracker   *presence.Tracker
	transport transport.Transport
	clock     tclock.Clock
	ids       IDGenerator
	cfg       Config
}

// Outcome reports how a session came back.
type Outcome struct {
	// SessionID is the attached session - the original id on a same-id
	// resume, a fresh one on fallback.
	SessionID string

	// ResumedFrom is the old session id when fallback produced a new one.
	ResumedFrom string

	// SameID is true when the original logical session was revived.
	SameID bool

	// CarriedContext is true when exactly one synthesized context message
	// was appended to the new session.
	CarriedContext bool
}

// New creates a resume protocol.
func New(store Store, tracker *presence.Tracker, tr transport.Transport, clk tclock.Clock, ids IDGenerator, cfg Config) *Protocol {
	if cfg.OnlineTimeout <= 0 {
		cfg.OnlineTimeout = 60 * time.Second
	}
	if cfg.AttachTimeout <= 0 {
		cfg.AttachTimeout = 5 * time.Second
	}
	return &Protocol{store: store, tracker: tracker, transport: tr, clock: clk, ids: ids, cfg: cfg}
}

// Resume re-attaches sessionID to a live remote process. Any path that
// does not reach the attached state within its deadline surfaces a
// conflict-class error; timing out here is a deliberate, retryable-by-the-
// caller outcome, never silently retried.
func (p *Protocol) Resume(ctx context.Context, sessionID string) (Outcome, error) {
	old, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return Outcome{}, err
	}

	if p.trySameID(ctx, old) {
		return Outcome{SessionID: old.ID, SameID: true}, nil
	}

	return p.fallback(ctx, old)
}

// trySameID attempts to revive the original logical session id. A false
// return means "fall back", not "fail": the spawn may have been refused,
// the process may never have come online, or its channel never attached.
func (p *Protocol) trySameID(ctx context.Context, old model.Session) bool {
	_, err := p.transport.Spawn(ctx, transport.SpawnRequest{
		MachineID:    old.MachineID,
		SessionID:    old.ID,
		NativeHandle: old.NativeHandle,
	})
	if err != nil {
		return false
	}
	if !p.tracker.WaitUntilOnline(ctx, old.ID, p.cfg.OnlineTimeout) {
		return false
	}
	return p.tracker.WaitUntilAttached(ctx, old.ID, p.cfg.AttachTimeout)
}

// fallback spawns a new session seeded with the old one's native handle
// (when present) and records the lineage via resumed_from. When no native
// handle exists, the agent starts cold and gets the synthesized context
// message instead.
func (p *Protocol) fallback(ctx context.Context, old model.Session) (Outcome, error) {
	newID := p.ids.Generate()

	spawnedID, err := p.transport.Spawn(ctx, transport.SpawnRequest{
		MachineID:    old.MachineID,
		SessionID:    newID,
		NativeHandle: old.NativeHandle,
	})
	if err != nil {
		return Outcome{}, p.conflict(old.ID, fmt.Sprintf("fallback spawn failed: %v", err))
	}
	if spawnedID != "" {
		newID = spawnedID
	}

	now := p.clock.Now()
	if _, err := p.store.CreateSession(ctx, model.Session{
		ID:           newID,
		Namespace:    old.Namespace,
		MachineID:    old.MachineID,
		NativeHandle: old.NativeHandle,
		Summary:      old.Summary,
		ResumedFrom:  old.ID,
	}, now); err != nil {
		return Outcome{}, fmt.Errorf("create fallback session: %w", err)
	}

	if !p.tracker.WaitUntilOnline(ctx, newID, p.cfg.OnlineTimeout) {
		return Outcome{}, p.conflict(old.ID, "fallback session did not come online within timeout")
	}
	if !p.tracker.WaitUntilAttached(ctx, newID, p.cfg.AttachTimeout) {
		return Outcome{}, p.conflict(old.ID, "fallback session transport did not attach within timeout")
	}

	outcome := Outcome{SessionID: newID, ResumedFrom: old.ID}

	if old.NativeHandle == "" {
		if err := p.appendCarryover(ctx, old, newID); err != nil {
			return Outcome{}, err
		}
		outcome.CarriedContext = true
	}
	return outcome, nil
}

func (p *Protocol) appendCarryover(ctx context.Context, old model.Session, newID string) error {
	turns, err := p.store.PageBefore(ctx, old.ID, 0, p.cfg.MaxTurns)
	if err != nil {
		return fmt.Errorf("read carryover turns: %w", err)
	}

	text := BuildCarryover(old.ID, old.Summary, turns, p.cfg.MaxTurns, p.cfg.MaxChars)
	content, err := json.Marshal(turn{Role: "system", Text: text})
	if err != nil {
		return fmt.Errorf("encode carryover: %w", err)
	}

	if _, err := p.store.AppendMessage(ctx, model.Message{
		ID:        p.ids.Generate(),
		SessionID: newID,
		Content:   content,
	}, p.clock.Now()); err != nil {
		return fmt.Errorf("append carryover: %w", err)
	}
	return nil
}

// conflict builds the terminal CONFLICT-class error for an unattached
// resume, distinguishable from NotFound and from wait timeouts surfaced as
// booleans elsewhere.
func (p *Protocol) conflict(sessionID, msg string) error {
	return &model.Error{
		Code:    model.ErrCodeConflict,
		Message: "resume: " + msg,
		Entity:  "session",
		ID:      sessionID,
	}
}
