// Package hub wires the store, presence tracker, resume protocol,
// notification fan-out and agent transport into the synchronization
// surface the route layer consumes. Request handling is concurrent across
// sessions; mutations on the same versioned field serialize at the store
// via its atomic conditional updates, never via in-process locks held
// across a round trip.
package hub

import (
	"context"
	"fmt"
	"time"

	tclock "github.com/tetherhq/tether/internal/clock"
	"github.com/tetherhq/tether/internal/model"
	"github.com/tetherhq/tether/internal/notify"
	"github.com/tetherhq/tether/internal/presence"
	"github.com/tetherhq/tether/internal/resume"
	"github.com/tetherhq/tether/internal/store"
	"github.com/tetherhq/tether/internal/transport"
)

// Hub is the synchronization core's entry point.
type Hub struct {
	store     *store.Store
	bus       *presence.Bus
	tracker   *presence.Tracker
	transport transport.Transport
	notify    *notify.Service
	resume    *resume.Protocol
	clock     tclock.Clock
	ids       IDGenerator

	// OnError observes store failures while applying transport events.
	// Event application is best effort; nil means drop them.
	OnError func(error)
}

// Options configures hub construction. Zero values select production
// defaults.
type Options struct {
	Clock  tclock.Clock
	IDs    IDGenerator
	Resume resume.Config
}

// New assembles a hub over an opened store and a transport.
func New(st *store.Store, tr transport.Transport, opts Options) *Hub {
	if opts.Clock == nil {
		opts.Clock = tclock.System{}
	}
	if opts.IDs == nil {
		opts.IDs = UUIDv7Generator{}
	}
	if opts.Resume.OnlineTimeout == 0 && opts.Resume.AttachTimeout == 0 {
		opts.Resume = resume.DefaultConfig()
	}

	bus := presence.NewBus()
	tracker := presence.NewTracker(bus, opts.Clock)

	return &Hub{
		store:     st,
		bus:       bus,
		tracker:   tracker,
		transport: tr,
		notify:    notify.NewService(st, opts.Clock),
		resume:    resume.New(st, tracker, tr, opts.Clock, opts.IDs, opts.Resume),
		clock:     opts.Clock,
		ids:       opts.IDs,
	}
}

// Tracker exposes the presence tracker for callers that stream presence.
func (h *Hub) Tracker() *presence.Tracker {
	return h.tracker
}

// Run consumes the transport's liveness stream until ctx is done or the
// stream closes, reconciling each transition into the tracker and the
// store. The store stays the source of truth for any record it knows
// about; events for records it does not know yet only touch the in-memory
// tracker.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-h.transport.Events():
			if !ok {
				return nil
			}
			h.apply(ctx, ev)
		}
	}
}

func (h *Hub) apply(ctx context.Context, ev transport.Event) {
	now := h.clock.Now()
	switch ev.Type {
	case transport.EventOnline:
		if ev.SessionID != "" {
			h.tracker.MarkOnline(ev.SessionID)
			h.persist(h.store.SetSessionActive(ctx, ev.SessionID, true, now))
		}
		if ev.MachineID != "" {
			h.tracker.MarkOnline(ev.MachineID)
			h.persist(h.store.SetMachineActive(ctx, ev.MachineID, true, now))
		}
	case transport.EventOffline:
		if ev.SessionID != "" {
			h.tracker.MarkOffline(ev.SessionID)
			h.persist(h.store.SetSessionActive(ctx, ev.SessionID, false, now))
		}
		if ev.MachineID != "" {
			h.tracker.MarkOffline(ev.MachineID)
			h.persist(h.store.SetMachineActive(ctx, ev.MachineID, false, now))
		}
	case transport.EventAttached:
		if ev.SessionID != "" {
			h.tracker.MarkAttached(ev.SessionID)
		}
	}
}

// persist handles a best-effort store write driven by a transport event.
// Records the transport knows about before the store does are expected;
// anything else goes to OnError.
func (h *Hub) persist(err error) {
	if err == nil || model.IsNotFound(err) {
		return
	}
	if h.OnError != nil {
		h.OnError(err)
	}
}

// GetOrCreateSession returns the session for (namespace, tag), creating it
// on first spawn request. Keys are NFC-normalized before lookup.
func (h *Hub) GetOrCreateSession(ctx context.Context, namespace, tag, machineID string) (model.Session, bool, error) {
	return h.store.GetOrCreateSession(ctx,
		h.ids.Generate(),
		model.NormalizeKey(namespace),
		model.NormalizeKey(tag),
		machineID,
		h.clock.Now())
}

// GetSession retrieves a session by id.
func (h *Hub) GetSession(ctx context.Context, id string) (model.Session, error) {
	return h.store.GetSession(ctx, id)
}

// ListSessions lists a namespace's sessions.
func (h *Hub) ListSessions(ctx context.Context, namespace string) ([]model.Session, error) {
	return h.store.ListSessions(ctx, model.NormalizeKey(namespace))
}

// DeleteSession removes a session and everything hanging off it, and
// drops it from presence.
func (h *Hub) DeleteSession(ctx context.Context, id string) error {
	if err := h.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	h.tracker.MarkOffline(id)
	return nil
}

// UpdateSessionMetadata is the optimistic-concurrency write for session
// metadata. Returns the new version; a stale expectedVersion yields a
// CONFLICT error carrying the stored value and version.
func (h *Hub) UpdateSessionMetadata(ctx context.Context, id string, doc model.Doc, expectedVersion int64) (int64, error) {
	return h.store.UpdateSessionDoc(ctx, id, store.SessionMetadata, doc, expectedVersion, h.clock.Now())
}

// UpdateSessionAgentState is the optimistic-concurrency write for session
// agent state.
func (h *Hub) UpdateSessionAgentState(ctx context.Context, id string, doc model.Doc, expectedVersion int64) (int64, error) {
	return h.store.UpdateSessionDoc(ctx, id, store.SessionAgentState, doc, expectedVersion, h.clock.Now())
}

// SetSessionTodos writes the todos document under its last-writer-wins
// timestamp guard.
func (h *Hub) SetSessionTodos(ctx context.Context, id string, doc model.Doc, updatedAt time.Time) error {
	return h.store.SetSessionTodos(ctx, id, doc, updatedAt, h.clock.Now())
}

// SetSessionSummary stores the summary the resume carryover reads.
func (h *Hub) SetSessionSummary(ctx context.Context, id, summary string) error {
	return h.store.SetSessionSummary(ctx, id, summary, h.clock.Now())
}

// SetSessionNativeHandle records the agent's own session identifier.
func (h *Hub) SetSessionNativeHandle(ctx context.Context, id, handle string) error {
	return h.store.SetSessionNativeHandle(ctx, id, handle, h.clock.Now())
}

// RegisterMachine registers (or fetches) a machine. The namespace is
// immutable; a mismatch is a fatal consistency violation.
func (h *Hub) RegisterMachine(ctx context.Context, id, namespace string) (model.Machine, bool, error) {
	return h.store.RegisterMachine(ctx, id, model.NormalizeKey(namespace), h.clock.Now())
}

// GetMachine retrieves a machine by id.
func (h *Hub) GetMachine(ctx context.Context, id string) (model.Machine, error) {
	return h.store.GetMachine(ctx, id)
}

// UpdateMachineMetadata is the conditional metadata write for a machine.
func (h *Hub) UpdateMachineMetadata(ctx context.Context, id string, doc model.Doc, expectedVersion int64) (int64, error) {
	return h.store.UpdateMachineMetadata(ctx, id, doc, expectedVersion, h.clock.Now())
}

// UpdateMachineDaemonState is the conditional daemon-state write. Success
// doubles as a liveness heartbeat: the machine flips active in the store
// and comes online in the tracker.
func (h *Hub) UpdateMachineDaemonState(ctx context.Context, id string, doc model.Doc, expectedVersion int64) (int64, error) {
	version, err := h.store.UpdateMachineDaemonState(ctx, id, doc, expectedVersion, h.clock.Now())
	if err != nil {
		return 0, err
	}
	h.tracker.MarkOnline(id)
	return version, nil
}

// AppendMessage appends to a session's log. localID makes retries
// idempotent: re-submitting the same (session, localID) returns the
// original message without advancing seq.
func (h *Hub) AppendMessage(ctx context.Context, sessionID string, content model.Doc, localID string) (model.Message, error) {
	return h.store.AppendMessage(ctx, model.Message{
		ID:        h.ids.Generate(),
		SessionID: sessionID,
		Content:   content,
		LocalID:   localID,
	}, h.clock.Now())
}

// DeliverMessage appends to the log and forwards the payload to the
// session's remote process when its channel is attached. The append is
// durable regardless; delivery to a detached session is skipped, not an
// error - the process replays the log when it re-attaches.
func (h *Hub) DeliverMessage(ctx context.Context, sessionID string, content model.Doc, localID string) (model.Message, error) {
	msg, err := h.AppendMessage(ctx, sessionID, content, localID)
	if err != nil {
		return model.Message{}, err
	}
	if h.tracker.IsAttached(sessionID) {
		if err := h.transport.Send(ctx, sessionID, msg.Content); err != nil {
			// Delivery failure never undoes the append; it only gets
			// reported. Transport errors bypass persist, whose NOT_FOUND
			// suppression is a store-write rule.
			if h.OnError != nil {
				h.OnError(fmt.Errorf("deliver message %s: %w", msg.ID, err))
			}
		}
	}
	return msg, nil
}

// PageBefore pages a session's log backward from beforeSeq (0 = from the
// end), returning ascending order.
func (h *Hub) PageBefore(ctx context.Context, sessionID string, beforeSeq int64, limit int) ([]model.Message, error) {
	return h.store.PageBefore(ctx, sessionID, beforeSeq, limit)
}

// PageAfter pages a session's log forward from afterSeq.
func (h *Hub) PageAfter(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]model.Message, error) {
	return h.store.PageAfter(ctx, sessionID, afterSeq, limit)
}

// TrimMessages deletes the oldest messages, preserving the most recent
// keep.
func (h *Hub) TrimMessages(ctx context.Context, sessionID string, keep int) (model.TrimResult, error) {
	return h.store.TrimMessages(ctx, sessionID, keep, h.clock.Now())
}

// Subscribe adds a notification subscription.
func (h *Hub) Subscribe(ctx context.Context, sessionID string, ident notify.Identity) (model.Subscription, error) {
	return h.notify.Subscribe(ctx, sessionID, ident)
}

// Unsubscribe removes a notification subscription.
func (h *Hub) Unsubscribe(ctx context.Context, sessionID string, ident notify.Identity) error {
	return h.notify.Unsubscribe(ctx, sessionID, ident)
}

// SetCreator designates a session's creator chat identity.
func (h *Hub) SetCreator(ctx context.Context, sessionID, chatID string) error {
	return h.notify.SetCreator(ctx, sessionID, chatID)
}

// Recipients computes the notification target set for a session.
func (h *Hub) Recipients(ctx context.Context, sessionID string) (model.Recipients, error) {
	return h.notify.Recipients(ctx, sessionID)
}

// IsOnline reports current presence for a session or machine id.
func (h *Hub) IsOnline(id string) bool {
	return h.tracker.IsOnline(id)
}

// WaitUntilOnline blocks until id is online, the timeout elapses, or ctx
// is cancelled. False means timeout or cancellation, an expected outcome.
func (h *Hub) WaitUntilOnline(ctx context.Context, id string, timeout time.Duration) bool {
	return h.tracker.WaitUntilOnline(ctx, id, timeout)
}

// ResumeSession re-attaches a disconnected session per the resume
// protocol.
func (h *Hub) ResumeSession(ctx context.Context, sessionID string) (resume.Outcome, error) {
	return h.resume.Resume(ctx, sessionID)
}
