package presence

import (
	"context"
	"sync"
	"time"

	tclock "github.com/tetherhq/tether/internal/clock"
)

// Tracker is the in-memory presence state machine: Offline -> Online on a
// liveness-bearing signal, Online -> Offline on explicit termination or an
// external disconnect. It is a cache over whatever the store records; the
// store stays the source of truth for persisted rows, while purely
// transient signals (attach state) live only here.
type Tracker struct {
	clock tclock.Clock
	bus   *Bus

	mu     sync.Mutex
	states map[string]state
}

type state struct {
	online   bool
	attached bool
	activeAt time.Time
}

// NewTracker creates a tracker publishing transitions on bus.
func NewTracker(bus *Bus, clk tclock.Clock) *Tracker {
	return &Tracker{
		clock:  clk,
		bus:    bus,
		states: make(map[string]state),
	}
}

// MarkOnline records a transition-or-refresh into Online and refreshes
// activeAt.
func (t *Tracker) MarkOnline(id string) {
	t.mu.Lock()
	st := t.states[id]
	st.online = true
	st.activeAt = t.clock.Now()
	t.states[id] = st
	t.mu.Unlock()

	t.bus.Publish(Event{ID: id, Kind: KindOnline})
}

// MarkOffline records a transition to Offline. Attach state is cleared:
// a dead process has no live channel.
func (t *Tracker) MarkOffline(id string) {
	t.mu.Lock()
	st := t.states[id]
	st.online = false
	st.attached = false
	t.states[id] = st
	t.mu.Unlock()

	t.bus.Publish(Event{ID: id, Kind: KindOffline})
}

// MarkAttached records that the transport channel for id is ready.
func (t *Tracker) MarkAttached(id string) {
	t.mu.Lock()
	st := t.states[id]
	st.attached = true
	t.states[id] = st
	t.mu.Unlock()

	t.bus.Publish(Event{ID: id, Kind: KindAttached})
}

// IsOnline reports current online state.
func (t *Tracker) IsOnline(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id].online
}

// IsAttached reports whether the transport channel for id is ready.
func (t *Tracker) IsAttached(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id].attached
}

// ActiveAt returns the instant of the last refresh into Online, zero if
// never.
func (t *Tracker) ActiveAt(id string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[id].activeAt
}

// WaitUntilOnline blocks until id is online, the timeout elapses, or ctx
// is cancelled. Timing out is an expected outcome, so it is a boolean
// result, not an error.
func (t *Tracker) WaitUntilOnline(ctx context.Context, id string, timeout time.Duration) bool {
	return t.wait(ctx, id, timeout, KindOnline, t.IsOnline)
}

// WaitUntilAttached blocks until the transport channel for id is ready.
func (t *Tracker) WaitUntilAttached(ctx context.Context, id string, timeout time.Duration) bool {
	return t.wait(ctx, id, timeout, KindAttached, t.IsAttached)
}

// wait is the shared check/subscribe/re-check/select dance. The re-check
// after subscribing closes the lost-wakeup window between the first check
// and the subscription; the deferred cancel guarantees cleanup on success,
// timeout, and external cancellation alike.
func (t *Tracker) wait(ctx context.Context, id string, timeout time.Duration, kind Kind, check func(string) bool) bool {
	if check(id) {
		return true
	}

	events, cancel := t.bus.Subscribe(id)
	defer cancel()

	if check(id) {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return true
			}
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
