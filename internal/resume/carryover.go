package resume

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tetherhq/tether/internal/model"
)

// Carryover defaults. A fallback resume with no native handle loses all
// agent-side state, so the new process is seeded with a synthesized
// context message instead.
const (
	// DefaultMaxTurns bounds how many recent dialog turns are replayed.
	DefaultMaxTurns = 20
	// DefaultMaxChars bounds the rendered context size.
	DefaultMaxChars = 16000
	// truncationMarker terminates a context that hit the character budget.
	truncationMarker = "…"
)

// turn is the best-effort decoded shape of a dialog message payload.
// Payloads are opaque to the core; the carryover is the one place that
// peeks, and unrecognized payloads fall back to their raw text.
type turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// BuildCarryover renders the resume-context message for a session that
// lost its native state: the last known summary (when present) plus the
// given dialog turns oldest-first, truncated to maxChars with a trailing
// marker. maxTurns/maxChars <= 0 select the defaults.
func BuildCarryover(oldSessionID, summary string, msgs []model.Message, maxTurns, maxChars int) string {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	if len(msgs) > maxTurns {
		msgs = msgs[len(msgs)-maxTurns:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Context carried over from session %s.\n", oldSessionID)

	if summary != "" {
		b.WriteString("\nSummary:\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	if len(msgs) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, msg := range msgs {
			role, text := decodeTurn(msg.Content)
			if role != "" {
				fmt.Fprintf(&b, "[%s] %s\n", role, text)
			} else {
				b.WriteString(text)
				b.WriteString("\n")
			}
		}
	}

	return truncate(b.String(), maxChars)
}

// decodeTurn extracts (role, text) from a message payload, falling back to
// the raw payload when it is not a recognizable dialog turn.
func decodeTurn(content model.Doc) (role, text string) {
	var t turn
	if err := json.Unmarshal(content, &t); err == nil && t.Text != "" {
		return t.Role, t.Text
	}

	// Bare JSON strings render without quotes.
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return "", s
	}
	return "", string(content)
}

// truncate cuts s to at most maxChars characters, rune-safe, appending the
// truncation marker when anything was dropped.
func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars-1]) + truncationMarker
}
