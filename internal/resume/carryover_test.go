package resume

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/tetherhq/tether/internal/model"
)

func dialogTurn(role, text string) model.Message {
	return model.Message{Content: model.Doc(fmt.Sprintf(`{"role":%q,"text":%q}`, role, text))}
}

func TestBuildCarryover_Golden(t *testing.T) {
	msgs := []model.Message{
		dialogTurn("user", "please fix the config loader"),
		dialogTurn("assistant", "looking at it now"),
	}

	text := BuildCarryover("sess-old", "Refactoring the config loader; tests are red.", msgs, 0, 0)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "carryover_full", []byte(text))
}

func TestBuildCarryover_NoSummaryNoTurns(t *testing.T) {
	text := BuildCarryover("sess-1", "", nil, 0, 0)

	assert.Equal(t, "Context carried over from session sess-1.\n", text)
	assert.NotContains(t, text, "Summary:")
	assert.NotContains(t, text, "Recent conversation:")
}

func TestBuildCarryover_SummaryOnly(t *testing.T) {
	text := BuildCarryover("sess-1", "half-finished migration", nil, 0, 0)

	assert.Contains(t, text, "Summary:\nhalf-finished migration\n")
	assert.NotContains(t, text, "Recent conversation:")
}

func TestBuildCarryover_LimitsTurns(t *testing.T) {
	msgs := make([]model.Message, 30)
	for i := range msgs {
		msgs[i] = dialogTurn("user", fmt.Sprintf("turn %d", i+1))
	}

	text := BuildCarryover("sess-1", "", msgs, 20, 0)

	// Only the newest 20 turns survive.
	assert.NotContains(t, text, "turn 10\n")
	assert.Contains(t, text, "turn 11\n")
	assert.Contains(t, text, "turn 30\n")
}

func TestBuildCarryover_TruncatesToBudget(t *testing.T) {
	long := strings.Repeat("x", 500)
	msgs := []model.Message{dialogTurn("user", long)}

	text := BuildCarryover("sess-1", "", msgs, 0, 100)

	assert.Equal(t, 100, utf8.RuneCountInString(text))
	assert.True(t, strings.HasSuffix(text, "…"), "truncated context ends with the marker")
}

func TestBuildCarryover_NoMarkerWhenUnderBudget(t *testing.T) {
	text := BuildCarryover("sess-1", "short", nil, 0, 16000)
	assert.False(t, strings.HasSuffix(text, "…"))
}

func TestDecodeTurn_DialogPayload(t *testing.T) {
	role, text := decodeTurn(model.Doc(`{"role":"assistant","text":"done"}`))
	assert.Equal(t, "assistant", role)
	assert.Equal(t, "done", text)
}

func TestDecodeTurn_BareString(t *testing.T) {
	role, text := decodeTurn(model.Doc(`"just a note"`))
	assert.Empty(t, role)
	assert.Equal(t, "just a note", text)
}

func TestDecodeTurn_UnrecognizedPayload(t *testing.T) {
	role, text := decodeTurn(model.Doc(`{"tool":"bash","exit":0}`))
	assert.Empty(t, role)
	assert.Equal(t, `{"tool":"bash","exit":0}`, text)
}

func TestBuildCarryover_RendersRolelessPayloadRaw(t *testing.T) {
	msgs := []model.Message{{Content: model.Doc(`{"tool":"bash"}`)}}

	text := BuildCarryover("sess-1", "", msgs, 0, 0)

	assert.Contains(t, text, "Recent conversation:\n{\"tool\":\"bash\"}\n")
}
