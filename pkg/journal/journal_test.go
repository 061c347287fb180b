package journal

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netweave/netweave/pkg/events"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAndTail(t *testing.T) {
	j := openTestJournal(t)

	for i := 0; i < 5; i++ {
		err := j.Append(&events.Event{
			Type:    events.EventTaskLaunched,
			AgentID: fmt.Sprintf("agent-%d", i),
		})
		require.NoError(t, err)
	}

	got, err := j.Tail(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Oldest first, and only the most recent three.
	assert.Equal(t, "agent-2", got[0].AgentID)
	assert.Equal(t, "agent-4", got[2].AgentID)
}

func TestTailShorterThanLog(t *testing.T) {
	j := openTestJournal(t)

	require.NoError(t, j.Append(&events.Event{Type: events.EventAgentSeen, AgentID: "a"}))

	got, err := j.Tail(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].AgentID)

	got, err = j.Tail(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFrameworkIDRoundTrip(t *testing.T) {
	j := openTestJournal(t)

	id, err := j.FrameworkID()
	require.NoError(t, err)
	assert.Empty(t, id, "fresh journal has no framework id")

	require.NoError(t, j.SaveFrameworkID("fw-abc123"))

	id, err = j.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw-abc123", id)
}

func TestFrameworkIDSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, j.SaveFrameworkID("fw-1"))
	require.NoError(t, j.Close())

	j, err = Open(dir, zerolog.Nop())
	require.NoError(t, err)
	defer j.Close()

	id, err := j.FrameworkID()
	require.NoError(t, err)
	assert.Equal(t, "fw-1", id)
}
