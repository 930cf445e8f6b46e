package episode

import (
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func mustEpisode(t *testing.T, participants ...string) *Episode {
	t.Helper()
	ep, err := NewWithID("ep-test", t0, participants...)
	require.NoError(t, err)
	return ep
}

func TestNew_RequiresTwoDistinctParticipants(t *testing.T) {
	tests := []struct {
		name         string
		participants []string
	}{
		{name: "none"},
		{name: "one", participants: []string{"alice"}},
		{name: "duplicate", participants: []string{"alice", "alice"}},
		{name: "empty id", participants: []string{"alice", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.participants...)
			assert.ErrorIs(t, err, ErrInvalidEpisode)
		})
	}

	ep, err := New("alice", "bot")
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ID())
	assert.Equal(t, "alice", ep.Starter())
}

func TestAppend_AssignsSequenceAndEpisode(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")

	first, err := ep.Append(NewUtterance("alice", "Hi", t0))
	require.NoError(t, err)
	second, err := ep.Append(NewUtterance("bot", "Hello", t0))
	require.NoError(t, err)

	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, "ep-test", second.EpisodeID)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, ep.Len())
	assert.Equal(t, -1, Compare(first, second), "equal timestamps order by sequence")
}

func TestAppend_ClosedEpisodeFailsWithInvalidState(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, err := ep.Append(NewUtterance("alice", "Hi", t0))
	require.NoError(t, err)

	assert.True(t, ep.Close())
	assert.False(t, ep.Close(), "close is idempotent")

	_, err = ep.Append(NewUtterance("bot", "Hi", t0))
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, ep.Len())

	var ge *goerr.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "ep-test", ge.Values()["episode_id"])
}

func TestAppend_RejectsNonParticipant(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, err := ep.Append(NewUtterance("mallory", "Hi", t0))
	assert.ErrorIs(t, err, ErrInvalidSpeaker)
	assert.Zero(t, ep.Len())
}

func TestAppend_RejectsOutOfOrderTimestamp(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, err := ep.Append(NewUtterance("alice", "Hi", t0.Add(time.Minute)))
	require.NoError(t, err)

	_, err = ep.Append(NewUtterance("bot", "Hi", t0))
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, 1, ep.Len())
}

func TestAppend_ZeroTimestampNeverPrecedesLast(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	future := time.Now().UTC().Add(time.Hour)
	_, err := ep.Append(NewUtterance("alice", "Hi", future))
	require.NoError(t, err)

	rec, err := ep.Append(Event{Speaker: "bot", Kind: KindUtterance, Text: "Hey"})
	require.NoError(t, err)
	assert.False(t, rec.Timestamp.Before(future))
}

func TestAppend_RejectsMalformedPayload(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	cases := []Event{
		{Speaker: "bot", Kind: KindActionInvocation},
		{Speaker: "bot", Kind: KindActionResult},
		{Speaker: "bot", Kind: KindUtterance, Call: &ActionCall{Name: "x"}},
		{Speaker: "bot", Kind: "shout", Text: "hi"},
	}
	for _, ev := range cases {
		_, err := ep.Append(ev)
		assert.ErrorIs(t, err, ErrMalformedEvent, "kind %q", ev.Kind)
	}
}

func TestAppend_RejectsDuplicateEventID(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	first := NewUtterance("alice", "Hi", t0)
	first.ID = "evt-1"
	_, err := ep.Append(first)
	require.NoError(t, err)

	again := NewUtterance("bot", "Hello", t0)
	again.ID = "evt-1"
	_, err = ep.Append(again)
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Equal(t, 1, ep.Len())

	// Generated ids never collide with each other.
	a, err := ep.Append(NewUtterance("bot", "Hello", t0))
	require.NoError(t, err)
	b, err := ep.Append(NewUtterance("alice", "Bye", t0))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestAppend_StoresPayloadInJSONForm(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	args := map[string]interface{}{
		"seconds": 2,
		"tags":    []string{"a", "b"},
		"nested":  map[string]int{"n": 1},
	}
	rec, err := ep.Append(NewInvocation("bot", "wait", args, t0))
	require.NoError(t, err)

	want := map[string]interface{}{
		"seconds": float64(2),
		"tags":    []interface{}{"a", "b"},
		"nested":  map[string]interface{}{"n": float64(1)},
	}
	assert.Equal(t, want, rec.Call.Args)
	stored, _ := ep.Event(0)
	assert.Equal(t, want, stored.Call.Args)

	rec, err = ep.Append(NewResult("bot", *rec.Call, OutcomeOK, map[string]interface{}{}, "", t0))
	require.NoError(t, err)
	assert.Nil(t, rec.Outcome.Result, "empty maps are dropped")

	_, err = ep.Append(NewInvocation("bot", "wait", map[string]interface{}{"ch": make(chan int)}, t0))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestEvents_AreCopies(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, err := ep.Append(NewInvocation("bot", "get_time", map[string]interface{}{"tz": "UTC"}, t0))
	require.NoError(t, err)

	events := ep.Events()
	events[0].Call.Args["tz"] = "CET"
	events[0].Text = "changed"

	stored, ok := ep.Event(0)
	require.True(t, ok)
	assert.Equal(t, "UTC", stored.Call.Args["tz"])
	assert.Empty(t, stored.Text)
}

func TestLastEvent_FiltersByKind(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, _ = ep.Append(NewUtterance("alice", "what time is it", t0))
	_, _ = ep.Append(NewInvocation("bot", "get_time", nil, t0))

	last, ok := ep.LastEvent()
	require.True(t, ok)
	assert.Equal(t, KindActionInvocation, last.Kind)

	utt, ok := ep.LastEvent(KindUtterance)
	require.True(t, ok)
	assert.Equal(t, "what time is it", utt.Text)

	_, ok = ep.LastEvent(KindLeave)
	assert.False(t, ok)
}

func TestRestore_RoundTripsAndRevalidates(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, _ = ep.Append(NewUtterance("alice", "Hi", t0))
	_, _ = ep.Append(NewUtterance("bot", "Hello", t0.Add(time.Second)))
	ep.Close()

	rec := ep.Snapshot()
	restored, err := Restore(rec)
	require.NoError(t, err)
	assert.True(t, ep.Equal(restored))
	assert.True(t, restored.IsClosed())

	bad := ep.Snapshot()
	bad.Events[1].Timestamp = t0.Add(-time.Hour)
	_, err = Restore(bad)
	assert.ErrorIs(t, err, ErrOutOfOrder)

	bad = ep.Snapshot()
	bad.Events[1].Speaker = "mallory"
	_, err = Restore(bad)
	assert.ErrorIs(t, err, ErrInvalidSpeaker)

	bad = ep.Snapshot()
	bad.Events[1].Seq = 7
	_, err = Restore(bad)
	assert.ErrorIs(t, err, ErrInvalidEpisode)

	bad = ep.Snapshot()
	bad.Events[1].ID = bad.Events[0].ID
	_, err = Restore(bad)
	assert.ErrorIs(t, err, ErrInvalidEpisode)
}

func TestRestore_NormalizesDecodedNumbers(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	_, err := ep.Append(NewInvocation("bot", "wait", map[string]interface{}{"seconds": 2.0}, t0))
	require.NoError(t, err)
	ep.Close()

	// YAML decodes whole numbers as int.
	rec := ep.Snapshot()
	rec.Events[0].Call.Args["seconds"] = 2
	restored, err := Restore(rec)
	require.NoError(t, err)
	assert.True(t, ep.Equal(restored))
}

func TestEpisodeEqual(t *testing.T) {
	a := mustEpisode(t, "alice", "bot")
	b := mustEpisode(t, "alice", "bot")
	ev := NewUtterance("alice", "Hi", t0)
	ev.ID = "evt-1"
	_, _ = a.Append(ev)
	assert.False(t, a.Equal(b))
	_, _ = b.Append(ev)
	assert.True(t, a.Equal(b))
	b.Close()
	assert.False(t, a.Equal(b))
}

func TestResponsePairs(t *testing.T) {
	ep := mustEpisode(t, "alice", "bot")
	for _, ev := range []Event{
		NewUtterance("alice", "Hi", t0),
		NewUtterance("bot", "Hi", t0),
		NewUtterance("alice", "How are you?", t0),
		NewUtterance("alice", "Hello?", t0),
		NewUtterance("bot", "Good thanks", t0),
		NewUtterance("alice", "Time please", t0),
		NewInvocation("bot", "get_time", nil, t0),
		NewResult("bot", ActionCall{Name: "get_time"}, OutcomeOK, nil, "", t0),
		NewLeave("alice", t0),
	} {
		_, err := ep.Append(ev)
		require.NoError(t, err)
	}

	pairs := ResponsePairs(ep)
	require.Len(t, pairs, 5)

	assert.Equal(t, "alice", pairs[0].Stimulus.Speaker)
	assert.Equal(t, "Hi", pairs[0].Response.Text)

	// Turns answered by either participant are candidates.
	assert.Equal(t, "bot", pairs[1].Stimulus.Speaker)
	assert.Equal(t, "How are you?", pairs[1].Response.Text)

	assert.Equal(t, "Hello?", pairs[2].Stimulus.Text, "only the utterance directly before a response counts")
	assert.Equal(t, "Good thanks", pairs[2].Response.Text)

	assert.Equal(t, "Good thanks", pairs[3].Stimulus.Text)
	assert.Equal(t, "Time please", pairs[3].Response.Text)

	assert.Equal(t, KindActionInvocation, pairs[4].Response.Kind)
}
