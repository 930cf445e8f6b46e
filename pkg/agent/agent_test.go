package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/m-mizutani/goerr/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return t0.Add(time.Hour) }

func utt(speaker, text string) episode.Event {
	return episode.NewUtterance(speaker, text, t0)
}

func history(t *testing.T, id string, events ...episode.Event) *episode.Episode {
	t.Helper()
	ep, err := episode.NewWithID(id, t0, "A", "B")
	require.NoError(t, err)
	for _, ev := range events {
		_, err := ep.Append(ev)
		require.NoError(t, err)
	}
	ep.Close()
	return ep
}

func live(t *testing.T, events ...episode.Event) *episode.Episode {
	t.Helper()
	ep, err := episode.NewWithID("ep-live", t0, "A", "B")
	require.NoError(t, err)
	for _, ev := range events {
		_, err := ep.Append(ev)
		require.NoError(t, err)
	}
	return ep
}

func newRetrieval(t *testing.T, cfg Config, opts ...Option) *RetrievalAgent {
	t.Helper()
	opts = append([]Option{WithID("B"), WithClock(fixedClock)}, opts...)
	a, err := NewRetrieval(cfg, opts...)
	require.NoError(t, err)
	return a
}

func greetings(t *testing.T) *episode.Episode {
	return history(t, "ep-1", utt("A", "Hi"), utt("B", "Hi"), utt("A", "How are you?"), utt("B", "Good thanks"))
}

func TestRetrieval_AnswersWithLearnedResponse(t *testing.T) {
	ctx := context.Background()
	a := newRetrieval(t, DefaultConfig())
	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{greetings(t)}))

	ep := live(t, utt("A", "Hi"))
	resp, err := a.Respond(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, "Hi", resp.Text)
	assert.Equal(t, "B", resp.Speaker)
	assert.Equal(t, episode.KindUtterance, resp.Kind)
	assert.Equal(t, "ep-live", resp.EpisodeID)
	assert.Equal(t, 1, resp.Seq)

	ep = live(t, utt("A", "how are you"))
	resp, err = a.Respond(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, "Good thanks", resp.Text)
}

func TestRespond_DoesNotMutateEpisode(t *testing.T) {
	ctx := context.Background()
	a := newRetrieval(t, DefaultConfig())
	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{greetings(t)}))

	ep := live(t, utt("A", "Hi"))
	before := ep.Snapshot()
	_, err := a.Respond(ctx, ep)
	require.NoError(t, err)
	assert.True(t, before.Equal(ep.Snapshot()))
}

func TestRespond_IsDeterministic(t *testing.T) {
	ctx := context.Background()
	a := newRetrieval(t, DefaultConfig())
	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{greetings(t)}))
	ep := live(t, utt("A", "How are you?"))

	first, err := a.Respond(ctx, ep)
	require.NoError(t, err)
	second, err := a.Respond(ctx, ep)
	require.NoError(t, err)
	assert.True(t, first.Equal(second))

	rec, err := ep.Append(first)
	require.NoError(t, err)
	assert.True(t, rec.Equal(first), "a produced event is recorded as is")
}

func TestLearnEpisodes_RejectsOpenEpisode(t *testing.T) {
	a := newRetrieval(t, DefaultConfig())
	err := a.LearnEpisodes(context.Background(), []*episode.Episode{live(t, utt("A", "Hi"))})
	require.ErrorIs(t, err, ErrUnlearnableEpisode)

	var ge *goerr.Error
	require.True(t, errors.As(err, &ge))
	assert.Empty(t, a.LearnedEpisodes())
}

func TestLearnEpisodes_Idempotent(t *testing.T) {
	ctx := context.Background()
	a := newRetrieval(t, DefaultConfig())
	ep := greetings(t)
	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{ep}))
	first, err := a.Respond(ctx, live(t, utt("A", "Hi")))
	require.NoError(t, err)

	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{ep, ep}))
	second, err := a.Respond(ctx, live(t, utt("A", "Hi")))
	require.NoError(t, err)

	assert.Len(t, a.LearnedEpisodes(), 1)
	assert.True(t, first.Equal(second))
}

func TestRespond_LowConfidencePolicy(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.MinConfidence = 0.5
	cfg.FallbackText = "pardon?"
	a := newRetrieval(t, cfg)
	require.NoError(t, a.LearnEpisodes(ctx, []*episode.Episode{greetings(t)}))

	resp, err := a.Respond(ctx, live(t, utt("A", "quantum chromodynamics")))
	require.NoError(t, err)
	assert.Equal(t, "pardon?", resp.Text)
	assert.Equal(t, "B", resp.Speaker)

	cfg.OnLowConfidence = LowConfidenceError
	strict := newRetrieval(t, cfg)
	_, err = strict.Respond(ctx, live(t, utt("A", "anything")))
	assert.ErrorIs(t, err, ErrNoResponse, "empty brain counts as low confidence")

	require.NoError(t, strict.LearnEpisodes(ctx, []*episode.Episode{greetings(t)}))
	_, err = strict.Respond(ctx, live(t, utt("A", "quantum chromodynamics")))
	assert.ErrorIs(t, err, ErrNoResponse)
}

func TestRespond_Preconditions(t *testing.T) {
	ctx := context.Background()
	a := newRetrieval(t, DefaultConfig())

	_, err := a.Respond(ctx, live(t))
	assert.ErrorIs(t, err, episode.ErrInvalidState, "empty episode")

	_, err = a.Respond(ctx, live(t, utt("A", "Hi"), utt("B", "Hi")))
	assert.ErrorIs(t, err, episode.ErrInvalidState, "agent spoke last")

	closed := live(t, utt("A", "Hi"))
	closed.Close()
	_, err = a.Respond(ctx, closed)
	assert.ErrorIs(t, err, episode.ErrInvalidState)

	other, err := episode.New("A", "C")
	require.NoError(t, err)
	_, _ = other.Append(utt("A", "Hi"))
	_, err = a.Respond(ctx, other)
	assert.ErrorIs(t, err, episode.ErrInvalidSpeaker)

	left := live(t, utt("A", "Hi"), episode.NewLeave("A", t0))
	_, err = a.Respond(ctx, left)
	assert.ErrorIs(t, err, episode.ErrInvalidState)
}

func TestFixedAndEchoAgents(t *testing.T) {
	ctx := context.Background()
	fixed, err := New(Config{Kind: KindFixed, FixedText: "beep"}, WithID("B"))
	require.NoError(t, err)
	assert.Equal(t, KindFixed, fixed.Kind())
	resp, err := fixed.Respond(ctx, live(t, utt("A", "Hi")))
	require.NoError(t, err)
	assert.Equal(t, "beep", resp.Text)

	echo, err := New(Config{Kind: KindEcho}, WithID("B"))
	require.NoError(t, err)
	resp, err = echo.Respond(ctx, live(t, utt("A", "Hello there")))
	require.NoError(t, err)
	assert.Equal(t, "You said 'Hello there'", resp.Text)

	_, err = New(Config{Kind: "oracle"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "kind", mutate: func(c *Config) { c.Kind = "x" }, wantErr: ErrUnknownKind},
		{name: "vectorizer", mutate: func(c *Config) { c.Vectorizer = "x" }, wantErr: ErrInvalidConfig},
		{name: "confidence", mutate: func(c *Config) { c.MinConfidence = 2 }, wantErr: ErrInvalidConfig},
		{name: "policy", mutate: func(c *Config) { c.OnLowConfidence = "shrug" }, wantErr: ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func clockAction(name string) action.Action {
	return action.Action{
		Name: name,
		Handler: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"time": "12:00"}, nil
		},
	}
}

func TestInvokeAction_UnknownAction(t *testing.T) {
	a := newRetrieval(t, DefaultConfig())
	ep := live(t, utt("A", "what time is it?"))

	_, err := a.InvokeAction(context.Background(), "get_time", nil, ep)
	require.ErrorIs(t, err, action.ErrUnknownAction)
	assert.Equal(t, 1, ep.Len(), "nothing is recorded for unknown actions")
}

func TestInvokeAction_RecordsInvocationAndResult(t *testing.T) {
	reg := action.NewRegistry().MustRegister(clockAction("get_time"))
	a := newRetrieval(t, DefaultConfig(), WithActions(reg))
	ep := live(t, utt("A", "what time is it?"))

	res, err := a.InvokeAction(context.Background(), "get_time", map[string]interface{}{"tz": "UTC"}, ep)
	require.NoError(t, err)
	assert.Equal(t, episode.KindActionResult, res.Kind)
	assert.Equal(t, episode.OutcomeOK, res.Outcome.Status)
	assert.Equal(t, "12:00", res.Outcome.Result["time"])

	events := ep.Events()
	require.Len(t, events, 3)
	assert.Equal(t, episode.KindActionInvocation, events[1].Kind)
	assert.Equal(t, "B", events[1].Speaker)
	assert.Equal(t, events[1].Call.InvocationID, res.Outcome.InvocationID)
}

func TestInvokeAction_FailureIsRecorded(t *testing.T) {
	reg := action.NewRegistry().MustRegister(action.Action{
		Name: "explode",
		Handler: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return nil, errors.New("kaboom")
		},
	})
	a := newRetrieval(t, DefaultConfig(), WithActions(reg))
	ep := live(t, utt("A", "do it"))

	res, err := a.InvokeAction(context.Background(), "explode", nil, ep)
	require.ErrorIs(t, err, action.ErrActionExecution)
	assert.Equal(t, episode.OutcomeFailed, res.Outcome.Status)
	assert.Contains(t, res.Outcome.Error, "kaboom")
	assert.Equal(t, 3, ep.Len())

	var ge *goerr.Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "ep-live", ge.Values()["episode_id"])
}

func TestInvokeAction_Timeout(t *testing.T) {
	reg := action.NewRegistry().MustRegister(action.Action{
		Name:        "stall",
		Timeout:     20 * time.Millisecond,
		Cancellable: true,
		Handler: func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	a := newRetrieval(t, DefaultConfig(), WithActions(reg))
	ep := live(t, utt("A", "wait"))

	res, err := a.InvokeAction(context.Background(), "stall", nil, ep)
	require.ErrorIs(t, err, action.ErrActionTimeout)
	assert.Equal(t, episode.OutcomeTimeout, res.Outcome.Status)
}

func TestInvokeAction_InvalidArguments(t *testing.T) {
	act := clockAction("get_time")
	act.Parameters = action.ObjectSchema([]string{"tz"}, map[string]string{"tz": "time zone"})
	a := newRetrieval(t, DefaultConfig(), WithActions(action.NewRegistry().MustRegister(act)))
	ep := live(t, utt("A", "time?"))

	_, err := a.InvokeAction(context.Background(), "get_time", nil, ep)
	assert.ErrorIs(t, err, action.ErrInvalidArguments)
	assert.Equal(t, 1, ep.Len())
}

func TestRetrieval_RespondsWithRegisteredActionOnly(t *testing.T) {
	ctx := context.Background()
	learned := history(t, "ep-time",
		utt("A", "what time is it?"),
		episode.NewInvocation("B", "get_time", map[string]interface{}{"tz": "UTC"}, t0),
		episode.NewResult("B", episode.ActionCall{Name: "get_time"}, episode.OutcomeOK, nil, "", t0),
		utt("A", "what time is it in Paris?"),
		utt("B", "No idea"),
	)

	without := newRetrieval(t, DefaultConfig())
	require.NoError(t, without.LearnEpisodes(ctx, []*episode.Episode{learned}))
	resp, err := without.Respond(ctx, live(t, utt("A", "what time is it?")))
	require.NoError(t, err)
	assert.Equal(t, "No idea", resp.Text)

	reg := action.NewRegistry().MustRegister(clockAction("get_time"))
	with := newRetrieval(t, DefaultConfig(), WithActions(reg))
	require.NoError(t, with.LearnEpisodes(ctx, []*episode.Episode{learned}))
	resp, err = with.Respond(ctx, live(t, utt("A", "what time is it?")))
	require.NoError(t, err)
	require.Equal(t, episode.KindActionInvocation, resp.Kind)
	assert.Equal(t, "get_time", resp.Call.Name)
	assert.Equal(t, "UTC", resp.Call.Args["tz"])
	assert.NotEmpty(t, resp.Call.InvocationID)
	assert.Equal(t, "B", resp.Speaker)
}
