package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/agent"
	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memArchive struct {
	mu  sync.Mutex
	eps []*episode.Episode
}

func (m *memArchive) ArchiveEpisode(_ context.Context, ep *episode.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eps = append(m.eps, ep)
	return nil
}

func (m *memArchive) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.eps)
}

func learned(t *testing.T, id string, events ...episode.Event) *episode.Episode {
	t.Helper()
	ep, err := episode.NewWithID(id, t0, "human", "due")
	require.NoError(t, err)
	for _, ev := range events {
		_, err := ep.Append(ev)
		require.NoError(t, err)
	}
	ep.Close()
	return ep
}

func newAgent(t *testing.T, actions ...action.Action) agent.Agent {
	t.Helper()
	reg := action.NewRegistry().MustRegister(actions...)
	a, err := agent.New(agent.DefaultConfig(), agent.WithID("due"), agent.WithActions(reg))
	require.NoError(t, err)
	eps := []*episode.Episode{learned(t, "ep-greet",
		episode.NewUtterance("human", "Hi", t0),
		episode.NewUtterance("due", "Hello", t0),
	)}
	if len(actions) > 0 {
		eps = append(eps, learned(t, "ep-time",
			episode.NewUtterance("human", "what time is it?", t0),
			episode.NewInvocation("due", actions[0].Name, nil, t0),
		))
	}
	require.NoError(t, a.LearnEpisodes(context.Background(), eps))
	return a
}

func TestLoop_ProcessDirect(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	loop := NewLoop(newAgent(t), msgBus, Options{})

	reply, err := loop.ProcessDirect(context.Background(), "Hi", "cli:test")
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
	assert.Equal(t, []string{"cli:test"}, loop.Sessions())

	reply, err = loop.ProcessDirect(context.Background(), "/stats", "cli:test")
	require.NoError(t, err)
	assert.Contains(t, reply, "1 learned episodes")
	assert.Contains(t, reply, "2 events in this one")
}

func TestLoop_ByeLearnsAndArchives(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	archive := &memArchive{}
	learnedCalls := 0
	loop := NewLoop(newAgent(t), msgBus, Options{
		LearnOnClose: true,
		Archive:      archive,
		OnLearn:      func() { learnedCalls++ },
	})
	ctx := context.Background()

	_, err := loop.ProcessDirect(ctx, "Hi", "cli:bye")
	require.NoError(t, err)

	reply, err := loop.ProcessDirect(ctx, "/bye", "cli:bye")
	require.NoError(t, err)
	assert.Equal(t, "Bye!", reply)
	assert.Empty(t, loop.Sessions())

	require.Equal(t, 1, archive.count())
	ep := archive.eps[0]
	assert.True(t, ep.IsClosed())
	last, ok := ep.LastEvent()
	require.True(t, ok)
	assert.Equal(t, episode.KindLeave, last.Kind)
	assert.Equal(t, "local-user", last.Speaker)

	assert.Equal(t, uint64(1), loop.Learned())
	assert.Equal(t, 1, learnedCalls)
	assert.Len(t, loop.Agent().LearnedEpisodes(), 2)

	reply, err = loop.ProcessDirect(ctx, "/bye", "cli:bye")
	require.NoError(t, err)
	assert.Equal(t, "No conversation in progress.", reply)
}

func TestLoop_NewRestartsConversation(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	loop := NewLoop(newAgent(t), msgBus, Options{})
	ctx := context.Background()

	_, err := loop.ProcessDirect(ctx, "Hi", "cli:new")
	require.NoError(t, err)
	loop.mu.Lock()
	first := loop.sessions["cli:new"].conv.Episode()
	loop.mu.Unlock()

	reply, err := loop.ProcessDirect(ctx, "/new", "cli:new")
	require.NoError(t, err)
	assert.Equal(t, "Started a new conversation.", reply)
	assert.True(t, first.IsClosed())

	loop.mu.Lock()
	second := loop.sessions["cli:new"].conv.Episode()
	loop.mu.Unlock()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 0, second.Len())
}

func TestLoop_AsyncResultGoesToBus(t *testing.T) {
	release := make(chan struct{})
	act := action.Action{
		Name: "get_time",
		Mode: action.ModeAsync,
		Handler: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			<-release
			return map[string]interface{}{"time": "13:00"}, nil
		},
	}
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	loop := NewLoop(newAgent(t, act), msgBus, Options{})
	ctx := context.Background()

	reply, err := loop.ProcessDirect(ctx, "what time is it?", "cli:async")
	require.NoError(t, err)
	assert.Equal(t, "calling get_time", reply)

	reply, err = loop.ProcessDirect(ctx, "Hi", "cli:async")
	assert.ErrorIs(t, err, episode.ErrInvalidState)
	assert.Empty(t, reply)

	close(release)
	subCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, ok := msgBus.SubscribeOutbound(subCtx)
	require.True(t, ok)
	assert.Equal(t, bus.OutboundAction, out.Kind)
	assert.Equal(t, "cli", out.Channel)
	assert.Equal(t, "get_time returned (time=13:00)", out.Content)
}

func TestLoop_SyncActionRepliesInline(t *testing.T) {
	act := action.Action{
		Name: "get_time",
		Handler: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"time": "12:00"}, nil
		},
	}
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	loop := NewLoop(newAgent(t, act), msgBus, Options{})

	reply, err := loop.ProcessDirect(context.Background(), "what time is it?", "cli:sync")
	require.NoError(t, err)
	assert.Equal(t, "calling get_time\nget_time returned (time=12:00)", reply)
}

func TestLoop_RunOverBus(t *testing.T) {
	msgBus := bus.NewMessageBus()
	archive := &memArchive{}
	loop := NewLoop(newAgent(t), msgBus, Options{Archive: archive})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	msgBus.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c1", SenderID: "u1", Content: "Hi"})
	subCtx, subCancel := context.WithTimeout(context.Background(), time.Second)
	defer subCancel()
	out, ok := msgBus.SubscribeOutbound(subCtx)
	require.True(t, ok)
	assert.Equal(t, "discord", out.Channel)
	assert.Equal(t, "c1", out.ChatID)
	assert.Equal(t, "Hello", out.Content)
	assert.NotEmpty(t, out.EpisodeID)

	msgBus.PublishInbound(bus.InboundMessage{Channel: "discord", ChatID: "c1", SenderID: "due", Content: "Hi"})
	out, ok = msgBus.SubscribeOutbound(subCtx)
	require.True(t, ok)
	assert.Equal(t, bus.OutboundNotice, out.Kind)
	assert.Equal(t, "Messages cannot be sent as the agent itself.", out.Content)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, archive.count(), "shutdown closes live conversations")
	msgBus.Close()
}

func TestLoop_EvictsLeastRecentlyActive(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	now := t0
	archive := &memArchive{}
	loop := NewLoop(newAgent(t), msgBus, Options{
		MaxSessions: 1,
		Archive:     archive,
		Now: func() time.Time {
			now = now.Add(time.Second)
			return now
		},
	})
	ctx := context.Background()

	_, err := loop.ProcessDirect(ctx, "Hi", "cli:a")
	require.NoError(t, err)
	_, err = loop.ProcessDirect(ctx, "Hi", "cli:b")
	require.NoError(t, err)

	assert.Equal(t, []string{"cli:b"}, loop.Sessions())
	assert.Eventually(t, func() bool { return archive.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLoop_RejectsMessagesSentAsAgent(t *testing.T) {
	msgBus := bus.NewMessageBus()
	defer msgBus.Close()
	loop := NewLoop(newAgent(t), msgBus, Options{})

	for _, key := range []string{"", "cli:shared"} {
		_, err := loop.ProcessDirectWithChannel(context.Background(), "Hi", key, "cli", "direct", "due")
		require.ErrorIs(t, err, episode.ErrInvalidSpeaker, "session key %q", key)
	}
	assert.Empty(t, loop.Sessions(), "no conversation is opened")

	reply, err := loop.ProcessDirectWithChannel(context.Background(), "Hi", "cli:shared", "cli", "direct", "human")
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply)
}

func TestErrorReply(t *testing.T) {
	assert.Equal(t, "I don't know what to say to that.", errorReply(agent.ErrNoResponse))
	assert.Equal(t, "That took too long, sorry.", errorReply(action.ErrActionTimeout))
	assert.Equal(t, "Messages cannot be sent as the agent itself.", errorReply(episode.ErrInvalidSpeaker))
}
