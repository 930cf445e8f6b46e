// Due - episodic conversation agent
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

// Package gateway connects transports to an agent. Every (channel, chat,
// sender) identity gets its own live episode driven by an
// agent.Conversation.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/agent"
	"github.com/dotsetgreg/due/pkg/bus"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/m-mizutani/goerr/v2"
)

const DefaultMaxSessions = 256

// Archiver keeps finished episodes.
type Archiver interface {
	ArchiveEpisode(ctx context.Context, ep *episode.Episode) error
}

type Options struct {
	// LearnOnClose makes the agent learn every episode it closes.
	LearnOnClose bool
	// MaxSessions bounds live conversations; the least recently active one
	// is closed to make room.
	MaxSessions int
	Archive     Archiver
	// OnLearn runs after the agent learned a closed episode.
	OnLearn func()
	Now     func() time.Time
}

type session struct {
	key        string
	channel    string
	chatID     string
	sender     string
	conv       *agent.Conversation
	lastActive time.Time
}

type Loop struct {
	agent    agent.Agent
	bus      *bus.MessageBus
	opts     Options
	mu       sync.Mutex
	sessions map[string]*session
	running  atomic.Bool
	learned  atomic.Uint64
}

func NewLoop(a agent.Agent, msgBus *bus.MessageBus, opts Options) *Loop {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Loop{
		agent:    a,
		bus:      msgBus,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

func (l *Loop) Agent() agent.Agent { return l.agent }

// Learned counts episodes learned since the loop started.
func (l *Loop) Learned() uint64 { return l.learned.Load() }

// Run consumes inbound messages until ctx ends or the bus closes, then
// closes every live conversation.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		replies, err := l.processMessage(ctx, msg)
		if err != nil {
			replies = append(replies, l.notice(msg, errorReply(err)))
		}
		for _, reply := range replies {
			l.bus.PublishOutbound(reply)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.CloseAll(shutdownCtx)
	return nil
}

func (l *Loop) IsRunning() bool { return l.running.Load() }

// ProcessDirect handles one message outside the bus and returns the
// rendered replies. Results of asynchronous actions still go to the bus.
func (l *Loop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return l.ProcessDirectWithChannel(ctx, content, sessionKey, "cli", "direct", "local-user")
}

func (l *Loop) ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID, senderID string) (string, error) {
	replies, err := l.processMessage(ctx, bus.InboundMessage{
		Channel:    channel,
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		SessionKey: sessionKey,
	})
	lines := make([]string, 0, len(replies))
	for _, r := range replies {
		lines = append(lines, r.Content)
	}
	return strings.Join(lines, "\n"), err
}

func (l *Loop) processMessage(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, error) {
	key, err := resolveSessionKey(msg.SessionKey, l.agent.ID(), msg.Channel, msg.ChatID, msg.SenderID)
	if err != nil {
		return nil, err
	}
	msg.SessionKey = key

	logger.InfoCF("gateway", "Processing message",
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": key,
			"chars":       len(msg.Content),
		})

	if msg.SenderID == l.agent.ID() {
		return nil, goerr.Wrap(episode.ErrInvalidSpeaker, "message sent as the agent",
			goerr.V("sender_id", msg.SenderID), goerr.V("session_key", key))
	}

	if replies, handled := l.handleCommand(ctx, msg); handled {
		return replies, nil
	}

	s, err := l.session(msg)
	if err != nil {
		return nil, err
	}
	events, err := s.conv.Receive(ctx, msg.SenderID, msg.Content)

	l.mu.Lock()
	s.lastActive = l.opts.Now()
	l.mu.Unlock()

	var replies []bus.OutboundMessage
	for _, ev := range events {
		if ev.Speaker != l.agent.ID() {
			continue
		}
		replies = append(replies, l.render(s, ev))
	}
	return replies, err
}

func (l *Loop) handleCommand(ctx context.Context, msg bus.InboundMessage) ([]bus.OutboundMessage, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return nil, false
	}
	parts := strings.Fields(content)
	if len(parts) == 0 {
		return nil, false
	}

	switch parts[0] {
	case "/bye":
		if !l.endSession(ctx, msg.SessionKey, msg.SenderID) {
			return []bus.OutboundMessage{l.notice(msg, "No conversation in progress.")}, true
		}
		return []bus.OutboundMessage{l.notice(msg, "Bye!")}, true

	case "/new":
		l.endSession(ctx, msg.SessionKey, "")
		if _, err := l.session(msg); err != nil {
			return []bus.OutboundMessage{l.notice(msg, errorReply(err))}, true
		}
		return []bus.OutboundMessage{l.notice(msg, "Started a new conversation.")}, true

	case "/stats":
		learned := l.agent.LearnedEpisodes()
		events := 0
		l.mu.Lock()
		if s, ok := l.sessions[msg.SessionKey]; ok {
			events = s.conv.Episode().Len()
		}
		live := len(l.sessions)
		l.mu.Unlock()
		return []bus.OutboundMessage{l.notice(msg, fmt.Sprintf(
			"Agent %s (%s): %d learned episodes, %d live conversations, %d events in this one.",
			l.agent.ID(), l.agent.Kind(), len(learned), live, events))}, true

	case "/help":
		return []bus.OutboundMessage{l.notice(msg,
			"/bye ends the conversation\n/new starts over\n/stats shows what the agent knows")}, true
	}
	return nil, false
}

// session returns the live conversation for msg, opening one if needed.
func (l *Loop) session(msg bus.InboundMessage) (*session, error) {
	l.mu.Lock()
	if s, ok := l.sessions[msg.SessionKey]; ok {
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	ep, err := episode.New(msg.SenderID, l.agent.ID())
	if err != nil {
		return nil, err
	}
	s := &session{
		key:     msg.SessionKey,
		channel: msg.Channel,
		chatID:  msg.ChatID,
		sender:  msg.SenderID,
	}
	conv, err := agent.NewConversation(l.agent, ep,
		agent.WithEventHook(func(ev episode.Event) { l.forwardAsync(s, ev) }),
		agent.WithConversationClock(l.opts.Now))
	if err != nil {
		return nil, err
	}
	s.conv = conv

	l.mu.Lock()
	if existing, ok := l.sessions[msg.SessionKey]; ok {
		l.mu.Unlock()
		return existing, nil
	}
	s.lastActive = l.opts.Now()
	l.sessions[msg.SessionKey] = s
	evicted := l.evictLocked()
	l.mu.Unlock()

	logger.InfoCF("gateway", "Conversation opened",
		map[string]interface{}{
			"episode_id":  ep.ID(),
			"session_key": msg.SessionKey,
			"channel":     msg.Channel,
		})
	for _, old := range evicted {
		go l.finish(context.Background(), old, "")
	}
	return s, nil
}

func (l *Loop) evictLocked() []*session {
	var evicted []*session
	for len(l.sessions) > l.opts.MaxSessions {
		var oldest *session
		for _, s := range l.sessions {
			if oldest == nil || s.lastActive.Before(oldest.lastActive) {
				oldest = s
			}
		}
		delete(l.sessions, oldest.key)
		evicted = append(evicted, oldest)
	}
	return evicted
}

// forwardAsync publishes results of asynchronous actions, which arrive
// after the turn that requested them has returned.
func (l *Loop) forwardAsync(s *session, ev episode.Event) {
	if ev.Kind != episode.KindActionResult || ev.Outcome == nil {
		return
	}
	act, ok := l.agent.Actions().Get(ev.Outcome.Name)
	if !ok || act.Mode != action.ModeAsync {
		return
	}
	l.bus.PublishOutbound(l.render(s, ev))
}

// endSession closes the conversation under key. leaver, when set, records
// a leave event first.
func (l *Loop) endSession(ctx context.Context, key, leaver string) bool {
	l.mu.Lock()
	s, ok := l.sessions[key]
	if ok {
		delete(l.sessions, key)
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.finish(ctx, s, leaver)
	return true
}

func (l *Loop) finish(ctx context.Context, s *session, leaver string) {
	var err error
	if leaver != "" {
		err = s.conv.Leave(ctx, leaver)
	} else {
		err = s.conv.Close(ctx)
	}
	ep := s.conv.Episode()
	if err != nil {
		logger.WarnCF("gateway", "Conversation closed with error",
			map[string]interface{}{"episode_id": ep.ID(), "error": err})
	}

	if l.opts.Archive != nil {
		if err := l.opts.Archive.ArchiveEpisode(ctx, ep); err != nil {
			logger.ErrorCF("gateway", "Failed to archive episode",
				map[string]interface{}{"episode_id": ep.ID(), "error": err})
		}
	}
	if !l.opts.LearnOnClose {
		return
	}
	if err := l.agent.LearnEpisodes(ctx, []*episode.Episode{ep}); err != nil {
		logger.ErrorCF("gateway", "Failed to learn closed episode",
			map[string]interface{}{"episode_id": ep.ID(), "error": err})
		return
	}
	l.learned.Add(1)
	if l.opts.OnLearn != nil {
		l.opts.OnLearn()
	}
}

// CloseAll ends every live conversation.
func (l *Loop) CloseAll(ctx context.Context) {
	l.mu.Lock()
	all := make([]*session, 0, len(l.sessions))
	for _, s := range l.sessions {
		all = append(all, s)
	}
	l.sessions = make(map[string]*session)
	l.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })
	for _, s := range all {
		l.finish(ctx, s, "")
	}
}

// Sessions lists live session keys.
func (l *Loop) Sessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.sessions))
	for k := range l.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l *Loop) render(s *session, ev episode.Event) bus.OutboundMessage {
	out := bus.OutboundMessage{
		Channel:   s.channel,
		ChatID:    s.chatID,
		EpisodeID: ev.EpisodeID,
		Kind:      bus.OutboundUtterance,
	}
	switch ev.Kind {
	case episode.KindUtterance:
		out.Content = ev.Text
	case episode.KindActionInvocation:
		out.Kind = bus.OutboundAction
		out.Content = "calling " + ev.Call.Name + formatMap(ev.Call.Args)
	case episode.KindActionResult:
		out.Kind = bus.OutboundAction
		out.Content = formatOutcome(ev.Outcome)
	case episode.KindLeave:
		out.Kind = bus.OutboundNotice
		out.Content = ev.Speaker + " left"
	}
	return out
}

func (l *Loop) notice(msg bus.InboundMessage, content string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Kind:    bus.OutboundNotice,
	}
}

func formatOutcome(o *episode.ActionOutcome) string {
	switch o.Status {
	case episode.OutcomeOK:
		return o.Name + " returned" + formatMap(o.Result)
	case episode.OutcomeTimeout:
		return o.Name + " timed out"
	case episode.OutcomeCancelled:
		return o.Name + " was cancelled"
	default:
		return o.Name + " failed: " + o.Error
	}
}

func formatMap(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, agent.ErrNoResponse):
		return "I don't know what to say to that."
	case errors.Is(err, action.ErrActionTimeout):
		return "That took too long, sorry."
	case errors.Is(err, action.ErrActionExecution), errors.Is(err, action.ErrUnknownAction):
		return "Something went wrong while acting on that."
	case errors.Is(err, episode.ErrInvalidState):
		return "Still working on your previous message."
	case errors.Is(err, episode.ErrInvalidSpeaker):
		return "Messages cannot be sent as the agent itself."
	default:
		return fmt.Sprintf("Error processing message: %v", err)
	}
}
