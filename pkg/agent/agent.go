// Due - episodic conversation agent
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

// Package agent implements agents that learn from closed episodes and take
// turns in live ones, either by answering or by invoking actions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/brain"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Agent is the contract shared by every agent variant.
type Agent interface {
	ID() string
	Kind() string
	Config() Config
	Actions() *action.Registry

	// LearnEpisodes extends the agent's knowledge with closed episodes.
	// Already learned episodes are ignored.
	LearnEpisodes(ctx context.Context, episodes []*episode.Episode) error
	// Respond produces the agent's next event for ep without appending it.
	// Content, speaker and ids depend only on the learned episodes and ep.
	// The timestamp comes from the agent clock, so it repeats only when the
	// clock given with WithClock does.
	Respond(ctx context.Context, ep *episode.Episode) (episode.Event, error)
	// InvokeAction runs a registered action on behalf of the agent and
	// records both the invocation and its result in ep.
	InvokeAction(ctx context.Context, name string, args map[string]interface{}, ep *episode.Episode) (episode.Event, error)
	// LearnedEpisodes returns the learned episodes sorted by id.
	LearnedEpisodes() []*episode.Episode
}

type Option func(*core)

// WithID sets the agent identity used as speaker id.
func WithID(id string) Option {
	return func(c *core) { c.id = id }
}

// WithActions sets the registry of invocable actions.
func WithActions(r *action.Registry) Option {
	return func(c *core) {
		if r != nil {
			c.actions = r
		}
	}
}

// WithClock replaces time.Now for produced event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *core) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds the agent variant selected by cfg.Kind.
func New(cfg Config, opts ...Option) (Agent, error) {
	cfg = cfg.withDefaults()
	switch cfg.Kind {
	case KindFixed:
		return NewFixed(cfg, opts...)
	case KindEcho:
		return NewEcho(cfg, opts...)
	case KindRetrieval:
		return NewRetrieval(cfg, opts...)
	default:
		return nil, goerr.Wrap(ErrUnknownKind, "new agent", goerr.V("kind", cfg.Kind))
	}
}

// eventNamespace seeds name-based ids of produced events.
var eventNamespace = uuid.MustParse("423cc038-bfe0-11e6-84d6-a434d9562d81")

// core carries what every variant shares: identity, configuration, the
// brain holding learned episodes and the action registry.
type core struct {
	id      string
	kind    string
	cfg     Config
	brain   *brain.Brain
	actions *action.Registry
	now     func() time.Time
}

func newCore(kind string, cfg Config, opts ...Option) (*core, error) {
	cfg = cfg.withDefaults()
	cfg.Kind = kind
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b, err := brain.New(brain.Config{Vectorizer: cfg.Vectorizer})
	if err != nil {
		return nil, err
	}
	c := &core{
		kind:    kind,
		cfg:     cfg,
		brain:   b,
		actions: action.NewRegistry(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = "agent-" + uuid.NewString()
	}
	return c, nil
}

func (c *core) ID() string                { return c.id }
func (c *core) Kind() string              { return c.kind }
func (c *core) Config() Config            { return c.cfg }
func (c *core) Actions() *action.Registry { return c.actions }

func (c *core) LearnedEpisodes() []*episode.Episode { return c.brain.Episodes() }

// Brain exposes the agent's learned index for inspection.
func (c *core) Brain() *brain.Brain { return c.brain }

func (c *core) LearnEpisodes(ctx context.Context, episodes []*episode.Episode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	report, err := c.brain.Learn(episodes...)
	if err != nil {
		return goerr.Wrap(err, "learn episodes", goerr.V("agent_id", c.id))
	}
	logger.DebugCF("agent", "Episodes learned",
		map[string]interface{}{
			"agent_id": c.id,
			"added":    report.Added,
			"skipped":  report.Skipped,
		})
	return nil
}

// stimulus returns the event the agent is asked to answer: the last event
// of an open episode the agent takes part in, which must be an utterance
// by somebody else.
func (c *core) stimulus(ep *episode.Episode) (episode.Event, error) {
	if ep == nil {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "respond without episode", goerr.V("agent_id", c.id))
	}
	if ep.IsClosed() {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "respond to closed episode",
			goerr.V("episode_id", ep.ID()), goerr.V("agent_id", c.id))
	}
	if !ep.HasParticipant(c.id) {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidSpeaker, "agent is not a participant",
			goerr.V("episode_id", ep.ID()), goerr.V("agent_id", c.id))
	}
	last, ok := ep.LastEvent()
	if !ok {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "nothing to respond to",
			goerr.V("episode_id", ep.ID()), goerr.V("agent_id", c.id))
	}
	if last.Speaker == c.id {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "agent produced the last event",
			goerr.V("episode_id", ep.ID()), goerr.V("event_id", last.ID), goerr.V("event_seq", last.Seq))
	}
	if last.Kind != episode.KindUtterance {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "last event is not an utterance",
			goerr.V("episode_id", ep.ID()), goerr.V("event_id", last.ID), goerr.V("kind", last.Kind))
	}
	return last, nil
}

// at returns the timestamp for the next event of ep.
func (c *core) at(ep *episode.Episode) time.Time {
	ts := c.now()
	if last, ok := ep.LastEvent(); ok && ts.Before(last.Timestamp) {
		return last.Timestamp
	}
	return ts
}

// reply attributes content to the agent as the next event of ep. Ids are
// derived from the episode position, so equal inputs give equal events.
func (c *core) reply(ep *episode.Episode, content episode.Event) episode.Event {
	seq := ep.Len()
	name := fmt.Sprintf("%s/%d/%s", ep.ID(), seq, c.id)
	out := episode.Event{
		ID:        "evt-" + uuid.NewSHA1(eventNamespace, []byte(name)).String(),
		EpisodeID: ep.ID(),
		Seq:       seq,
		Speaker:   c.id,
		Timestamp: c.at(ep),
		Kind:      content.Kind,
		Text:      content.Text,
	}
	if content.Call != nil {
		call := content.Clone().Call
		call.InvocationID = "inv-" + uuid.NewSHA1(eventNamespace, []byte("call/"+name)).String()
		out.Kind = episode.KindActionInvocation
		out.Text = ""
		out.Call = call
	}
	return out
}

func (c *core) utterance(ep *episode.Episode, text string) episode.Event {
	return c.reply(ep, episode.Event{Kind: episode.KindUtterance, Text: text})
}

// lowConfidence applies the configured policy when no candidate qualifies.
func (c *core) lowConfidence(ep *episode.Episode, stim episode.Event, score float64) (episode.Event, error) {
	if c.cfg.OnLowConfidence == LowConfidenceError {
		return episode.Event{}, goerr.Wrap(ErrNoResponse, "no confident match",
			goerr.V("episode_id", ep.ID()), goerr.V("event_id", stim.ID), goerr.V("event_seq", stim.Seq),
			goerr.V("score", score), goerr.V("min_confidence", c.cfg.MinConfidence))
	}
	return c.utterance(ep, c.cfg.FallbackText), nil
}

// InvokeAction validates, records and runs a registered action, blocking
// until it finishes or times out.
func (c *core) InvokeAction(ctx context.Context, name string, args map[string]interface{}, ep *episode.Episode) (episode.Event, error) {
	if ep == nil {
		return episode.Event{}, goerr.Wrap(episode.ErrInvalidState, "invoke action without episode", goerr.V("action", name))
	}
	act, ok := c.actions.Get(name)
	if !ok {
		return episode.Event{}, goerr.Wrap(action.ErrUnknownAction, "invoke action",
			goerr.V("action", name), goerr.V("episode_id", ep.ID()), goerr.V("agent_id", c.id))
	}
	if err := c.actions.Validate(name, args); err != nil {
		return episode.Event{}, goerr.Wrap(err, "invoke action", goerr.V("episode_id", ep.ID()))
	}

	call := c.reply(ep, episode.NewInvocation(c.id, name, args, time.Time{}))
	rec, err := ep.Append(call)
	if err != nil {
		return episode.Event{}, err
	}
	inv := action.Start(ctx, act, rec.Call.InvocationID, rec.Call.Args)
	res, runErr := inv.Await(ctx, timeoutFor(act, c.cfg))
	if runErr != nil {
		inv.Cancel()
	}
	return recordOutcome(ep, c.id, rec, res, runErr, c.now)
}

func timeoutFor(a action.Action, cfg Config) time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return cfg.ActionTimeout
}

// recordOutcome appends the result event of call and returns it together
// with runErr annotated with episode context.
func recordOutcome(ep *episode.Episode, speaker string, call episode.Event, res map[string]interface{}, runErr error, now func() time.Time) (episode.Event, error) {
	status := episode.OutcomeOK
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
		switch {
		case errors.Is(runErr, action.ErrActionTimeout):
			status = episode.OutcomeTimeout
		case errors.Is(runErr, action.ErrActionCancelled),
			errors.Is(runErr, context.Canceled),
			errors.Is(runErr, context.DeadlineExceeded):
			status = episode.OutcomeCancelled
		default:
			status = episode.OutcomeFailed
		}
		res = nil
	}

	ts := now()
	if last, ok := ep.LastEvent(); ok && ts.Before(last.Timestamp) {
		ts = last.Timestamp
	}
	rec, err := ep.Append(episode.NewResult(speaker, *call.Call, status, res, errText, ts))
	if err != nil {
		if runErr != nil {
			return episode.Event{}, errors.Join(runErr, err)
		}
		return episode.Event{}, err
	}
	if runErr != nil {
		return rec, goerr.Wrap(runErr, "action did not complete",
			goerr.V("episode_id", ep.ID()), goerr.V("event_id", call.ID), goerr.V("event_seq", call.Seq),
			goerr.V("action", call.Call.Name), goerr.V("status", string(status)))
	}
	return rec, nil
}
