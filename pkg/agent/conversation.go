package agent

import (
	"context"
	"sync"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/m-mizutani/goerr/v2"
)

type State string

const (
	StateAwaitingInput State = "AWAITING_INPUT"
	StateProcessing    State = "PROCESSING"
	StateActionPending State = "ACTION_PENDING"
	StateClosed        State = "CLOSED"
)

type pendingAction struct {
	call    episode.Event
	inv     *action.Invocation
	settled chan struct{}
	err     error
}

// Conversation drives one live episode between an agent and its peers.
// Turns are serialized: a turn holds the conversation until the agent has
// answered and, for synchronous actions, until the action finished. An
// asynchronous action leaves the conversation in StateActionPending until
// its result is recorded.
type Conversation struct {
	mu      sync.Mutex
	agent   Agent
	ep      *episode.Episode
	state   State
	pending *pendingAction
	closing bool
	hook    func(episode.Event)
	now     func() time.Time
}

type ConversationOption func(*Conversation)

// WithEventHook registers fn to observe every event the conversation
// appends. fn runs while the conversation is locked and must not call back
// into it.
func WithEventHook(fn func(episode.Event)) ConversationOption {
	return func(c *Conversation) { c.hook = fn }
}

// WithConversationClock replaces time.Now for recorded timestamps.
func WithConversationClock(now func() time.Time) ConversationOption {
	return func(c *Conversation) {
		if now != nil {
			c.now = now
		}
	}
}

func NewConversation(a Agent, ep *episode.Episode, opts ...ConversationOption) (*Conversation, error) {
	if ep == nil || ep.IsClosed() {
		return nil, goerr.Wrap(episode.ErrInvalidState, "conversation needs an open episode")
	}
	if !ep.HasParticipant(a.ID()) {
		return nil, goerr.Wrap(episode.ErrInvalidSpeaker, "agent is not a participant",
			goerr.V("episode_id", ep.ID()), goerr.V("agent_id", a.ID()))
	}
	c := &Conversation{
		agent: a,
		ep:    ep,
		state: StateAwaitingInput,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Conversation) Episode() *episode.Episode { return c.ep }

func (c *Conversation) Agent() Agent { return c.agent }

func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Receive records an utterance by speaker and lets the agent take its turn.
// It returns the events appended during the turn. When the agent asks for
// an asynchronous action the turn ends in StateActionPending and the result
// is appended later.
func (c *Conversation) Receive(ctx context.Context, speaker, text string) ([]episode.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.acceptingLocked(); err != nil {
		return nil, err
	}
	if speaker == c.agent.ID() {
		return nil, goerr.Wrap(episode.ErrInvalidSpeaker, "agent cannot speak for its peers",
			goerr.V("episode_id", c.ep.ID()), goerr.V("speaker", speaker))
	}

	utt, err := c.appendLocked(episode.NewUtterance(speaker, text, c.at()))
	if err != nil {
		return nil, err
	}
	out := []episode.Event{utt}

	c.state = StateProcessing
	resp, err := c.agent.Respond(ctx, c.ep)
	if err != nil {
		c.state = StateAwaitingInput
		return out, err
	}
	rec, err := c.appendLocked(resp)
	if err != nil {
		c.state = StateAwaitingInput
		return out, err
	}
	out = append(out, rec)
	if rec.Kind != episode.KindActionInvocation {
		c.state = StateAwaitingInput
		return out, nil
	}

	result, err := c.startLocked(ctx, rec)
	if result != nil {
		out = append(out, *result)
	}
	return out, err
}

// startLocked runs the action requested by call. Synchronous actions are
// awaited and their result returned; asynchronous ones are left pending.
func (c *Conversation) startLocked(ctx context.Context, call episode.Event) (*episode.Event, error) {
	actions := c.agent.Actions()
	act, ok := actions.Get(call.Call.Name)
	var refuse error
	if !ok {
		refuse = goerr.Wrap(action.ErrUnknownAction, "start action", goerr.V("action", call.Call.Name))
	} else if err := actions.Validate(call.Call.Name, call.Call.Args); err != nil {
		refuse = err
	}
	if refuse != nil {
		rec, err := c.recordLocked(call, nil, refuse)
		c.state = StateAwaitingInput
		return rec, err
	}

	inv := action.Start(ctx, act, call.Call.InvocationID, call.Call.Args)
	timeout := timeoutFor(act, c.agent.Config())

	if act.Mode != action.ModeAsync {
		res, runErr := inv.Await(ctx, timeout)
		if runErr != nil {
			inv.Cancel()
		}
		rec, err := c.recordLocked(call, res, runErr)
		c.state = StateAwaitingInput
		return rec, err
	}

	p := &pendingAction{call: call, inv: inv, settled: make(chan struct{})}
	c.pending = p
	c.state = StateActionPending
	logger.InfoCF("conversation", "Action pending",
		map[string]interface{}{
			"episode_id":    c.ep.ID(),
			"action":        call.Call.Name,
			"invocation_id": call.Call.InvocationID,
			"timeout":       timeout.String(),
		})
	go c.resolve(p, timeout)
	return nil, nil
}

// resolve waits for a pending action and records its outcome unless Close
// settled it first.
func (c *Conversation) resolve(p *pendingAction, timeout time.Duration) {
	res, runErr := p.inv.Await(context.Background(), timeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(p, res, runErr)
}

func (c *Conversation) settleLocked(p *pendingAction, res map[string]interface{}, runErr error) {
	if c.pending != p {
		return
	}
	_, p.err = c.recordLocked(p.call, res, runErr)
	c.pending = nil
	if c.state == StateActionPending {
		c.state = StateAwaitingInput
	}
	close(p.settled)
}

// Wait blocks until no action is pending and returns the pending action's
// error, if any.
func (c *Conversation) Wait(ctx context.Context) error {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	select {
	case <-p.settled:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the conversation. A pending cancellable action is cancelled
// and recorded as such; an uncancellable one is awaited, which its timeout
// bounds, unless ctx ends first. Closing twice is a no-op.
func (c *Conversation) Close(ctx context.Context) error {
	return c.close(ctx, "")
}

// Leave records that speaker left and closes the conversation.
func (c *Conversation) Leave(ctx context.Context, speaker string) error {
	if speaker == "" {
		speaker = c.agent.ID()
	}
	return c.close(ctx, speaker)
}

func (c *Conversation) close(ctx context.Context, leaver string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || c.closing {
		return nil
	}
	c.closing = true

	if p := c.pending; p != nil {
		if !p.inv.Cancellable() {
			c.mu.Unlock()
			select {
			case <-p.settled:
			case <-ctx.Done():
			}
			c.mu.Lock()
		}
		if c.pending == p {
			p.inv.Cancel()
			c.settleLocked(p, nil, goerr.Wrap(action.ErrActionCancelled, "conversation closed",
				goerr.V("episode_id", c.ep.ID()), goerr.V("action", p.call.Call.Name)))
		}
	}

	var err error
	if leaver != "" {
		_, err = c.appendLocked(episode.NewLeave(leaver, c.at()))
	}
	c.ep.Close()
	c.state = StateClosed
	c.closing = false
	logger.InfoCF("conversation", "Conversation closed",
		map[string]interface{}{"episode_id": c.ep.ID(), "events": c.ep.Len()})
	return err
}

func (c *Conversation) acceptingLocked() error {
	switch {
	case c.state == StateClosed || c.closing:
		return goerr.Wrap(episode.ErrInvalidState, "conversation is closed", goerr.V("episode_id", c.ep.ID()))
	case c.state == StateActionPending:
		return goerr.Wrap(episode.ErrInvalidState, "waiting for pending action",
			goerr.V("episode_id", c.ep.ID()), goerr.V("action", c.pending.call.Call.Name))
	}
	return nil
}

func (c *Conversation) recordLocked(call episode.Event, res map[string]interface{}, runErr error) (*episode.Event, error) {
	rec, err := recordOutcome(c.ep, c.agent.ID(), call, res, runErr, c.now)
	if rec.ID != "" {
		c.emit(rec)
		return &rec, err
	}
	return nil, err
}

func (c *Conversation) appendLocked(ev episode.Event) (episode.Event, error) {
	rec, err := c.ep.Append(ev)
	if err != nil {
		return episode.Event{}, err
	}
	c.emit(rec)
	return rec, nil
}

func (c *Conversation) emit(ev episode.Event) {
	if c.hook != nil {
		c.hook(ev)
	}
}

func (c *Conversation) at() time.Time {
	ts := c.now()
	if last, ok := c.ep.LastEvent(); ok && ts.Before(last.Timestamp) {
		return last.Timestamp
	}
	return ts
}
