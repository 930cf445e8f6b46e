package agent

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/due/pkg/brain"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/dotsetgreg/due/pkg/logger"
)

// FixedAgent answers every utterance with the same text. It still records
// learned episodes so it can be persisted and upgraded later.
type FixedAgent struct {
	*core
}

func NewFixed(cfg Config, opts ...Option) (*FixedAgent, error) {
	c, err := newCore(KindFixed, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &FixedAgent{core: c}, nil
}

func (a *FixedAgent) Respond(_ context.Context, ep *episode.Episode) (episode.Event, error) {
	if _, err := a.stimulus(ep); err != nil {
		return episode.Event{}, err
	}
	return a.utterance(ep, a.cfg.FixedText), nil
}

// EchoAgent repeats what it was told.
type EchoAgent struct {
	*core
}

func NewEcho(cfg Config, opts ...Option) (*EchoAgent, error) {
	c, err := newCore(KindEcho, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &EchoAgent{core: c}, nil
}

func (a *EchoAgent) Respond(_ context.Context, ep *episode.Episode) (episode.Event, error) {
	stim, err := a.stimulus(ep)
	if err != nil {
		return episode.Event{}, err
	}
	return a.utterance(ep, fmt.Sprintf("You said '%s'", stim.Text)), nil
}

// RetrievalAgent answers with the response that followed the most similar
// utterance in the learned episodes.
type RetrievalAgent struct {
	*core
}

func NewRetrieval(cfg Config, opts ...Option) (*RetrievalAgent, error) {
	c, err := newCore(KindRetrieval, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &RetrievalAgent{core: c}, nil
}

func (a *RetrievalAgent) Respond(ctx context.Context, ep *episode.Episode) (episode.Event, error) {
	stim, err := a.stimulus(ep)
	if err != nil {
		return episode.Event{}, err
	}
	if err := ctx.Err(); err != nil {
		return episode.Event{}, err
	}

	m, ok := a.brain.Best(stim.Text, a.answerable)
	if !ok {
		logger.DebugCF("agent", "No candidates learned",
			map[string]interface{}{"agent_id": a.id, "episode_id": ep.ID()})
		return a.lowConfidence(ep, stim, 0)
	}
	if m.Score < a.cfg.MinConfidence {
		logger.DebugCF("agent", "Best match below confidence threshold",
			map[string]interface{}{
				"agent_id":       a.id,
				"episode_id":     ep.ID(),
				"score":          m.Score,
				"min_confidence": a.cfg.MinConfidence,
			})
		return a.lowConfidence(ep, stim, m.Score)
	}

	logger.DebugCF("agent", "Matched learned utterance",
		map[string]interface{}{
			"agent_id":      a.id,
			"episode_id":    ep.ID(),
			"match_episode": m.EpisodeID,
			"match_seq":     m.Stimulus.Seq,
			"score":         m.Score,
			"response_kind": string(m.Response.Kind),
		})
	return a.reply(ep, m.Response), nil
}

// answerable drops candidates whose response invokes an action this agent
// cannot run.
func (a *RetrievalAgent) answerable(c brain.Candidate) bool {
	if c.Response.Kind == episode.KindActionInvocation {
		return c.Response.Call != nil && a.actions.Has(c.Response.Call.Name)
	}
	return true
}
