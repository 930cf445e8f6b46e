package episode

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Record is the plain serializable view of an episode.
type Record struct {
	ID           string    `json:"id" yaml:"id"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	Participants []string  `json:"participants" yaml:"participants"`
	Closed       bool      `json:"closed" yaml:"closed"`
	Events       []Event   `json:"events" yaml:"events"`
}

// Snapshot returns a consistent copy of the episode.
func (e *Episode) Snapshot() Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	events := make([]Event, len(e.events))
	for i := range e.events {
		events[i] = e.events[i].Clone()
	}
	return Record{
		ID:           e.id,
		CreatedAt:    e.createdAt,
		Participants: append([]string(nil), e.participants...),
		Closed:       e.closed,
		Events:       events,
	}
}

// Equal compares two records structurally.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || r.Closed != o.Closed || !r.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if len(r.Participants) != len(o.Participants) || len(r.Events) != len(o.Events) {
		return false
	}
	for i := range r.Participants {
		if r.Participants[i] != o.Participants[i] {
			return false
		}
	}
	for i := range r.Events {
		if !r.Events[i].Equal(o.Events[i]) {
			return false
		}
	}
	return true
}

// Restore rebuilds an episode from a record, re-checking every invariant.
// Event ids and timestamps are kept; ids must be unique and sequence numbers
// must match positions.
func Restore(r Record) (*Episode, error) {
	ep, err := NewWithID(r.ID, r.CreatedAt, r.Participants...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(r.Events))
	for i, ev := range r.Events {
		if ev.ID != "" {
			if _, dup := seen[ev.ID]; dup {
				return nil, goerr.Wrap(ErrInvalidEpisode, "duplicate event id",
					goerr.V("episode_id", r.ID), goerr.V("event_id", ev.ID), goerr.V("event_seq", i))
			}
			seen[ev.ID] = struct{}{}
		}
		if ev.Seq != i {
			return nil, goerr.Wrap(ErrInvalidEpisode, "event sequence mismatch",
				goerr.V("episode_id", r.ID), goerr.V("event_id", ev.ID), goerr.V("event_seq", ev.Seq), goerr.V("position", i))
		}
		if ev.EpisodeID != "" && ev.EpisodeID != r.ID {
			return nil, goerr.Wrap(ErrInvalidEpisode, "event belongs to another episode",
				goerr.V("episode_id", r.ID), goerr.V("event_id", ev.ID), goerr.V("event_episode_id", ev.EpisodeID))
		}
		if ev.Timestamp.IsZero() {
			return nil, goerr.Wrap(ErrInvalidEpisode, "event without timestamp",
				goerr.V("episode_id", r.ID), goerr.V("event_id", ev.ID), goerr.V("event_seq", i))
		}
		if _, err := ep.Append(ev); err != nil {
			return nil, err
		}
	}
	if r.Closed {
		ep.Close()
	}
	return ep, nil
}
