// Package episode holds the conversation data model: immutable events
// recorded in append-only, totally ordered episodes.
package episode

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

// Episode is a bounded conversation between a fixed set of participants.
// Appends are serialized; once closed the episode never changes again and
// may be shared freely.
type Episode struct {
	mu           sync.RWMutex
	id           string
	createdAt    time.Time
	participants []string
	events       []Event
	ids          map[string]struct{}
	closed       bool
}

// New opens an episode with a fresh id. The first participant is the
// starter.
func New(participants ...string) (*Episode, error) {
	return NewWithID("ep-"+uuid.NewString(), time.Now().UTC(), participants...)
}

// NewWithID opens an episode with a caller supplied id, used by loaders.
func NewWithID(id string, createdAt time.Time, participants ...string) (*Episode, error) {
	if id == "" {
		return nil, goerr.Wrap(ErrInvalidEpisode, "missing episode id")
	}
	if len(participants) < 2 {
		return nil, goerr.Wrap(ErrInvalidEpisode, "episode needs at least two participants",
			goerr.V("episode_id", id), goerr.V("participants", participants))
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p == "" {
			return nil, goerr.Wrap(ErrInvalidEpisode, "empty participant id", goerr.V("episode_id", id))
		}
		if _, dup := seen[p]; dup {
			return nil, goerr.Wrap(ErrInvalidEpisode, "duplicate participant",
				goerr.V("episode_id", id), goerr.V("participant", p))
		}
		seen[p] = struct{}{}
	}
	return &Episode{
		id:           id,
		createdAt:    createdAt,
		participants: append([]string(nil), participants...),
		ids:          make(map[string]struct{}),
	}, nil
}

func (e *Episode) ID() string { return e.id }

func (e *Episode) CreatedAt() time.Time { return e.createdAt }

func (e *Episode) Participants() []string {
	return append([]string(nil), e.participants...)
}

func (e *Episode) HasParticipant(id string) bool {
	for _, p := range e.participants {
		if p == id {
			return true
		}
	}
	return false
}

// Starter is the participant that opened the episode.
func (e *Episode) Starter() string { return e.participants[0] }

func (e *Episode) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.events)
}

func (e *Episode) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Events returns copies of all recorded events in order.
func (e *Episode) Events() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Event, len(e.events))
	for i := range e.events {
		out[i] = e.events[i].Clone()
	}
	return out
}

// Event returns a copy of the event at seq.
func (e *Episode) Event(seq int) (Event, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if seq < 0 || seq >= len(e.events) {
		return Event{}, false
	}
	return e.events[seq].Clone(), true
}

// LastEvent returns the most recent event, restricted to kinds when given.
func (e *Episode) LastEvent(kinds ...Kind) (Event, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if len(kinds) == 0 || hasKind(kinds, e.events[i].Kind) {
			return e.events[i].Clone(), true
		}
	}
	return Event{}, false
}

// Append records ev at the end of the episode and returns the recorded
// copy. EpisodeID and Seq are always assigned; ID is generated when empty
// and must be unique within the episode otherwise. A zero timestamp becomes
// the current time, never earlier than the previous event. Action args and
// results are stored in their JSON form.
func (e *Episode) Append(ev Event) (Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Event{}, goerr.Wrap(ErrInvalidState, "append to closed episode",
			goerr.V("episode_id", e.id), goerr.V("event_seq", len(e.events)))
	}
	if !e.HasParticipant(ev.Speaker) {
		return Event{}, goerr.Wrap(ErrInvalidSpeaker, "append rejected",
			goerr.V("episode_id", e.id), goerr.V("event_seq", len(e.events)), goerr.V("speaker", ev.Speaker))
	}
	if !ev.Kind.Valid() || !ev.validatePayload() {
		return Event{}, goerr.Wrap(ErrMalformedEvent, "append rejected",
			goerr.V("episode_id", e.id), goerr.V("event_seq", len(e.events)), goerr.V("kind", ev.Kind))
	}

	rec := ev.Clone()
	rec.EpisodeID = e.id
	rec.Seq = len(e.events)
	if rec.ID == "" {
		rec.ID = "evt-" + uuid.NewString()
	} else if _, dup := e.ids[rec.ID]; dup {
		return Event{}, goerr.Wrap(ErrMalformedEvent, "duplicate event id",
			goerr.V("episode_id", e.id), goerr.V("event_id", rec.ID), goerr.V("event_seq", rec.Seq))
	}
	if err := rec.normalizePayload(); err != nil {
		return Event{}, goerr.Wrap(ErrMalformedEvent, "action payload is not JSON encodable",
			goerr.V("episode_id", e.id), goerr.V("event_seq", rec.Seq), goerr.V("error", err.Error()))
	}
	var last time.Time
	if n := len(e.events); n > 0 {
		last = e.events[n-1].Timestamp
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
		if rec.Timestamp.Before(last) {
			rec.Timestamp = last
		}
	} else if rec.Timestamp.Before(last) {
		return Event{}, goerr.Wrap(ErrOutOfOrder, "append rejected",
			goerr.V("episode_id", e.id), goerr.V("event_id", rec.ID), goerr.V("event_seq", rec.Seq),
			goerr.V("timestamp", rec.Timestamp), goerr.V("previous", last))
	}

	e.events = append(e.events, rec)
	e.ids[rec.ID] = struct{}{}
	return rec.Clone(), nil
}

// Close ends the episode and reports whether this call closed it.
func (e *Episode) Close() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	return true
}

// Equal reports structural equality of two episodes.
func (e *Episode) Equal(o *Episode) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	a, b := e.Snapshot(), o.Snapshot()
	return a.Equal(b)
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
