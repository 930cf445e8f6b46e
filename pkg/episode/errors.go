package episode

import "errors"

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// episode's current state, e.g. appending to a closed episode.
	ErrInvalidState = errors.New("invalid episode state")
	// ErrInvalidSpeaker is returned when an event speaker is not a participant.
	ErrInvalidSpeaker = errors.New("speaker is not a participant")
	// ErrOutOfOrder is returned when an event timestamp precedes the last event.
	ErrOutOfOrder = errors.New("event timestamp out of order")
	// ErrMalformedEvent is returned when an event payload does not match its kind.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrInvalidEpisode is returned for participant lists or records that
	// cannot form a valid episode.
	ErrInvalidEpisode = errors.New("invalid episode")
)
