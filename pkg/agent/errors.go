package agent

import (
	"errors"

	"github.com/dotsetgreg/due/pkg/brain"
)

var (
	// ErrUnlearnableEpisode is returned when learning an open episode.
	ErrUnlearnableEpisode = brain.ErrUnlearnableEpisode
	// ErrNoResponse is returned by Respond when no candidate is confident
	// enough and the agent is configured to fail instead of falling back.
	ErrNoResponse = errors.New("no response")
	// ErrUnknownKind is returned for an unsupported agent kind.
	ErrUnknownKind = errors.New("unknown agent kind")
	// ErrInvalidConfig is returned when an agent configuration is unusable.
	ErrInvalidConfig = errors.New("invalid agent config")
)
