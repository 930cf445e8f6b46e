package brain

import "errors"

var (
	// ErrUnlearnableEpisode is returned when learning an episode that is
	// still open.
	ErrUnlearnableEpisode = errors.New("episode cannot be learned")
	// ErrUnknownVectorizer is returned for an unsupported vectorizer name.
	ErrUnknownVectorizer = errors.New("unknown vectorizer")
)
