package corpus

import "errors"

// ErrInvalidCorpus is returned for corpus documents that cannot be turned
// into episodes.
var ErrInvalidCorpus = errors.New("invalid corpus")
