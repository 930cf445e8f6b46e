package agent

import (
	"time"

	"github.com/dotsetgreg/due/pkg/brain"
	"github.com/m-mizutani/goerr/v2"
)

const (
	KindFixed     = "fixed"
	KindEcho      = "echo"
	KindRetrieval = "retrieval"
)

// LowConfidence selects what Respond does when the best match scores
// below MinConfidence or nothing was learned.
type LowConfidence string

const (
	LowConfidenceFallback LowConfidence = "fallback"
	LowConfidenceError    LowConfidence = "error"
)

type Config struct {
	Kind            string        `json:"kind" yaml:"kind"`
	Vectorizer      string        `json:"vectorizer" yaml:"vectorizer"`
	MinConfidence   float64       `json:"min_confidence" yaml:"min_confidence"`
	OnLowConfidence LowConfidence `json:"on_low_confidence" yaml:"on_low_confidence"`
	FallbackText    string        `json:"fallback_text" yaml:"fallback_text"`
	FixedText       string        `json:"fixed_text,omitempty" yaml:"fixed_text,omitempty"`
	ActionTimeout   time.Duration `json:"action_timeout" yaml:"action_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Kind:            KindRetrieval,
		Vectorizer:      brain.DefaultVectorizer,
		MinConfidence:   0.1,
		OnLowConfidence: LowConfidenceFallback,
		FallbackText:    "Sorry, I don't know what to say.",
		FixedText:       "Hi!",
		ActionTimeout:   30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Kind == "" {
		c.Kind = def.Kind
	}
	if c.Vectorizer == "" {
		c.Vectorizer = def.Vectorizer
	}
	if c.OnLowConfidence == "" {
		c.OnLowConfidence = def.OnLowConfidence
	}
	if c.FallbackText == "" {
		c.FallbackText = def.FallbackText
	}
	if c.FixedText == "" {
		c.FixedText = def.FixedText
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	return c
}

func (c Config) Validate() error {
	switch c.Kind {
	case KindFixed, KindEcho, KindRetrieval:
	default:
		return goerr.Wrap(ErrUnknownKind, "validate agent config", goerr.V("kind", c.Kind))
	}
	if !brain.ValidVectorizer(c.Vectorizer) {
		return goerr.Wrap(ErrInvalidConfig, "unknown vectorizer", goerr.V("vectorizer", c.Vectorizer))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return goerr.Wrap(ErrInvalidConfig, "min_confidence must be within [0,1]", goerr.V("min_confidence", c.MinConfidence))
	}
	switch c.OnLowConfidence {
	case LowConfidenceFallback, LowConfidenceError:
	default:
		return goerr.Wrap(ErrInvalidConfig, "unknown low confidence policy", goerr.V("on_low_confidence", c.OnLowConfidence))
	}
	return nil
}
