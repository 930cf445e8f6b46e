// Package persistence turns agents into opaque blobs and back, and keeps
// those blobs in durable stores.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dotsetgreg/due/pkg/action"
	"github.com/dotsetgreg/due/pkg/agent"
	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the snapshot layout written by this package.
const FormatVersion = 1

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Snapshot is everything needed to rebuild an agent except action
// handlers, which are bound again by name on load.
type Snapshot struct {
	Version  int              `json:"version" yaml:"version"`
	AgentID  string           `json:"agent_id" yaml:"agent_id"`
	Kind     string           `json:"kind" yaml:"kind"`
	Config   agent.Config     `json:"config" yaml:"config"`
	Actions  []string         `json:"actions,omitempty" yaml:"actions,omitempty"`
	Episodes []episode.Record `json:"episodes" yaml:"episodes"`
	SavedAt  time.Time        `json:"saved_at" yaml:"saved_at"`
}

// Capture takes a snapshot of a. Episodes come out sorted by id.
func Capture(a agent.Agent) Snapshot {
	eps := a.LearnedEpisodes()
	records := make([]episode.Record, 0, len(eps))
	for _, ep := range eps {
		records = append(records, ep.Snapshot())
	}
	return Snapshot{
		Version:  FormatVersion,
		AgentID:  a.ID(),
		Kind:     a.Kind(),
		Config:   a.Config(),
		Actions:  a.Actions().Names(),
		Episodes: records,
		SavedAt:  time.Now().UTC(),
	}
}

// Save serializes a in the given format. An empty format means JSON.
func Save(a agent.Agent, format Format) ([]byte, error) {
	return Encode(Capture(a), format)
}

func Encode(s Snapshot, format Format) ([]byte, error) {
	switch format {
	case "", FormatJSON:
		b, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return nil, goerr.Wrap(err, "encode json snapshot", goerr.V("agent_id", s.AgentID))
		}
		return b, nil
	case FormatYAML:
		b, err := yaml.Marshal(s)
		if err != nil {
			return nil, goerr.Wrap(err, "encode yaml snapshot", goerr.V("agent_id", s.AgentID))
		}
		return b, nil
	default:
		return nil, goerr.Wrap(ErrUnsupportedFormat, "encode snapshot", goerr.V("format", format))
	}
}

// DetectFormat guesses the encoding of blob: JSON starts with an object.
func DetectFormat(blob []byte) Format {
	trimmed := bytes.TrimLeft(blob, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

func Decode(blob []byte) (Snapshot, error) {
	var s Snapshot
	format := DetectFormat(blob)
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(blob, &s); err != nil {
			return Snapshot{}, goerr.Wrap(ErrCorruptSnapshot, "decode json snapshot", goerr.V("reason", err.Error()))
		}
	default:
		if err := yaml.Unmarshal(blob, &s); err != nil {
			return Snapshot{}, goerr.Wrap(ErrCorruptSnapshot, "decode yaml snapshot", goerr.V("reason", err.Error()))
		}
	}
	if s.Version < 1 || s.Version > FormatVersion {
		return Snapshot{}, goerr.Wrap(ErrUnsupportedFormat, "decode snapshot",
			goerr.V("version", s.Version), goerr.V("format", format))
	}
	return s, nil
}

// Load rebuilds an agent from blob. Every action name recorded in the
// snapshot must be present in catalog.
func Load(blob []byte, catalog *action.Registry, opts ...agent.Option) (agent.Agent, error) {
	s, err := Decode(blob)
	if err != nil {
		return nil, err
	}
	return Restore(s, catalog, opts...)
}

// Restore rebuilds an agent from a decoded snapshot.
func Restore(s Snapshot, catalog *action.Registry, opts ...agent.Option) (agent.Agent, error) {
	if catalog == nil {
		catalog = action.NewRegistry()
	}
	actions, missing := catalog.Subset(s.Actions)
	if len(missing) > 0 {
		return nil, goerr.Wrap(ErrMissingAction, "restore agent",
			goerr.V("agent_id", s.AgentID), goerr.V("missing", missing))
	}

	cfg := s.Config
	cfg.Kind = s.Kind
	opts = append([]agent.Option{agent.WithID(s.AgentID), agent.WithActions(actions)}, opts...)
	a, err := agent.New(cfg, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "restore agent", goerr.V("agent_id", s.AgentID))
	}

	eps := make([]*episode.Episode, 0, len(s.Episodes))
	for _, rec := range s.Episodes {
		ep, err := episode.Restore(rec)
		if err != nil {
			return nil, goerr.Wrap(err, "restore learned episode", goerr.V("agent_id", s.AgentID))
		}
		eps = append(eps, ep)
	}
	if err := a.LearnEpisodes(context.Background(), eps); err != nil {
		return nil, err
	}
	return a, nil
}
