// Package corpus loads hand-written or exported conversations into closed
// episodes ready to be learned.
package corpus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dotsetgreg/due/pkg/episode"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

const (
	FormatStandard = "standard"
	FormatCompact  = "compact"
)

// kind names accepted in corpus files. "action" is kept as an alias of
// action_invocation for older exports.
var kindAliases = map[string]episode.Kind{
	"utterance":         episode.KindUtterance,
	"action":            episode.KindActionInvocation,
	"action_invocation": episode.KindActionInvocation,
	"action_result":     episode.KindActionResult,
	"leave":             episode.KindLeave,
}

var corpusNamespace = uuid.MustParse("6f1c2b9e-5a37-4c8e-9d41-0b7e2f3a8c55")

//go:embed toy.yaml
var toyYAML []byte

// RawEpisode is the on-disk shape of one episode.
type RawEpisode struct {
	ID            string      `yaml:"id"`
	Timestamp     string      `yaml:"timestamp"`
	StarterAgent  string      `yaml:"starter_agent"`
	InvitedAgents []string    `yaml:"invited_agents"`
	Format        string      `yaml:"format"`
	Events        []yaml.Node `yaml:"events"`
}

// RawEvent is a standard-format event.
type RawEvent struct {
	Type      string      `yaml:"type"`
	Timestamp string      `yaml:"timestamp"`
	Agent     string      `yaml:"agent"`
	Payload   interface{} `yaml:"payload"`
}

type options struct {
	source string
}

type Option func(*options)

// WithSource names the corpus. Episodes without an id get one derived from
// the source and their position, so reloading yields the same ids.
func WithSource(name string) Option {
	return func(o *options) { o.source = name }
}

// Load decodes a YAML list of episodes from r. Every returned episode is
// closed. Loading stops at the first invalid episode.
func Load(r io.Reader, opts ...Option) ([]*episode.Episode, error) {
	o := options{source: "corpus"}
	for _, opt := range opts {
		opt(&o)
	}
	var raws []RawEpisode
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&raws); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, goerr.Wrap(ErrInvalidCorpus, "decode corpus", goerr.V("source", o.source), goerr.V("reason", err.Error()))
	}

	out := make([]*episode.Episode, 0, len(raws))
	for i, raw := range raws {
		ep, err := raw.build(o.source, i)
		if err != nil {
			return nil, goerr.Wrap(err, "load corpus episode", goerr.V("source", o.source), goerr.V("index", i))
		}
		out = append(out, ep)
	}
	return out, nil
}

// LoadFile loads the corpus at path.
func LoadFile(path string) ([]*episode.Episode, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()
	return Load(f, WithSource(path))
}

// Toy returns the bundled smalltalk corpus.
func Toy() ([]*episode.Episode, error) {
	return Load(bytes.NewReader(toyYAML), WithSource("toy"))
}

func (raw RawEpisode) build(source string, index int) (*episode.Episode, error) {
	id := strings.TrimSpace(raw.ID)
	if id == "" {
		id = "ep-" + uuid.NewSHA1(corpusNamespace, []byte(fmt.Sprintf("%s/%d", source, index))).String()
	}
	participants := append([]string{strings.TrimSpace(raw.StarterAgent)}, raw.InvitedAgents...)

	var created time.Time
	if strings.TrimSpace(raw.Timestamp) != "" {
		ts, ok := ParseTimestamp(raw.Timestamp)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidCorpus, "parse episode timestamp",
				goerr.V("episode_id", id), goerr.V("timestamp", raw.Timestamp))
		}
		created = ts
	}

	var events []RawEvent
	var err error
	switch strings.TrimSpace(raw.Format) {
	case "", FormatStandard:
		events, err = decodeStandard(raw.Events)
	case FormatCompact:
		events, err = decodeCompact(raw.Events)
	default:
		err = goerr.Wrap(ErrInvalidCorpus, "unknown episode format", goerr.V("format", raw.Format))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "decode episode events", goerr.V("episode_id", id))
	}

	if created.IsZero() && len(events) > 0 {
		if ts, ok := ParseTimestamp(events[0].Timestamp); ok {
			created = ts
		}
	}
	if created.IsZero() {
		return nil, goerr.Wrap(ErrInvalidCorpus, "episode has no timestamp", goerr.V("episode_id", id))
	}

	ep, err := episode.NewWithID(id, created, participants...)
	if err != nil {
		return nil, err
	}
	last := created
	var lastCall *episode.ActionCall
	for seq, re := range events {
		ev, err := re.toEvent(last, lastCall)
		if err != nil {
			return nil, goerr.Wrap(err, "convert event", goerr.V("episode_id", id), goerr.V("seq", seq))
		}
		recorded, err := ep.Append(ev)
		if err != nil {
			return nil, err
		}
		last = recorded.Timestamp
		if recorded.Kind == episode.KindActionInvocation {
			lastCall = recorded.Call
		}
	}
	ep.Close()
	return ep, nil
}

func decodeStandard(nodes []yaml.Node) ([]RawEvent, error) {
	out := make([]RawEvent, 0, len(nodes))
	for i := range nodes {
		var ev RawEvent
		if err := nodes[i].Decode(&ev); err != nil {
			return nil, goerr.Wrap(ErrInvalidCorpus, "decode event", goerr.V("line", nodes[i].Line), goerr.V("reason", err.Error()))
		}
		out = append(out, ev)
	}
	return out, nil
}

// decodeCompact reads `type|timestamp|agent|payload` lines. The payload is
// everything after the third separator, so it may contain '|'.
func decodeCompact(nodes []yaml.Node) ([]RawEvent, error) {
	out := make([]RawEvent, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.Kind != yaml.ScalarNode {
			return nil, goerr.Wrap(ErrInvalidCorpus, "compact event must be a string", goerr.V("line", n.Line))
		}
		fields := strings.SplitN(n.Value, "|", 4)
		if len(fields) < 3 {
			return nil, goerr.Wrap(ErrInvalidCorpus, "compact event needs type|timestamp|agent|payload",
				goerr.V("line", n.Line), goerr.V("value", n.Value))
		}
		ev := RawEvent{
			Type:      strings.TrimSpace(fields[0]),
			Timestamp: strings.TrimSpace(fields[1]),
			Agent:     strings.TrimSpace(fields[2]),
		}
		if len(fields) == 4 {
			payload := fields[3]
			if kind, ok := kindAliases[ev.Type]; ok && kind != episode.KindUtterance {
				if strings.TrimSpace(payload) != "" {
					var obj map[string]interface{}
					if err := json.Unmarshal([]byte(payload), &obj); err != nil {
						return nil, goerr.Wrap(ErrInvalidCorpus, "decode compact action payload",
							goerr.V("line", n.Line), goerr.V("reason", err.Error()))
					}
					ev.Payload = obj
				}
			} else {
				ev.Payload = unquote(payload)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}

// unquote strips one pair of surrounding double quotes, as written by CSV
// exporters for payloads with separators in them.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func (re RawEvent) toEvent(last time.Time, lastCall *episode.ActionCall) (episode.Event, error) {
	kind, ok := kindAliases[strings.TrimSpace(re.Type)]
	if !ok {
		return episode.Event{}, goerr.Wrap(ErrInvalidCorpus, "unknown event type", goerr.V("type", re.Type))
	}
	ts, err := resolveTimestamp(re.Timestamp, last)
	if err != nil {
		return episode.Event{}, err
	}
	speaker := strings.TrimSpace(re.Agent)

	switch kind {
	case episode.KindUtterance:
		text, ok := re.Payload.(string)
		if !ok {
			text = fmt.Sprint(re.Payload)
		}
		return episode.NewUtterance(speaker, text, ts), nil
	case episode.KindLeave:
		return episode.NewLeave(speaker, ts), nil
	case episode.KindActionInvocation:
		obj, err := payloadObject(re.Payload)
		if err != nil {
			return episode.Event{}, err
		}
		name, _ := obj["name"].(string)
		args, _ := obj["args"].(map[string]interface{})
		return episode.NewInvocation(speaker, name, args, ts), nil
	default:
		obj, err := payloadObject(re.Payload)
		if err != nil {
			return episode.Event{}, err
		}
		call := episode.ActionCall{}
		if lastCall != nil {
			call = *lastCall
		}
		if name, ok := obj["name"].(string); ok && name != "" {
			if name != call.Name {
				call = episode.ActionCall{Name: name}
			}
		}
		status := episode.OutcomeOK
		if s, ok := obj["status"].(string); ok && s != "" {
			status = episode.OutcomeStatus(s)
		}
		result, _ := obj["result"].(map[string]interface{})
		errText, _ := obj["error"].(string)
		return episode.NewResult(speaker, call, status, result, errText, ts), nil
	}
}

func payloadObject(v interface{}) (map[string]interface{}, error) {
	switch p := v.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return p, nil
	case string:
		// Action payloads written as an inline JSON string.
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(p), &obj); err != nil {
			return nil, goerr.Wrap(ErrInvalidCorpus, "action payload is not an object", goerr.V("payload", p))
		}
		return obj, nil
	default:
		return nil, goerr.Wrap(ErrInvalidCorpus, "action payload is not an object", goerr.V("payload", fmt.Sprint(v)))
	}
}
