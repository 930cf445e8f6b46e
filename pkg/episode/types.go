package episode

import (
	"encoding/json"
	"reflect"
	"time"
)

type Kind string

const (
	KindUtterance        Kind = "utterance"
	KindActionInvocation Kind = "action_invocation"
	KindActionResult     Kind = "action_result"
	KindLeave            Kind = "leave"
)

func (k Kind) Valid() bool {
	switch k {
	case KindUtterance, KindActionInvocation, KindActionResult, KindLeave:
		return true
	}
	return false
}

type OutcomeStatus string

const (
	OutcomeOK        OutcomeStatus = "ok"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeTimeout   OutcomeStatus = "timeout"
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// ActionCall is the payload of an action invocation event.
type ActionCall struct {
	InvocationID string                 `json:"invocation_id,omitempty" yaml:"invocation_id,omitempty"`
	Name         string                 `json:"name" yaml:"name"`
	Args         map[string]interface{} `json:"args,omitempty" yaml:"args,omitempty"`
}

// ActionOutcome is the payload of an action result event.
type ActionOutcome struct {
	InvocationID string                 `json:"invocation_id,omitempty" yaml:"invocation_id,omitempty"`
	Name         string                 `json:"name" yaml:"name"`
	Status       OutcomeStatus          `json:"status" yaml:"status"`
	Result       map[string]interface{} `json:"result,omitempty" yaml:"result,omitempty"`
	Error        string                 `json:"error,omitempty" yaml:"error,omitempty"`
}

// Event is a single recorded occurrence in an episode. Events handed out by
// an Episode are copies; mutating them does not affect the episode.
type Event struct {
	ID        string         `json:"id" yaml:"id"`
	EpisodeID string         `json:"episode_id" yaml:"episode_id"`
	Seq       int            `json:"seq" yaml:"seq"`
	Speaker   string         `json:"speaker" yaml:"speaker"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Kind      Kind           `json:"kind" yaml:"kind"`
	Text      string         `json:"text,omitempty" yaml:"text,omitempty"`
	Call      *ActionCall    `json:"call,omitempty" yaml:"call,omitempty"`
	Outcome   *ActionOutcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// NewUtterance builds an unrecorded utterance event.
func NewUtterance(speaker, text string, ts time.Time) Event {
	return Event{Speaker: speaker, Kind: KindUtterance, Text: text, Timestamp: ts}
}

// NewInvocation builds an unrecorded action invocation event.
func NewInvocation(speaker, name string, args map[string]interface{}, ts time.Time) Event {
	return Event{
		Speaker:   speaker,
		Kind:      KindActionInvocation,
		Timestamp: ts,
		Call:      &ActionCall{Name: name, Args: args},
	}
}

// NewResult builds an unrecorded action result event for call.
func NewResult(speaker string, call ActionCall, status OutcomeStatus, result map[string]interface{}, errText string, ts time.Time) Event {
	return Event{
		Speaker:   speaker,
		Kind:      KindActionResult,
		Timestamp: ts,
		Outcome: &ActionOutcome{
			InvocationID: call.InvocationID,
			Name:         call.Name,
			Status:       status,
			Result:       result,
			Error:        errText,
		},
	}
}

// NewLeave builds an unrecorded leave event.
func NewLeave(speaker string, ts time.Time) Event {
	return Event{Speaker: speaker, Kind: KindLeave, Timestamp: ts}
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.Call != nil {
		c := *e.Call
		c.Args = cloneMap(e.Call.Args)
		out.Call = &c
	}
	if e.Outcome != nil {
		o := *e.Outcome
		o.Result = cloneMap(e.Outcome.Result)
		out.Outcome = &o
	}
	return out
}

// Equal reports structural equality, identity and position included.
func (e Event) Equal(o Event) bool {
	return e.ID == o.ID &&
		e.EpisodeID == o.EpisodeID &&
		e.Seq == o.Seq &&
		e.Timestamp.Equal(o.Timestamp) &&
		e.SameContent(o)
}

// SameContent compares speaker, kind and payload, ignoring identity,
// position and time.
func (e Event) SameContent(o Event) bool {
	return e.Speaker == o.Speaker &&
		e.Kind == o.Kind &&
		e.Text == o.Text &&
		reflect.DeepEqual(e.Call, o.Call) &&
		reflect.DeepEqual(e.Outcome, o.Outcome)
}

// validatePayload checks that the payload fields match the kind.
func (e Event) validatePayload() bool {
	switch e.Kind {
	case KindUtterance, KindLeave:
		return e.Call == nil && e.Outcome == nil
	case KindActionInvocation:
		return e.Call != nil && e.Call.Name != "" && e.Outcome == nil && e.Text == ""
	case KindActionResult:
		return e.Outcome != nil && e.Outcome.Name != "" && e.Call == nil && e.Text == ""
	}
	return false
}

// Compare orders events by timestamp, then by insertion sequence.
func Compare(a, b Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

// normalizePayload rewrites the call and outcome maps into the shape they
// read back as from JSON or YAML: numbers become float64, nested values
// become plain maps and slices, and empty maps become nil.
func (e *Event) normalizePayload() error {
	if e.Call != nil {
		args, err := jsonMap(e.Call.Args)
		if err != nil {
			return err
		}
		e.Call.Args = args
	}
	if e.Outcome != nil {
		result, err := jsonMap(e.Outcome.Result)
		if err != nil {
			return err
		}
		e.Outcome.Result = result
	}
	return nil
}

func jsonMap(in map[string]interface{}) (map[string]interface{}, error) {
	if len(in) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
