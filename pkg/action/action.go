// Package action defines side-effecting operations an agent can invoke
// during a conversation, their argument schemas and their execution.
package action

import (
	"context"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// Handler performs the action. Handlers that honour ctx cancellation should
// be registered with Cancellable set.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

type Mode string

const (
	// ModeSync actions block the conversation turn until they finish.
	ModeSync Mode = "sync"
	// ModeAsync actions suspend the conversation in the action-pending state.
	ModeAsync Mode = "async"
)

type Action struct {
	Name        string
	Description string
	// Parameters is the JSON schema the invocation arguments must satisfy.
	// A nil schema accepts any object.
	Parameters  *jsonschema.Schema
	Handler     Handler
	Mode        Mode
	Timeout     time.Duration
	Cancellable bool
}

// Definition is the handler-free description of a registered action.
type Definition struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
	Mode        Mode               `json:"mode"`
}

// ObjectSchema is a helper for the common case of an object with string
// properties.
func ObjectSchema(required []string, props map[string]string) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(props)),
		Required:   required,
	}
	for name, desc := range props {
		s.Properties[name] = &jsonschema.Schema{Type: "string", Description: desc}
	}
	return s
}
