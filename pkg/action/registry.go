package action

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

type entry struct {
	action   Action
	resolved *jsonschema.Resolved
}

// Registry holds the actions an agent may invoke, keyed by unique name.
type Registry struct {
	actions map[string]entry
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]entry),
	}
}

// Register adds a. The schema is resolved once so invocations only validate.
func (r *Registry) Register(a Action) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return goerr.Wrap(ErrInvalidAction, "action name is required")
	}
	if a.Handler == nil {
		return goerr.Wrap(ErrInvalidAction, "action handler is required", goerr.V("action", a.Name))
	}
	switch a.Mode {
	case "":
		a.Mode = ModeSync
	case ModeSync, ModeAsync:
	default:
		return goerr.Wrap(ErrInvalidAction, "unknown action mode", goerr.V("action", a.Name), goerr.V("mode", a.Mode))
	}

	var resolved *jsonschema.Resolved
	if a.Parameters != nil {
		rs, err := a.Parameters.Resolve(nil)
		if err != nil {
			return goerr.Wrap(ErrInvalidAction, "resolve action schema", goerr.V("action", a.Name), goerr.V("reason", err.Error()))
		}
		resolved = rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.Name]; exists {
		return goerr.Wrap(ErrDuplicateAction, "register action", goerr.V("action", a.Name))
	}
	r.actions[a.Name] = entry{action: a, resolved: resolved}
	return nil
}

// MustRegister registers every action and panics on the first error. Meant
// for static catalogs assembled at start-up.
func (r *Registry) MustRegister(actions ...Action) *Registry {
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return e.action, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Validate checks args against the action's schema.
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	e, ok := r.actions[name]
	r.mu.RUnlock()
	if !ok {
		return goerr.Wrap(ErrUnknownAction, "validate arguments", goerr.V("action", name))
	}
	if e.resolved == nil {
		return nil
	}
	instance := map[string]interface{}{}
	for k, v := range args {
		instance[k] = v
	}
	if err := e.resolved.Validate(instance); err != nil {
		return goerr.Wrap(ErrInvalidArguments, "arguments do not match schema",
			goerr.V("action", name), goerr.V("reason", err.Error()), goerr.V("args", SanitizeArgs(args)))
	}
	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// Definitions describes every registered action, sorted by name.
func (r *Registry) Definitions() []Definition {
	names := r.Names()
	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		a, ok := r.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, Definition{
			Name:        a.Name,
			Description: a.Description,
			Parameters:  a.Parameters,
			Mode:        a.Mode,
		})
	}
	return defs
}

// Subset returns a registry holding only the named actions. Names missing
// from r are reported.
func (r *Registry) Subset(names []string) (*Registry, []string) {
	out := NewRegistry()
	var missing []string
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		e, ok := r.actions[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out.actions[name] = e
	}
	return out, missing
}

var sensitiveArgKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"client_secret",
	"cookie",
	"password",
	"secret",
	"token",
}

// SanitizeArgs returns a copy of args safe to log: sensitive keys are
// redacted and long strings truncated.
func SanitizeArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(args))
	for key, value := range args {
		sanitized[key] = sanitizeArgValue(key, value, 0)
	}
	return sanitized
}

func sanitizeArgValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveArgKey(key) {
		return "<redacted>"
	}
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeArgValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeArgValue(key, item, depth+1))
		}
		return out
	case string:
		return truncateLogString(typed)
	default:
		return value
	}
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
