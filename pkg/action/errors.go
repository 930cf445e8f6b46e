package action

import "errors"

var (
	// ErrUnknownAction is returned when invoking a name that is not registered.
	ErrUnknownAction = errors.New("unknown action")
	// ErrActionExecution wraps a handler failure.
	ErrActionExecution = errors.New("action execution failed")
	// ErrActionTimeout is returned when a pending action exceeds its timeout.
	ErrActionTimeout = errors.New("action timed out")
	// ErrActionCancelled is returned when a pending action was cancelled.
	ErrActionCancelled = errors.New("action cancelled")
	// ErrDuplicateAction is returned when registering a name twice.
	ErrDuplicateAction = errors.New("action already registered")
	// ErrInvalidAction is returned when registering an action without a
	// name, a handler or a valid schema.
	ErrInvalidAction = errors.New("invalid action")
	// ErrInvalidArguments is returned when arguments violate the schema.
	ErrInvalidArguments = errors.New("invalid action arguments")
)
