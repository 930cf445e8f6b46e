package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/due/pkg/logger"
	"github.com/m-mizutani/goerr/v2"
)

// Invocation is a running action handler.
type Invocation struct {
	ID      string
	Action  Action
	Args    map[string]interface{}
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	result   map[string]interface{}
	err      error
	finished time.Time
}

// Start runs the handler in its own goroutine. The handler context keeps
// ctx's values but not its deadline, so an async action outlives the turn
// that started it; use Cancel or Await's timeout to stop it.
func Start(ctx context.Context, a Action, id string, args map[string]interface{}) *Invocation {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv := &Invocation{
		ID:      id,
		Action:  a,
		Args:    args,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	logger.InfoCF("action", "Action execution started",
		map[string]interface{}{
			"action":        a.Name,
			"invocation_id": id,
			"mode":          string(a.Mode),
			"args":          SanitizeArgs(args),
		})

	go inv.run(hctx)
	return inv
}

func (inv *Invocation) run(ctx context.Context) {
	defer close(inv.done)
	defer inv.cancel()

	var (
		res map[string]interface{}
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		res, err = inv.Action.Handler(ctx, inv.Args)
	}()

	inv.mu.Lock()
	inv.result, inv.err, inv.finished = res, err, time.Now()
	inv.mu.Unlock()

	fields := map[string]interface{}{
		"action":        inv.Action.Name,
		"invocation_id": inv.ID,
		"duration_ms":   time.Since(inv.Started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		logger.ErrorCF("action", "Action execution failed", fields)
		return
	}
	logger.InfoCF("action", "Action execution completed", fields)
}

// Done is closed once the handler returned.
func (inv *Invocation) Done() <-chan struct{} { return inv.done }

// Cancel signals the handler context. Only handlers registered as
// Cancellable are expected to stop early.
func (inv *Invocation) Cancel() { inv.cancel() }

// Cancellable reports whether the handler honours cancellation.
func (inv *Invocation) Cancellable() bool { return inv.Action.Cancellable }

// Await waits for the handler to finish, at most timeout when positive.
// A timeout cancels the handler context and returns ErrActionTimeout; a
// handler error is wrapped in ErrActionExecution.
func (inv *Invocation) Await(ctx context.Context, timeout time.Duration) (map[string]interface{}, error) {
	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case <-inv.done:
		return inv.Result()
	case <-expire:
		inv.cancel()
		return nil, goerr.Wrap(ErrActionTimeout, "await action",
			goerr.V("action", inv.Action.Name), goerr.V("invocation_id", inv.ID), goerr.V("timeout", timeout.String()))
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "await action",
			goerr.V("action", inv.Action.Name), goerr.V("invocation_id", inv.ID))
	}
}

// Result returns the outcome of a finished invocation.
func (inv *Invocation) Result() (map[string]interface{}, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.err != nil {
		return nil, goerr.Wrap(ErrActionExecution, inv.err.Error(),
			goerr.V("action", inv.Action.Name), goerr.V("invocation_id", inv.ID))
	}
	return inv.result, nil
}
