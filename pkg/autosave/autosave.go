// Package autosave persists the agent on a cron schedule whenever it has
// learned something since the last save.
package autosave

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/due/pkg/logger"
)

// SaveFunc writes the current agent state.
type SaveFunc func(ctx context.Context) error

type Scheduler struct {
	expr  string
	save  SaveFunc
	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	mu    sync.Mutex
	dirty bool
	saves int
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTimer replaces time.After, mainly for tests.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) { s.after = after }
}

// NewScheduler validates expr, a standard 5-field cron expression.
func NewScheduler(expr string, save SaveFunc, opts ...Option) (*Scheduler, error) {
	expr = strings.TrimSpace(expr)
	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid autosave schedule %q", expr)
	}
	s := &Scheduler{
		expr:  expr,
		save:  save,
		now:   time.Now,
		after: time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MarkDirty records that there is something new to save.
func (s *Scheduler) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Scheduler) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Next returns the first tick strictly after t.
func (s *Scheduler) Next(t time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, t, false)
}

// Run saves on every tick while dirty. On return it attempts a final save
// if anything is still unsaved.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.InfoCF("autosave", "Autosave scheduler started", map[string]interface{}{"schedule": s.expr})
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.Flush(flushCtx)
		logger.InfoC("autosave", "Autosave scheduler stopped")
	}()

	for {
		now := s.now()
		next, err := s.Next(now)
		if err != nil {
			return fmt.Errorf("compute next autosave: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(now)):
			_ = s.Flush(ctx) // logged and kept dirty by Flush
		}
	}
}

// Flush saves now if dirty. Failed saves leave the scheduler dirty.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	s.dirty = false
	s.mu.Unlock()

	err := s.save(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.dirty = true
		logger.ErrorCF("autosave", "Autosave failed", map[string]interface{}{"error": err})
		return err
	}
	s.saves++
	logger.DebugCF("autosave", "Autosave completed", map[string]interface{}{"saves": s.saves})
	return nil
}
