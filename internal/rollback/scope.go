// Package rollback implements the compensation-scope pattern usermgr's
// multi-step orchestration operations use to undo partial work: each
// step that succeeds pushes its own undo action onto a LIFO scope, and
// if a later step fails the scope unwinds newest-first.
package rollback

import (
	"context"

	"go.uber.org/zap"
)

// compensation is one undo action, deferred until the scope unwinds.
type compensation struct {
	fn    func(context.Context) error
	async bool
}

// Scope accumulates compensations for a single multi-step operation.
// It is not safe for concurrent use: a single goroutine drives one
// usermgr operation end to end.
type Scope struct {
	log           *zap.Logger
	compensations []compensation
}

// New creates an empty rollback scope. log may be nil, in which case
// compensation failures during Unwind are discarded rather than
// logged.
func New(log *zap.Logger) *Scope {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scope{log: log}
}

// Push registers fn to run, synchronously with the rest of the unwind,
// if the scope is later unwound.
func (s *Scope) Push(fn func(context.Context) error) {
	s.compensations = append(s.compensations, compensation{fn: fn})
}

// PushAsync registers fn to run on its own goroutine during unwind,
// without blocking the remaining compensations. Used for steps whose
// undo (e.g. a cache flush) need not complete before the next
// compensation starts.
func (s *Scope) PushAsync(fn func(context.Context) error) {
	s.compensations = append(s.compensations, compensation{fn: fn, async: true})
}

// Discard clears the scope without running any compensation. Call this
// once an operation has fully succeeded.
func (s *Scope) Discard() {
	s.compensations = nil
}

// Unwind runs every registered compensation in newest-first (LIFO)
// order. A compensation that returns an error is logged but does not
// stop the unwind from continuing to older entries. Async
// compensations are started in LIFO order but not waited on.
func (s *Scope) Unwind(ctx context.Context) {
	for i := len(s.compensations) - 1; i >= 0; i-- {
		c := s.compensations[i]
		if c.async {
			go s.run(ctx, c)
			continue
		}
		s.run(ctx, c)
	}
	s.compensations = nil
}

func (s *Scope) run(ctx context.Context, c compensation) {
	if err := c.fn(ctx); err != nil {
		s.log.Warn("rollback compensation failed", zap.Error(err))
	}
}
