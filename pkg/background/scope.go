package background

import (
	"context"
	"sync"
)

// Scope - cancellable group of background goroutines.
// Members are started with Go and share the scope context,
// which is cancelled by Cancel or by the cancel func returned from NewScope.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	members sync.WaitGroup
}

// NewScope - builds scope derived from parent context.
// The returned func cancels the scope and blocks until all members are done.
func NewScope(parent context.Context) (scope *Scope, stop func()) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{ctx: ctx, cancel: cancel}
	return s, func() {
		s.Cancel()
		s.members.Wait()
	}
}

// Context - returns scope context, it is done when scope is cancelled.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Go - runs f as scope member in a new goroutine.
// Returns false and does not run f when the scope is cancelled already.
func (s *Scope) Go(f func(ctx context.Context)) bool {
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return false
	}
	s.members.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.members.Done()
		f(s.ctx)
	}()
	return true
}

// Cancel - cancels scope context without waiting for members.
func (s *Scope) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel()
}

// Wait - blocks until all members are done or ctx is expired.
// Returns ctx error in the last case.
func (s *Scope) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.members.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
