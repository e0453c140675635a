// Package cancel implements a one-shot cancellation signal that can be
// polled or waited on, and threaded through long-running turn/tool
// execution without pulling in a full context.Context at every call site
// that only cares about "should I stop now".
package cancel

import "sync"

// Token is a one-shot cancellation signal. The zero value is not usable;
// construct one with New. A Token may be shared by many goroutines: Cancel
// is idempotent and Wait/Done may be called concurrently.
type Token struct {
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
	canceled bool
	reason   string
}

// New returns a fresh, uncanceled Token.
func New() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token canceled with the given reason. Calling Cancel more
// than once is a no-op; only the first reason sticks.
func (t *Token) Cancel(reason string) {
	t.once.Do(func() {
		t.mu.Lock()
		t.canceled = true
		t.reason = reason
		t.mu.Unlock()
		close(t.done)
	})
}

// Canceled reports whether Cancel has been called.
func (t *Token) Canceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason passed to Cancel, or "" if not yet canceled.
func (t *Token) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Done returns a channel that is closed once the token is canceled. It is
// safe to select on Done from multiple goroutines.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
