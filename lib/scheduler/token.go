package scheduler

import (
	"sync"
	"sync/atomic"
)

// Token is a cooperative cancellation flag shared by every unit of
// work belonging to one job. Once cancelled it stays cancelled.
//
// The zero value is not usable, use NewToken.
type Token struct {
	cancelled atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// NewToken returns a token which has not been cancelled
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel marks the token as cancelled. It is safe to call more than
// once and from several goroutines.
func (t *Token) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.done)
	})
}

// Cancelled reports whether Cancel has been called
func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}

// Done returns a channel which is closed by the first Cancel
func (t *Token) Done() <-chan struct{} {
	return t.done
}
