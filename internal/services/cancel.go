package services

import "sync"

// Cancellation is a cooperative stop request. Holders poll Cancelled at
// checkpoints and let in-flight work finish.
type Cancellation struct {
	once sync.Once
	done chan struct{}
}

// NewCancellation returns an untriggered token.
func NewCancellation() *Cancellation {
	return &Cancellation{done: make(chan struct{})}
}

// Cancel requests a stop. Safe to call more than once.
func (c *Cancellation) Cancel() {
	if c == nil {
		return
	}
	c.once.Do(func() { close(c.done) })
}

// Cancelled reports whether Cancel has been called. A nil token is never cancelled.
func (c *Cancellation) Cancelled() bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on Cancel. A nil token returns nil.
func (c *Cancellation) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}
