package actor

import (
	"context"
	"sync"
)

// waiter is the single pending pattern-filtered receive a Mailbox may hold
// at a time.
type waiter struct {
	pattern Pattern
	result  chan matchResult
}

type matchResult struct {
	captures []interface{}
}

// Mailbox is a FIFO of opaque messages plus at most one waiter. Installing
// a second waiter while one is outstanding is a programming error
// (ErrMailboxBusy).
type Mailbox struct {
	mu       sync.Mutex
	messages []interface{}
	w        *waiter
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Put appends msg to the FIFO unless a waiter is installed whose pattern
// matches msg, in which case the waiter is completed directly and msg is
// never enqueued.
func (m *Mailbox) Put(msg interface{}) {
	m.mu.Lock()
	if m.w != nil {
		if ok, captures := Match(m.w.pattern, msg); ok {
			w := m.w
			m.w = nil
			m.mu.Unlock()
			w.result <- matchResult{captures}
			return
		}
	}
	m.messages = append(m.messages, msg)
	m.mu.Unlock()
}

// Get scans the FIFO in order for an entry matching pattern (nil pattern
// matches anything). The first match is removed and its captures returned.
// If nothing matches, a waiter is installed and Get blocks until a Put
// satisfies it or ctx is cancelled, in which case the waiter is removed and
// ctx.Err() is returned.
//
// Installing a waiter while one already exists returns ErrMailboxBusy
// without blocking.
func (m *Mailbox) Get(ctx context.Context, pattern Pattern) ([]interface{}, error) {
	if pattern == nil {
		pattern = Any
	}
	m.mu.Lock()
	for i, msg := range m.messages {
		if ok, captures := Match(pattern, msg); ok {
			m.messages = append(m.messages[:i:i], m.messages[i+1:]...)
			m.mu.Unlock()
			return captures, nil
		}
	}
	if m.w != nil {
		m.mu.Unlock()
		return nil, ErrMailboxBusy
	}
	w := &waiter{pattern: pattern, result: make(chan matchResult, 1)}
	m.w = w
	m.mu.Unlock()

	select {
	case r := <-w.result:
		return r.captures, nil
	case <-ctx.Done():
		m.mu.Lock()
		if m.w == w {
			m.w = nil
		}
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Len returns the current FIFO depth, excluding any installed waiter.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Peek returns a snapshot of the current FIFO contents, for debugging and
// tests. It does not consume messages.
func (m *Mailbox) Peek() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interface{}, len(m.messages))
	copy(out, m.messages)
	return out
}
