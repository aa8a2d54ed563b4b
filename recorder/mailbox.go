package recorder

import "sync"

// mailbox is an unbounded FIFO of closures run by the session loop.
// push never blocks, so capture and playback goroutines can post while
// the loop is busy waiting on them.
type mailbox struct {
	mu      sync.Mutex
	pending []func()
	signal  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(fn func()) {
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}
