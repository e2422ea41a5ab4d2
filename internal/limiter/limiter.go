// Package limiter provides the turn-serialization and global-concurrency
// primitives AgentSession and AgentPool need: one in-flight turn per
// provider identity, and a process-wide cap on concurrently running
// ephemeral agents.
package limiter

import "context"

// TurnLock serializes turns against a single provider thread: only one
// caller may hold the lock at a time, in FIFO acquisition order. It is a
// thin wrapper over a buffered channel used as a mutex, which plays nicely
// with context cancellation (a plain sync.Mutex does not).
type TurnLock struct {
	ch chan struct{}
}

// NewTurnLock returns an unlocked TurnLock.
func NewTurnLock() *TurnLock {
	l := &TurnLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire blocks until the lock is held or ctx is done.
func (l *TurnLock) Acquire(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires the lock without blocking, reporting whether it
// succeeded.
func (l *TurnLock) TryAcquire() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Release returns the lock. Releasing an unlocked TurnLock is a no-op.
func (l *TurnLock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Locked reports whether the lock is currently held, for status surfaces
// like WINDOW_AGENT_STATUS.
func (l *TurnLock) Locked() bool {
	return len(l.ch) == 0
}

// Semaphore bounds the number of concurrently running ephemeral agents
// across the process (AgentPool's global overflow limit); one Semaphore is
// shared by every session.
type Semaphore struct {
	tokens chan struct{}
}

// NewSemaphore creates a Semaphore allowing up to n concurrent holders.
func NewSemaphore(n int) *Semaphore {
	if n <= 0 {
		n = 1
	}
	return &Semaphore{tokens: make(chan struct{}, n)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire claims a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. Releasing past zero held slots is a no-op.
func (s *Semaphore) Release() {
	select {
	case <-s.tokens:
	default:
	}
}

// InUse returns the number of slots currently held.
func (s *Semaphore) InUse() int {
	return len(s.tokens)
}
