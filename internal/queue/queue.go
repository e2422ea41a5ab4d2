// Package queue implements the bounded FIFO queues that serialize
// main-agent and per-window-agent work: MainQueuePolicy (keyed by monitor)
// and WindowQueuePolicy (keyed by window/group agent key) are both instances
// of the same Policy with a different key space.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Sentinel errors.
var (
	ErrQueueFull   = errors.New("queue full")
	ErrKeyClosed   = errors.New("queue closed for this key")
	ErrCancelled   = errors.New("task cancelled")
)

// Task is one unit of queued work.
type Task struct {
	Key    string
	Fn     func(context.Context) error
	Ctx    context.Context
	Cancel context.CancelFunc
	Result chan error
}

type keyQueue struct {
	tasks       chan *Task
	closed      atomic.Bool
	closeCh     chan struct{}
	closeOnce   sync.Once
	currentMu   sync.Mutex
	currentTask *Task
}

// Policy serializes work per key (one FIFO per monitor, or per window agent
// key) while letting different keys run concurrently — the shape required
// by both MainQueuePolicy (§4.9, one queue per monitor) and
// WindowQueuePolicy (one queue per window/group agent key).
type Policy struct {
	queues      sync.Map // map[string]*keyQueue
	wg          sync.WaitGroup
	closed      atomic.Bool
	mu          sync.Mutex
	idleTimeout time.Duration
	queueSize   int
}

// NewPolicy creates a Policy. queueSize <= 0 defaults to 100; idleTimeout <=
// 0 defaults to 30s (a key's worker exits after that much idle time and is
// recreated lazily on the next Enqueue).
func NewPolicy(queueSize int, idleTimeout time.Duration) *Policy {
	if queueSize <= 0 {
		queueSize = 100
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Second
	}
	return &Policy{queueSize: queueSize, idleTimeout: idleTimeout}
}

// Enqueue adds fn to key's FIFO queue and returns a channel for its result.
// Tasks for the same key execute strictly in enqueue order; different keys
// run in parallel.
func (p *Policy) Enqueue(key string, ctx context.Context, fn func(context.Context) error) (<-chan error, error) {
	if p.closed.Load() {
		return nil, ErrQueueFull
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		Key:    key,
		Fn:     fn,
		Ctx:    taskCtx,
		Cancel: cancel,
		Result: make(chan error, 1),
	}

	kq := p.getOrCreate(key)
	if kq.closed.Load() {
		cancel()
		return nil, ErrKeyClosed
	}

	select {
	case kq.tasks <- task:
		return task.Result, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	default:
		cancel()
		return nil, ErrQueueFull
	}
}

func (p *Policy) getOrCreate(key string) *keyQueue {
	if v, ok := p.queues.Load(key); ok {
		kq := v.(*keyQueue)
		if !kq.closed.Load() {
			return kq
		}
		p.queues.Delete(key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.queues.Load(key); ok {
		kq := v.(*keyQueue)
		if !kq.closed.Load() {
			return kq
		}
		p.queues.Delete(key)
	}

	kq := &keyQueue{
		tasks:   make(chan *Task, p.queueSize),
		closeCh: make(chan struct{}),
	}
	p.queues.Store(key, kq)

	p.wg.Add(1)
	go p.worker(key, kq)

	return kq
}

func (p *Policy) worker(key string, kq *keyQueue) {
	defer p.wg.Done()
	defer func() {
		kq.closed.Store(true)
		p.queues.Delete(key)
	}()

	idleTimer := time.NewTimer(p.idleTimeout)
	defer idleTimer.Stop()

	for {
		select {
		case task, ok := <-kq.tasks:
			if !ok {
				return
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(p.idleTimeout)

			var err error
			func() {
				defer func() {
					if r := recover(); r != nil {
						err = ErrCancelled
					}
				}()
				kq.currentMu.Lock()
				kq.currentTask = task
				kq.currentMu.Unlock()
				err = task.Fn(task.Ctx)
				kq.currentMu.Lock()
				kq.currentTask = nil
				kq.currentMu.Unlock()
			}()
			task.Result <- err
			close(task.Result)

		case <-idleTimer.C:
			return

		case <-kq.closeCh:
			return
		}
	}
}

// Cancel cancels key's in-flight task (if any) and stops its worker.
func (p *Policy) Cancel(key string) {
	v, ok := p.queues.Load(key)
	if !ok {
		return
	}
	kq := v.(*keyQueue)
	kq.currentMu.Lock()
	if kq.currentTask != nil && kq.currentTask.Cancel != nil {
		kq.currentTask.Cancel()
	}
	kq.currentMu.Unlock()
	kq.closed.Store(true)
	kq.closeOnce.Do(func() { close(kq.closeCh) })
}

// Pending returns the number of queued (not yet started) tasks for key.
func (p *Policy) Pending(key string) int {
	if v, ok := p.queues.Load(key); ok {
		return len(v.(*keyQueue).tasks)
	}
	return 0
}

// ActiveKeys returns the number of keys with a live worker.
func (p *Policy) ActiveKeys() int {
	count := 0
	p.queues.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Shutdown closes every key's queue and waits for workers to drain, or ctx
// to be done.
func (p *Policy) Shutdown(ctx context.Context) error {
	p.closed.Store(true)

	p.queues.Range(func(_, value any) bool {
		kq := value.(*keyQueue)
		kq.closed.Store(true)
		kq.closeOnce.Do(func() { close(kq.closeCh) })
		return true
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
