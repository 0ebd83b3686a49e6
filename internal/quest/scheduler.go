package quest

import (
	"context"
	"fmt"
	"sync"

	"k8s.io/klog/v2"
)

// schedulingQueueCapacity bounds the scheduler's backpressure (spec §4.1).
const schedulingQueueCapacity = 1000

// ErrSchedulerFull is returned by Schedule when the bounded queue is full.
var ErrSchedulerFull = fmt.Errorf("quest: scheduler queue is full")

// ErrSchedulerShutdown is returned by Schedule once shutdown has begun.
var ErrSchedulerShutdown = fmt.Errorf("quest: scheduler was shutdown")

// Func is the body a quest runs. ctx is cancelled when the scheduler is
// asked to shut down; a well-behaved quest body checks ctx.Err() at its
// suspension points.
type Func func(ctx context.Context, q *Quest) error

type scheduledItem struct {
	quest *Quest
	fn    Func
	done  chan error
}

// Master is the single control task that owns the scheduling queue and
// drives quests to completion; quests run in independent goroutines so
// their futures proceed in parallel (spec §4.1).
type Master struct {
	mu       sync.Mutex
	queue    chan scheduledItem
	shutdown chan shutdownSignal
	closed   bool

	registryMu sync.Mutex
	registry   map[ID]*Quest

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type shutdownSignal struct {
	fn   func(ctx context.Context) error
	done chan error
}

// NewMaster starts the control task and returns a Master ready to accept
// scheduled quests.
func NewMaster() *Master {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Master{
		queue:    make(chan scheduledItem, schedulingQueueCapacity),
		shutdown: make(chan shutdownSignal, 1),
		registry: make(map[ID]*Quest),
		ctx:      ctx,
		cancel:   cancel,
	}
	go m.run()
	return m
}

func (m *Master) run() {
	for {
		select {
		case sig, ok := <-m.shutdown:
			if !ok {
				return
			}
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()
			m.cancel()
			m.wg.Wait()

			q := newQuest("shutdown")
			m.registryMu.Lock()
			m.registry[q.ID] = q
			m.registryMu.Unlock()
			q.begin()
			err := sig.fn(context.Background())
			if err != nil {
				q.finish(Failed, err)
			} else {
				q.finish(Success, nil)
			}
			sig.done <- err
			close(sig.done)
			return
		case item, ok := <-m.queue:
			if !ok {
				continue
			}
			m.runQuest(item)
		}
	}
}

func (m *Master) runQuest(item scheduledItem) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		q := item.quest
		q.begin()
		err := m.execute(q, item.fn)
		item.done <- err
		close(item.done)
	}()
}

// execute runs fn, recovering panics into Failed the way spec §4.1
// describes ("Panics inside a worker are caught, logged, and reported as
// Failed").
func (m *Master) execute(q *Quest, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("quest %s (%s) panicked: %v", q.ID, q.Description, r)
			err = fmt.Errorf("panic: %v", r)
			q.finish(Failed, err)
		}
	}()

	runErr := fn(m.ctx, q)
	if q.State() == Skipped {
		return nil
	}
	if runErr != nil {
		q.finish(Failed, runErr)
		return runErr
	}
	q.finish(Success, nil)
	return nil
}

// Schedule enqueues a new top-level quest and returns its ID immediately
// along with a channel that resolves when it finishes.
func (m *Master) Schedule(desc string, fn Func) (ID, <-chan error, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", nil, ErrSchedulerShutdown
	}

	q := newQuest(desc)
	m.registryMu.Lock()
	m.registry[q.ID] = q
	m.registryMu.Unlock()

	done := make(chan error, 1)
	select {
	case m.queue <- scheduledItem{quest: q, fn: fn, done: done}:
		return q.ID, done, nil
	default:
		q.finish(Failed, ErrSchedulerFull)
		return q.ID, nil, ErrSchedulerFull
	}
}

// CreateSubQuest registers a child quest whose future is awaited inline by
// the caller — i.e. the caller is expected to call the returned run
// function itself and block on it.
func CreateSubQuest(parent *Quest, desc string, fn func(ctx context.Context, sub *Quest) error) (*Quest, func(ctx context.Context) error) {
	sub := newQuest(desc)
	parent.addSubQuest(sub)
	run := func(ctx context.Context) error {
		sub.begin()
		defer func() {
			if r := recover(); r != nil {
				sub.finish(Failed, fmt.Errorf("panic: %v", r))
			}
		}()
		err := fn(ctx, sub)
		if sub.State() == Skipped {
			return nil
		}
		if err != nil {
			sub.finish(Failed, err)
			return err
		}
		sub.finish(Success, nil)
		return nil
	}
	return sub, run
}

// SpawnSubQuest registers a child quest that runs concurrently; the parent
// only holds a handle and may inspect sub.State()/sub.Progress() later.
// The returned channel resolves with the child's error once it finishes.
func SpawnSubQuest(ctx context.Context, parent *Quest, desc string, fn func(ctx context.Context, sub *Quest) error) (*Quest, <-chan error) {
	sub, run := CreateSubQuest(parent, desc, fn)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx)
		close(done)
	}()
	return sub, done
}

// Skip marks q as explicitly Skipped; used by quest bodies that decide
// mid-flight there is nothing to do.
func Skip(q *Quest, reason string) {
	q.SetDetail(reason)
	q.finish(Skipped, nil)
}

// Get returns a snapshot of a registered quest tree by ID.
func (m *Master) Get(id ID) (Snapshot, bool) {
	m.registryMu.Lock()
	q, ok := m.registry[id]
	m.registryMu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return q.Snapshot(), true
}

// List returns snapshots of every registered quest.
func (m *Master) List() []Snapshot {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	out := make([]Snapshot, 0, len(m.registry))
	for _, q := range m.registry {
		out = append(out, q.Snapshot())
	}
	return out
}

// ErrStillRunning is returned by Delete for an unfinished quest.
var ErrStillRunning = fmt.Errorf("quest: still running")

// Delete removes a finished quest from the registry.
func (m *Master) Delete(id ID) error {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	q, ok := m.registry[id]
	if !ok {
		return nil
	}
	if !q.State().IsFinished() {
		return ErrStillRunning
	}
	delete(m.registry, id)
	return nil
}

// ShutdownWith closes the scheduling queue, runs fn as a terminal quest,
// and returns its result. It blocks until fn completes.
func (m *Master) ShutdownWith(fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	m.shutdown <- shutdownSignal{fn: fn, done: done}
	close(m.shutdown)
	return <-done
}
