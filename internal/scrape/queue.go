package scrape

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// ErrClosed is returned by DequeueNext and Enqueue once the queue is closed.
var ErrClosed = errors.New("scrape queue closed")

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeRetry
	outcomePermanent
	outcomeCancelled
)

// Outcome is the result of one attempt, reported by a worker.
type Outcome struct {
	kind outcomeKind
	err  error
}

// Completed reports a successful attempt.
func Completed() Outcome { return Outcome{kind: outcomeCompleted} }

// FailedWithRetry reports a failure that consumes one attempt.
func FailedWithRetry(err error) Outcome { return Outcome{kind: outcomeRetry, err: err} }

// FailedPermanent reports a failure that ends the task immediately.
func FailedPermanent(err error) Outcome { return Outcome{kind: outcomePermanent, err: err} }

// Cancelled reports that the attempt was abandoned.
func Cancelled() Outcome { return Outcome{kind: outcomeCancelled} }

// OutcomeFor classifies a scrape error.
func OutcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return Completed()
	case IsRetryable(err):
		return FailedWithRetry(err)
	default:
		return FailedPermanent(err)
	}
}

// QueueOptions tunes a Queue.
type QueueOptions struct {
	// RetryBackoff delays re-insertion of a retried task by
	// RetryBackoff * 2^(retryCount-1). Zero re-inserts immediately.
	RetryBackoff time.Duration
	Observers    []Observer
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// Exhausted counts failures that used every attempt; it is part of Failed.
	Exhausted int `json:"exhausted"`
	Cancelled int `json:"cancelled"`
}

type runningTask struct {
	entry     *entry
	cancelled bool
}

type delayedTask struct {
	entry *entry
	timer *time.Timer
}

// Queue is a priority queue of pending scrape tasks.
// Dequeue marks the task running under the same lock that removes it,
// so a task is handed to at most one worker.
type Queue struct {
	mu      sync.Mutex
	pending taskHeap
	queued  map[string]*entry // pending, by task id
	running map[string]*runningTask
	delayed map[string]*delayedTask
	wake    chan struct{}
	closed  bool
	seq     uint64
	stats   Stats

	backoff   time.Duration
	observers []Observer
	logger    *slog.Logger

	// Observers see transitions in the order they were made under mu:
	// a ticket is taken under mu and notify waits for its turn.
	notifySeq  uint64 // guarded by mu
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	notifyTurn uint64 // guarded by notifyMu
}

// NewQueue creates an empty queue.
func NewQueue(opts QueueOptions, logger *slog.Logger) *Queue {
	q := &Queue{
		queued:    make(map[string]*entry),
		running:   make(map[string]*runningTask),
		delayed:   make(map[string]*delayedTask),
		wake:      make(chan struct{}),
		backoff:   opts.RetryBackoff,
		observers: opts.Observers,
		logger:    logger,
	}
	q.notifyCond = sync.NewCond(&q.notifyMu)
	return q
}

// AddObserver registers o for subsequent transitions.
// It must be called before the queue is in use.
func (q *Queue) AddObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

// Enqueue inserts a pending task.
func (q *Queue) Enqueue(task domain.ScrapeTask) error {
	if task.Status != domain.TaskPending {
		return domainerrors.Validationf("scrape task %s is %s, not pending", task.ID, task.Status)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.knownLocked(task.ID) {
		q.mu.Unlock()
		return domainerrors.AlreadyExistsf("scrape task %s already queued", task.ID)
	}
	q.seq++
	q.pushLocked(&entry{task: task, seq: q.seq})
	ticket := q.ticketLocked()
	q.mu.Unlock()

	q.notify(ticket, task)
	return nil
}

// DequeueNext blocks until a task is available and returns it running.
// It returns ctx.Err() when ctx is done and ErrClosed once the queue closes.
func (q *Queue) DequeueNext(ctx context.Context) (domain.ScrapeTask, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return domain.ScrapeTask{}, ErrClosed
		}
		if q.pending.Len() > 0 {
			e := heap.Pop(&q.pending).(*entry)
			delete(q.queued, e.task.ID)

			started, err := e.task.MarkStarted()
			if err != nil {
				// Only pending tasks are ever pushed.
				q.mu.Unlock()
				q.logger.Error("queued scrape task not pending", "task_id", e.task.ID, "error", err)
				return domain.ScrapeTask{}, err
			}
			e.task = started
			q.running[started.ID] = &runningTask{entry: e}
			q.stats.Pending--
			q.stats.Running++
			ticket := q.ticketLocked()
			q.mu.Unlock()

			q.notify(ticket, started)
			return started, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.ScrapeTask{}, ctx.Err()
		case <-wake:
		}
	}
}

// ReportOutcome applies the outcome of a running task's attempt and returns
// the task's new value. A task cancelled while running is recorded as
// cancelled whatever the outcome.
func (q *Queue) ReportOutcome(taskID string, outcome Outcome) (domain.ScrapeTask, error) {
	q.mu.Lock()
	rt, ok := q.running[taskID]
	if !ok {
		q.mu.Unlock()
		return domain.ScrapeTask{}, domainerrors.NotFoundf("scrape task %s is not running", taskID)
	}
	if rt.cancelled {
		outcome = Cancelled()
	}

	var (
		next domain.ScrapeTask
		err  error
	)
	task := rt.entry.task
	switch outcome.kind {
	case outcomeCompleted:
		next, err = task.MarkCompleted()
	case outcomeRetry:
		next, err = task.MarkFailedWithRetry(outcome.err)
	case outcomePermanent:
		next, err = task.MarkFailed(outcome.err)
	default:
		next, err = task.MarkCancelled()
	}
	if err != nil {
		q.mu.Unlock()
		q.logger.Error("invalid scrape task transition", "task_id", taskID, "error", err)
		return task, err
	}

	delete(q.running, taskID)
	q.stats.Running--
	switch next.Status {
	case domain.TaskCompleted:
		q.stats.Completed++
	case domain.TaskFailed:
		q.stats.Failed++
		if next.Exhausted() {
			q.stats.Exhausted++
		}
	case domain.TaskCancelled:
		q.stats.Cancelled++
	case domain.TaskPending:
		rt.entry.task = next
		q.requeueLocked(rt.entry)
	}
	ticket := q.ticketLocked()
	q.mu.Unlock()

	q.notify(ticket, next)
	return next, nil
}

// Interrupt puts a running task back as pending without charging an attempt.
// Workers use it when they are stopped mid-scrape.
func (q *Queue) Interrupt(taskID string) (domain.ScrapeTask, error) {
	q.mu.Lock()
	rt, ok := q.running[taskID]
	if !ok {
		q.mu.Unlock()
		return domain.ScrapeTask{}, domainerrors.NotFoundf("scrape task %s is not running", taskID)
	}
	next, err := rt.entry.task.MarkInterrupted()
	if err != nil {
		q.mu.Unlock()
		return rt.entry.task, err
	}
	delete(q.running, taskID)
	q.stats.Running--
	rt.entry.task = next
	if !q.closed {
		q.stats.Pending++
		q.queued[next.ID] = rt.entry
		heap.Push(&q.pending, rt.entry)
	}
	ticket := q.ticketLocked()
	q.mu.Unlock()

	q.notify(ticket, next)
	return next, nil
}

// CancelForComic cancels every task of a comic. Pending tasks are removed and
// marked cancelled; running ones are flagged so their outcome is recorded as
// cancelled. It returns how many tasks were affected.
func (q *Queue) CancelForComic(comicID string) int {
	return q.cancelWhere(func(t domain.ScrapeTask) bool { return t.ComicID == comicID })
}

// CancelForRoot cancels every task of every comic of a root.
func (q *Queue) CancelForRoot(rootID string) int {
	return q.cancelWhere(func(t domain.ScrapeTask) bool { return t.RootID == rootID })
}

func (q *Queue) cancelWhere(match func(domain.ScrapeTask) bool) int {
	q.mu.Lock()
	var (
		changed []domain.ScrapeTask
		flagged int
	)

	kept := q.pending[:0]
	for _, e := range q.pending {
		if !match(e.task) {
			kept = append(kept, e)
			continue
		}
		delete(q.queued, e.task.ID)
		changed = append(changed, q.cancelPendingLocked(e))
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	heap.Init(&q.pending)

	for id, d := range q.delayed {
		if !match(d.entry.task) {
			continue
		}
		d.timer.Stop()
		delete(q.delayed, id)
		changed = append(changed, q.cancelPendingLocked(d.entry))
	}

	for _, rt := range q.running {
		if match(rt.entry.task) && !rt.cancelled {
			rt.cancelled = true
			flagged++
		}
	}
	if len(changed) == 0 {
		q.mu.Unlock()
		return flagged
	}
	ticket := q.ticketLocked()
	q.mu.Unlock()

	q.notify(ticket, changed...)
	return len(changed) + flagged
}

func (q *Queue) cancelPendingLocked(e *entry) domain.ScrapeTask {
	next, err := e.task.MarkCancelled()
	if err != nil {
		q.logger.Error("invalid scrape task transition", "task_id", e.task.ID, "error", err)
		return e.task
	}
	q.stats.Pending--
	q.stats.Cancelled++
	return next
}

// IsCancelled reports whether a running task was cancelled mid-flight.
func (q *Queue) IsCancelled(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rt, ok := q.running[taskID]
	return ok && rt.cancelled
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Len returns the number of pending tasks, including delayed retries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len() + len(q.delayed)
}

// Close wakes every blocked DequeueNext and rejects further work.
// Pending tasks stay pending in the journal for the next start.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for id, d := range q.delayed {
		d.timer.Stop()
		delete(q.delayed, id)
	}
	close(q.wake)
}

func (q *Queue) knownLocked(id string) bool {
	if _, ok := q.queued[id]; ok {
		return true
	}
	if _, ok := q.running[id]; ok {
		return true
	}
	_, ok := q.delayed[id]
	return ok
}

func (q *Queue) pushLocked(e *entry) {
	q.queued[e.task.ID] = e
	heap.Push(&q.pending, e)
	q.stats.Pending++
	q.signalLocked()
}

func (q *Queue) requeueLocked(e *entry) {
	if q.closed {
		return
	}
	if q.backoff <= 0 {
		q.pushLocked(e)
		return
	}

	q.stats.Pending++
	delay := q.backoff << max(e.task.RetryCount-1, 0)
	id := e.task.ID
	q.delayed[id] = &delayedTask{
		entry: e,
		timer: time.AfterFunc(delay, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			d, ok := q.delayed[id]
			if !ok || q.closed {
				return
			}
			delete(q.delayed, id)
			q.queued[id] = d.entry
			heap.Push(&q.pending, d.entry)
			q.signalLocked()
		}),
	}
}

// signalLocked wakes every waiter in DequeueNext.
func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *Queue) ticketLocked() uint64 {
	t := q.notifySeq
	q.notifySeq++
	return t
}

// notify delivers tasks to every observer once all earlier tickets are
// delivered. Every ticket must be passed to notify exactly once.
func (q *Queue) notify(ticket uint64, tasks ...domain.ScrapeTask) {
	q.notifyMu.Lock()
	for q.notifyTurn != ticket {
		q.notifyCond.Wait()
	}
	q.notifyMu.Unlock()

	defer func() {
		q.notifyMu.Lock()
		q.notifyTurn++
		q.notifyCond.Broadcast()
		q.notifyMu.Unlock()
	}()
	for _, task := range tasks {
		for _, o := range q.observers {
			o.ScrapeTaskChanged(task)
		}
	}
}
