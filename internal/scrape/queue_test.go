package scrape

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

var epoch = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(id, comicID string, priority, order int) domain.ScrapeTask {
	t := domain.NewScrapeTask(id, &domain.Comic{ID: comicID, RootID: "root-1", Title: comicID}, domain.ScrapeFull, priority)
	t.CreatedAt = epoch.Add(time.Duration(order) * time.Second)
	return t
}

type recorder struct {
	mu    sync.Mutex
	tasks []domain.ScrapeTask
}

func (r *recorder) ScrapeTaskChanged(t domain.ScrapeTask) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recorder) statuses(id string) []domain.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TaskStatus
	for _, t := range r.tasks {
		if t.ID == id {
			out = append(out, t.Status)
		}
	}
	return out
}

func dequeue(t *testing.T, q *Queue) domain.ScrapeTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := q.DequeueNext(ctx)
	require.NoError(t, err)
	return task
}

func TestQueue_PriorityThenFIFO(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	for i, pri := range []int{5, 1, 5, 3} {
		require.NoError(t, q.Enqueue(newTask(string(rune('0'+i)), "c", pri, i)))
	}

	var order []string
	for range 4 {
		task := dequeue(t, q)
		assert.Equal(t, domain.TaskRunning, task.Status)
		order = append(order, task.ID)
	}
	assert.Equal(t, []string{"0", "2", "3", "1"}, order)
}

func TestQueue_SameCreationTimeKeepsInsertionOrder(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(newTask(id, "c", 1, 0)))
	}
	assert.Equal(t, "a", dequeue(t, q).ID)
	assert.Equal(t, "b", dequeue(t, q).ID)
	assert.Equal(t, "c", dequeue(t, q).ID)
}

func TestQueue_AtMostOneDequeue(t *testing.T) {
	const tasks, workers = 200, 16
	q := NewQueue(QueueOptions{}, testLogger())
	for i := range tasks {
		require.NoError(t, q.Enqueue(newTask(string(rune(0x4e00+i)), "c", i%4, i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if q.Len() == 0 {
					return
				}
				dctx, dcancel := context.WithTimeout(ctx, 50*time.Millisecond)
				task, err := q.DequeueNext(dctx)
				dcancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, tasks)
	for id, n := range seen {
		assert.Equal(t, 1, n, "task %s", id)
	}
	assert.Equal(t, tasks, q.Stats().Running)
}

func TestQueue_RetryKeepsPlaceInLine(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	require.NoError(t, q.Enqueue(newTask("first", "c1", 5, 0)))
	require.NoError(t, q.Enqueue(newTask("second", "c2", 5, 1)))

	task := dequeue(t, q)
	require.Equal(t, "first", task.ID)

	next, err := q.ReportOutcome(task.ID, FailedWithRetry(errors.New("timeout")))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, next.Status)
	assert.Equal(t, 1, next.RetryCount)
	assert.Equal(t, task.CreatedAt, next.CreatedAt)

	// A newer task of the same priority must not overtake the retry.
	require.NoError(t, q.Enqueue(newTask("third", "c3", 5, 2)))
	assert.Equal(t, "first", dequeue(t, q).ID)
	assert.Equal(t, "second", dequeue(t, q).ID)
}

func TestQueue_RetryExhaustion(t *testing.T) {
	rec := &recorder{}
	q := NewQueue(QueueOptions{Observers: []Observer{rec}}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t", "c", 1, 0)))

	var last domain.ScrapeTask
	for range domain.DefaultMaxRetries {
		task := dequeue(t, q)
		var err error
		last, err = q.ReportOutcome(task.ID, FailedWithRetry(errors.New("503")))
		require.NoError(t, err)
	}

	assert.Equal(t, domain.TaskFailed, last.Status)
	assert.Equal(t, last.MaxRetries, last.RetryCount)
	assert.Zero(t, q.Len(), "exhausted task is never re-enqueued")

	stats := q.Stats()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Exhausted)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.Running)

	assert.Equal(t, []domain.TaskStatus{
		domain.TaskPending,
		domain.TaskRunning, domain.TaskPending,
		domain.TaskRunning, domain.TaskPending,
		domain.TaskRunning, domain.TaskFailed,
	}, rec.statuses("t"))
}

func TestQueue_PermanentFailure(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t", "c", 1, 0)))
	task := dequeue(t, q)

	next, err := q.ReportOutcome(task.ID, OutcomeFor(Permanent(errors.New("no such title"))))
	require.NoError(t, err)
	assert.Equal(t, domain.TaskFailed, next.Status)
	assert.Zero(t, next.RetryCount)
	assert.Equal(t, Stats{Failed: 1}, q.Stats())
}

func TestQueue_ReportOutcomeUnknownTask(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	_, err := q.ReportOutcome("nope", Completed())
	assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
}

func TestQueue_EnqueueRejects(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	task := newTask("t", "c", 1, 0)
	require.NoError(t, q.Enqueue(task))

	err := q.Enqueue(task)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrAlreadyExists))

	running, err := newTask("r", "c", 1, 0).MarkStarted()
	require.NoError(t, err)
	err = q.Enqueue(running)
	assert.True(t, domainerrors.Is(err, domainerrors.ErrValidation))
}

func TestQueue_CancelForComic(t *testing.T) {
	rec := &recorder{}
	q := NewQueue(QueueOptions{Observers: []Observer{rec}}, testLogger())
	require.NoError(t, q.Enqueue(newTask("run", "doomed", 9, 0)))
	require.NoError(t, q.Enqueue(newTask("wait", "doomed", 1, 1)))
	require.NoError(t, q.Enqueue(newTask("other", "safe", 1, 2)))

	running := dequeue(t, q)
	require.Equal(t, "run", running.ID)

	assert.Equal(t, 2, q.CancelForComic("doomed"))
	assert.True(t, q.IsCancelled("run"))
	assert.Equal(t, []domain.TaskStatus{domain.TaskPending, domain.TaskCancelled}, rec.statuses("wait"))

	// The running attempt finishes, but its outcome is recorded as cancelled.
	next, err := q.ReportOutcome("run", Completed())
	require.NoError(t, err)
	assert.Equal(t, domain.TaskCancelled, next.Status)

	assert.Equal(t, "other", dequeue(t, q).ID)
	assert.Equal(t, 2, q.Stats().Cancelled)
}

func TestQueue_CancelForRoot(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	a := newTask("a", "c1", 1, 0)
	b := newTask("b", "c2", 1, 1)
	c := newTask("c", "c3", 1, 2)
	c.RootID = "root-2"
	for _, task := range []domain.ScrapeTask{a, b, c} {
		require.NoError(t, q.Enqueue(task))
	}

	assert.Equal(t, 2, q.CancelForRoot("root-1"))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "c", dequeue(t, q).ID)
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())

	got := make(chan string, 1)
	go func() {
		task, err := q.DequeueNext(context.Background())
		if err == nil {
			got <- task.ID
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(newTask("late", "c", 1, 0)))

	select {
	case id := <-got:
		assert.Equal(t, "late", id)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestQueue_DequeueHonorsContextAndClose(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.DequeueNext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() {
		_, err := q.DequeueNext(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("close did not wake dequeue")
	}
	assert.ErrorIs(t, q.Enqueue(newTask("x", "c", 1, 0)), ErrClosed)
}

func TestQueue_RetryBackoff(t *testing.T) {
	q := NewQueue(QueueOptions{RetryBackoff: 50 * time.Millisecond}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t", "c", 1, 0)))

	task := dequeue(t, q)
	_, err := q.ReportOutcome(task.ID, FailedWithRetry(errors.New("timeout")))
	require.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = q.DequeueNext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "retry is not due yet")

	again := dequeue(t, q)
	assert.Equal(t, "t", again.ID)
	assert.Equal(t, 1, again.RetryCount)
}

func TestQueue_CancelDelayedRetry(t *testing.T) {
	q := NewQueue(QueueOptions{RetryBackoff: time.Hour}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t", "c", 1, 0)))

	task := dequeue(t, q)
	_, err := q.ReportOutcome(task.ID, FailedWithRetry(errors.New("timeout")))
	require.NoError(t, err)

	assert.Equal(t, 1, q.CancelForComic("c"))
	assert.Zero(t, q.Len())
	assert.Equal(t, Stats{Cancelled: 1}, q.Stats())
}

func TestQueue_Interrupt(t *testing.T) {
	q := NewQueue(QueueOptions{}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t", "c", 1, 0)))
	task := dequeue(t, q)

	back, err := q.Interrupt(task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskPending, back.Status)
	assert.Zero(t, back.RetryCount)
	assert.Equal(t, "t", dequeue(t, q).ID)
}

func TestQueue_ObserversSeeTransitionsInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		last = make(map[string]domain.TaskStatus)
		seen []domain.TaskStatus
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	// last-writer-wins, like the task journal
	journal := ObserverFunc(func(task domain.ScrapeTask) {
		if task.Status == domain.TaskPending && task.RetryCount == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		defer mu.Unlock()
		last[task.ID] = task.Status
		seen = append(seen, task.Status)
	})
	q := NewQueue(QueueOptions{Observers: []Observer{journal}}, testLogger())
	require.NoError(t, q.Enqueue(newTask("t1", "c", 1, 0)))
	first := dequeue(t, q)

	retried := make(chan error, 1)
	go func() {
		_, err := q.ReportOutcome(first.ID, FailedWithRetry(errors.New("timeout")))
		retried <- err
	}()
	<-entered

	// a second worker picks the retry up while the retry is still being recorded
	completed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		second, err := q.DequeueNext(ctx)
		if err == nil {
			_, err = q.ReportOutcome(second.ID, Completed())
		}
		completed <- err
	}()

	select {
	case <-completed:
		t.Fatal("later transition delivered before the retry")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-retried)
	require.NoError(t, <-completed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.TaskCompleted, last["t1"])
	assert.Equal(t, []domain.TaskStatus{
		domain.TaskPending, domain.TaskRunning, domain.TaskPending, domain.TaskRunning, domain.TaskCompleted,
	}, seen)
}

func TestOutcomeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want outcomeKind
	}{
		{"success", nil, outcomeCompleted},
		{"transient", errors.New("connection reset"), outcomeRetry},
		{"deadline", context.DeadlineExceeded, outcomeRetry},
		{"permanent", Permanent(errors.New("404")), outcomePermanent},
		{"cancelled", context.Canceled, outcomePermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeFor(tt.err).kind)
		})
	}
}
