package scrape

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

// fakeScraper answers by comic title.
type fakeScraper struct {
	mu       sync.Mutex
	failures map[string]int // remaining transient failures per title
	calls    map[string]int
	block    chan struct{} // when set, "slow" waits on it or ctx
}

func newFakeScraper() *fakeScraper {
	return &fakeScraper{failures: make(map[string]int), calls: make(map[string]int)}
}

func (f *fakeScraper) Scrape(ctx context.Context, req Request) (*Metadata, error) {
	f.mu.Lock()
	f.calls[req.ComicTitle]++
	remaining := f.failures[req.ComicTitle]
	if remaining > 0 {
		f.failures[req.ComicTitle] = remaining - 1
	}
	f.mu.Unlock()

	switch {
	case req.ComicTitle == "missing":
		return nil, Permanent(errors.New("not in catalog"))
	case req.ComicTitle == "slow":
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	case remaining > 0:
		return nil, errors.New("503 service unavailable")
	}
	return &Metadata{Title: req.ComicTitle, Synopsis: "about " + req.ComicTitle, Source: "fake"}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	applied map[string]*Metadata
	gone    map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{applied: make(map[string]*Metadata), gone: make(map[string]bool)}
}

func (s *fakeSink) ApplyScrape(_ context.Context, comicID string, md *Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone[comicID] {
		return domainerrors.NotFoundf("comic %s", comicID)
	}
	s.applied[comicID] = md
	return nil
}

func (s *fakeSink) get(comicID string) *Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied[comicID]
}

func titled(id, title string, order int) domain.ScrapeTask {
	t := newTask(id, "comic-"+title, domain.PriorityNew, order)
	t.ComicTitle = title
	return t
}

func TestPool_DrainsQueue(t *testing.T) {
	scraper := newFakeScraper()
	scraper.failures["flaky"] = 2
	sink := newFakeSink()
	sink.gone["comic-deleted"] = true

	rec := &recorder{}
	q := NewQueue(QueueOptions{Observers: []Observer{rec}}, testLogger())
	pool := NewPool(q, scraper, sink, PoolOptions{Workers: 3}, testLogger())

	for i, title := range []string{"berserk", "flaky", "missing", "deleted", "vagabond"} {
		require.NoError(t, q.Enqueue(titled("t-"+title, title, i)))
	}

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Pending == 0 && s.Running == 0
	}, 2*time.Second, 5*time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, 3, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Exhausted)
	assert.Equal(t, 1, stats.Cancelled)

	assert.Equal(t, "about berserk", sink.get("comic-berserk").Synopsis)
	assert.NotNil(t, sink.get("comic-flaky"))
	assert.Nil(t, sink.get("comic-missing"))

	scraper.mu.Lock()
	assert.Equal(t, 3, scraper.calls["flaky"])
	assert.Equal(t, 1, scraper.calls["missing"], "permanent failure is not retried")
	scraper.mu.Unlock()

	statuses := rec.statuses("t-flaky")
	assert.Equal(t, domain.TaskCompleted, statuses[len(statuses)-1])
}

func TestPool_SkipsTaskCancelledMidFlight(t *testing.T) {
	scraper := newFakeScraper()
	scraper.block = make(chan struct{})
	sink := newFakeSink()

	q := NewQueue(QueueOptions{}, testLogger())
	pool := NewPool(q, scraper, sink, PoolOptions{Workers: 1}, testLogger())
	require.NoError(t, q.Enqueue(titled("t-slow", "slow", 0)))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, q.CancelForComic("comic-slow"))
	close(scraper.block)

	require.Eventually(t, func() bool { return q.Stats().Cancelled == 1 }, time.Second, time.Millisecond)
	assert.Nil(t, sink.get("comic-slow"), "cancelled result is not stored")
}

func TestPool_StopInterruptsInFlight(t *testing.T) {
	scraper := newFakeScraper()
	scraper.block = make(chan struct{})
	rec := &recorder{}

	q := NewQueue(QueueOptions{Observers: []Observer{rec}}, testLogger())
	pool := NewPool(q, scraper, newFakeSink(), PoolOptions{Workers: 2}, testLogger())
	require.NoError(t, q.Enqueue(titled("t-slow", "slow", 0)))

	pool.Start()
	require.Eventually(t, func() bool { return q.Stats().Running == 1 }, time.Second, time.Millisecond)
	pool.Stop()

	statuses := rec.statuses("t-slow")
	assert.Equal(t, domain.TaskPending, statuses[len(statuses)-1])

	rec.mu.Lock()
	last := rec.tasks[len(rec.tasks)-1]
	rec.mu.Unlock()
	assert.Zero(t, last.RetryCount, "shutdown does not consume an attempt")
}

func TestPool_Timeout(t *testing.T) {
	scraper := newFakeScraper()
	scraper.block = make(chan struct{})
	defer close(scraper.block)

	q := NewQueue(QueueOptions{}, testLogger())
	pool := NewPool(q, scraper, newFakeSink(), PoolOptions{Workers: 1, Timeout: 10 * time.Millisecond}, testLogger())
	task := titled("t-slow", "slow", 0)
	task.MaxRetries = 1
	require.NoError(t, q.Enqueue(task))

	pool.Start()
	defer pool.Stop()

	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, q.Stats().Exhausted)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("eof")))
	assert.False(t, IsRetryable(Permanent(errors.New("404"))))
	assert.Nil(t, Permanent(nil))
}
