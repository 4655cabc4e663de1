package scrape

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/domain"
	domainerrors "github.com/shelfsync/shelfsync/internal/errors"
)

var errNoMetadata = errors.New("scraper returned no metadata")

// PoolOptions tunes a Pool.
type PoolOptions struct {
	Workers int
	// Timeout bounds one Scrape call. Zero means no limit.
	Timeout time.Duration
}

// Pool drains a Queue with a fixed number of workers.
type Pool struct {
	queue   *Queue
	scraper Scraper
	sink    Sink
	opts    PoolOptions
	logger  *slog.Logger

	ctx    context.Context //nolint:containedctx // worker lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool creates a pool; call Start to run it.
func NewPool(queue *Queue, scraper Scraper, sink Sink, opts PoolOptions, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   queue,
		scraper: scraper,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers.
func (p *Pool) Start() {
	p.logger.Info("starting scrape workers", "workers", p.opts.Workers)
	for i := range p.opts.Workers {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels in-flight scrapes, waits for the workers and closes the
// queue. Interrupted tasks are left pending for the next start.
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.logger.Info("stopping scrape workers")
		p.cancel()
		p.wg.Wait()
		p.queue.Close()
		p.logger.Info("scrape workers stopped")
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug("scrape worker started", "worker_id", id)

	for {
		task, err := p.queue.DequeueNext(p.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				p.logger.Error("dequeue failed", "worker_id", id, "error", err)
			}
			p.logger.Debug("scrape worker stopping", "worker_id", id)
			return
		}
		p.process(id, task)
	}
}

// process runs one attempt of task and reports its outcome.
func (p *Pool) process(workerID int, task domain.ScrapeTask) {
	log := p.logger.With("worker_id", workerID, "task_id", task.ID, "comic_id", task.ComicID)

	if p.queue.IsCancelled(task.ID) {
		p.report(log, task, Cancelled())
		return
	}

	ctx := p.ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	md, err := p.scraper.Scrape(ctx, Request{
		ComicID:    task.ComicID,
		ComicTitle: task.ComicTitle,
		ScrapeType: task.ScrapeType,
	})

	// Shutdown: hand the task back untouched.
	if p.ctx.Err() != nil {
		if _, ierr := p.queue.Interrupt(task.ID); ierr != nil {
			log.Warn("failed to interrupt scrape task", "error", ierr)
		}
		return
	}

	if err == nil && md == nil {
		err = Permanent(errNoMetadata)
	}
	if err == nil && !p.queue.IsCancelled(task.ID) {
		err = p.sink.ApplyScrape(ctx, task.ComicID, md)
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			log.Info("comic vanished before scrape was stored")
			p.report(log, task, Cancelled())
			return
		}
	}

	p.report(log, task, OutcomeFor(err))
}

func (p *Pool) report(log *slog.Logger, task domain.ScrapeTask, outcome Outcome) {
	next, err := p.queue.ReportOutcome(task.ID, outcome)
	if err != nil {
		log.Error("failed to report scrape outcome", "error", err)
		return
	}

	switch next.Status {
	case domain.TaskCompleted:
		log.Info("scrape completed", "title", task.ComicTitle)
	case domain.TaskPending:
		log.Warn("scrape failed, will retry", "retry_count", next.RetryCount, "error", next.Error)
	case domain.TaskFailed:
		log.Warn("scrape failed", "retry_count", next.RetryCount, "exhausted", next.Exhausted(), "error", next.Error)
	case domain.TaskCancelled:
		log.Debug("scrape cancelled")
	}
}
