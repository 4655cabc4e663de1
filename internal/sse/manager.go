package sse

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shelfsync/shelfsync/internal/id"
)

const (
	queueSize      = 1000
	subscriberSize = 100
)

// Subscriber is one open event stream.
type Subscriber struct {
	id     string
	rootID string
	since  time.Time
	ch     chan Event
	closed chan struct{}
}

// ID returns the subscriber id sent in the connected frame.
func (s *Subscriber) ID() string { return s.id }

// Events delivers the subscriber's events. It is closed on Unsubscribe
// and on manager shutdown.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Closed is closed together with Events.
func (s *Subscriber) Closed() <-chan struct{} { return s.closed }

// wants reports whether ev passes the subscriber's root filter.
// Unscoped events reach everyone.
func (s *Subscriber) wants(ev Event) bool {
	return s.rootID == "" || ev.RootID == "" || s.rootID == ev.RootID
}

func (s *Subscriber) close() {
	close(s.closed)
	close(s.ch)
}

// syncTracker follows sync lifecycle events to know which roots are
// mid-sync.
type syncTracker struct {
	mu     sync.RWMutex
	active map[string]string // root id -> scan task id
}

func (t *syncTracker) observe(ev Event) {
	if !ev.lifecycle() || ev.RootID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ev.Type != EventScanStarted {
		delete(t.active, ev.RootID)
		return
	}
	if data, ok := ev.Data.(ScanEventData); ok {
		t.active[ev.RootID] = data.TaskID
	}
}

func (t *syncTracker) roots() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.active))
}

// Manager fans sync events out to subscribers. Emit never blocks: events
// go through a bounded queue, and a subscriber that falls behind loses
// events rather than stalling a sync.
type Manager struct {
	logger *slog.Logger

	subsMu sync.RWMutex
	subs   map[string]*Subscriber

	// queueMu guards closing queue against concurrent Emit.
	queueMu sync.RWMutex
	queue   chan Event
	closed  bool

	loop    sync.WaitGroup
	tracker syncTracker
}

// NewManager creates a Manager. Call Start to begin delivery.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:  logger,
		subs:    make(map[string]*Subscriber),
		queue:   make(chan Event, queueSize),
		tracker: syncTracker{active: make(map[string]string)},
	}
}

// Start delivers queued events until the queue is closed by Shutdown or
// ctx ends. Run it in its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	m.loop.Add(1)
	defer m.loop.Done()

	m.logger.Info("event delivery started")
	for {
		select {
		case ev, ok := <-m.queue:
			if !ok {
				return
			}
			m.deliver(ev)
		case <-ctx.Done():
			m.logger.Info("event delivery stopped")
			m.closeSubscribers()
			return
		}
	}
}

// Shutdown refuses further events, delivers what is still queued unless
// ctx ends first, then closes every subscriber. Calling it again is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.queueMu.Lock()
	if m.closed {
		m.queueMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.queueMu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		// Start may never have run; whatever it left is delivered here in order.
		m.loop.Wait()
		for ev := range m.queue {
			m.deliver(ev)
		}
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		m.logger.Warn("event queue not drained before shutdown deadline")
	}

	m.closeSubscribers()
	m.logger.Info("event manager shut down")
	return nil
}

// Emit queues ev for delivery. It drops ev when the queue is full or the
// manager is shut down.
func (m *Manager) Emit(ev Event) {
	m.queueMu.RLock()
	defer m.queueMu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("event queue full, dropping event",
			slog.String("event_type", string(ev.Type)),
			slog.String("root_id", ev.RootID))
	}
}

func (m *Manager) deliver(ev Event) {
	m.tracker.observe(ev)

	m.subsMu.RLock()
	defer m.subsMu.RUnlock()

	var sent, skipped, dropped int
	for _, sub := range m.subs {
		if !sub.wants(ev) {
			skipped++
			continue
		}
		select {
		case sub.ch <- ev:
			sent++
		default:
			dropped++
		}
	}

	if dropped > 0 {
		m.logger.Warn("slow subscribers missed an event",
			slog.String("event_type", string(ev.Type)),
			slog.Int("dropped", dropped))
	}
	if ev.Type != EventHeartbeat {
		m.logger.Debug("event delivered",
			slog.String("event_type", string(ev.Type)),
			slog.String("root_id", ev.RootID),
			slog.Group("subscribers",
				slog.Int("sent", sent),
				slog.Int("skipped", skipped),
				slog.Int("dropped", dropped)))
	}
}

// Subscribe opens a stream. A non-empty rootID limits it to that root's
// events plus unscoped ones.
func (m *Manager) Subscribe(rootID string) (*Subscriber, error) {
	subID, err := id.Generate("sse")
	if err != nil {
		return nil, err
	}
	sub := &Subscriber{
		id:     subID,
		rootID: rootID,
		since:  time.Now(),
		ch:     make(chan Event, subscriberSize),
		closed: make(chan struct{}),
	}

	m.subsMu.Lock()
	m.subs[sub.id] = sub
	n := len(m.subs)
	m.subsMu.Unlock()

	m.logger.Info("subscriber connected",
		slog.String("subscriber_id", sub.id),
		slog.String("root_id", rootID),
		slog.Int("subscribers", n))
	return sub, nil
}

// Unsubscribe closes a stream. Unknown ids are ignored.
func (m *Manager) Unsubscribe(subID string) {
	m.subsMu.Lock()
	sub, ok := m.subs[subID]
	delete(m.subs, subID)
	n := len(m.subs)
	m.subsMu.Unlock()
	if !ok {
		return
	}

	sub.close()
	m.logger.Info("subscriber disconnected",
		slog.String("subscriber_id", subID),
		slog.Duration("connected_for", time.Since(sub.since)),
		slog.Int("subscribers", n))
}

// ClientCount returns the number of open streams.
func (m *Manager) ClientCount() int {
	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	return len(m.subs)
}

// ActiveSyncs returns the sorted ids of roots whose sync has started and
// not yet completed or failed, as seen by delivery.
func (m *Manager) ActiveSyncs() []string {
	return m.tracker.roots()
}

func (m *Manager) closeSubscribers() {
	m.subsMu.Lock()
	subs := m.subs
	m.subs = make(map[string]*Subscriber)
	m.subsMu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
