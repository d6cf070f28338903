// Package reveal animates timeline messages one character at a time, strictly one message after
// another.
package reveal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Tonoyama/EkiPick/internal/metrics"
	"github.com/Tonoyama/EkiPick/internal/models"
)

// DefaultInterval is the delay between two revealed characters.
const DefaultInterval = 30 * time.Millisecond

// Store is the part of the timeline the scheduler mutates.
type Store interface {
	Get(id string) (models.Message, bool)
	UpdateVisibleText(id, prefix string)
	MarkRevealing(id string)
	MarkDone(id string)
	SetVisible(id string)
}

// State is the scheduler's coarse state.
type State int

const (
	// Idle means no message is being revealed and the queue is empty.
	Idle State = iota
	// Revealing means one message is being revealed and a timer is armed.
	Revealing
)

func (s State) String() string {
	if s == Revealing {
		return "revealing"
	}
	return "idle"
}

// Options configures a Scheduler.
type Options struct {
	Interval time.Duration
	Clock    Clock
	Logger   *slog.Logger
}

// Scheduler reveals queued messages in FIFO order. At most one message is revealing and at most one
// timer is armed at any time. Only the scheduler arms its timer.
//
// The scheduler calls into the store while holding its own lock, so the store must never call back
// into the scheduler.
type Scheduler struct {
	mu       sync.Mutex
	store    Store
	clock    Clock
	interval time.Duration
	logger   *slog.Logger

	queue  []string
	queued map[string]struct{}

	current string
	runes   []rune
	pos     int
	timer   Timer
	// gen invalidates timer callbacks that raced with CancelAll.
	gen uint64

	idle   chan struct{}
	busy   bool
	closed bool
}

// NewScheduler creates an idle scheduler over store.
func NewScheduler(store Store, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	idle := make(chan struct{})
	close(idle)

	return &Scheduler{
		store:    store,
		clock:    opts.Clock,
		interval: opts.Interval,
		logger:   opts.Logger.With(slog.String("module", "reveal")),
		queued:   make(map[string]struct{}),
		idle:     idle,
	}
}

// Enqueue schedules the message with the given id for reveal after everything already queued. If
// the scheduler is idle the reveal starts immediately. Enqueueing an id twice is ignored.
func (s *Scheduler) Enqueue(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.finish(id, "closed")
		return
	}
	if _, dup := s.queued[id]; dup || id == s.current {
		s.logger.Warn("Message already scheduled", slog.String("id", id))
		return
	}

	s.queue = append(s.queue, id)
	s.queued[id] = struct{}{}
	s.setBusy()

	if s.current == "" {
		s.advance()
	}
}

// CancelAll stops the animation. The message being revealed and every queued message are
// completed at once, the queue is cleared and the timer is stopped. Messages already done are
// untouched. No tick mutates the store after CancelAll returns.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

// Close cancels everything and makes later Enqueue calls complete messages immediately.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.closed = true
}

// State returns Revealing while a message is being animated.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != "" {
		return Revealing
	}
	return Idle
}

// Current returns the id of the message being revealed and how many characters are shown.
func (s *Scheduler) Current() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.pos
}

// Pending returns the number of messages waiting behind the current one.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Idle returns a channel that is closed once the scheduler has nothing left to reveal. The channel
// is replaced each time new work arrives, so callers should ask again after enqueueing.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

func (s *Scheduler) cancelLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if s.current != "" {
		s.finish(s.current, "cancelled")
	}
	for _, id := range s.queue {
		s.finish(id, "cancelled")
	}

	s.current = ""
	s.runes = nil
	s.pos = 0
	s.queue = nil
	clear(s.queued)
	s.setIdle()
}

// advance starts the next queued message. Messages with no text, or already done, complete
// without a tick.
func (s *Scheduler) advance() {
	for s.current == "" && len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.queued, id)

		msg, ok := s.store.Get(id)
		if !ok {
			s.logger.Warn("Queued message is gone", slog.String("id", id))
			continue
		}
		if msg.Done() {
			continue
		}

		s.store.SetVisible(id)
		if msg.FullText == "" {
			s.store.MarkDone(id)
			metrics.RevealsCompletedTotal.WithLabelValues("empty").Inc()
			continue
		}

		s.store.MarkRevealing(id)
		s.current = id
		s.runes = []rune(msg.FullText)
		s.pos = 0
		s.arm()
	}

	if s.current == "" {
		s.setIdle()
	}
}

func (s *Scheduler) arm() {
	gen := s.gen
	s.timer = s.clock.AfterFunc(s.interval, func() { s.tick(gen) })
}

func (s *Scheduler) tick(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || s.current == "" {
		return
	}

	s.timer = nil
	s.pos++
	s.store.UpdateVisibleText(s.current, string(s.runes[:s.pos]))
	metrics.RevealTicksTotal.Inc()

	if s.pos < len(s.runes) {
		s.arm()
		return
	}

	s.store.MarkDone(s.current)
	metrics.RevealsCompletedTotal.WithLabelValues("ticks").Inc()
	s.current = ""
	s.runes = nil
	s.pos = 0
	s.advance()
}

func (s *Scheduler) finish(id, via string) {
	msg, ok := s.store.Get(id)
	if !ok || msg.Done() {
		return
	}
	s.store.SetVisible(id)
	s.store.MarkDone(id)
	metrics.RevealsCompletedTotal.WithLabelValues(via).Inc()
}

func (s *Scheduler) setBusy() {
	if !s.busy {
		s.idle = make(chan struct{})
		s.busy = true
	}
}

func (s *Scheduler) setIdle() {
	if s.busy {
		close(s.idle)
		s.busy = false
	}
}
