// Package timeline holds the ordered list of conversation messages the UI renders.
package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrUnknownMessage reports a mutation addressed to an id the store does not hold.
	ErrUnknownMessage = errors.New("unknown message id")
	// ErrNotPrefix reports a visible text update that is not a prefix of the full text.
	ErrNotPrefix = errors.New("visible text is not a prefix of full text")
	// ErrDuplicateMessage reports an append reusing an existing id.
	ErrDuplicateMessage = errors.New("duplicate message id")
)

// Store is the single source of truth for what the conversation contains. Order is insertion
// order. It is safe for concurrent use.
//
// Contract violations (unknown ids, non-prefix updates) panic when the store is strict and are
// logged and ignored otherwise.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	index    map[string]int

	changes chan struct{}
	strict  bool
	logger  *slog.Logger
}

// NewStore creates an empty store. strict should be true in development builds.
func NewStore(logger *slog.Logger, strict bool) *Store {
	return &Store{
		index:   make(map[string]int),
		changes: make(chan struct{}, 1),
		strict:  strict,
		logger:  logger.With(slog.String("module", "timeline")),
	}
}

// Append adds msg at the end of the timeline and returns its id. An id is generated when msg has
// none.
func (s *Store) Append(msg models.Message) string {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = newID()
	}
	if _, ok := s.index[msg.ID]; ok {
		s.mu.Unlock()
		s.violation(ErrDuplicateMessage, msg.ID)
		return msg.ID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	s.notify()
	return msg.ID
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.messages[i], true
}

// UpdateVisibleText replaces the visible text of a message. prefix must be a prefix of the full
// text.
func (s *Store) UpdateVisibleText(id, prefix string) {
	s.mutate(id, func(m *models.Message) error {
		if !strings.HasPrefix(m.FullText, prefix) {
			return fmt.Errorf("%w: %q", ErrNotPrefix, prefix)
		}
		m.VisibleText = prefix
		return nil
	})
}

// MarkRevealing moves a message into the revealing state.
func (s *Store) MarkRevealing(id string) {
	s.mutate(id, func(m *models.Message) error {
		m.RevealState = models.RevealRevealing
		return nil
	})
}

// MarkDone finishes a message: the full text becomes visible.
func (s *Store) MarkDone(id string) {
	s.mutate(id, func(m *models.Message) error {
		m.VisibleText = m.FullText
		m.RevealState = models.RevealDone
		return nil
	})
}

// SetVisible makes a message renderable.
func (s *Store) SetVisible(id string) {
	s.mutate(id, func(m *models.Message) error {
		m.Visible = true
		return nil
	})
}

// Reset empties the timeline.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.index = make(map[string]int)
	s.mu.Unlock()

	s.notify()
}

// Messages returns a snapshot of the timeline in order.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// NonEmpty reports whether the timeline holds at least one message.
func (s *Store) NonEmpty() bool {
	return s.Len() > 0
}

// Changes returns a channel that receives a value after the timeline changes. Notifications are
// coalesced: a reader that falls behind sees one pending value, not one per change.
func (s *Store) Changes() <-chan struct{} {
	return s.changes
}

func (s *Store) mutate(id string, fn func(*models.Message) error) {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		s.violation(ErrUnknownMessage, id)
		return
	}
	m := s.messages[i]
	if err := fn(&m); err != nil {
		s.mu.Unlock()
		s.violation(err, id)
		return
	}
	s.messages[i] = m
	s.mu.Unlock()

	s.notify()
}

func (s *Store) violation(err error, id string) {
	if s.strict {
		panic(fmt.Errorf("timeline: message %s: %w", id, err))
	}
	s.logger.Error("Timeline contract violation",
		slog.String("id", id),
		slog.String(logging.ErrKey, err.Error()))
}

func (s *Store) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
