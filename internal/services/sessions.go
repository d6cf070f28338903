package services

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/Tonoyama/EkiPick/internal/models"
)

// ErrDuplicatePin is returned when a pin with the same label is already stored.
var ErrDuplicatePin = errors.New("pin already exists")

// MemorySessions keeps narrator conversation histories in memory, keyed by session id.
type MemorySessions struct {
	mu        sync.RWMutex
	histories map[string][]models.Turn
}

// NewMemorySessions creates an empty session store.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{histories: make(map[string][]models.Turn)}
}

// History returns a copy of the session's turns. An unknown session has no history.
func (m *MemorySessions) History(_ context.Context, sessionID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.histories[sessionID]), nil
}

// AddTurns appends turns to the session, creating it when needed.
func (m *MemorySessions) AddTurns(_ context.Context, sessionID string, turns ...models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories[sessionID] = append(m.histories[sessionID], turns...)
	return nil
}

// MemoryPins keeps pins saved through the pin API in memory.
type MemoryPins struct {
	mu   sync.RWMutex
	pins []models.LocationPin
}

// NewMemoryPins creates an empty pin store.
func NewMemoryPins() *MemoryPins {
	return &MemoryPins{}
}

// AddPin stores pin. A pin whose label is already stored is rejected with ErrDuplicatePin.
func (m *MemoryPins) AddPin(_ context.Context, pin models.LocationPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.pins, func(p models.LocationPin) bool { return p.Label == pin.Label }) {
		return ErrDuplicatePin
	}
	m.pins = append(m.pins, pin)
	return nil
}

// Pins returns every stored pin.
func (m *MemoryPins) Pins(context.Context) ([]models.LocationPin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.pins), nil
}
