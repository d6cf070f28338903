// Package pins collects the locations discovered during a conversation and hands them to pin
// storage.
package pins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
)

// ErrInvalidPin reports coordinates outside the globe.
var ErrInvalidPin = errors.New("invalid pin")

// Saver persists a pin.
type Saver interface {
	Save(ctx context.Context, pin models.LocationPin) error
}

// Collector accumulates discovered pins in discovery order, without duplicates. It is safe for
// concurrent use; Add is meant to be the session's location callback.
type Collector struct {
	mu     sync.Mutex
	pins   []models.LocationPin
	seen   map[string]struct{}
	notify func(models.LocationPin)
	logger *slog.Logger
}

// NewCollector creates an empty collector. notify, when set, is called for every new pin.
func NewCollector(logger *slog.Logger, notify func(models.LocationPin)) *Collector {
	return &Collector{
		seen:   make(map[string]struct{}),
		notify: notify,
		logger: logger.With(slog.String("module", "pins")),
	}
}

// Add records pin unless it was already seen or is invalid.
func (c *Collector) Add(pin models.LocationPin) {
	if !pin.Valid() {
		c.logger.Warn("Ignoring invalid pin",
			slog.String("label", pin.Label),
			slog.Float64("lat", pin.Lat),
			slog.Float64("lon", pin.Lon))
		return
	}

	c.mu.Lock()
	if _, ok := c.seen[pin.Key()]; ok {
		c.mu.Unlock()
		return
	}
	c.seen[pin.Key()] = struct{}{}
	c.pins = append(c.pins, pin)
	c.mu.Unlock()

	c.logger.Info("Location discovered", slog.String("label", pin.Label))
	if c.notify != nil {
		c.notify(pin)
	}
}

// Pins returns the collected pins.
func (c *Collector) Pins() []models.LocationPin {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.LocationPin, len(c.pins))
	copy(out, c.pins)
	return out
}

// Reset forgets every collected pin.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins = nil
	clear(c.seen)
}

// SaveAll hands every collected pin to s. It keeps going after a failure and returns the joined
// errors along with the number of pins saved.
func (c *Collector) SaveAll(ctx context.Context, s Saver) (int, error) {
	var (
		saved int
		errs  []error
	)
	for _, pin := range c.Pins() {
		if err := s.Save(ctx, pin); err != nil {
			c.logger.Error("Failed to save pin",
				slog.String("label", pin.Label),
				slog.String(logging.ErrKey, err.Error()))
			errs = append(errs, fmt.Errorf("pin %s: %w", pin.Label, err))
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}
