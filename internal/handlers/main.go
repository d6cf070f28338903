package handlers

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
)

// Narrator produces the frames of one conversation turn. The iterator ends when the turn is over;
// an error ends it early.
type Narrator interface {
	Narrate(ctx context.Context, req models.NarrationRequest) iter.Seq2[models.Frame, error]
}

// SessionStore keeps each session's history so later requests are answered in context.
type SessionStore interface {
	History(ctx context.Context, sessionID string) ([]models.Turn, error)
	AddTurns(ctx context.Context, sessionID string, turns ...models.Turn) error
}

// PinStore holds pins saved through the pin API.
type PinStore interface {
	AddPin(ctx context.Context, pin models.LocationPin) error
	Pins(ctx context.Context) ([]models.LocationPin, error)
}

// Main serves the narration API: a streaming chat endpoint and a small pin API.
type Main struct {
	narrator Narrator
	sessions SessionStore
	pins     PinStore

	// closing is cancelled by Shutdown so open streams end promptly.
	closing context.Context
	close   context.CancelFunc
	streams *sync.WaitGroup

	logger *slog.Logger
}

const errLoggerKey = logging.ErrKey

// NewMain creates a new Main with the given narrator and stores.
func NewMain(narrator Narrator, sessions SessionStore, pins PinStore, logger *slog.Logger) Main {
	closing, cancel := context.WithCancel(context.Background())
	return Main{
		narrator: narrator,
		sessions: sessions,
		pins:     pins,
		closing:  closing,
		close:    cancel,
		streams:  &sync.WaitGroup{},
		logger:   logger.With(slog.String("module", "main")),
	}
}

// Shutdown ends every open stream and waits up to 5 seconds for the stream handlers to return.
func (m Main) Shutdown(ctx context.Context) error {
	m.close()

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.streams.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
