// Package session drives one conversation: it sends the user's request, feeds the resulting event
// stream into the timeline and the reveal scheduler, and handles cancellation.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/metrics"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/reveal"
	"github.com/Tonoyama/EkiPick/internal/stream"
	"github.com/Tonoyama/EkiPick/internal/timeline"
	"github.com/google/uuid"
)

var (
	// ErrTurnActive is returned by Start while a previous turn is still streaming.
	ErrTurnActive = errors.New("a conversation turn is already in progress")
	// ErrEmptyMessage is returned by Start for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnexpectedStatus reports a non-2xx response from the backend.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Status is how a turn ended.
type Status string

const (
	// StatusEnded means the stream reached its end.
	StatusEnded Status = "ended"
	// StatusCancelled means the turn was stopped by the user or by teardown. It is not an error.
	StatusCancelled Status = "cancelled"
	// StatusFailed means the request or the stream failed.
	StatusFailed Status = "failed"
)

// Outcome describes a finished turn.
type Outcome struct {
	Status Status
	// Completed is true when the backend sent its completion record before the stream ended.
	Completed bool
	// Events counts decoded events, including locations.
	Events   int
	Err      error
	Duration time.Duration
}

// Config holds the controller's collaborators.
type Config struct {
	// Endpoint is the full URL of the chat endpoint.
	Endpoint  string
	SessionID string

	HTTPClient *http.Client
	// OnLocation receives every location the backend discovers. It runs on the stream goroutine.
	OnLocation func(models.LocationPin)
	// OnTurnEnd is called once per turn after the turn is no longer active.
	OnTurnEnd func(Outcome)

	Logger *slog.Logger
	// Strict turns contract violations into panics.
	Strict bool
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Controller owns at most one in-flight turn.
//
// Lock order is feedMu, then the scheduler, then the store. mu only guards the controller's own
// fields and is never held while calling out.
type Controller struct {
	cfg    Config
	client *http.Client
	store  *timeline.Store
	sched  *reveal.Scheduler
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	cancel context.CancelFunc
	done   chan struct{}
	turn   uint64
	last   Outcome

	// feedMu makes "check cancellation, append, enqueue" atomic with respect to Stop.
	feedMu sync.Mutex
}

// NewController creates a controller feeding store and sched.
func NewController(cfg Config, store *timeline.Store, sched *reveal.Scheduler) *Controller {
	if cfg.SessionID == "" {
		cfg.SessionID = NewSessionID()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &Controller{
		cfg:    cfg,
		client: client,
		store:  store,
		sched:  sched,
		logger: cfg.Logger.With(slog.String("module", "session"), slog.String("sessionID", cfg.SessionID)),
	}
}

// NewSessionID returns a fresh opaque session token.
func NewSessionID() string {
	return uuid.NewString()
}

// Start begins a turn for text. The user's message is on the timeline, fully shown, before Start
// returns and before any network work begins. ctx bounds the whole turn.
func (c *Controller) Start(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		if c.cfg.Strict {
			panic(ErrTurnActive)
		}
		c.logger.Error("Start called while a turn is active")
		return ErrTurnActive
	}
	ctx, cancel := context.WithCancel(ctx)
	c.turn++
	turn := c.turn
	done := make(chan struct{})
	c.active = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.store.Append(models.NewUserMessage(text))
	c.logger.Info("Turn started", slog.Int("length", len([]rune(text))))

	go c.run(ctx, cancel, turn, text, done)
	return nil
}

// Stop cancels the in-flight turn, if any, and completes every message still being revealed. The
// controller is inactive when Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	wasActive := c.active
	c.active = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.feedMu.Lock()
	c.sched.CancelAll()
	c.feedMu.Unlock()

	if wasActive {
		c.logger.Info("Turn stopped")
	}
}

// Reset stops the current turn and clears the timeline. The session id is kept.
func (c *Controller) Reset() {
	c.Stop()
	c.store.Reset()
}

// Close stops the current turn and shuts the scheduler down. The controller must not be used
// afterwards.
func (c *Controller) Close() {
	c.Stop()
	c.sched.Close()
}

// Active reports whether a turn is in flight.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SessionID returns the token sent with every request.
func (c *Controller) SessionID() string {
	return c.cfg.SessionID
}

// LastOutcome returns the outcome of the most recent finished turn.
func (c *Controller) LastOutcome() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Wait blocks until the latest turn's stream goroutine has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, turn uint64, text string, done chan struct{}) {
	defer close(done)
	defer cancel()

	start := time.Now()
	outcome := c.stream(ctx, text)
	outcome.Duration = time.Since(start)

	c.mu.Lock()
	if c.turn == turn {
		c.active = false
		c.cancel = nil
		c.last = outcome
	}
	c.mu.Unlock()

	metrics.RecordTurn(string(outcome.Status), outcome.Duration.Seconds())

	switch outcome.Status {
	case StatusFailed:
		c.logger.Error("Turn failed",
			slog.Int("events", outcome.Events),
			slog.String(logging.ErrKey, outcome.Err.Error()))
	default:
		c.logger.Info("Turn ended",
			slog.String("status", string(outcome.Status)),
			slog.Bool("completed", outcome.Completed),
			slog.Int("events", outcome.Events),
			slog.Duration("duration", outcome.Duration))
	}

	if c.cfg.OnTurnEnd != nil {
		c.cfg.OnTurnEnd(outcome)
	}
}

func (c *Controller) stream(ctx context.Context, text string) Outcome {
	body, err := json.Marshal(chatRequest{Message: text, SessionID: c.cfg.SessionID})
	if err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("error marshaling request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Status: StatusFailed, Err: fmt.Errorf("error creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return endWith(ctx, Outcome{}, fmt.Errorf("error sending request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Outcome{
			Status: StatusFailed,
			Err: fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode,
				strings.TrimSpace(string(snippet))),
		}
	}

	var out Outcome
	for ev, err := range stream.NewDecoder(resp.Body, c.cfg.Logger).Events() {
		if err != nil {
			return endWith(ctx, out, err)
		}
		out.Events++

		if ev.Kind == models.EventLocationFound {
			if ctx.Err() == nil && c.cfg.OnLocation != nil {
				c.cfg.OnLocation(*ev.Location)
			}
			continue
		}
		if ev.Kind == models.EventSessionCompleted {
			out.Completed = true
		}
		if !c.feed(ctx, ev) {
			out.Status = StatusCancelled
			return out
		}
	}

	if ctx.Err() != nil {
		out.Status = StatusCancelled
		return out
	}
	out.Status = StatusEnded
	return out
}

// feed appends ev to the timeline and schedules its reveal, unless the turn was cancelled.
func (c *Controller) feed(ctx context.Context, ev models.ConversationEvent) bool {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	id := c.store.Append(models.NewStreamedMessage(ev.Speaker(), ev.Text))
	c.sched.Enqueue(id)
	return true
}

func endWith(ctx context.Context, out Outcome, err error) Outcome {
	if ctx.Err() != nil {
		out.Status = StatusCancelled
		return out
	}
	out.Status = StatusFailed
	out.Err = err
	return out
}
