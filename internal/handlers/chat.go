package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Tonoyama/EkiPick/internal/metrics"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/tmaxmax/go-sse"
)

const (
	maxMessageLength   = 1000
	maxSessionIDLength = 100
	maxRequestBody     = 64 << 10
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (r *chatRequest) validate() error {
	r.Message = strings.TrimSpace(r.Message)
	if n := utf8.RuneCountInString(r.Message); n == 0 || n > maxMessageLength {
		return fmt.Errorf("message must be between 1 and %d characters", maxMessageLength)
	}
	if n := len(r.SessionID); n == 0 || n > maxSessionIDLength {
		return fmt.Errorf("session_id must be between 1 and %d characters", maxSessionIDLength)
	}
	if !sessionIDPattern.MatchString(r.SessionID) {
		return errors.New("session_id must contain only alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// HandleChat narrates one turn as a text/event-stream. The request body is JSON with "message" and
// "session_id". Every frame is written as a single data field holding the frame JSON.
//
// The first request of a session gets the full recommendation narration; later requests are
// answered with the session history. The stream ends when the narrator is done, the client goes
// away, or the server shuts down.
func (m Main) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		m.logger.Error("Invalid chat request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		m.logger.Error("Invalid chat request", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	history, err := m.sessions.History(r.Context(), req.SessionID)
	if err != nil {
		m.logger.Error("Failed to get session history",
			slog.String("sessionID", req.SessionID),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	m.streams.Add(1)
	defer m.streams.Done()
	metrics.IncrementStreams()
	defer metrics.DecrementStreams()

	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Cache-Control", "no-cache")
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		m.logger.Error("Failed to upgrade to event stream", slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(m.closing, cancel)
	defer stop()

	m.logger.Info("Narration started",
		slog.String("sessionID", req.SessionID),
		slog.Bool("firstTurn", len(history) == 0))

	// The user's turn is recorded up front so a concurrent request on the same session sees it.
	userTurn := models.Turn{Role: models.RoleUser, Content: req.Message, Timestamp: time.Now()}
	if err := m.sessions.AddTurns(ctx, req.SessionID, userTurn); err != nil {
		m.logger.Error("Failed to record user turn", slog.String(errLoggerKey, err.Error()))
	}

	var replies []models.Turn
	frames := 0
	for frame, err := range m.narrator.Narrate(ctx, models.NarrationRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		History:   history,
	}) {
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Error("Narration failed", slog.String(errLoggerKey, err.Error()))
				_ = m.send(sess, models.Frame{Type: models.FrameError, Message: err.Error()})
			}
			break
		}
		if err := m.send(sess, frame); err != nil {
			m.logger.Warn("Client went away",
				slog.String("sessionID", req.SessionID),
				slog.String(errLoggerKey, err.Error()))
			break
		}
		frames++
		if frame.Type == models.FrameAgentResponse && frame.Message != "" {
			replies = append(replies, models.Turn{Role: models.RoleAssistant, Content: frame.Message, Timestamp: time.Now()})
		}
	}

	// Record what the client was actually sent, even when the stream was cut short.
	if len(replies) > 0 {
		if err := m.sessions.AddTurns(context.WithoutCancel(ctx), req.SessionID, replies...); err != nil {
			m.logger.Error("Failed to record replies", slog.String(errLoggerKey, err.Error()))
		}
	}

	m.logger.Info("Narration ended",
		slog.String("sessionID", req.SessionID),
		slog.Int("frames", frames))
}

func (m Main) send(sess *sse.Session, frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	msg := &sse.Message{}
	msg.AppendData(string(data))
	if err := sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	if err := sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush frame: %w", err)
	}

	metrics.FramesSentTotal.WithLabelValues(frame.Type).Inc()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
