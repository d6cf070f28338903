package handlers_test

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Tonoyama/EkiPick/internal/handlers"
	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/services"
	"github.com/Tonoyama/EkiPick/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockNarrator struct {
	mu       sync.Mutex
	frames   []models.Frame
	err      error
	block    bool
	requests []models.NarrationRequest
}

func (m *mockNarrator) Narrate(ctx context.Context, req models.NarrationRequest) iter.Seq2[models.Frame, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(models.Frame, error) bool) {
		for _, f := range m.frames {
			if !yield(f, nil) {
				return
			}
		}
		if m.block {
			<-ctx.Done()
			yield(models.Frame{}, ctx.Err())
			return
		}
		if m.err != nil {
			yield(models.Frame{}, m.err)
		}
	}
}

func (m *mockNarrator) lastRequest() models.NarrationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func newMain(narrator handlers.Narrator) (handlers.Main, *services.MemorySessions) {
	sessions := services.NewMemorySessions()
	return handlers.NewMain(narrator, sessions, services.NewMemoryPins(), logging.Discard()), sessions
}

func decodeEvents(t *testing.T, body string) []models.ConversationEvent {
	t.Helper()
	var events []models.ConversationEvent
	for ev, err := range stream.NewDecoder(strings.NewReader(body), logging.Discard()).Events() {
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestNewMain(t *testing.T) {
	main, _ := newMain(&mockNarrator{})
	assert.NoError(t, main.Shutdown(context.Background()))
}

func TestHandleChatValidation(t *testing.T) {
	main, _ := newMain(&mockNarrator{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{name: "Invalid JSON", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "Empty message", body: `{"message":"   ","session_id":"abc"}`, wantStatus: http.StatusBadRequest},
		{name: "Message too long", body: `{"message":"` + strings.Repeat("駅", 1001) + `","session_id":"abc"}`, wantStatus: http.StatusBadRequest},
		{name: "Missing session", body: `{"message":"hi"}`, wantStatus: http.StatusBadRequest},
		{name: "Session with spaces", body: `{"message":"hi","session_id":"a b"}`, wantStatus: http.StatusBadRequest},
		{name: "Session too long", body: `{"message":"hi","session_id":"` + strings.Repeat("a", 101) + `"}`, wantStatus: http.StatusBadRequest},
		{name: "Valid", body: `{"message":"` + strings.Repeat("駅", 1000) + `","session_id":"abc-123_x"}`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			main.HandleChat(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestHandleChatStreamsFrames(t *testing.T) {
	narrator := &mockNarrator{frames: []models.Frame{
		{Type: models.FrameConversationStart, Message: "検討開始"},
		models.PinFrame(models.LocationPin{Label: "渋谷駅", Lat: 35.658, Lon: 139.701}),
		models.AgentFrame("station", "駅エージェント", "A案があります", 1),
		{Type: models.FrameConversationComplete, Message: "終了"},
	}}
	main, sessions := newMain(narrator)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"  渋谷  ","session_id":"s1"}`))
	w := httptest.NewRecorder()
	main.HandleChat(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	events := decodeEvents(t, w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, models.EventSessionStarted, events[0].Kind)
	assert.Equal(t, models.EventLocationFound, events[1].Kind)
	assert.Equal(t, "A案があります", events[2].Text)
	assert.Equal(t, models.EventSessionCompleted, events[3].Kind)

	first := narrator.lastRequest()
	assert.Equal(t, "渋谷", first.Message)
	assert.True(t, first.FirstTurn())

	history, err := sessions.History(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "A案があります", history[1].Content)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"次","session_id":"s1"}`))
	main.HandleChat(httptest.NewRecorder(), req)
	assert.False(t, narrator.lastRequest().FirstTurn())
	assert.Len(t, narrator.lastRequest().History, 2)
}

func TestHandleChatNarratorError(t *testing.T) {
	narrator := &mockNarrator{
		frames: []models.Frame{models.AgentFrame("estate", "不動産エージェント", "途中まで", 0)},
		err:    errors.New("model unavailable"),
	}
	main, _ := newMain(narrator)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"hi","session_id":"s"}`))
	w := httptest.NewRecorder()
	main.HandleChat(w, req)

	events := decodeEvents(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, models.EventBackendError, events[1].Kind)
	assert.Contains(t, events[1].Text, "model unavailable")
}

func TestRouter(t *testing.T) {
	main, _ := newMain(&mockNarrator{frames: []models.Frame{{Type: models.FrameConversationStart}}})
	srv := httptest.NewServer(main.Router(handlers.RouterOptions{RateLimit: 2, RateWindow: time.Minute}))
	defer srv.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "Health", method: http.MethodGet, path: "/health", wantStatus: http.StatusOK},
		{name: "Metrics", method: http.MethodGet, path: "/metrics", wantStatus: http.StatusOK},
		{name: "Chat wrong method", method: http.MethodGet, path: "/api/v1/chat", wantStatus: http.StatusMethodNotAllowed},
		{name: "Chat", method: http.MethodPost, path: "/api/v1/chat", body: `{"message":"hi","session_id":"a"}`, wantStatus: http.StatusOK},
		{name: "Chat again", method: http.MethodPost, path: "/api/v1/chat", body: `{"message":"hi","session_id":"a"}`, wantStatus: http.StatusOK},
		{name: "Chat rate limited", method: http.MethodPost, path: "/api/v1/chat", body: `{"message":"hi","session_id":"a"}`, wantStatus: http.StatusTooManyRequests},
		{name: "Add pin", method: http.MethodPost, path: "/api/v1/pins", body: `{"name":"渋谷駅","lat":35.6,"lon":139.7}`, wantStatus: http.StatusCreated},
		{name: "Add duplicate pin", method: http.MethodPost, path: "/api/v1/pins", body: `{"name":"渋谷駅","lat":35.6,"lon":139.7}`, wantStatus: http.StatusBadRequest},
		{name: "Add pin without coordinates", method: http.MethodPost, path: "/api/v1/pins", body: `{"name":"x"}`, wantStatus: http.StatusBadRequest},
		{name: "List pins", method: http.MethodGet, path: "/api/v1/pins", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestShutdownEndsStreams(t *testing.T) {
	narrator := &mockNarrator{
		frames: []models.Frame{{Type: models.FrameConversationStart, Message: "開始"}},
		block:  true,
	}
	main, _ := newMain(narrator)
	srv := httptest.NewServer(main.Router(handlers.RouterOptions{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json",
		strings.NewReader(`{"message":"hi","session_id":"a"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	done := make(chan []models.ConversationEvent, 1)
	go func() {
		var events []models.ConversationEvent
		for ev, err := range stream.NewDecoder(resp.Body, logging.Discard()).Events() {
			if err != nil {
				break
			}
			events = append(events, ev)
		}
		done <- events
	}()

	require.NoError(t, main.Shutdown(context.Background()))

	select {
	case events := <-done:
		require.NotEmpty(t, events)
		assert.Equal(t, "開始", events[0].Text)
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after shutdown")
	}
}
