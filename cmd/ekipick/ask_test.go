package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tonoyama/EkiPick/internal/handlers"
	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/services"
	"github.com/Tonoyama/EkiPick/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = `
first:
  - type: conversation_start
    message: 検討開始
  - pin:
      label: 渋谷駅
      lat: 35.658
      lon: 139.701
  - agent: station
    agentName: 駅エージェント
    message: "{{message}}ならA案があります"
  - type: conversation_complete
    message: 終了
`

func TestRevealPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newRevealPrinter(&buf)

	msgs := []models.Message{
		{ID: "u", Speaker: models.SpeakerUser, VisibleText: "渋谷", Visible: true},
		{ID: "a", Speaker: models.SpeakerAgentB, VisibleText: "A案", Visible: true},
		{ID: "b", Speaker: models.SpeakerAgentA, Visible: false},
	}
	p.flush(msgs)
	msgs[1].VisibleText = "A案があります"
	p.flush(msgs)
	p.flush(msgs)
	msgs[2].Visible, msgs[2].VisibleText = true, "了解"
	p.flush(msgs)
	p.end()

	want := "[" + models.SpeakerAgentB.Label() + "]\nA案があります\n\n[" + models.SpeakerAgentA.Label() + "]\n了解\n"
	assert.Equal(t, want, buf.String())
}

func TestPlay(t *testing.T) {
	script, err := services.ParseScript([]byte(testScript))
	require.NoError(t, err)

	m := handlers.NewMain(services.NewScriptNarrator(script, 1, logging.Discard()),
		services.NewMemorySessions(), services.NewMemoryPins(), logging.Discard())
	srv := httptest.NewServer(m.Router(handlers.RouterOptions{}))
	defer srv.Close()

	cfg := defaultConfig(t.TempDir())
	cfg.BackendURL = srv.URL
	cfg.RevealInterval = time.Millisecond

	eng, err := newEngine(cfg, logging.Discard(), nil)
	require.NoError(t, err)
	defer eng.close()

	require.NoError(t, eng.ctrl.Start(context.Background(), "渋谷"))

	var buf bytes.Buffer
	outcome := play(eng, &buf)

	assert.Equal(t, session.StatusEnded, outcome.Status)
	assert.True(t, outcome.Completed)

	out := buf.String()
	assert.Contains(t, out, "検討開始")
	assert.Contains(t, out, "渋谷ならA案があります")
	assert.Contains(t, out, "終了")
	assert.Less(t, strings.Index(out, "検討開始"), strings.Index(out, "終了"))

	for _, msg := range eng.store.Messages() {
		assert.True(t, msg.Done(), "every message is revealed when play returns")
	}
	require.Len(t, eng.collector.Pins(), 1)
	assert.Equal(t, "渋谷駅", eng.collector.Pins()[0].Label)
}
