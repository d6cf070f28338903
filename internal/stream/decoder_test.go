package stream_test

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r io.Reader) ([]models.ConversationEvent, error) {
	t.Helper()
	var events []models.ConversationEvent
	for ev, err := range stream.NewDecoder(r, logging.Discard()).Events() {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestDecoderEvents(t *testing.T) {
	body := `data: {"type":"conversation_start","message":"検討開始"}

data: {"type":"agent_response","agent":"station","agent_name":"駅エージェント","message":"A案があります","round":1}

data: {"type":"pin","lat":35.681,"lon":139.767,"name":"東京駅"}

data: {"type":"conversation_complete","message":"終了"}

`
	tests := []struct {
		name string
		r    func() io.Reader
	}{
		{name: "Whole body", r: func() io.Reader { return strings.NewReader(body) }},
		{name: "One byte at a time", r: func() io.Reader { return iotest.OneByteReader(strings.NewReader(body)) }},
		{name: "Half reads", r: func() io.Reader { return iotest.HalfReader(strings.NewReader(body)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := collect(t, tt.r())
			require.NoError(t, err)
			require.Len(t, events, 4)

			assert.Equal(t, models.EventSessionStarted, events[0].Kind)
			assert.Equal(t, "検討開始", events[0].Text)

			assert.Equal(t, models.EventTurnProduced, events[1].Kind)
			assert.Equal(t, "A案があります", events[1].Text)
			assert.Equal(t, models.SpeakerAgentB, events[1].Speaker())
			assert.Equal(t, 1, events[1].Round)

			assert.Equal(t, models.EventLocationFound, events[2].Kind)
			require.NotNil(t, events[2].Location)
			assert.Equal(t, "東京駅", events[2].Location.Label)
			assert.InDelta(t, 35.681, events[2].Location.Lat, 1e-9)

			assert.Equal(t, models.EventSessionCompleted, events[3].Kind)
		})
	}
}

func TestDecoderSkipsBadRecords(t *testing.T) {
	body := "data: {not json\n\n" +
		"data: {\"type\":\"weather\",\"message\":\"晴れ\"}\n\n" +
		"data: {\"message\":\"no type\"}\n\n" +
		"data: {\"type\":\"pin\",\"name\":\"座標なし\"}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"type\":\"agent_response\",\"message\":\"残る\"}\n\n"

	events, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "残る", events[0].Text)
	assert.Equal(t, models.SpeakerAgentA, events[0].Speaker())
}

func TestDecoderSingleNewlineRecords(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		texts []string
	}{
		{
			name: "Single newlines",
			body: "data: {\"type\":\"conversation_start\",\"message\":\"検討開始\"}\n" +
				"data: {\"type\":\"agent_response\",\"message\":\"A案があります\"}\n",
			texts: []string{"検討開始", "A案があります"},
		},
		{
			name: "Bad line between good ones",
			body: "data: {\"type\":\"agent_response\",\"message\":\"一件目\"}\n" +
				"data: {broken\n" +
				"data: {\"type\":\"agent_response\",\"message\":\"二件目\"}\n\n",
			texts: []string{"一件目", "二件目"},
		},
		{
			name: "Mixed framing without trailing blank line",
			body: "data: {\"type\":\"conversation_start\",\"message\":\"検討開始\"}\n\n" +
				"data: {\"type\":\"agent_response\",\"message\":\"A案があります\"}\n" +
				"data: {\"type\":\"conversation_complete\",\"message\":\"終了\"}\n",
			texts: []string{"検討開始", "A案があります", "終了"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := collect(t, iotest.OneByteReader(strings.NewReader(tt.body)))
			require.NoError(t, err)

			var texts []string
			for _, ev := range events {
				texts = append(texts, ev.Text)
			}
			assert.Equal(t, tt.texts, texts)
		})
	}
}

func TestDecoderDropsInvalidEncoding(t *testing.T) {
	body := "data: {\"type\":\"agent_response\",\"message\":\"\xff\"}\n\n" +
		"data: {\"type\":\"agent_response\",\"message\":\"正しい\"}\n\n"

	events, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "正しい", events[0].Text)
}

func TestDecoderBackendError(t *testing.T) {
	body := "data: {\"type\":\"error\",\"message\":\"会話中にエラーが発生しました\"}\n\n"

	events, err := collect(t, strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventBackendError, events[0].Kind)
	assert.Equal(t, models.SpeakerSystem, events[0].Speaker())
}

func TestDecoderTransportError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"type\":\"agent_response\",\"message\":\"一件目\"}\n\n"),
		iotest.ErrReader(boom),
	)

	events, err := collect(t, r)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.Len(t, events, 1)
	assert.Equal(t, "一件目", events[0].Text)
}

func TestDecoderSingleUse(t *testing.T) {
	d := stream.NewDecoder(strings.NewReader("data: {\"type\":\"conversation_start\"}\n\n"), logging.Discard())
	for range d.Events() {
	}

	var gotErr error
	for _, err := range d.Events() {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, stream.ErrDecoderUsed)
}

func TestDecoderStopsWhenConsumerBreaks(t *testing.T) {
	body := strings.Repeat("data: {\"type\":\"agent_response\",\"message\":\"x\"}\n\n", 5)
	d := stream.NewDecoder(strings.NewReader(body), logging.Discard())

	n := 0
	for range d.Events() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
