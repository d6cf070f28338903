package timeline_test

import (
	"sync"
	"testing"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreOrderFollowsAppends(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)

	texts := []string{"検討開始", "A案があります", "終了"}
	ids := make([]string, len(texts))
	for i, text := range texts {
		ids[i] = s.Append(models.NewStreamedMessage(models.SpeakerAgentA, text))
	}

	msgs := s.Messages()
	require.Len(t, msgs, 3)
	for i := range texts {
		assert.Equal(t, ids[i], msgs[i].ID)
		assert.Equal(t, texts[i], msgs[i].FullText)
		assert.False(t, msgs[i].Visible)
		assert.Equal(t, models.RevealPending, msgs[i].RevealState)
	}
	assert.Equal(t, 3, s.Len())
	assert.True(t, s.NonEmpty())
}

func TestStoreRevealLifecycle(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	id := s.Append(models.NewStreamedMessage(models.SpeakerAgentB, "駅です"))

	s.SetVisible(id)
	s.MarkRevealing(id)
	s.UpdateVisibleText(id, "駅")

	m, ok := s.Get(id)
	require.True(t, ok)
	assert.True(t, m.Visible)
	assert.Equal(t, models.RevealRevealing, m.RevealState)
	assert.Equal(t, "駅", m.VisibleText)

	s.MarkDone(id)
	m, _ = s.Get(id)
	assert.Equal(t, "駅です", m.VisibleText)
	assert.True(t, m.Done())
}

func TestStoreUserMessageIsDone(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	id := s.Append(models.NewUserMessage("渋谷に近い駅"))

	m, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.SpeakerUser, m.Speaker)
	assert.Equal(t, m.FullText, m.VisibleText)
	assert.True(t, m.Visible)
	assert.True(t, m.Done())
}

func TestStoreStrictPanics(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	id := s.Append(models.NewStreamedMessage(models.SpeakerAgentA, "abc"))

	assert.Panics(t, func() { s.MarkDone("missing") })
	assert.Panics(t, func() { s.UpdateVisibleText(id, "xyz") })

	defer func() {
		err, ok := recover().(error)
		require.True(t, ok, "duplicate append panics with an error")
		assert.ErrorIs(t, err, timeline.ErrDuplicateMessage)
		assert.Equal(t, 1, s.Len())
	}()
	s.Append(models.Message{ID: id})
}

func TestStoreLenientIgnoresViolations(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), false)
	id := s.Append(models.NewStreamedMessage(models.SpeakerAgentA, "abc"))

	assert.NotPanics(t, func() {
		s.MarkDone("missing")
		s.UpdateVisibleText(id, "xyz")
		s.Append(models.Message{ID: id, FullText: "other"})
	})

	m, _ := s.Get(id)
	assert.Equal(t, "", m.VisibleText)
	assert.Equal(t, "abc", m.FullText)
	assert.Equal(t, 1, s.Len())
}

func TestStoreReset(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	id := s.Append(models.NewUserMessage("hello"))
	s.Reset()

	assert.Equal(t, 0, s.Len())
	assert.False(t, s.NonEmpty())
	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	id := s.Append(models.NewStreamedMessage(models.SpeakerAgentA, "abc"))

	snap := s.Messages()
	snap[0].FullText = "mutated"

	m, _ := s.Get(id)
	assert.Equal(t, "abc", m.FullText)
}

func TestStoreChangesCoalesce(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)
	for range 5 {
		s.Append(models.NewUserMessage("x"))
	}

	select {
	case <-s.Changes():
	default:
		t.Fatal("expected a pending change notification")
	}
	select {
	case <-s.Changes():
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestStoreConcurrentAppends(t *testing.T) {
	s := timeline.NewStore(logging.Discard(), true)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				id := s.Append(models.NewStreamedMessage(models.SpeakerAgentC, "abc"))
				s.MarkDone(id)
			}
		}()
	}
	wg.Wait()

	msgs := s.Messages()
	require.Len(t, msgs, 400)
	for _, m := range msgs {
		assert.True(t, m.Done())
	}
}
