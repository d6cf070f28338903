// Package stream decodes the conversation event stream produced by the narration backend.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/metrics"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/tmaxmax/go-sse"
)

// ErrDecoderUsed is yielded when Events is iterated a second time.
var ErrDecoderUsed = errors.New("stream decoder already consumed")

const (
	maxRecordSize = 1 << 20
	doneSentinel  = "[DONE]"
)

// Decoder turns a text/event-stream body into ConversationEvents. A Decoder reads its source once.
type Decoder struct {
	r      io.Reader
	logger *slog.Logger
	used   atomic.Bool
}

// NewDecoder returns a decoder over r. Every data line is one record, whether records are separated
// by blank lines or by single newlines. Partial lines are buffered across reads, so r may deliver
// arbitrary chunks.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return &Decoder{
		r:      r,
		logger: logger.With(slog.String("module", "stream")),
	}
}

// Events returns an iterator over the decoded events in arrival order. Iteration ends without an
// error at end of stream. A read failure (including cancellation of the underlying request) is
// yielded once and ends iteration. Records that cannot be decoded are logged and skipped.
func (d *Decoder) Events() iter.Seq2[models.ConversationEvent, error] {
	return func(yield func(models.ConversationEvent, error) bool) {
		if !d.used.CompareAndSwap(false, true) {
			yield(models.ConversationEvent{}, ErrDecoderUsed)
			return
		}

		for ev, err := range sse.Read(d.r, &sse.ReadConfig{MaxEventSize: maxRecordSize}) {
			if err != nil {
				yield(models.ConversationEvent{}, fmt.Errorf("error reading stream: %w", err))
				return
			}

			// Consecutive data lines arrive joined by newlines; each line is its own record.
			for line := range strings.SplitSeq(ev.Data, "\n") {
				cev, ok := d.decode(line)
				if !ok {
					continue
				}
				if !yield(cev, nil) {
					return
				}
			}
		}
	}
}

func (d *Decoder) decode(data string) (models.ConversationEvent, bool) {
	if data == "" || data == doneSentinel {
		metrics.StreamRecordsTotal.WithLabelValues("ignored").Inc()
		return models.ConversationEvent{}, false
	}
	if !utf8.ValidString(data) {
		d.drop(data, errors.New("invalid utf-8"))
		return models.ConversationEvent{}, false
	}

	var frame models.Frame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		d.drop(data, err)
		return models.ConversationEvent{}, false
	}

	ev, err := frame.Event()
	if err != nil {
		if errors.Is(err, models.ErrUnknownFrame) {
			d.logger.Debug("Ignoring unknown stream record", slog.String("type", frame.Type))
			metrics.StreamRecordsTotal.WithLabelValues("ignored").Inc()
			return models.ConversationEvent{}, false
		}
		d.drop(data, err)
		return models.ConversationEvent{}, false
	}

	metrics.StreamRecordsTotal.WithLabelValues("accepted").Inc()
	return ev, true
}

func (d *Decoder) drop(data string, err error) {
	const preview = 120
	if len(data) > preview {
		data = data[:preview]
	}
	d.logger.Warn("Dropped malformed stream record",
		slog.String("data", data),
		slog.String(logging.ErrKey, err.Error()))
	metrics.StreamRecordsTotal.WithLabelValues("dropped").Inc()
}
