package main

import (
	"log/slog"

	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/pins"
	"github.com/Tonoyama/EkiPick/internal/reveal"
	"github.com/Tonoyama/EkiPick/internal/session"
	"github.com/Tonoyama/EkiPick/internal/timeline"
)

// engine is one conversation: timeline, reveal animation, controller and the pins found so far.
type engine struct {
	store     *timeline.Store
	sched     *reveal.Scheduler
	ctrl      *session.Controller
	collector *pins.Collector
	// outcomes receives the end of every turn. It is buffered so the controller never blocks on a
	// slow reader; an outcome nobody reads in time is dropped.
	outcomes chan session.Outcome
}

func newEngine(cfg config, logger *slog.Logger, onPin func(models.LocationPin)) (*engine, error) {
	endpoint, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}

	store := timeline.NewStore(logger, cfg.strict())
	sched := reveal.NewScheduler(store, reveal.Options{
		Interval: cfg.RevealInterval,
		Logger:   logger,
	})
	collector := pins.NewCollector(logger, onPin)
	outcomes := make(chan session.Outcome, 4)

	ctrl := session.NewController(session.Config{
		Endpoint:   endpoint,
		OnLocation: collector.Add,
		OnTurnEnd: func(o session.Outcome) {
			select {
			case outcomes <- o:
			default:
				logger.Warn("Dropping turn outcome", slog.String("status", string(o.Status)))
			}
		},
		Logger: logger,
		Strict: cfg.strict(),
	}, store, sched)

	return &engine{
		store:     store,
		sched:     sched,
		ctrl:      ctrl,
		collector: collector,
		outcomes:  outcomes,
	}, nil
}

func (e *engine) close() {
	e.ctrl.Close()
}
