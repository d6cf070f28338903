package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/navguard"
	"github.com/Tonoyama/EkiPick/internal/session"
	"github.com/spf13/cobra"
)

const leaveConfirmWindow = 3 * time.Second

var savePins bool

var askCmd = &cobra.Command{
	Use:   "ask <request>",
	Short: "Ask once and print the reply as it is revealed",
	Long: `Ask once and print the agents' replies to stdout as they are revealed.

Press Ctrl+C twice within three seconds to leave while a reply is playing.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cfg, logger, func(p models.LocationPin) {
			logger.Debug("Pin discovered", slog.String("label", p.Label))
		})
		if err != nil {
			return err
		}
		defer eng.close()

		interrupts := make(chan os.Signal, 1)
		signal.Notify(interrupts, os.Interrupt)
		defer signal.Stop(interrupts)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go guardInterrupts(ctx, navguard.New(eng.ctrl, eng.store), interrupts, cmd.ErrOrStderr(), eng.ctrl.Stop)

		if err := eng.ctrl.Start(ctx, strings.Join(args, " ")); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		outcome := play(eng, out)

		found := eng.collector.Pins()
		if len(found) > 0 {
			fmt.Fprintln(out)
			for _, p := range found {
				fmt.Fprintf(out, "📍 %s (%.5f, %.5f)\n", p.Label, p.Lat, p.Lon)
			}
		}
		if savePins && len(found) > 0 {
			if err := saveFound(ctx, eng, out); err != nil {
				return err
			}
		}

		switch outcome.Status {
		case session.StatusFailed:
			return outcome.Err
		case session.StatusCancelled:
			fmt.Fprintln(cmd.ErrOrStderr(), "stopped")
		}
		return nil
	},
}

func saveFound(ctx context.Context, eng *engine, out io.Writer) error {
	store, closeStore, err := cfg.pinStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("Failed to close pin store", slog.String(logging.ErrKey, err.Error()))
		}
	}()
	if store == nil {
		return fmt.Errorf("no pin store configured")
	}

	n, err := eng.collector.SaveAll(ctx, store)
	fmt.Fprintf(out, "saved %d pins\n", n)
	return err
}

// play prints the timeline as it is revealed until the turn has ended and every reply is shown.
func play(eng *engine, out io.Writer) session.Outcome {
	p := newRevealPrinter(out)
	changes := eng.store.Changes()

	var outcome session.Outcome
wait:
	for {
		select {
		case <-changes:
			p.flush(eng.store.Messages())
		case outcome = <-eng.outcomes:
			break wait
		}
	}

	// No more messages arrive once the turn has ended; wait for the last reveal.
	idle := eng.sched.Idle()
	for {
		select {
		case <-changes:
			p.flush(eng.store.Messages())
		case <-idle:
			p.flush(eng.store.Messages())
			p.end()
			return outcome
		}
	}
}

// guardInterrupts stops the turn on SIGINT once the user confirms by interrupting again within
// the confirmation window.
func guardInterrupts(ctx context.Context, guard navguard.Guard, interrupts <-chan os.Signal, errOut io.Writer, stop func()) {
	confirm := navguard.ConfirmerFunc(func(ctx context.Context) (bool, error) {
		fmt.Fprintf(errOut, "\nPress Ctrl+C again within %s to stop.\n", leaveConfirmWindow)
		select {
		case <-interrupts:
			return true, nil
		case <-time.After(leaveConfirmWindow):
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-interrupts:
			if _, err := guard.Leave(ctx, confirm, stop); err != nil {
				return
			}
		}
	}
}

// revealPrinter writes the growing visible text of agent messages. It only ever appends, so it
// works on a plain stream.
type revealPrinter struct {
	w       io.Writer
	printed map[string]int
	last    string
}

func newRevealPrinter(w io.Writer) *revealPrinter {
	return &revealPrinter{w: w, printed: make(map[string]int)}
}

func (p *revealPrinter) flush(msgs []models.Message) {
	for _, m := range msgs {
		if !m.Visible || m.Speaker == models.SpeakerUser {
			continue
		}
		runes := []rune(m.VisibleText)
		if len(runes) == 0 {
			continue
		}
		n, seen := p.printed[m.ID]
		if seen && n >= len(runes) {
			continue
		}
		if !seen || p.last != m.ID {
			if p.last != "" {
				fmt.Fprint(p.w, "\n\n")
			}
			fmt.Fprintf(p.w, "[%s]\n", m.Speaker.Label())
			p.last = m.ID
		}
		fmt.Fprint(p.w, string(runes[n:]))
		p.printed[m.ID] = len(runes)
	}
}

func (p *revealPrinter) end() {
	if p.last != "" {
		fmt.Fprintln(p.w)
	}
}

func init() {
	askCmd.Flags().BoolVar(&savePins, "save", false, "save discovered pins to the configured pin store")
}
