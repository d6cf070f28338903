package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/transcript"
	"github.com/Tonoyama/EkiPick/internal/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var exportDir string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation.

Keys: enter sends, esc stops the reply, ctrl+n starts over, ctrl+s saves the
discovered stations to the pin store, ctrl+e exports the transcript as HTML,
ctrl+c leaves.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeStore, err := cfg.pinStore()
		if err != nil {
			return err
		}
		defer func() {
			if err := closeStore(); err != nil {
				logger.Error("Failed to close pin store", slog.String(logging.ErrKey, err.Error()))
			}
		}()

		eng, err := newEngine(cfg, logger, func(p models.LocationPin) {
			logger.Debug("Pin discovered", slog.String("label", p.Label))
		})
		if err != nil {
			return err
		}
		defer eng.close()

		dir := exportDir
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return fmt.Errorf("error getting working directory: %w", err)
			}
		}

		opts := tui.Options{
			Session:    eng.ctrl,
			Timeline:   eng.store,
			Outcomes:   eng.outcomes,
			Pins:       eng.collector,
			Transcript: transcript.NewRenderer(),
			ExportDir:  dir,
			Logger:     logger,
		}
		if store != nil {
			opts.Saver = store
		}

		p := tea.NewProgram(tui.New(cmd.Context(), opts), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		if _, err := p.Run(); err != nil && cmd.Context().Err() == nil {
			return fmt.Errorf("error running chat: %w", err)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().StringVar(&exportDir, "export-dir", "", "directory for exported transcripts (default is the working directory)")
}
