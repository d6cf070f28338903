// Package tui is the interactive conversation view: a timeline that reveals agent replies as they
// stream, an input line, and a confirmation prompt before leaving a conversation.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
	"github.com/Tonoyama/EkiPick/internal/navguard"
	"github.com/Tonoyama/EkiPick/internal/pins"
	"github.com/Tonoyama/EkiPick/internal/session"
	"github.com/Tonoyama/EkiPick/internal/transcript"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

// Session is the part of the session controller the view drives.
type Session interface {
	Start(ctx context.Context, text string) error
	Stop()
	Reset()
	Active() bool
}

// Timeline is the read side of the timeline store.
type Timeline interface {
	Messages() []models.Message
	NonEmpty() bool
	Changes() <-chan struct{}
}

// Options holds the view's collaborators.
type Options struct {
	Session  Session
	Timeline Timeline
	// Outcomes delivers the end of every turn, typically from the controller's OnTurnEnd.
	Outcomes <-chan session.Outcome

	Pins *pins.Collector
	// Saver stores discovered pins on ctrl+s. Nil disables saving.
	Saver pins.Saver

	Transcript transcript.Renderer
	// ExportDir receives transcripts exported with ctrl+e.
	ExportDir string

	Logger *slog.Logger
}

type action int

const (
	actionQuit action = iota
	actionNewConversation
)

type (
	changedMsg   struct{}
	turnEndedMsg session.Outcome
	pinsSavedMsg struct {
		n   int
		err error
	}
	exportDoneMsg struct {
		path string
		err  error
	}
)

// Model is the bubbletea model of the conversation view.
type Model struct {
	ctx   context.Context
	opts  Options
	guard navguard.Guard

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	confirm *huh.Form
	answer  *bool
	pending action

	status string
	err    error

	logger *slog.Logger
}

// New creates the view. ctx bounds every turn started from it.
func New(ctx context.Context, opts Options) Model {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	in := textinput.New()
	in.Placeholder = "希望の駅や条件を入力してください"
	in.CharLimit = 1000
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = headerStyle

	return Model{
		ctx:      ctx,
		opts:     opts,
		guard:    navguard.New(opts.Session, opts.Timeline),
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		logger:   opts.Logger.With(slog.String("module", "tui")),
	}
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return changedMsg{}
	}
}

func waitForOutcome(ch <-chan session.Outcome) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		o, ok := <-ch
		if !ok {
			return nil
		}
		return turnEndedMsg(o)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.opts.Timeline.Changes()), waitForOutcome(m.opts.Outcomes))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.confirm != nil {
		return m.updateConfirm(msg)
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case changedMsg:
		m.refresh()
		return m, waitForChange(m.opts.Timeline.Changes())

	case turnEndedMsg:
		m.turnEnded(session.Outcome(msg))
		return m, waitForOutcome(m.opts.Outcomes)

	case pinsSavedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = fmt.Sprintf("%d 件のピンを保存しました", msg.n)
		}
		return m, nil

	case exportDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = "書き出しました: " + msg.path
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m.navigate(actionQuit)
		case tea.KeyCtrlN:
			return m.navigate(actionNewConversation)
		case tea.KeyEsc:
			m.opts.Session.Stop()
			return m, nil
		case tea.KeyCtrlS:
			return m, m.savePins()
		case tea.KeyCtrlE:
			return m, m.export()
		case tea.KeyEnter:
			return m.send()
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) send() (tea.Model, tea.Cmd) {
	if m.opts.Session.Active() {
		m.status = "応答中です。esc で停止できます"
		return m, nil
	}

	text := m.input.Value()
	if err := m.opts.Session.Start(m.ctx, text); err != nil {
		if !errors.Is(err, session.ErrEmptyMessage) {
			m.err = err
		}
		return m, nil
	}
	m.input.Reset()
	m.status, m.err = "", nil
	return m, m.spinner.Tick
}

func (m *Model) turnEnded(o session.Outcome) {
	switch o.Status {
	case session.StatusFailed:
		m.err = o.Err
	case session.StatusCancelled:
		m.status = "停止しました"
	default:
		m.status = ""
	}
	m.refresh()
}

// navigate performs a, asking first when the conversation would be lost.
func (m Model) navigate(a action) (tea.Model, tea.Cmd) {
	if !m.guard.ShouldBlock() {
		return m.perform(a)
	}

	title := "会話を終了しますか？"
	if a == actionNewConversation {
		title = "新しい会話を始めますか？"
	}
	m.pending = a
	m.answer = new(bool)
	m.confirm = huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Description("現在の会話は失われます。").
			Affirmative("はい").
			Negative("いいえ").
			Value(m.answer),
	)).WithShowHelp(false)
	m.input.Blur()
	return m, m.confirm.Init()
}

func (m Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	fm, cmd := m.confirm.Update(msg)
	if f, ok := fm.(*huh.Form); ok {
		m.confirm = f
	}

	switch m.confirm.State {
	case huh.StateCompleted:
		return m.resolve(*m.answer)
	case huh.StateAborted:
		return m.resolve(false)
	}
	return m, cmd
}

// resolve closes the confirmation and performs the pending action when confirmed. Declining
// leaves the conversation untouched.
func (m Model) resolve(confirmed bool) (tea.Model, tea.Cmd) {
	m.confirm = nil
	m.answer = nil
	m.input.Focus()
	if !confirmed {
		return m, nil
	}
	return m.perform(m.pending)
}

func (m Model) perform(a action) (tea.Model, tea.Cmd) {
	switch a {
	case actionNewConversation:
		m.opts.Session.Reset()
		if m.opts.Pins != nil {
			m.opts.Pins.Reset()
		}
		m.status, m.err = "", nil
		m.refresh()
		return m, nil
	default:
		m.opts.Session.Stop()
		return m, tea.Quit
	}
}

func (m Model) savePins() tea.Cmd {
	if m.opts.Saver == nil || m.opts.Pins == nil {
		return func() tea.Msg {
			return pinsSavedMsg{err: errors.New("ピンの保存先が設定されていません")}
		}
	}
	ctx, collector, saver := m.ctx, m.opts.Pins, m.opts.Saver
	return func() tea.Msg {
		n, err := collector.SaveAll(ctx, saver)
		return pinsSavedMsg{n: n, err: err}
	}
}

func (m Model) export() tea.Cmd {
	msgs := m.opts.Timeline.Messages()
	dir, renderer, logger := m.opts.ExportDir, m.opts.Transcript, m.logger
	return func() tea.Msg {
		path := filepath.Join(dir, "ekipick-"+time.Now().Format("20060102-150405")+".html")
		f, err := os.Create(path)
		if err != nil {
			return exportDoneMsg{err: fmt.Errorf("error creating transcript: %w", err)}
		}
		defer f.Close()

		if err := renderer.WriteHTML(f, "EkiPick", msgs); err != nil {
			logger.Error("Failed to export transcript", slog.String(logging.ErrKey, err.Error()))
			return exportDoneMsg{err: err}
		}
		return exportDoneMsg{path: path}
	}
}

func (m *Model) refresh() {
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTimeline(m.opts.Timeline.Messages(), m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
}

func renderTimeline(msgs []models.Message, width int) string {
	var sb strings.Builder
	for _, msg := range msgs {
		if !msg.Visible {
			continue
		}
		sb.WriteString(speakerStyle(msg.Speaker).Render(msg.Speaker.Label()))
		sb.WriteString("\n")

		text := msg.VisibleText
		if msg.RevealState == models.RevealRevealing {
			text += revealCursor
		}
		sb.WriteString(bodyStyle.Width(max(width-2, 10)).Render(text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// View implements tea.Model.
func (m Model) View() string {
	if m.confirm != nil {
		return m.viewport.View() + "\n" + m.confirm.View()
	}

	header := headerStyle.Render("EkiPick")
	if m.opts.Pins != nil {
		if n := len(m.opts.Pins.Pins()); n > 0 {
			header += statusStyle.Render(fmt.Sprintf("  ピン %d 件", n))
		}
	}

	status := statusStyle.Render(m.status)
	switch {
	case m.err != nil:
		status = errorStyle.Render("エラー: " + m.err.Error())
	case m.opts.Session.Active():
		status = m.spinner.View() + statusStyle.Render(" 応答中… (esc で停止)")
	}

	return header + "\n" + m.viewport.View() + "\n" + m.input.View() + "\n" + status
}
