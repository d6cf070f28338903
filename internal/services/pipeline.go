package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/logging"
	"github.com/Tonoyama/EkiPick/internal/models"
)

// Agent is one role in the narration pipeline.
type Agent struct {
	ID     string
	Name   string
	Prompt string
}

const pinInstruction = "候補の駅ごとに、本文の最後に `PIN: 駅名, 緯度, 経度` の形式で一行ずつ書いてください。"

// Agents used by the default pipeline.
var (
	StationAgent = Agent{
		ID:   "station",
		Name: "駅表示エージェント",
		Prompt: "あなたは駅表示エージェントです。ユーザーが挙げた駅や地名を特定し、その場所を短く紹介してください。" +
			pinInstruction,
	}
	SuggestionAgent = Agent{
		ID:     "suggestion",
		Name:   "住む駅推薦エージェント",
		Prompt: "あなたは住む駅推薦エージェントです。通勤や生活の条件から、住むのに向いている駅を三つまで理由とともに推薦してください。",
	}
	MultiPinAgent = Agent{
		ID:     "station",
		Name:   "駅表示エージェント",
		Prompt: "あなたは駅表示エージェントです。与えられた推薦文に出てくる駅をすべて地図に示します。" + pinInstruction,
	}
	ReportAgent = Agent{
		ID:   "report",
		Name: "駅周辺情報調査エージェント",
		Prompt: "あなたは駅周辺情報調査エージェントです。与えられた駅のうち %d 番目の駅について、周辺の買い物、治安、" +
			"災害リスクを簡潔にまとめてください。該当する駅がなければ「出力無」とだけ答えてください。",
	}
	FollowupAgent = Agent{
		ID:     "real_estate_response",
		Name:   "不動産エージェント",
		Prompt: "あなたは追加質問フォローアップエージェントです。推薦内容を踏まえ、ユーザーに次に確認したいことを一つ質問してください。",
	}
	EstateAgent = Agent{
		ID:   "real_estate_response",
		Name: "不動産エージェント",
		Prompt: "あなたは不動産エージェントです。これまでの会話を踏まえてユーザーの質問に答えてください。" +
			"新しい駅に触れる場合は " + pinInstruction,
	}
)

const (
	maxReports      = 3
	noOutputMarker  = "出力無"
	startMessage    = "検討を開始します"
	completeMessage = "検討が完了しました"
	errorPrefix     = "会話中にエラーが発生しました: "
)

var pinLine = regexp.MustCompile(`(?m)^\s*PIN:\s*(.+?)\s*[,、]\s*(-?\d+(?:\.\d+)?)\s*[,、]\s*(-?\d+(?:\.\d+)?)\s*$`)

// Pipeline narrates a turn by chaining LLM agents. The first request of a session runs the full
// recommendation pipeline; later requests are answered by a single agent with the session history.
type Pipeline struct {
	llm    LLM
	logger *slog.Logger
}

// NewPipeline creates a pipeline over llm.
func NewPipeline(llm LLM, logger *slog.Logger) Pipeline {
	return Pipeline{
		llm:    llm,
		logger: logger.With(slog.String("module", "pipeline")),
	}
}

type agentReply struct {
	agent Agent
	text  string
	pins  []models.LocationPin
}

// Narrate implements the narrator contract. LLM failures are narrated as an error frame rather
// than returned, so the client shows them in the conversation.
func (p Pipeline) Narrate(ctx context.Context, req models.NarrationRequest) iter.Seq2[models.Frame, error] {
	return func(yield func(models.Frame, error) bool) {
		if !yield(models.Frame{Type: models.FrameConversationStart, Message: startMessage}, nil) {
			return
		}

		var err error
		if req.FirstTurn() {
			err = p.firstTurn(ctx, req, yield)
		} else {
			err = p.followupTurn(ctx, req, yield)
		}

		switch {
		case errors.Is(err, errStopped):
			return
		case ctx.Err() != nil:
			yield(models.Frame{}, ctx.Err())
			return
		case err != nil:
			p.logger.Error("Pipeline failed", slog.String("sessionID", req.SessionID), slog.String(logging.ErrKey, err.Error()))
			if !yield(models.Frame{Type: models.FrameError, Message: errorPrefix + err.Error()}, nil) {
				return
			}
		}

		yield(models.Frame{Type: models.FrameConversationComplete, Message: completeMessage}, nil)
	}
}

var errStopped = errors.New("consumer stopped")

func (p Pipeline) firstTurn(ctx context.Context, req models.NarrationRequest, yield func(models.Frame, error) bool) error {
	station, err := p.ask(ctx, StationAgent, nil, req.Message)
	if err != nil {
		return err
	}
	if !emit(station, yield) {
		return errStopped
	}

	suggestion, err := p.ask(ctx, SuggestionAgent, nil, req.Message)
	if err != nil {
		return err
	}
	if !emit(suggestion, yield) {
		return errStopped
	}

	located, err := p.ask(ctx, MultiPinAgent, nil, suggestion.text)
	if err != nil {
		return err
	}
	if !emit(located, yield) {
		return errStopped
	}

	for i := 1; i <= maxReports; i++ {
		agent := ReportAgent
		agent.Prompt = fmt.Sprintf(ReportAgent.Prompt, i)
		report, err := p.ask(ctx, agent, nil, located.text)
		if err != nil {
			return err
		}
		if strings.Contains(report.text, noOutputMarker) {
			break
		}
		if !emit(report, yield) {
			return errStopped
		}
	}

	followup, err := p.ask(ctx, FollowupAgent, nil, suggestion.text)
	if err != nil {
		return err
	}
	if !emit(followup, yield) {
		return errStopped
	}
	return nil
}

func (p Pipeline) followupTurn(ctx context.Context, req models.NarrationRequest, yield func(models.Frame, error) bool) error {
	reply, err := p.ask(ctx, EstateAgent, req.History, req.Message)
	if err != nil {
		return err
	}
	if !emit(reply, yield) {
		return errStopped
	}
	return nil
}

// ask runs one agent to completion and splits the location lines out of its answer.
func (p Pipeline) ask(ctx context.Context, agent Agent, history []models.Turn, input string) (agentReply, error) {
	turns := make([]models.Turn, 0, len(history)+2)
	turns = append(turns, models.Turn{Role: models.RoleSystem, Content: agent.Prompt})
	turns = append(turns, history...)
	turns = append(turns, models.Turn{Role: models.RoleUser, Content: input, Timestamp: time.Now()})

	start := time.Now()
	var sb strings.Builder
	for chunk, err := range p.llm.Chat(ctx, turns) {
		if err != nil {
			return agentReply{}, fmt.Errorf("%s: %w", agent.Name, err)
		}
		sb.WriteString(chunk)
	}
	if err := ctx.Err(); err != nil {
		return agentReply{}, err
	}

	text, pins := ExtractPins(sb.String())
	p.logger.Debug("Agent answered",
		slog.String("agent", agent.ID),
		slog.Int("pins", len(pins)),
		slog.Duration("took", time.Since(start)))
	return agentReply{agent: agent, text: text, pins: pins}, nil
}

func emit(r agentReply, yield func(models.Frame, error) bool) bool {
	for _, pin := range r.pins {
		if !yield(models.PinFrame(pin), nil) {
			return false
		}
	}
	return yield(models.AgentFrame(r.agent.ID, r.agent.Name, r.text, 0), nil)
}

// ExtractPins removes `PIN: label, lat, lon` lines from text and returns them as pins.
func ExtractPins(text string) (string, []models.LocationPin) {
	var pins []models.LocationPin
	for _, m := range pinLine.FindAllStringSubmatch(text, -1) {
		lat, err1 := strconv.ParseFloat(m[2], 64)
		lon, err2 := strconv.ParseFloat(m[3], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		pin := models.LocationPin{Label: m[1], Lat: lat, Lon: lon}
		if pin.Valid() {
			pins = append(pins, pin)
		}
	}
	text = pinLine.ReplaceAllString(text, "")
	return strings.TrimSpace(text), pins
}
