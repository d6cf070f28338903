package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/Tonoyama/EkiPick/internal/models"
	"gopkg.in/yaml.v3"
)

// ScriptStep is one frame of a scripted narration, emitted after Delay.
type ScriptStep struct {
	// Type defaults to agent_response.
	Type      string              `yaml:"type"`
	Agent     string              `yaml:"agent"`
	AgentName string              `yaml:"agentName"`
	Message   string              `yaml:"message"`
	Round     int                 `yaml:"round"`
	Pin       *models.LocationPin `yaml:"pin"`
	Delay     time.Duration       `yaml:"delay"`
}

// Script holds the steps played for the first request of a session and for every later request.
type Script struct {
	First    []ScriptStep `yaml:"first"`
	Followup []ScriptStep `yaml:"followup"`
}

// ParseScript decodes a YAML script and checks every step.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("error decoding script: %w", err)
	}
	if len(s.First) == 0 {
		return Script{}, fmt.Errorf("script has no steps for the first turn")
	}
	if len(s.Followup) == 0 {
		s.Followup = s.First
	}

	for i, step := range append(append([]ScriptStep{}, s.First...), s.Followup...) {
		if _, err := step.frame("").Event(); err != nil {
			return Script{}, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return s, nil
}

// frame renders the step; "{{message}}" in the text is replaced with the user's message.
func (s ScriptStep) frame(userMessage string) models.Frame {
	if s.Pin != nil {
		return models.PinFrame(*s.Pin)
	}

	typ := s.Type
	if typ == "" {
		typ = models.FrameAgentResponse
	}
	return models.Frame{
		Type:      typ,
		Agent:     s.Agent,
		AgentName: s.AgentName,
		Message:   strings.ReplaceAll(s.Message, "{{message}}", userMessage),
		Round:     s.Round,
	}
}

// ScriptNarrator replays a fixed script. It needs no model and is the default development backend.
type ScriptNarrator struct {
	script Script
	speed  float64
	logger *slog.Logger
}

// NewScriptNarrator creates a narrator for script. speed scales every delay; values <= 0 mean 1.
func NewScriptNarrator(script Script, speed float64, logger *slog.Logger) ScriptNarrator {
	if speed <= 0 {
		speed = 1
	}
	return ScriptNarrator{
		script: script,
		speed:  speed,
		logger: logger.With(slog.String("module", "script")),
	}
}

// Narrate plays the first-turn steps when req opens its session and the follow-up steps otherwise.
func (n ScriptNarrator) Narrate(ctx context.Context, req models.NarrationRequest) iter.Seq2[models.Frame, error] {
	return func(yield func(models.Frame, error) bool) {
		steps := n.script.Followup
		if req.FirstTurn() {
			steps = n.script.First
		}
		n.logger.Debug("Playing script",
			slog.String("sessionID", req.SessionID),
			slog.Bool("firstTurn", req.FirstTurn()),
			slog.Int("steps", len(steps)))

		for _, step := range steps {
			if step.Delay > 0 {
				timer := time.NewTimer(time.Duration(float64(step.Delay) / n.speed))
				select {
				case <-ctx.Done():
					timer.Stop()
					yield(models.Frame{}, ctx.Err())
					return
				case <-timer.C:
				}
			}
			if !yield(step.frame(req.Message), nil) {
				return
			}
		}
	}
}
