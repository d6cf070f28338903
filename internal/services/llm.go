package services

import (
	"context"
	"iter"

	"github.com/Tonoyama/EkiPick/internal/models"
)

// LLM streams a completion for a conversation history. The first turn may carry the system prompt.
type LLM interface {
	Chat(ctx context.Context, turns []models.Turn) iter.Seq2[string, error]
}

// LLMParameters are optional sampling parameters shared by the providers. Nil fields use the
// provider default.
type LLMParameters struct {
	Temperature      *float32 `yaml:"temperature"`
	TopP             *float32 `yaml:"topP"`
	Stop             []string `yaml:"stop"`
	Seed             *int     `yaml:"seed"`
	PresencePenalty  *float32 `yaml:"presencePenalty"`
	FrequencyPenalty *float32 `yaml:"frequencyPenalty"`
}

func extractSystemMessage(turns []models.Turn) (string, []models.Turn) {
	if len(turns) == 0 {
		return "", turns
	}

	if turns[0].Role == models.RoleSystem {
		return turns[0].Content, turns[1:]
	}

	return "", turns
}
