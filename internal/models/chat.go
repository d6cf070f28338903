package models

import (
	"strings"
	"time"
)

// Role represents the role of a participant in a narrator conversation history.
type Role string

const (
	// RoleUser represents the person asking for a recommendation.
	RoleUser Role = "user"
	// RoleAssistant represents text produced by one of the agents.
	RoleAssistant Role = "assistant"
	// RoleSystem carries an agent's instructions.
	RoleSystem Role = "system"
)

// Turn is an entry of the history a narrator keeps per session.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// RenderTurns renders a history into a plain text block, one "role: content" line per turn.
func RenderTurns(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		sb.WriteString(string(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// NarrationRequest is one user request to a narrator. History holds the session's earlier turns;
// it is empty on the first request of a session.
type NarrationRequest struct {
	SessionID string
	Message   string
	History   []Turn
}

// FirstTurn reports whether the request opens its session.
func (r NarrationRequest) FirstTurn() bool {
	return len(r.History) == 0
}
