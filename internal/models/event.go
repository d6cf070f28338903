package models

import (
	"errors"
	"fmt"
)

// EventKind identifies what a decoded stream record means for the conversation.
type EventKind string

const (
	// EventSessionStarted is emitted once when the backend begins a turn.
	EventSessionStarted EventKind = "session_started"
	// EventTurnProduced carries one utterance from one of the agents.
	EventTurnProduced EventKind = "turn_produced"
	// EventSessionCompleted is emitted when the backend has nothing more to say for the turn.
	EventSessionCompleted EventKind = "session_completed"
	// EventLocationFound carries a map location discovered during the turn.
	EventLocationFound EventKind = "location_found"
	// EventBackendError carries an error description the backend chose to narrate.
	EventBackendError EventKind = "backend_error"
)

// ConversationEvent is a single record decoded from a conversation stream. Events are transient:
// the session controller turns them into timeline messages or pin callbacks and drops them.
type ConversationEvent struct {
	Kind EventKind

	Text      string
	Agent     string
	AgentName string
	Round     int

	// Location would be filled if Kind is EventLocationFound.
	Location *LocationPin
}

// Speaker returns the participant a timeline entry created from this event is attributed to.
func (e ConversationEvent) Speaker() Speaker {
	switch e.Kind {
	case EventTurnProduced:
		return SpeakerForAgent(e.Agent)
	default:
		return SpeakerSystem
	}
}

// Frame types as they appear in the "type" field of the stream payload.
const (
	FrameConversationStart    = "conversation_start"
	FrameAgentResponse        = "agent_response"
	FrameConversationComplete = "conversation_complete"
	FramePin                  = "pin"
	FrameError                = "error"
)

var (
	// ErrUnknownFrame is returned by Frame.Event for a type this client does not understand.
	ErrUnknownFrame = errors.New("unknown frame type")
	// ErrInvalidFrame is returned by Frame.Event for a frame whose required fields are missing.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Frame is the JSON document carried by the data field of every stream record.
type Frame struct {
	Type      string   `json:"type"`
	Message   string   `json:"message,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	AgentName string   `json:"agent_name,omitempty"`
	Round     int      `json:"round,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lon       *float64 `json:"lon,omitempty"`
	Name      string   `json:"name,omitempty"`
}

// Event converts the frame into a ConversationEvent.
func (f Frame) Event() (ConversationEvent, error) {
	switch f.Type {
	case FrameConversationStart:
		return ConversationEvent{Kind: EventSessionStarted, Text: f.Message}, nil
	case FrameAgentResponse:
		return ConversationEvent{
			Kind:      EventTurnProduced,
			Text:      f.Message,
			Agent:     f.Agent,
			AgentName: f.AgentName,
			Round:     f.Round,
		}, nil
	case FrameConversationComplete:
		return ConversationEvent{Kind: EventSessionCompleted, Text: f.Message}, nil
	case FramePin:
		if f.Lat == nil || f.Lon == nil {
			return ConversationEvent{}, fmt.Errorf("%w: pin without coordinates", ErrInvalidFrame)
		}
		return ConversationEvent{
			Kind:     EventLocationFound,
			Location: &LocationPin{Label: f.Name, Lat: *f.Lat, Lon: *f.Lon},
		}, nil
	case FrameError:
		return ConversationEvent{Kind: EventBackendError, Text: f.Message}, nil
	case "":
		return ConversationEvent{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	default:
		return ConversationEvent{}, fmt.Errorf("%w: %s", ErrUnknownFrame, f.Type)
	}
}

// AgentFrame builds the frame for one agent utterance.
func AgentFrame(agent, agentName, text string, round int) Frame {
	return Frame{
		Type:      FrameAgentResponse,
		Agent:     agent,
		AgentName: agentName,
		Message:   text,
		Round:     round,
	}
}

// PinFrame builds the frame announcing a discovered location.
func PinFrame(pin LocationPin) Frame {
	lat, lon := pin.Lat, pin.Lon
	return Frame{Type: FramePin, Name: pin.Label, Lat: &lat, Lon: &lon}
}
