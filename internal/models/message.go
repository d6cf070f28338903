package models

import "time"

// Message is one entry of the conversation timeline. FullText never changes after the message is
// created; VisibleText grows towards it while the message is being revealed.
type Message struct {
	ID          string
	Speaker     Speaker
	FullText    string
	VisibleText string
	RevealState RevealState
	Visible     bool
	CreatedAt   time.Time
}

// RevealState tracks how much of a message has been shown.
type RevealState string

const (
	RevealPending   RevealState = "pending"
	RevealRevealing RevealState = "revealing"
	RevealDone      RevealState = "done"
)

// Done reports whether the whole text is shown.
func (m Message) Done() bool {
	return m.RevealState == RevealDone
}

// NewUserMessage returns the message for the user's own input. It is shown in full immediately.
func NewUserMessage(text string) Message {
	return Message{
		Speaker:     SpeakerUser,
		FullText:    text,
		VisibleText: text,
		RevealState: RevealDone,
		Visible:     true,
		CreatedAt:   time.Now(),
	}
}

// NewStreamedMessage returns a hidden, unrevealed message for text that arrived over the stream.
func NewStreamedMessage(speaker Speaker, text string) Message {
	return Message{
		Speaker:     speaker,
		FullText:    text,
		RevealState: RevealPending,
		CreatedAt:   time.Now(),
	}
}
