package models

// Speaker is the participant a message is attributed to. Each speaker has a fixed label and colour.
type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgentA Speaker = "agent_a"
	SpeakerAgentB Speaker = "agent_b"
	SpeakerAgentC Speaker = "agent_c"
	SpeakerSystem Speaker = "system"
)

type speakerStyle struct {
	label string
	color string
}

var speakerStyles = map[Speaker]speakerStyle{
	SpeakerUser:   {label: "あなた", color: "#5FAFFF"},
	SpeakerAgentA: {label: "不動産エージェント", color: "#FF8700"},
	SpeakerAgentB: {label: "駅エージェント", color: "#5FD787"},
	SpeakerAgentC: {label: "周辺調査エージェント", color: "#D75FD7"},
	SpeakerSystem: {label: "システム", color: "#8A8A8A"},
}

// Label returns the display name of the speaker.
func (s Speaker) Label() string {
	if st, ok := speakerStyles[s]; ok {
		return st.label
	}
	return speakerStyles[SpeakerSystem].label
}

// Color returns the display colour of the speaker as a hex string.
func (s Speaker) Color() string {
	if st, ok := speakerStyles[s]; ok {
		return st.color
	}
	return speakerStyles[SpeakerSystem].color
}

// SpeakerForAgent maps a backend agent identifier to a speaker. Unknown identifiers are attributed
// to the primary agent.
func SpeakerForAgent(agent string) Speaker {
	switch agent {
	case "station", "suggestion":
		return SpeakerAgentB
	case "hazard", "report":
		return SpeakerAgentC
	default:
		return SpeakerAgentA
	}
}
