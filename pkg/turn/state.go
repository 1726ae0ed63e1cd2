package turn

// State is whose turn it is in the conversation loop. Exactly one
// state is active at any instant; transitions are serialized.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateThinking:
		return "THINKING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

// Mode selects how a turn ends: manual mode returns to idle after
// speaking, always-on resumes listening without a user action.
type Mode int

const (
	ModeManual Mode = iota
	ModeAlwaysOn
)

func (m Mode) String() string {
	if m == ModeAlwaysOn {
		return "always_on"
	}
	return "manual"
}

// ParseMode maps a config string to a Mode, defaulting to manual.
func ParseMode(s string) Mode {
	if s == "always_on" {
		return ModeAlwaysOn
	}
	return ModeManual
}
