package llm

import "context"

// Message is one entry of the conversation fed to the model.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SamplingConfig carries decoding parameters for a generation call.
type SamplingConfig struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// ProgressFunc receives model load progress as a percentage and a
// human-readable label.
type ProgressFunc func(percent float64, label string)

// TokenFunc receives incrementally generated tokens in order.
type TokenFunc func(token string)

// Generator defines the contract for an inference runtime. Load must
// be called once before Generate; progress callbacks are optional and
// delivered in order. Generate blocks until the full response exists,
// invoking onToken for each incremental chunk along the way.
type Generator interface {
	Name() string
	Load(ctx context.Context, modelID string, progress ProgressFunc) error
	Generate(ctx context.Context, messages []Message, cfg SamplingConfig, onToken TokenFunc) (string, error)
}

// History is a rolling window of conversation messages with a cap on
// retained entries. The system prompt, when set, is always the first
// message and never evicted.
type History struct {
	system     string
	messages   []Message
	maxEntries int
}

func NewHistory(system string, maxEntries int) *History {
	if maxEntries <= 0 {
		maxEntries = 12
	}
	return &History{system: system, maxEntries: maxEntries}
}

func (h *History) AddUser(text string) {
	h.append(Message{Role: RoleUser, Content: text})
}

func (h *History) AddAssistant(text string) {
	h.append(Message{Role: RoleAssistant, Content: text})
}

func (h *History) append(m Message) {
	h.messages = append(h.messages, m)
	if len(h.messages) > h.maxEntries {
		h.messages = h.messages[len(h.messages)-h.maxEntries:]
	}
}

// Messages returns the prompt window: system prompt first, then the
// retained conversation in order.
func (h *History) Messages() []Message {
	out := make([]Message, 0, len(h.messages)+1)
	if h.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: h.system})
	}
	return append(out, h.messages...)
}

// DropLast removes the most recent message. Used to roll back a user
// turn whose generation failed so history does not hold a dangling
// question.
func (h *History) DropLast() {
	if len(h.messages) > 0 {
		h.messages = h.messages[:len(h.messages)-1]
	}
}

func (h *History) Len() int { return len(h.messages) }
