// Package transcript assembles recognized speech fragments into utterances.
package transcript

import (
	"strings"
	"sync"
)

// Buffer holds the ordered fragments of the current utterance. It is
// replaced wholesale at the start of each listening turn and promoted
// to a final string when the recognizer signals end of utterance.
type Buffer struct {
	mu      sync.Mutex
	finals  []string
	interim string
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Reset discards all fragments. Called when a listening turn begins.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.finals = b.finals[:0]
	b.interim = ""
	b.mu.Unlock()
}

// AddFinal appends a finalized fragment and clears any interim text.
func (b *Buffer) AddFinal(text string) {
	b.mu.Lock()
	if strings.TrimSpace(text) != "" {
		b.finals = append(b.finals, text)
	}
	b.interim = ""
	b.mu.Unlock()
}

// SetInterim replaces the provisional fragment shown while the user is
// still speaking. It never contributes to the promoted utterance.
func (b *Buffer) SetInterim(text string) {
	b.mu.Lock()
	b.interim = text
	b.mu.Unlock()
}

// Interim returns the current provisional fragment.
func (b *Buffer) Interim() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interim
}

// Promote joins the finalized fragments into the utterance text,
// collapsing runs of whitespace. An empty or whitespace-only result
// means the turn produced no usable speech.
func (b *Buffer) Promote() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.finals) == 0 {
		return ""
	}
	joined := strings.Join(b.finals, " ")
	return strings.Join(strings.Fields(joined), " ")
}
