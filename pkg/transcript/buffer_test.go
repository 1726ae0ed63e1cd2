package transcript

import "testing"

func TestBufferPromoteJoinsFinals(t *testing.T) {
	b := NewBuffer()
	b.AddFinal("what is the ")
	b.AddFinal("  capital of France?")
	if got := b.Promote(); got != "what is the capital of France?" {
		t.Fatalf("unexpected promoted text: %q", got)
	}
}

func TestBufferResetDropsEverything(t *testing.T) {
	b := NewBuffer()
	b.AddFinal("hello")
	b.SetInterim("wor")
	b.Reset()
	if got := b.Promote(); got != "" {
		t.Fatalf("expected empty after reset, got %q", got)
	}
	if b.Interim() != "" {
		t.Fatalf("expected interim cleared after reset")
	}
}

func TestBufferInterimNeverPromoted(t *testing.T) {
	b := NewBuffer()
	b.SetInterim("half a tho")
	if got := b.Promote(); got != "" {
		t.Fatalf("interim text must not promote, got %q", got)
	}
	b.AddFinal("half a thought")
	if b.Interim() != "" {
		t.Fatalf("final fragment should clear interim")
	}
}

func TestBufferWhitespaceOnlyIsEmpty(t *testing.T) {
	b := NewBuffer()
	b.AddFinal("   ")
	b.AddFinal("\t")
	if got := b.Promote(); got != "" {
		t.Fatalf("expected empty promotion, got %q", got)
	}
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("Paris is the capital. It sits on the Seine! Anything else?", 8)
	want := []string{"Paris is the capital.", "It sits on the Seine!", "Anything else?"}
	if len(got) != len(want) {
		t.Fatalf("expected %d chunks, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chunk %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSplitSentencesMergesShortTail(t *testing.T) {
	got := SplitSentences("That is the whole answer. Yes", 8)
	if len(got) != 1 {
		t.Fatalf("expected short tail merged, got %v", got)
	}
}

func TestSplitSentencesEmpty(t *testing.T) {
	if got := SplitSentences("   ", 8); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
