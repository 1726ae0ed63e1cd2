package llm

import "testing"

func TestHistoryWindowEvictsOldest(t *testing.T) {
	h := NewHistory("be brief", 2)
	h.AddUser("one")
	h.AddAssistant("two")
	h.AddUser("three")
	msgs := h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected system + 2 retained, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system first, got %s", msgs[0].Role)
	}
	if msgs[1].Content != "two" || msgs[2].Content != "three" {
		t.Fatalf("expected oldest evicted, got %+v", msgs)
	}
}

func TestHistoryDropLast(t *testing.T) {
	h := NewHistory("", 8)
	h.AddUser("question")
	h.DropLast()
	if h.Len() != 0 {
		t.Fatalf("expected empty history after rollback, got %d", h.Len())
	}
	h.DropLast() // no-op on empty
}
