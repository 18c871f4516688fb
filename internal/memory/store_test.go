package memory_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/emberforge/questpilot/internal/memory"
)

func TestAdd_StampsCreatedAt(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(8)
	s.Add(memory.Entry{Content: "a", Importance: 0.5})

	all := s.All()
	if len(all) != 1 {
		t.Fatalf("Len = %d, want 1", len(all))
	}
	if all[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}
}

func TestEviction_LowestImportanceFirst(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(3)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Add(memory.Entry{Content: "keep-high", Importance: 0.9, CreatedAt: base})
	s.Add(memory.Entry{Content: "evict-me", Importance: 0.1, CreatedAt: base.Add(time.Second)})
	s.Add(memory.Entry{Content: "keep-mid", Importance: 0.5, CreatedAt: base.Add(2 * time.Second)})

	// Fourth insert overflows the store; the 0.1 entry must go.
	s.Add(memory.Entry{Content: "newcomer", Importance: 0.3, CreatedAt: base.Add(3 * time.Second)})

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	for _, e := range s.All() {
		if e.Content == "evict-me" {
			t.Error("lowest-importance entry should have been evicted")
		}
	}
}

func TestEviction_OldestBreaksTies(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Add(memory.Entry{Content: "old", Importance: 0.5, CreatedAt: base})
	s.Add(memory.Entry{Content: "new", Importance: 0.5, CreatedAt: base.Add(time.Minute)})
	s.Add(memory.Entry{Content: "third", Importance: 0.5, CreatedAt: base.Add(2 * time.Minute)})

	for _, e := range s.All() {
		if e.Content == "old" {
			t.Error("oldest tied entry should have been evicted")
		}
	}
}

func TestTopK_OrdersByImportance(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(16)
	for i, imp := range []float64{0.2, 0.9, 0.5, 0.7} {
		s.Add(memory.Entry{Content: fmt.Sprintf("e%d", i), Importance: imp})
	}

	top := s.TopK(2)
	if len(top) != 2 {
		t.Fatalf("len = %d, want 2", len(top))
	}
	if top[0].Content != "e1" || top[1].Content != "e3" {
		t.Errorf("TopK order = %q, %q; want e1, e3", top[0].Content, top[1].Content)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(16)
	s.Add(memory.Entry{Content: "first", Importance: 0.5})
	s.Add(memory.Entry{Content: "second", Importance: 0.5})
	s.Add(memory.Entry{Content: "third", Importance: 0.5})

	recent := s.Recent(2)
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
	if recent[0].Content != "third" || recent[1].Content != "second" {
		t.Errorf("Recent order = %q, %q; want third, second", recent[0].Content, recent[1].Content)
	}
}

func TestWithTag(t *testing.T) {
	t.Parallel()

	s := memory.NewStore(16)
	s.Add(memory.Entry{Content: "a", Importance: 0.5, Tags: []string{"combat"}})
	s.Add(memory.Entry{Content: "b", Importance: 0.5, Tags: []string{"social"}})
	s.Add(memory.Entry{Content: "c", Importance: 0.5, Tags: []string{"combat", "loot"}})

	got := s.WithTag("combat")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "a" || got[1].Content != "c" {
		t.Errorf("WithTag order = %q, %q; want a, c", got[0].Content, got[1].Content)
	}
}
