package history

import (
	"context"
	"strconv"
	"testing"
)

func TestMemoryRecentNewestFirst(t *testing.T) {
	mem := NewMemory(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		if err := mem.Record(ctx, Entry{ID: strconv.Itoa(i)}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	entries, err := mem.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected capacity to bound entries, got %d", len(entries))
	}
	for i, want := range []string{"5", "4", "3"} {
		if entries[i].ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, entries[i].ID)
		}
	}

	entries, _ = mem.Recent(ctx, 1)
	if len(entries) != 1 || entries[0].ID != "5" {
		t.Fatalf("expected only newest entry, got %+v", entries)
	}
}

func TestMemoryDefaultCapacity(t *testing.T) {
	mem := NewMemory(0)
	if mem.capacity != 50 {
		t.Fatalf("expected default capacity 50, got %d", mem.capacity)
	}
	entries, err := mem.Recent(context.Background(), 5)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty history, got %v %v", entries, err)
	}
}
