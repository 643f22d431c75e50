package audit

import (
	"context"
	"testing"
	"time"
)

func TestRetentionSweeper_Disabled(t *testing.T) {
	w := NewRetentionSweeper(nil, 30, nil)
	deleted, err := w.Sweep(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deletions without a store, got %d", deleted)
	}

	w = NewRetentionSweeper(NewStore(newTestDB(t)), 0, nil)
	if w.retention != 0 {
		t.Errorf("expected zero retention, got %v", w.retention)
	}
}

func TestRetentionSweeper_DeletesOnlyExpired(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, age := range []time.Duration{40 * 24 * time.Hour, 10 * 24 * time.Hour} {
		ev := &EventRecord{EventType: EventVersionAdded, DocumentID: "d1"}
		if err := store.Append(ctx, ev); err != nil {
			t.Fatalf("append: %v", err)
		}
		if err := db.Model(&EventRecord{}).Where("id = ?", ev.ID).Update("created_at", now.Add(-age)).Error; err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}

	w := NewRetentionSweeper(store, 30, nil)
	deleted, err := w.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}

	deleted, err = w.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if deleted != 0 {
		t.Errorf("re-running the sweep must be a no-op, deleted %d", deleted)
	}
}
