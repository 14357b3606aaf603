package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

func TestQueueSnapshotRepo_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")
	r, err := NewQueueSnapshotRepo(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	created := time.UnixMilli(1700000000123)
	sent := created.Add(time.Second)
	msgs := []*domain.QueuedMessage{
		{
			ID: "dm_1_1", Text: "first", UserID: 1, Style: domain.DefaultStyle(), Priority: 5,
			Status: domain.StatusPending, CreatedAt: created, Delay: 1500 * time.Millisecond, MaxRetries: 3,
		},
		{
			ID: "dm_2_1", Text: "second", UserID: 2, Style: domain.Style{Color: "#FF0000", Position: "top", FontSize: 30, Duration: 8},
			Priority: 1, Status: domain.StatusSuccess, CreatedAt: created, SentAt: &sent, RetryCount: 1, MaxRetries: 3,
			ErrorMessage: "timeout",
		},
	}
	stats := domain.QueueStats{TotalSent: 4, TotalFailed: 1, TotalCancelled: 2, TotalEvicted: 3, SessionSent: 1}

	if err := r.Save(ctx, msgs, stats); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	r.Close()

	r, err = NewQueueSnapshotRepo(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	got, gotStats, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(got))
	}
	if got[0].ID != "dm_1_1" || got[1].ID != "dm_2_1" {
		t.Errorf("Expected saved order to be kept, got %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].Delay != 1500*time.Millisecond {
		t.Errorf("Expected delay 1.5s, got %v", got[0].Delay)
	}
	if !got[0].CreatedAt.Equal(created) {
		t.Errorf("Expected created_at %v, got %v", created, got[0].CreatedAt)
	}
	if got[1].SentAt == nil || !got[1].SentAt.Equal(sent) {
		t.Errorf("Expected sent_at %v, got %v", sent, got[1].SentAt)
	}
	if got[1].Style.Position != "top" || got[1].ErrorMessage != "timeout" || got[1].RetryCount != 1 {
		t.Errorf("Unexpected second message: %+v", got[1])
	}
	if gotStats != stats {
		t.Errorf("Expected stats %+v, got %+v", stats, gotStats)
	}
}

func TestQueueSnapshotRepo_SaveReplaces(t *testing.T) {
	ctx := context.Background()
	r, err := NewQueueSnapshotRepo(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	msg := &domain.QueuedMessage{ID: "a", Text: "a", Priority: 1, Status: domain.StatusPending, CreatedAt: time.Now()}
	if err := r.Save(ctx, []*domain.QueuedMessage{msg}, domain.QueueStats{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := r.Save(ctx, nil, domain.QueueStats{TotalSent: 1}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	got, stats, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected empty queue, got %d messages", len(got))
	}
	if stats.TotalSent != 1 {
		t.Errorf("Expected total_sent 1, got %d", stats.TotalSent)
	}
}

func TestQueueSnapshotRepo_EmptyStore(t *testing.T) {
	r, err := NewQueueSnapshotRepo(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	got, stats, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(got) != 0 || stats != (domain.QueueStats{}) {
		t.Errorf("Expected nothing from a fresh store, got %d messages and %+v", len(got), stats)
	}
}
