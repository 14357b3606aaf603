package domain

import (
	"errors"
	"testing"
	"time"
)

func pendingMessage(now time.Time) *QueuedMessage {
	return &QueuedMessage{
		ID:         "dm_1_1",
		Text:       "hi",
		UserID:     1,
		Style:      DefaultStyle(),
		Priority:   1,
		Status:     StatusPending,
		CreatedAt:  now,
		MaxRetries: DefaultMaxRetries,
	}
}

func TestQueuedMessage_IsEligible_RespectsDelay(t *testing.T) {
	now := time.Unix(1000, 0)
	m := pendingMessage(now)
	m.Delay = 10 * time.Second

	if m.IsEligible(now.Add(9 * time.Second)) {
		t.Error("Expected message to wait for its delay")
	}
	if !m.IsEligible(now.Add(10 * time.Second)) {
		t.Error("Expected message to be eligible once delay elapsed")
	}
}

func TestQueuedMessage_RetryExhaustion(t *testing.T) {
	now := time.Unix(1000, 0)
	m := pendingMessage(now)

	for i := 1; i <= m.MaxRetries; i++ {
		if err := m.MarkSending(); err != nil {
			t.Fatalf("attempt %d: Unexpected error: %v", i, err)
		}
		final, err := m.MarkFailure("sink down", now)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if i < m.MaxRetries {
			if final || m.Status != StatusPending {
				t.Fatalf("attempt %d: expected requeue, got %s", i, m.Status)
			}
			if m.Delay != time.Duration(i)*RetryBackoffStep {
				t.Errorf("attempt %d: expected delay %v, got %v", i, time.Duration(i)*RetryBackoffStep, m.Delay)
			}
			now = m.ReadyAt()
		} else if !final || m.Status != StatusFailed {
			t.Fatalf("Expected failed on attempt %d, got %s", i, m.Status)
		}
	}

	if m.RetryCount != m.MaxRetries {
		t.Errorf("Expected retry count %d, got %d", m.MaxRetries, m.RetryCount)
	}
	if m.ErrorMessage != "sink down" {
		t.Errorf("Expected error message to be kept, got %q", m.ErrorMessage)
	}
}

func TestQueuedMessage_InvalidTransitions(t *testing.T) {
	now := time.Unix(1000, 0)
	m := pendingMessage(now)

	if err := m.MarkSuccess(now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for pending->success, got %v", err)
	}
	if _, err := m.MarkFailure("x", now); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected ErrInvalidTransition for pending->retry, got %v", err)
	}

	_ = m.MarkSending()
	_ = m.MarkSuccess(now)
	if err := m.Cancel(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Expected terminal message to refuse cancel, got %v", err)
	}
	if m.SentAt == nil || !m.SentAt.Equal(now) {
		t.Errorf("Expected sent time to be recorded")
	}
}

func TestQueuedMessage_CancelWhileSending(t *testing.T) {
	m := pendingMessage(time.Unix(1000, 0))
	_ = m.MarkSending()
	if err := m.Cancel(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if m.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", m.Status)
	}
}

func TestStyle_Normalize(t *testing.T) {
	s := Style{FontSize: 100, Duration: -3, Position: "diagonal"}.Normalize()
	if s.FontSize != 48 || s.Duration != 1 {
		t.Errorf("Expected clamped style, got %+v", s)
	}
	if s.Color != "#FFFFFF" || s.Position != "scroll" {
		t.Errorf("Expected defaults to fill blanks, got %+v", s)
	}
}

func TestClampPriority(t *testing.T) {
	cases := map[int]int{-1: 1, 0: 1, 3: 3, 5: 5, 9: 5}
	for in, want := range cases {
		if got := ClampPriority(in); got != want {
			t.Errorf("ClampPriority(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestPresetStyle(t *testing.T) {
	s, ok := PresetStyle("highlight")
	if !ok {
		t.Fatal("Expected highlight preset to exist")
	}
	if s.Position != "top" || s.Color != "#FFD700" {
		t.Errorf("Unexpected highlight preset: %+v", s)
	}
	if s.Normalize() != s {
		t.Errorf("Expected presets to be already normalized")
	}
	if _, ok := PresetStyle("rainbow"); ok {
		t.Errorf("Expected unknown preset to be missing")
	}
}
