package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a message is moved along an edge its state machine does not have
var ErrInvalidTransition = errors.New("invalid message status transition")

// MessageStatus is the delivery state of a queued message
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusSuccess   MessageStatus = "success"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further automatic transition leaves s
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

const (
	MinPriority       = 1
	MaxPriority       = 5
	DefaultMaxRetries = 3

	// RetryBackoffStep is multiplied by the retry count to get the next delay
	RetryBackoffStep = 5 * time.Second
)

// ClampPriority forces p into [MinPriority, MaxPriority]
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// Style holds the overlay rendering attributes of a danmaku
type Style struct {
	Color    string `json:"color"`
	Position string `json:"position"`  // scroll, top or bottom
	FontSize int    `json:"font_size"` // 12..48
	Duration int    `json:"duration"`  // seconds on screen, 1..30
}

// DefaultStyle is white scrolling text at the overlay's default size
func DefaultStyle() Style {
	return Style{
		Color:    "#FFFFFF",
		Position: "scroll",
		FontSize: 24,
		Duration: 5,
	}
}

// Named style presets selectable from chat
var stylePresets = map[string]Style{
	"normal":    {Color: "#FFFFFF", Position: "scroll", FontSize: 24, Duration: 5},
	"highlight": {Color: "#FFD700", Position: "top", FontSize: 28, Duration: 8},
	"warning":   {Color: "#FF8C00", Position: "scroll", FontSize: 26, Duration: 6},
	"success":   {Color: "#00FF00", Position: "bottom", FontSize: 24, Duration: 5},
	"error":     {Color: "#FF0000", Position: "top", FontSize: 26, Duration: 8},
}

// PresetStyle returns the preset called name
func PresetStyle(name string) (Style, bool) {
	s, ok := stylePresets[name]
	return s, ok
}

// Normalize fills blank fields with defaults and clamps numeric ranges
func (s Style) Normalize() Style {
	def := DefaultStyle()
	if s.Color == "" {
		s.Color = def.Color
	}
	switch s.Position {
	case "scroll", "top", "bottom":
	default:
		s.Position = def.Position
	}
	switch {
	case s.FontSize == 0:
		s.FontSize = def.FontSize
	case s.FontSize < 12:
		s.FontSize = 12
	case s.FontSize > 48:
		s.FontSize = 48
	}
	switch {
	case s.Duration == 0:
		s.Duration = def.Duration
	case s.Duration < 1:
		s.Duration = 1
	case s.Duration > 30:
		s.Duration = 30
	}
	return s
}

// QueuedMessage is a unit of delivery work
type QueuedMessage struct {
	ID           string        `json:"id"`
	Text         string        `json:"text"`
	UserID       int64         `json:"user_id"`
	Style        Style         `json:"style"`
	Priority     int           `json:"priority"`
	Delay        time.Duration `json:"delay"`
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	SentAt       *time.Time    `json:"sent_at,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RetryCount   int           `json:"retry_count"`
	MaxRetries   int           `json:"max_retries"`
}

// ReadyAt is the earliest time the message may be sent
func (m *QueuedMessage) ReadyAt() time.Time {
	return m.CreatedAt.Add(m.Delay)
}

// IsEligible reports whether the message is pending and its delay has elapsed
func (m *QueuedMessage) IsEligible(now time.Time) bool {
	return m.Status == StatusPending && !now.Before(m.ReadyAt())
}

// MarkSending claims a pending message
func (m *QueuedMessage) MarkSending() error {
	if m.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusSending)
	}
	m.Status = StatusSending
	return nil
}

// MarkSuccess finishes an in-flight message
func (m *QueuedMessage) MarkSuccess(now time.Time) error {
	if m.Status != StatusSending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusSuccess)
	}
	m.Status = StatusSuccess
	m.SentAt = &now
	m.ErrorMessage = ""
	return nil
}

// MarkFailure records a failed send. The message goes back to pending with a
// linear backoff, or to failed once the retry budget is spent; final reports the latter.
func (m *QueuedMessage) MarkFailure(reason string, now time.Time) (final bool, err error) {
	if m.Status != StatusSending {
		return false, fmt.Errorf("%w: %s -> retry", ErrInvalidTransition, m.Status)
	}
	m.RetryCount++
	m.ErrorMessage = reason
	if m.RetryCount >= m.MaxRetries {
		m.RetryCount = m.MaxRetries
		m.Status = StatusFailed
		return true, nil
	}
	m.Status = StatusPending
	m.Delay = time.Duration(m.RetryCount) * RetryBackoffStep
	m.CreatedAt = now
	return false, nil
}

// Cancel moves a non-terminal message to cancelled
func (m *QueuedMessage) Cancel() error {
	if m.Status.IsTerminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, StatusCancelled)
	}
	m.Status = StatusCancelled
	return nil
}

// Clone returns a copy that shares no pointers with m
func (m *QueuedMessage) Clone() *QueuedMessage {
	c := *m
	if m.SentAt != nil {
		t := *m.SentAt
		c.SentAt = &t
	}
	return &c
}

// QueueStats are the queue's cumulative counters. Session counters restart with the process.
type QueueStats struct {
	TotalSent      int64 `json:"total_sent"`
	TotalFailed    int64 `json:"total_failed"`
	TotalCancelled int64 `json:"total_cancelled"`
	TotalEvicted   int64 `json:"total_evicted"`
	SessionSent    int64 `json:"session_sent"`
	SessionFailed  int64 `json:"session_failed"`
}

// QueueInfo is a point-in-time view of the queue
type QueueInfo struct {
	TotalMessages int                   `json:"total_messages"`
	StatusCounts  map[MessageStatus]int `json:"status_counts"`
	Stats         QueueStats            `json:"stats"`
	MaxSize       int                   `json:"max_size"`
	Processing    bool                  `json:"processing"`
}
