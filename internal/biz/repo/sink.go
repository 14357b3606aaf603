package repo

import (
	"context"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

// SendResult is what the overlay reported for one delivery
type SendResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DeliverySink renders a danmaku on the overlay
type DeliverySink interface {
	Send(ctx context.Context, text string, style domain.Style) (*SendResult, error)
}

// OverlayController covers the overlay operations other than delivery
type OverlayController interface {
	Status(ctx context.Context) (map[string]any, error)
	// Control runs pause, resume, clear, speed or opacity
	Control(ctx context.Context, action string, settings map[string]any) (*SendResult, error)
}
