package data

import (
	"context"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
	"github.com/danmakubot/danmaku-bridge/internal/infra/danmaku"
)

// danmakuSink delivers queued messages to the overlay API
type danmakuSink struct {
	client *danmaku.Client
}

// Overlay is both the delivery sink and the overlay control surface
type Overlay interface {
	repo.DeliverySink
	repo.OverlayController
}

// NewDanmakuSink wraps the overlay client
func NewDanmakuSink(client *danmaku.Client) Overlay {
	return &danmakuSink{client: client}
}

// Send renders text with style
func (s *danmakuSink) Send(ctx context.Context, text string, style domain.Style) (*repo.SendResult, error) {
	style = style.Normalize()
	resp, err := s.client.Send(ctx, danmaku.SendRequest{
		Text:     text,
		Color:    style.Color,
		Position: style.Position,
		FontSize: style.FontSize,
		Duration: style.Duration,
	})
	if err != nil {
		return nil, err
	}
	return &repo.SendResult{Success: resp.Success, Message: resp.Message}, nil
}

// Status returns the overlay state
func (s *danmakuSink) Status(ctx context.Context) (map[string]any, error) {
	return s.client.Status(ctx)
}

// Control runs an overlay action
func (s *danmakuSink) Control(ctx context.Context, action string, settings map[string]any) (*repo.SendResult, error) {
	resp, err := s.client.Control(ctx, action, settings)
	if err != nil {
		return nil, err
	}
	return &repo.SendResult{Success: resp.Success, Message: resp.Message}, nil
}
