package repo

import (
	"context"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

// QueueSnapshotRepo persists the whole delivery queue. There is one queue per process.
type QueueSnapshotRepo interface {
	Save(ctx context.Context, messages []*domain.QueuedMessage, stats domain.QueueStats) error
	Load(ctx context.Context) ([]*domain.QueuedMessage, domain.QueueStats, error)
	Close() error
}
