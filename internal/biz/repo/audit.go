package repo

import (
	"context"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

// AuditRepo is the append-only filter decision log
type AuditRepo interface {
	// Append stores the record and sets its ID
	Append(ctx context.Context, rec *domain.AuditRecord) error
	Query(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditRecord, error)
	Statistics(ctx context.Context, since time.Time) (*domain.FilterStatistics, error)
	Close() error
}

// AuditPublisher fans filter decisions out to other consumers
type AuditPublisher interface {
	Publish(ctx context.Context, rec *domain.AuditRecord) error
}
