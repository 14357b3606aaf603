package repo

import (
	"context"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

// RuleRepo is the filter rule repository interface
type RuleRepo interface {
	// Rule operations
	Upsert(ctx context.Context, rule *domain.FilterRule) error
	Delete(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (*domain.FilterRule, error)
	// ListEnabled returns enabled rules by priority desc, insertion order for ties
	ListEnabled(ctx context.Context) ([]*domain.FilterRule, error)
	ListAll(ctx context.Context) ([]*domain.FilterRule, error)
	Count(ctx context.Context) (int, error)

	// Sensitive word operations
	AddSensitiveWord(ctx context.Context, word *domain.SensitiveWord) error
	RemoveSensitiveWord(ctx context.Context, word string) (bool, error)
	ListSensitiveWords(ctx context.Context) ([]*domain.SensitiveWord, error)

	Close() error
}
