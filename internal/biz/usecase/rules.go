package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

// ErrRuleNotFound is returned when a rule id is unknown
var ErrRuleNotFound = errors.New("rule not found")

// DefaultRules is the rule set seeded into an empty store
func DefaultRules() []*domain.FilterRule {
	return []*domain.FilterRule{
		{
			ID:          "length_limit",
			Name:        "Length limit",
			Type:        domain.FilterTypeLength,
			Pattern:     "200",
			Action:      domain.ActionBlock,
			RiskLevel:   domain.RiskLow,
			Enabled:     true,
			Priority:    1,
			Description: "Reject danmaku longer than 200 characters",
		},
		{
			ID:          "spam_prevention",
			Name:        "Spam prevention",
			Type:        domain.FilterTypeRateLimit,
			Pattern:     "5,60",
			Action:      domain.ActionWarning,
			RiskLevel:   domain.RiskMedium,
			Enabled:     true,
			Priority:    1,
			Description: "At most 5 messages per user per minute",
		},
		{
			ID:          "ad_filter",
			Name:        "Ad filter",
			Type:        domain.FilterTypeRegex,
			Pattern:     `(加群|QQ群|微信群|联系方式|电话|手机号)`,
			Action:      domain.ActionBlock,
			RiskLevel:   domain.RiskHigh,
			Enabled:     true,
			Priority:    1,
			Description: "Block ads and contact details",
		},
		{
			ID:          "profanity_filter",
			Name:        "Profanity filter",
			Type:        domain.FilterTypeKeyword,
			Pattern:     "傻逼,智障,脑残,死人,滚蛋",
			Action:      domain.ActionReplace,
			RiskLevel:   domain.RiskMedium,
			Replacement: "***",
			Enabled:     true,
			Priority:    1,
			Description: "Mask abusive words",
		},
	}
}

// RuleUsecase owns the filter rule set and the sensitive word list.
// Every mutation is written through to the repo and followed by a full reload.
type RuleUsecase struct {
	ruleRepo repo.RuleRepo
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	enabled []*domain.FilterRule
	words   map[string]struct{}
}

// NewRuleUsecase creates a rule usecase and loads the current rule set
func NewRuleUsecase(ctx context.Context, ruleRepo repo.RuleRepo, logger *zap.Logger) (*RuleUsecase, error) {
	uc := &RuleUsecase{
		ruleRepo: ruleRepo,
		logger:   logger.Named("rules"),
		now:      time.Now,
		words:    map[string]struct{}{},
	}
	if err := uc.Reload(ctx); err != nil {
		return nil, err
	}
	return uc, nil
}

// Reload replaces the in-memory cache with the repo's current content
func (uc *RuleUsecase) Reload(ctx context.Context) error {
	rules, err := uc.ruleRepo.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	words, err := uc.ruleRepo.ListSensitiveWords(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sensitive words: %w", err)
	}

	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w.Word)] = struct{}{}
	}

	uc.mu.Lock()
	uc.enabled = rules
	uc.words = set
	uc.mu.Unlock()

	uc.logger.Debug("rule cache reloaded", zap.Int("rules", len(rules)), zap.Int("words", len(set)))
	return nil
}

// Upsert validates and stores a rule keyed by its id. created reports whether the id was new.
func (uc *RuleUsecase) Upsert(ctx context.Context, rule *domain.FilterRule) (created bool, err error) {
	if err := rule.Validate(); err != nil {
		return false, err
	}

	existing, err := uc.ruleRepo.Get(ctx, rule.ID)
	if err != nil {
		return false, fmt.Errorf("failed to get rule: %w", err)
	}

	now := uc.now()
	stored := *rule
	stored.UpdatedAt = now
	if existing != nil {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}

	if err := uc.ruleRepo.Upsert(ctx, &stored); err != nil {
		return false, fmt.Errorf("failed to save rule: %w", err)
	}
	uc.logger.Info("rule saved", zap.String("id", rule.ID), zap.Bool("created", existing == nil))

	return existing == nil, uc.Reload(ctx)
}

// Remove deletes a rule permanently
func (uc *RuleUsecase) Remove(ctx context.Context, id string) (bool, error) {
	removed, err := uc.ruleRepo.Delete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	if !removed {
		return false, nil
	}
	uc.logger.Info("rule removed", zap.String("id", id))
	return true, uc.Reload(ctx)
}

// SetEnabled toggles a rule without deleting it
func (uc *RuleUsecase) SetEnabled(ctx context.Context, id string, enabled bool) error {
	rule, err := uc.ruleRepo.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get rule: %w", err)
	}
	if rule == nil {
		return ErrRuleNotFound
	}
	if rule.Enabled == enabled {
		return nil
	}

	rule.Enabled = enabled
	rule.UpdatedAt = uc.now()
	if err := uc.ruleRepo.Upsert(ctx, rule); err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	uc.logger.Info("rule toggled", zap.String("id", id), zap.Bool("enabled", enabled))
	return uc.Reload(ctx)
}

// List returns the enabled rules in evaluation order. The slice is a copy.
func (uc *RuleUsecase) List() []*domain.FilterRule {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make([]*domain.FilterRule, len(uc.enabled))
	copy(out, uc.enabled)
	return out
}

// ListAll includes disabled rules
func (uc *RuleUsecase) ListAll(ctx context.Context) ([]*domain.FilterRule, error) {
	return uc.ruleRepo.ListAll(ctx)
}

// LoadSensitiveWords returns the lowercased sensitive word set
func (uc *RuleUsecase) LoadSensitiveWords() map[string]struct{} {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	out := make(map[string]struct{}, len(uc.words))
	for w := range uc.words {
		out[w] = struct{}{}
	}
	return out
}

// SensitiveWords lists the stored words with their metadata
func (uc *RuleUsecase) SensitiveWords(ctx context.Context) ([]*domain.SensitiveWord, error) {
	return uc.ruleRepo.ListSensitiveWords(ctx)
}

// AddSensitiveWord stores a word for the always-on scan
func (uc *RuleUsecase) AddSensitiveWord(ctx context.Context, word, category string, severity int) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return &domain.RuleValidationError{Field: "word", Message: "required"}
	}
	if category == "" {
		category = "general"
	}
	if severity <= 0 {
		severity = 1
	}
	sw := &domain.SensitiveWord{
		Word:      word,
		Category:  category,
		Severity:  severity,
		Enabled:   true,
		CreatedAt: uc.now(),
	}
	if err := uc.ruleRepo.AddSensitiveWord(ctx, sw); err != nil {
		return fmt.Errorf("failed to add sensitive word: %w", err)
	}
	return uc.Reload(ctx)
}

// RemoveSensitiveWord deletes a word from the scan
func (uc *RuleUsecase) RemoveSensitiveWord(ctx context.Context, word string) (bool, error) {
	removed, err := uc.ruleRepo.RemoveSensitiveWord(ctx, strings.TrimSpace(word))
	if err != nil {
		return false, fmt.Errorf("failed to remove sensitive word: %w", err)
	}
	if !removed {
		return false, nil
	}
	return true, uc.Reload(ctx)
}

// SeedDefaults stores rules only if the store holds none. It returns how many were written.
func (uc *RuleUsecase) SeedDefaults(ctx context.Context, rules []*domain.FilterRule) (int, error) {
	count, err := uc.ruleRepo.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	seeded := 0
	for _, rule := range rules {
		if _, err := uc.Upsert(ctx, rule); err != nil {
			return seeded, fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
		}
		seeded++
	}
	uc.logger.Info("default rules seeded", zap.Int("count", seeded))
	return seeded, nil
}
