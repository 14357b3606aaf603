package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

const defaultAuditLimit = 100

const defaultPublishTimeout = 2 * time.Second

// FilterConfig bounds the filter's in-memory caches and how long a decision
// publish may hold up a Filter call
type FilterConfig struct {
	RegexCacheSize     int
	RateLimitCacheSize int
	PublishTimeout     time.Duration
}

// FilterUsecase classifies and rewrites user text against the active rule set
type FilterUsecase struct {
	rules     *RuleUsecase
	auditRepo repo.AuditRepo
	publisher repo.AuditPublisher
	logger    *zap.Logger
	now       func() time.Time

	// publishTimeout bounds the wait for a publish acknowledgement
	publishTimeout time.Duration

	// mu serialises compound updates of both caches
	mu         sync.Mutex
	regexCache *lru.Cache[string, *regexp.Regexp]
	rateLogs   *lru.Cache[string, []time.Time]
}

// NewFilterUsecase creates a new filter usecase. publisher may be nil.
func NewFilterUsecase(
	rules *RuleUsecase,
	auditRepo repo.AuditRepo,
	publisher repo.AuditPublisher,
	cfg FilterConfig,
	logger *zap.Logger,
) (*FilterUsecase, error) {
	if cfg.RegexCacheSize <= 0 {
		cfg.RegexCacheSize = 256
	}
	if cfg.RateLimitCacheSize <= 0 {
		cfg.RateLimitCacheSize = 10000
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	regexCache, err := lru.New[string, *regexp.Regexp](cfg.RegexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create regex cache: %w", err)
	}
	rateLogs, err := lru.New[string, []time.Time](cfg.RateLimitCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit cache: %w", err)
	}

	return &FilterUsecase{
		rules:          rules,
		auditRepo:      auditRepo,
		publisher:      publisher,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger.Named("filter"),
		now:            time.Now,
		regexCache:     regexCache,
		rateLogs:       rateLogs,
	}, nil
}

// Filter evaluates text for userID. It never returns an allow decision when
// evaluation itself fails; such failures produce domain.FailSafeResult.
// Every call leaves an audit record.
func (uc *FilterUsecase) Filter(ctx context.Context, text string, userID int64) (result *domain.FilterResult) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("filter panicked", zap.Any("panic", r), zap.Int64("user", userID))
			result = domain.FailSafeResult(text, fmt.Errorf("panic: %v", r))
			uc.audit(ctx, userID, result)
		}
	}()

	result, err := uc.evaluate(text, userID)
	if err != nil {
		uc.logger.Error("filter failed", zap.Error(err), zap.Int64("user", userID))
		result = domain.FailSafeResult(text, err)
	}

	uc.audit(ctx, userID, result)
	return result
}

func (uc *FilterUsecase) evaluate(text string, userID int64) (*domain.FilterResult, error) {
	result := domain.NewFilterResult(text)

rules:
	for _, rule := range uc.rules.List() {
		matched, err := uc.match(rule, text, userID)
		if err != nil {
			return nil, err
		}
		if !matched {
			continue
		}

		result.MatchedRules = append(result.MatchedRules, rule.ID)
		result.RiskLevel = domain.MaxRisk(result.RiskLevel, rule.RiskLevel)

		switch rule.Action {
		case domain.ActionBlock:
			result.IsBlocked = true
			result.Action = domain.ActionBlock
			break rules
		case domain.ActionReview:
			result.Action = domain.ActionReview
			break rules
		case domain.ActionReplace:
			result.FilteredText = uc.replace(rule, result.FilteredText)
			if result.Action.Strength() < domain.ActionReplace.Strength() {
				result.Action = domain.ActionReplace
			}
		case domain.ActionWarning:
			result.Warnings = append(result.Warnings, "rule triggered: "+rule.Name)
			if result.Action.Strength() < domain.ActionWarning.Strength() {
				result.Action = domain.ActionWarning
			}
		case domain.ActionAllow:
		default:
			return nil, fmt.Errorf("rule %s has unknown action %q", rule.ID, rule.Action)
		}
	}

	// The sensitive word scan runs even after a short-circuit
	for _, word := range uc.sensitiveHits(text) {
		result.Warnings = append(result.Warnings, "sensitive word: "+word)
		result.RiskLevel = domain.MaxRisk(result.RiskLevel, domain.RiskMedium)
	}

	return result, nil
}

func (uc *FilterUsecase) match(rule *domain.FilterRule, text string, userID int64) (bool, error) {
	switch rule.Type {
	case domain.FilterTypeLength:
		limit, err := rule.LengthLimit()
		if err != nil {
			uc.logger.Warn("bad length pattern", zap.String("rule", rule.ID), zap.Error(err))
			return false, nil
		}
		return utf8.RuneCountInString(text) > limit, nil

	case domain.FilterTypeRateLimit:
		count, window, err := rule.RateLimitSpec()
		if err != nil {
			uc.logger.Warn("bad rate limit pattern", zap.String("rule", rule.ID), zap.Error(err))
			return false, nil
		}
		return uc.rateLimited(rule.ID, userID, count, window), nil

	case domain.FilterTypeKeyword:
		lower := strings.ToLower(text)
		for _, term := range rule.Keywords() {
			if strings.Contains(lower, strings.ToLower(term)) {
				return true, nil
			}
		}
		return false, nil

	case domain.FilterTypeRegex:
		re := uc.compiled(rule.Pattern)
		return re != nil && re.MatchString(text), nil

	default:
		return false, fmt.Errorf("rule %s has unknown filter type %q", rule.ID, rule.Type)
	}
}

// rateLimited reports whether the user already reached count calls inside the
// trailing window. A call is only recorded when it is not limited, so the
// window does not inflate itself while the user keeps hammering.
func (uc *FilterUsecase) rateLimited(ruleID string, userID int64, count int, window time.Duration) bool {
	key := ruleID + ":" + strconv.FormatInt(userID, 10)
	now := uc.now()

	uc.mu.Lock()
	defer uc.mu.Unlock()

	log, _ := uc.rateLogs.Get(key)
	kept := make([]time.Time, 0, len(log)+1)
	for _, ts := range log {
		if now.Sub(ts) < window {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= count {
		uc.rateLogs.Add(key, kept)
		return true
	}
	uc.rateLogs.Add(key, append(kept, now))
	return false
}

// compiled returns the case-insensitive regexp for pattern, or nil if it does not compile.
// Failures are cached too so a bad pattern is only logged once per cache lifetime.
func (uc *FilterUsecase) compiled(pattern string) *regexp.Regexp {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	if re, ok := uc.regexCache.Get(pattern); ok {
		return re
	}
	re, err := domain.CompilePattern(pattern)
	if err != nil {
		uc.logger.Warn("bad regex pattern", zap.String("pattern", pattern), zap.Error(err))
	}
	uc.regexCache.Add(pattern, re)
	return re
}

func (uc *FilterUsecase) replace(rule *domain.FilterRule, text string) string {
	switch rule.Type {
	case domain.FilterTypeKeyword:
		for _, term := range rule.Keywords() {
			if re := uc.compiled(regexp.QuoteMeta(term)); re != nil {
				text = re.ReplaceAllLiteralString(text, rule.Replacement)
			}
		}
	case domain.FilterTypeRegex:
		if re := uc.compiled(rule.Pattern); re != nil {
			text = re.ReplaceAllLiteralString(text, rule.Replacement)
		}
	}
	return text
}

func (uc *FilterUsecase) sensitiveHits(text string) []string {
	words := uc.rules.LoadSensitiveWords()
	if len(words) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	var hits []string
	for w := range words {
		if strings.Contains(lower, w) {
			hits = append(hits, w)
		}
	}
	sort.Strings(hits)
	return hits
}

func (uc *FilterUsecase) audit(ctx context.Context, userID int64, result *domain.FilterResult) {
	rec := domain.NewAuditRecord(userID, result, uc.now())
	if err := uc.auditRepo.Append(ctx, rec); err != nil {
		uc.logger.Error("failed to write audit record", zap.Error(err), zap.Int64("user", userID))
		return
	}
	if uc.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, uc.publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, rec); err != nil {
		uc.logger.Warn("failed to publish audit record", zap.Error(err), zap.Int64("id", rec.ID))
	}
}

// ClearCache drops compiled patterns and rate-limit history
func (uc *FilterUsecase) ClearCache() {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.regexCache.Purge()
	uc.rateLogs.Purge()
	uc.logger.Info("filter caches cleared")
}

// AuditRecords queries the audit log. Without a user filter the result is capped.
func (uc *FilterUsecase) AuditRecords(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditRecord, error) {
	if q.UserID == nil && q.Limit <= 0 {
		q.Limit = defaultAuditLimit
	}
	records, err := uc.auditRepo.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	return records, nil
}

// Statistics summarises the last days of audit history
func (uc *FilterUsecase) Statistics(ctx context.Context, days int) (*domain.FilterStatistics, error) {
	if days <= 0 {
		days = 7
	}
	since := uc.now().Add(-time.Duration(days) * 24 * time.Hour)
	stats, err := uc.auditRepo.Statistics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to compute filter statistics: %w", err)
	}
	stats.PeriodDays = days
	stats.ActiveRules = len(uc.rules.List())
	stats.SensitiveWords = len(uc.rules.LoadSensitiveWords())
	return stats, nil
}
