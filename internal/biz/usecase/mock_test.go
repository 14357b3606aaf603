package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

// Mock implementations

type mockRuleRepo struct {
	rules []*domain.FilterRule // insertion order
	words []*domain.SensitiveWord
}

func newMockRuleRepo(rules ...*domain.FilterRule) *mockRuleRepo {
	return &mockRuleRepo{rules: rules}
}

func (m *mockRuleRepo) Upsert(ctx context.Context, rule *domain.FilterRule) error {
	c := *rule
	for i, r := range m.rules {
		if r.ID == rule.ID {
			m.rules[i] = &c
			return nil
		}
	}
	m.rules = append(m.rules, &c)
	return nil
}

func (m *mockRuleRepo) Delete(ctx context.Context, id string) (bool, error) {
	for i, r := range m.rules {
		if r.ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRuleRepo) Get(ctx context.Context, id string) (*domain.FilterRule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *mockRuleRepo) ListEnabled(ctx context.Context) ([]*domain.FilterRule, error) {
	var out []*domain.FilterRule
	for _, r := range m.rules {
		if r.Enabled {
			c := *r
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, nil
}

func (m *mockRuleRepo) ListAll(ctx context.Context) ([]*domain.FilterRule, error) {
	return m.rules, nil
}

func (m *mockRuleRepo) Count(ctx context.Context) (int, error) {
	return len(m.rules), nil
}

func (m *mockRuleRepo) AddSensitiveWord(ctx context.Context, word *domain.SensitiveWord) error {
	m.words = append(m.words, word)
	return nil
}

func (m *mockRuleRepo) RemoveSensitiveWord(ctx context.Context, word string) (bool, error) {
	for i, w := range m.words {
		if w.Word == word {
			m.words = append(m.words[:i], m.words[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRuleRepo) ListSensitiveWords(ctx context.Context) ([]*domain.SensitiveWord, error) {
	return m.words, nil
}

func (m *mockRuleRepo) Close() error {
	return nil
}

type mockAuditRepo struct {
	mu      sync.Mutex
	records []*domain.AuditRecord
	fail    bool
}

func (m *mockAuditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return nil
}

func (m *mockAuditRepo) Query(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditRecord
	for _, r := range m.records {
		if q.UserID != nil && r.UserID != *q.UserID {
			continue
		}
		out = append(out, r)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (m *mockAuditRepo) Statistics(ctx context.Context, since time.Time) (*domain.FilterStatistics, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &domain.FilterStatistics{RiskDistribution: map[domain.RiskLevel]int{}}
	for _, r := range m.records {
		stats.TotalProcessed++
		if r.Action == domain.ActionBlock {
			stats.Blocked++
		}
	}
	return stats, nil
}

func (m *mockAuditRepo) Close() error {
	return nil
}

func (m *mockAuditRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type mockPublisher struct {
	published []*domain.AuditRecord
}

func (m *mockPublisher) Publish(ctx context.Context, rec *domain.AuditRecord) error {
	m.published = append(m.published, rec)
	return nil
}

// stalledPublisher blocks until its context ends, like a broker that never acks
type stalledPublisher struct {
	hadDeadline bool
}

func (m *stalledPublisher) Publish(ctx context.Context, rec *domain.AuditRecord) error {
	_, m.hadDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

type mockSnapshotRepo struct {
	messages []*domain.QueuedMessage
	stats    domain.QueueStats
	saves    int
}

func (m *mockSnapshotRepo) Save(ctx context.Context, messages []*domain.QueuedMessage, stats domain.QueueStats) error {
	m.messages = messages
	m.stats = stats
	m.saves++
	return nil
}

func (m *mockSnapshotRepo) Load(ctx context.Context) ([]*domain.QueuedMessage, domain.QueueStats, error) {
	out := make([]*domain.QueuedMessage, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.Clone()
	}
	return out, m.stats, nil
}

func (m *mockSnapshotRepo) Close() error {
	return nil
}

// stubFilter returns a fixed result for every call
type stubFilter struct {
	result *domain.FilterResult
	calls  int
}

func (s *stubFilter) Filter(ctx context.Context, text string, userID int64) *domain.FilterResult {
	s.calls++
	if s.result == nil {
		return domain.NewFilterResult(text)
	}
	r := *s.result
	r.OriginalText = text
	return &r
}

// fakeClock is a settable time source
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

var _ repo.RuleRepo = (*mockRuleRepo)(nil)
var _ repo.AuditRepo = (*mockAuditRepo)(nil)
var _ repo.QueueSnapshotRepo = (*mockSnapshotRepo)(nil)
