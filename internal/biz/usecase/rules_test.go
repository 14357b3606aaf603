package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

func newTestRuleUsecase(t *testing.T, rules ...*domain.FilterRule) (*RuleUsecase, *mockRuleRepo) {
	t.Helper()
	repo := newMockRuleRepo(rules...)
	uc, err := NewRuleUsecase(context.Background(), repo, zap.NewNop())
	require.NoError(t, err)
	return uc, repo
}

func keywordRule(id string, priority int, action domain.FilterAction) *domain.FilterRule {
	return &domain.FilterRule{
		ID:        id,
		Name:      id,
		Type:      domain.FilterTypeKeyword,
		Pattern:   id,
		Action:    action,
		RiskLevel: domain.RiskLow,
		Enabled:   true,
		Priority:  priority,
	}
}

func TestRuleUsecase_Upsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestRuleUsecase(t)

	rule := keywordRule("spam", 1, domain.ActionBlock)
	created, err := uc.Upsert(ctx, rule)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = uc.Upsert(ctx, rule)
	require.NoError(t, err)
	assert.False(t, created)

	assert.Len(t, repo.rules, 1)
	assert.True(t, repo.rules[0].Enabled)
	assert.Len(t, uc.List(), 1)
}

func TestRuleUsecase_Upsert_PreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestRuleUsecase(t)
	clock := &fakeClock{t: mustTime("2024-01-01T00:00:00Z")}
	uc.now = clock.Now

	_, err := uc.Upsert(ctx, keywordRule("spam", 1, domain.ActionBlock))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = uc.Upsert(ctx, keywordRule("spam", 2, domain.ActionBlock))
	require.NoError(t, err)

	assert.Equal(t, mustTime("2024-01-01T00:00:00Z"), repo.rules[0].CreatedAt)
	assert.Equal(t, clock.Now(), repo.rules[0].UpdatedAt)
	assert.Equal(t, 2, repo.rules[0].Priority)
}

func TestRuleUsecase_Upsert_RejectsMalformed(t *testing.T) {
	uc, repo := newTestRuleUsecase(t)

	bad := keywordRule("re", 1, domain.ActionBlock)
	bad.Type = domain.FilterTypeRegex
	bad.Pattern = "([a-z"

	_, err := uc.Upsert(context.Background(), bad)
	var verr *domain.RuleValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "pattern", verr.Field)
	assert.Empty(t, repo.rules)
}

func TestRuleUsecase_List_PriorityThenInsertion(t *testing.T) {
	uc, _ := newTestRuleUsecase(t,
		keywordRule("a", 1, domain.ActionAllow),
		keywordRule("b", 5, domain.ActionAllow),
		keywordRule("c", 1, domain.ActionAllow),
		keywordRule("d", 5, domain.ActionAllow),
	)

	var ids []string
	for _, r := range uc.List() {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestRuleUsecase_SetEnabled_KeepsRule(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestRuleUsecase(t, keywordRule("a", 1, domain.ActionBlock))

	require.NoError(t, uc.SetEnabled(ctx, "a", false))
	assert.Empty(t, uc.List())
	assert.Len(t, repo.rules, 1)

	all, err := uc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	assert.ErrorIs(t, uc.SetEnabled(ctx, "missing", true), ErrRuleNotFound)
}

func TestRuleUsecase_Remove(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestRuleUsecase(t, keywordRule("a", 1, domain.ActionBlock))

	removed, err := uc.Remove(ctx, "a")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, uc.List())

	removed, err = uc.Remove(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRuleUsecase_SeedDefaults_OnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	uc, repo := newTestRuleUsecase(t)

	n, err := uc.SeedDefaults(ctx, DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	n, err = uc.SeedDefaults(ctx, DefaultRules())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, repo.rules, 4)

	other, _ := newTestRuleUsecase(t, keywordRule("custom", 1, domain.ActionBlock))
	n, err = other.SeedDefaults(ctx, DefaultRules())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuleUsecase_SensitiveWords(t *testing.T) {
	ctx := context.Background()
	uc, _ := newTestRuleUsecase(t)

	require.NoError(t, uc.AddSensitiveWord(ctx, "BadWord", "", 0))
	_, ok := uc.LoadSensitiveWords()["badword"]
	assert.True(t, ok, "words are matched lowercased")

	removed, err := uc.RemoveSensitiveWord(ctx, "BadWord")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, uc.LoadSensitiveWords())

	var verr *domain.RuleValidationError
	assert.True(t, errors.As(uc.AddSensitiveWord(ctx, "  ", "", 0), &verr))
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
