package data

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

func appendRecord(t *testing.T, r interface {
	Append(context.Context, *domain.AuditRecord) error
}, userID int64, action domain.FilterAction, risk domain.RiskLevel, at time.Time) *domain.AuditRecord {
	t.Helper()
	rec := &domain.AuditRecord{
		UserID:       userID,
		OriginalText: "text",
		FilteredText: "text",
		Action:       action,
		RiskLevel:    risk,
		MatchedRules: []string{"r1"},
		CreatedAt:    at,
	}
	if err := r.Append(context.Background(), rec); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return rec
}

func TestAuditRepo_AppendAndQuery(t *testing.T) {
	ctx := context.Background()
	r, err := NewAuditRepo(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	base := time.Unix(1700000000, 0)
	first := appendRecord(t, r, 1, domain.ActionAllow, domain.RiskLow, base)
	appendRecord(t, r, 2, domain.ActionBlock, domain.RiskHigh, base.Add(time.Minute))
	appendRecord(t, r, 1, domain.ActionWarning, domain.RiskMedium, base.Add(2*time.Minute))

	if first.ID == 0 {
		t.Error("Expected Append to assign an id")
	}

	all, err := r.Query(ctx, domain.AuditQuery{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(all))
	}
	if all[0].Action != domain.ActionWarning {
		t.Errorf("Expected newest record first, got %s", all[0].Action)
	}
	if len(all[0].MatchedRules) != 1 || all[0].MatchedRules[0] != "r1" {
		t.Errorf("Expected matched rules to round-trip, got %v", all[0].MatchedRules)
	}
	if all[0].Warnings == nil {
		t.Error("Expected empty warnings slice, got nil")
	}

	user := int64(1)
	mine, err := r.Query(ctx, domain.AuditQuery{UserID: &user})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("Expected 2 records for user 1, got %d", len(mine))
	}

	recent, err := r.Query(ctx, domain.AuditQuery{Since: base.Add(time.Minute), Limit: 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(recent) != 1 || recent[0].UserID != 1 {
		t.Errorf("Expected the single newest record, got %+v", recent)
	}
}

func TestAuditRepo_Statistics(t *testing.T) {
	ctx := context.Background()
	r, err := NewAuditRepo(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	defer r.Close()

	now := time.Unix(1700000000, 0)
	appendRecord(t, r, 9, domain.ActionBlock, domain.RiskHigh, now.Add(-30*24*time.Hour)) // outside period
	appendRecord(t, r, 1, domain.ActionBlock, domain.RiskHigh, now)
	appendRecord(t, r, 1, domain.ActionReplace, domain.RiskMedium, now)
	appendRecord(t, r, 2, domain.ActionReview, domain.RiskCritical, now)
	appendRecord(t, r, 3, domain.ActionAllow, domain.RiskLow, now)

	stats, err := r.Statistics(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats.TotalProcessed != 4 {
		t.Errorf("Expected 4 processed, got %d", stats.TotalProcessed)
	}
	if stats.Blocked != 1 || stats.Replaced != 1 || stats.NeedsReview != 1 || stats.Warned != 0 {
		t.Errorf("Unexpected action counts: %+v", stats)
	}
	if stats.RiskDistribution[domain.RiskHigh] != 1 || stats.RiskDistribution[domain.RiskLow] != 1 {
		t.Errorf("Unexpected risk distribution: %v", stats.RiskDistribution)
	}
	if len(stats.TopUsers) != 3 || stats.TopUsers[0].UserID != 1 || stats.TopUsers[0].Count != 2 {
		t.Errorf("Expected user 1 on top with 2 records, got %+v", stats.TopUsers)
	}
}
