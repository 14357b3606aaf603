package domain

import (
	"errors"
	"testing"
	"time"
)

func validRule() *FilterRule {
	return &FilterRule{
		ID:        "r1",
		Name:      "rule one",
		Type:      FilterTypeKeyword,
		Pattern:   "foo, bar",
		Action:    ActionBlock,
		RiskLevel: RiskHigh,
		Enabled:   true,
	}
}

func TestFilterRule_Validate_OK(t *testing.T) {
	if err := validRule().Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestFilterRule_Validate_NamesField(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *FilterRule)
		field  string
	}{
		{"missing id", func(r *FilterRule) { r.ID = " " }, "id"},
		{"missing name", func(r *FilterRule) { r.Name = "" }, "name"},
		{"unknown type", func(r *FilterRule) { r.Type = "ml" }, "filter_type"},
		{"unknown action", func(r *FilterRule) { r.Action = "drop" }, "action"},
		{"unknown risk", func(r *FilterRule) { r.RiskLevel = "extreme" }, "risk_level"},
		{"blank keywords", func(r *FilterRule) { r.Pattern = " , ," }, "pattern"},
		{"bad regex", func(r *FilterRule) { r.Type = FilterTypeRegex; r.Pattern = "(unclosed" }, "pattern"},
		{"bad length", func(r *FilterRule) { r.Type = FilterTypeLength; r.Pattern = "ten" }, "pattern"},
		{"negative length", func(r *FilterRule) { r.Type = FilterTypeLength; r.Pattern = "-1" }, "pattern"},
		{"rate limit one part", func(r *FilterRule) { r.Type = FilterTypeRateLimit; r.Pattern = "5" }, "pattern"},
		{"rate limit zero window", func(r *FilterRule) { r.Type = FilterTypeRateLimit; r.Pattern = "5,0" }, "pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)
			err := r.Validate()
			var verr *RuleValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected RuleValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestFilterRule_RateLimitSpec(t *testing.T) {
	r := &FilterRule{Type: FilterTypeRateLimit, Pattern: " 5 , 60 "}
	count, window, err := r.RateLimitSpec()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if count != 5 || window != time.Minute {
		t.Errorf("Expected 5 per minute, got %d per %v", count, window)
	}
}

func TestFilterRule_Keywords(t *testing.T) {
	r := &FilterRule{Pattern: "a,, b ,c"}
	got := r.Keywords()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("Unexpected keywords: %v", got)
	}
}

func TestMaxRisk_NeverLowers(t *testing.T) {
	levels := []RiskLevel{RiskMedium, RiskLow, RiskCritical, RiskHigh, RiskLow}
	current := RiskLow
	prev := current.Rank()
	for _, l := range levels {
		current = MaxRisk(current, l)
		if current.Rank() < prev {
			t.Fatalf("Risk decreased from rank %d to %s", prev, current)
		}
		prev = current.Rank()
	}
	if current != RiskCritical {
		t.Errorf("Expected critical, got %s", current)
	}
}

func TestFilterAction_Strength(t *testing.T) {
	if ActionWarning.Strength() >= ActionReplace.Strength() {
		t.Error("Expected replace to be stronger than warning")
	}
	if ActionBlock.Strength() != ActionReview.Strength() {
		t.Error("Expected block and review to share precedence")
	}
	if ActionAllow.Strength() != 0 {
		t.Error("Expected allow to be the weakest action")
	}
}

func TestFailSafeResult(t *testing.T) {
	r := FailSafeResult("hello", errors.New("boom"))
	if !r.IsBlocked || r.Action != ActionReview || r.RiskLevel != RiskCritical {
		t.Errorf("Unexpected fail-safe result: %+v", r)
	}
	if r.Admitted() {
		t.Error("Fail-safe result must not be admitted")
	}
	if len(r.Warnings) != 1 {
		t.Errorf("Expected one warning, got %v", r.Warnings)
	}
}

func TestNewAuditRecord_CopiesSlices(t *testing.T) {
	res := NewFilterResult("x")
	res.MatchedRules = append(res.MatchedRules, "a")
	rec := NewAuditRecord(7, res, time.Unix(100, 0))
	res.MatchedRules[0] = "changed"

	if rec.MatchedRules[0] != "a" {
		t.Errorf("Audit record shares matched rules with result")
	}
	if rec.UserID != 7 {
		t.Errorf("Expected user 7, got %d", rec.UserID)
	}
}
