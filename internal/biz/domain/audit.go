package domain

import "time"

// AuditRecord is the durable projection of one filtering decision
type AuditRecord struct {
	ID           int64        `json:"id"`
	UserID       int64        `json:"user_id"`
	OriginalText string       `json:"original_text"`
	FilteredText string       `json:"filtered_text"`
	Action       FilterAction `json:"action"`
	RiskLevel    RiskLevel    `json:"risk_level"`
	MatchedRules []string     `json:"matched_rules"`
	Warnings     []string     `json:"warnings"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewAuditRecord copies the result so later changes to it do not leak into history
func NewAuditRecord(userID int64, result *FilterResult, at time.Time) *AuditRecord {
	return &AuditRecord{
		UserID:       userID,
		OriginalText: result.OriginalText,
		FilteredText: result.FilteredText,
		Action:       result.Action,
		RiskLevel:    result.RiskLevel,
		MatchedRules: append([]string{}, result.MatchedRules...),
		Warnings:     append([]string{}, result.Warnings...),
		CreatedAt:    at,
	}
}

// AuditQuery selects audit records. Zero values mean "no bound".
type AuditQuery struct {
	UserID *int64
	Since  time.Time
	Until  time.Time
	Limit  int
}

// UserCount pairs a user with a number of audited messages
type UserCount struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// FilterStatistics summarises audit history over a period
type FilterStatistics struct {
	PeriodDays       int               `json:"period_days"`
	TotalProcessed   int               `json:"total_processed"`
	Blocked          int               `json:"blocked"`
	Warned           int               `json:"warned"`
	Replaced         int               `json:"replaced"`
	NeedsReview      int               `json:"needs_review"`
	RiskDistribution map[RiskLevel]int `json:"risk_distribution"`
	TopUsers         []UserCount       `json:"top_users"`
	ActiveRules      int               `json:"active_rules"`
	SensitiveWords   int               `json:"sensitive_words"`
}
