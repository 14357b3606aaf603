package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FilterType decides how a rule's pattern is interpreted
type FilterType string

const (
	FilterTypeKeyword   FilterType = "keyword"    // comma separated terms
	FilterTypeRegex     FilterType = "regex"      // regular expression source
	FilterTypeLength    FilterType = "length"     // maximum length in characters
	FilterTypeRateLimit FilterType = "rate_limit" // "count,windowSeconds"
)

// Valid reports whether t is a known filter type
func (t FilterType) Valid() bool {
	switch t {
	case FilterTypeKeyword, FilterTypeRegex, FilterTypeLength, FilterTypeRateLimit:
		return true
	}
	return false
}

// FilterAction is what happens to a message when a rule matches
type FilterAction string

const (
	ActionAllow   FilterAction = "allow"
	ActionBlock   FilterAction = "block"
	ActionWarning FilterAction = "warning"
	ActionReplace FilterAction = "replace"
	ActionReview  FilterAction = "review"
)

// Valid reports whether a is a known action
func (a FilterAction) Valid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionWarning, ActionReplace, ActionReview:
		return true
	}
	return false
}

// Strength orders actions so a weaker one never overrides a stronger one.
// Block and Review share the top rank; both end rule evaluation.
func (a FilterAction) Strength() int {
	switch a {
	case ActionWarning:
		return 1
	case ActionReplace:
		return 2
	case ActionReview, ActionBlock:
		return 3
	default:
		return 0
	}
}

// RiskLevel is the severity attached to a rule and to a filter result
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	return r.Rank() > 0
}

// Rank returns the position of r in Low < Medium < High < Critical, 0 if unknown
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	default:
		return 0
	}
}

// MaxRisk returns the more severe of a and b
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// FilterRule is a named moderation policy unit
type FilterRule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Type        FilterType   `json:"filter_type"`
	Pattern     string       `json:"pattern"`
	Action      FilterAction `json:"action"`
	RiskLevel   RiskLevel    `json:"risk_level"`
	Replacement string       `json:"replacement,omitempty"`
	Enabled     bool         `json:"enabled"`
	Priority    int          `json:"priority"` // higher is evaluated first
	Description string       `json:"description,omitempty"`
	CreatedBy   int64        `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RuleValidationError names the rule field that failed validation
type RuleValidationError struct {
	Field   string
	Message string
}

func (e *RuleValidationError) Error() string {
	return "invalid rule " + e.Field + ": " + e.Message
}

// Validate checks that every field, and the pattern for the rule's type, is well formed
func (r *FilterRule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return &RuleValidationError{Field: "id", Message: "required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &RuleValidationError{Field: "name", Message: "required"}
	}
	if !r.Type.Valid() {
		return &RuleValidationError{Field: "filter_type", Message: fmt.Sprintf("unknown type %q", r.Type)}
	}
	if !r.Action.Valid() {
		return &RuleValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", r.Action)}
	}
	if !r.RiskLevel.Valid() {
		return &RuleValidationError{Field: "risk_level", Message: fmt.Sprintf("unknown risk level %q", r.RiskLevel)}
	}

	switch r.Type {
	case FilterTypeKeyword:
		if len(r.Keywords()) == 0 {
			return &RuleValidationError{Field: "pattern", Message: "keyword rule needs at least one term"}
		}
	case FilterTypeRegex:
		if _, err := CompilePattern(r.Pattern); err != nil {
			return &RuleValidationError{Field: "pattern", Message: err.Error()}
		}
	case FilterTypeLength:
		if _, err := r.LengthLimit(); err != nil {
			return &RuleValidationError{Field: "pattern", Message: err.Error()}
		}
	case FilterTypeRateLimit:
		if _, _, err := r.RateLimitSpec(); err != nil {
			return &RuleValidationError{Field: "pattern", Message: err.Error()}
		}
	}
	return nil
}

// Keywords splits a keyword pattern into its non-blank terms
func (r *FilterRule) Keywords() []string {
	var terms []string
	for _, part := range strings.Split(r.Pattern, ",") {
		if term := strings.TrimSpace(part); term != "" {
			terms = append(terms, term)
		}
	}
	return terms
}

// LengthLimit parses a length pattern
func (r *FilterRule) LengthLimit() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(r.Pattern))
	if err != nil {
		return 0, fmt.Errorf("length pattern must be an integer: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("length pattern must not be negative")
	}
	return n, nil
}

// RateLimitSpec parses a "count,windowSeconds" pattern
func (r *FilterRule) RateLimitSpec() (int, time.Duration, error) {
	parts := strings.Split(r.Pattern, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("rate limit pattern must be \"count,windowSeconds\"")
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return 0, 0, fmt.Errorf("rate limit count must be a positive integer")
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || seconds <= 0 {
		return 0, 0, fmt.Errorf("rate limit window must be a positive number of seconds")
	}
	return count, time.Duration(seconds) * time.Second, nil
}

// CompilePattern compiles a rule regex for case-insensitive search
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex pattern is empty")
	}
	return regexp.Compile("(?i)" + pattern)
}

// FilterResult is the outcome of evaluating one message
type FilterResult struct {
	IsBlocked    bool         `json:"is_blocked"`
	Action       FilterAction `json:"action"`
	RiskLevel    RiskLevel    `json:"risk_level"`
	MatchedRules []string     `json:"matched_rules"`
	OriginalText string       `json:"original_text"`
	FilteredText string       `json:"filtered_text"`
	Warnings     []string     `json:"warnings"`
}

// NewFilterResult returns an allow/low result for text
func NewFilterResult(text string) *FilterResult {
	return &FilterResult{
		Action:       ActionAllow,
		RiskLevel:    RiskLow,
		MatchedRules: []string{},
		OriginalText: text,
		FilteredText: text,
		Warnings:     []string{},
	}
}

// FailSafeResult is returned when evaluation itself fails: the message is held for review
func FailSafeResult(text string, cause error) *FilterResult {
	r := NewFilterResult(text)
	r.IsBlocked = true
	r.Action = ActionReview
	r.RiskLevel = RiskCritical
	msg := "filter system error, manual review required"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	r.Warnings = append(r.Warnings, msg)
	return r
}

// Admitted reports whether the message may enter the delivery queue
func (r *FilterResult) Admitted() bool {
	return !r.IsBlocked && r.Action != ActionReview
}

// SensitiveWord is an entry of the always-on sensitive word scan
type SensitiveWord struct {
	ID        int64     `json:"id"`
	Word      string    `json:"word"`
	Category  string    `json:"category"`
	Severity  int       `json:"severity"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
