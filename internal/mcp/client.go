package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the HTTP client for the bridge's admin API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new admin API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx reply from the admin API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// QueuedMessage is a queued danmaku as reported by the API
type QueuedMessage struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	UserID       int64  `json:"user_id"`
	Priority     int    `json:"priority"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// QueueStats are the queue's cumulative counters
type QueueStats struct {
	TotalSent      int64 `json:"total_sent"`
	TotalFailed    int64 `json:"total_failed"`
	TotalCancelled int64 `json:"total_cancelled"`
	TotalEvicted   int64 `json:"total_evicted"`
	SessionSent    int64 `json:"session_sent"`
	SessionFailed  int64 `json:"session_failed"`
}

// QueueInfo is a snapshot of the queue
type QueueInfo struct {
	TotalMessages int            `json:"total_messages"`
	StatusCounts  map[string]int `json:"status_counts"`
	Stats         QueueStats     `json:"stats"`
	MaxSize       int            `json:"max_size"`
	Processing    bool           `json:"processing"`
}

// FilterResult is the outcome of a filter check
type FilterResult struct {
	IsBlocked    bool     `json:"is_blocked"`
	Action       string   `json:"action"`
	RiskLevel    string   `json:"risk_level"`
	MatchedRules []string `json:"matched_rules"`
	FilteredText string   `json:"filtered_text"`
	Warnings     []string `json:"warnings"`
}

// Rule is a filter rule
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FilterType  string `json:"filter_type"`
	Pattern     string `json:"pattern"`
	Action      string `json:"action"`
	RiskLevel   string `json:"risk_level"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`
}

// Statistics summarises recent filter decisions
type Statistics struct {
	PeriodDays     int `json:"period_days"`
	TotalProcessed int `json:"total_processed"`
	Blocked        int `json:"blocked"`
	Warned         int `json:"warned"`
	Replaced       int `json:"replaced"`
	NeedsReview    int `json:"needs_review"`
	ActiveRules    int `json:"active_rules"`
	SensitiveWords int `json:"sensitive_words"`
}

// SendRequest is the body of an enqueue call
type SendRequest struct {
	Text         string  `json:"text"`
	UserID       int64   `json:"user_id"`
	Priority     int     `json:"priority,omitempty"`
	DelaySeconds float64 `json:"delay_seconds,omitempty"`
	Preset       string  `json:"preset,omitempty"`
	Style        *Style  `json:"style,omitempty"`
}

// Style overrides the overlay rendering of one danmaku
type Style struct {
	Color    string `json:"color,omitempty"`
	Position string `json:"position,omitempty"`
}

// ============ Queue ============

// Send queues a danmaku
func (c *Client) Send(ctx context.Context, req SendRequest) (*QueuedMessage, error) {
	var msg QueuedMessage
	if err := c.post(ctx, "/api/queue", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// QueueInfo gets the queue snapshot
func (c *Client) QueueInfo(ctx context.Context) (*QueueInfo, error) {
	var info QueueInfo
	if err := c.get(ctx, "/api/queue", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Messages lists queued messages, optionally filtered by user and status
func (c *Client) Messages(ctx context.Context, userID *int64, status string) ([]QueuedMessage, error) {
	q := url.Values{}
	if userID != nil {
		q.Set("user_id", fmt.Sprintf("%d", *userID))
	}
	if status != "" {
		q.Set("status", status)
	}
	path := "/api/queue/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Messages []QueuedMessage `json:"messages"`
	}
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// Cancel removes a queued message
func (c *Client) Cancel(ctx context.Context, id string) (*QueuedMessage, error) {
	var msg QueuedMessage
	if err := c.do(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetProcessor starts or stops delivery
func (c *Client) SetProcessor(ctx context.Context, running bool) error {
	path := "/api/processor/stop"
	if running {
		path = "/api/processor/start"
	}
	return c.post(ctx, path, nil, nil)
}

// ============ Filter ============

// Check runs the filter over text without queueing it
func (c *Client) Check(ctx context.Context, text string, userID int64) (*FilterResult, error) {
	var result FilterResult
	body := map[string]interface{}{"text": text, "user_id": userID}
	if err := c.post(ctx, "/api/filter/check", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Rules lists the active rules, or all stored rules
func (c *Client) Rules(ctx context.Context, all bool) ([]Rule, error) {
	path := "/api/rules"
	if all {
		path += "?all=1"
	}

	var result struct {
		Rules []Rule `json:"rules"`
	}
	if err := c.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return result.Rules, nil
}

// SetRuleEnabled enables or disables a rule
func (c *Client) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return c.post(ctx, fmt.Sprintf("/api/rules/%s/%s", url.PathEscape(id), action), nil, nil)
}

// Statistics summarises the last days of filter decisions
func (c *Client) Statistics(ctx context.Context, days int) (*Statistics, error) {
	var stats Statistics
	if err := c.get(ctx, fmt.Sprintf("/api/filter/stats?days=%d", days), &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ============ Overlay ============

// OverlayControl runs pause, resume, clear, speed or opacity on the overlay
func (c *Client) OverlayControl(ctx context.Context, action string, settings map[string]interface{}) error {
	return c.post(ctx, "/api/overlay/"+url.PathEscape(action), settings, nil)
}

// ============ HTTP Helpers ============

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// errorMessage pulls the "error" field out of an API error body
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
