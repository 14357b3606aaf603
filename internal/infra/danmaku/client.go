package danmaku

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	controlPath = "/api/control/danmaku"
	statusPath  = "/api/control/status"
	userAgent   = "DanmakuBot/1.0"

	// DefaultRPS is the outbound request rate when none is configured
	DefaultRPS = 10
	// DefaultTimeout bounds a single request to the overlay
	DefaultTimeout = 30 * time.Second
)

// Overlay control actions
const (
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionClear   = "clear"
	ActionSpeed   = "speed"
	ActionOpacity = "opacity"
)

// ErrInvalidControl is returned for control requests rejected before reaching the overlay
var ErrInvalidControl = errors.New("invalid overlay control")

// Speeds accepted by the speed action
var Speeds = []string{"slow", "normal", "fast"}

// APIError is returned when the overlay answers with anything but 200
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("danmaku api HTTP %d: %s", e.Status, e.Body)
}

// SendRequest is one danmaku to render
type SendRequest struct {
	Text     string
	Color    string
	Position string
	FontSize int
	Duration int
}

// Response is the overlay's reply body
type Response struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Client talks to the overlay control API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client paced at rps requests per second
func NewClient(baseURL, apiKey string, rps int, timeout time.Duration) *Client {
	if rps <= 0 {
		rps = DefaultRPS
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

// ============ Danmaku ============

// Send renders one danmaku
func (c *Client) Send(ctx context.Context, req SendRequest) (*Response, error) {
	body := map[string]any{
		"action":    "send",
		"text":      req.Text,
		"color":     req.Color,
		"position":  req.Position,
		"font_size": clamp(req.FontSize, 12, 48),
		"duration":  clamp(req.Duration, 1, 30),
	}
	var resp Response
	if err := c.post(ctx, controlPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ============ Control ============

// Status returns the overlay's current state
func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var result map[string]any
	if err := c.get(ctx, statusPath, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Control runs one of the overlay actions. speed takes settings["speed"],
// opacity takes settings["opacity"] in [0, 1].
func (c *Client) Control(ctx context.Context, action string, settings map[string]any) (*Response, error) {
	body := map[string]any{}
	switch action {
	case ActionPause, ActionResume, ActionClear:
		body["action"] = action
	case ActionSpeed:
		speed, _ := settings["speed"].(string)
		if !validSpeed(speed) {
			return nil, fmt.Errorf("%w: speed %q, want one of %s", ErrInvalidControl, speed, strings.Join(Speeds, ", "))
		}
		body["action"] = "set_speed"
		body["settings"] = map[string]any{"speed": speed}
	case ActionOpacity:
		opacity, ok := toFloat(settings["opacity"])
		if !ok || opacity < 0 || opacity > 1 {
			return nil, fmt.Errorf("%w: opacity %v, want a number between 0 and 1", ErrInvalidControl, settings["opacity"])
		}
		body["action"] = "set_opacity"
		body["settings"] = map[string]any{"opacity": opacity}
	default:
		return nil, fmt.Errorf("%w: unknown action %s", ErrInvalidControl, action)
	}

	var resp Response
	if err := c.post(ctx, controlPath, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ============ HTTP Helpers ============

func (c *Client) url(path string) string {
	u := c.baseURL + path
	if c.apiKey == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "api_key=" + c.apiKey
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, result interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP %s failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func validSpeed(s string) bool {
	for _, v := range Speeds {
		if v == s {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
