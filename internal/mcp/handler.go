package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Handler implements the MCP tools on top of the admin API client
type Handler struct {
	client *Client
}

// NewHandler creates a new MCP handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// ============ Queue Tools ============

// SendInput is the input of danmaku_send
type SendInput struct {
	Text         string  `json:"text" jsonschema:"the danmaku text to show on the overlay"`
	UserID       int64   `json:"user_id,omitempty" jsonschema:"numeric id of the requesting user, 0 for the operator"`
	Priority     int     `json:"priority,omitempty" jsonschema:"1 (lowest) to 5 (highest), default 1"`
	DelaySeconds float64 `json:"delay_seconds,omitempty" jsonschema:"seconds to wait before the danmaku becomes eligible"`
	Preset       string  `json:"preset,omitempty" jsonschema:"style preset: normal, highlight, warning, success or error"`
	Color        string  `json:"color,omitempty" jsonschema:"text color as #RRGGBB"`
	Position     string  `json:"position,omitempty" jsonschema:"scroll, top or bottom"`
}

// SendOutput is the output of danmaku_send
type SendOutput struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Priority int    `json:"priority"`
	Status   string `json:"status"`
}

// Send queues a danmaku through the content filter
func (h *Handler) Send(ctx context.Context, req *mcpsdk.CallToolRequest, input SendInput) (*mcpsdk.CallToolResult, SendOutput, error) {
	if input.Text == "" {
		return nil, SendOutput{}, fmt.Errorf("text is required")
	}

	sendReq := SendRequest{
		Text:         input.Text,
		UserID:       input.UserID,
		Priority:     input.Priority,
		DelaySeconds: input.DelaySeconds,
		Preset:       input.Preset,
	}
	if input.Color != "" || input.Position != "" {
		sendReq.Style = &Style{Color: input.Color, Position: input.Position}
	}

	msg, err := h.client.Send(ctx, sendReq)
	if err != nil {
		return nil, SendOutput{}, err
	}
	return nil, SendOutput{ID: msg.ID, Text: msg.Text, Priority: msg.Priority, Status: msg.Status}, nil
}

// QueueStatusInput is empty
type QueueStatusInput struct{}

// QueueStatus reports queue counts and whether delivery is running
func (h *Handler) QueueStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input QueueStatusInput) (*mcpsdk.CallToolResult, QueueInfo, error) {
	info, err := h.client.QueueInfo(ctx)
	if err != nil {
		return nil, QueueInfo{}, err
	}
	return nil, *info, nil
}

// ListMessagesInput is the input of danmaku_list_messages
type ListMessagesInput struct {
	UserID *int64 `json:"user_id,omitempty" jsonschema:"only messages queued by this user"`
	Status string `json:"status,omitempty" jsonschema:"pending, sending, success, failed or cancelled"`
}

// ListMessagesOutput is the output of danmaku_list_messages
type ListMessagesOutput struct {
	Messages []QueuedMessage `json:"messages"`
	Count    int             `json:"count"`
}

// ListMessages lists queued messages in delivery order
func (h *Handler) ListMessages(ctx context.Context, req *mcpsdk.CallToolRequest, input ListMessagesInput) (*mcpsdk.CallToolResult, ListMessagesOutput, error) {
	messages, err := h.client.Messages(ctx, input.UserID, input.Status)
	if err != nil {
		return nil, ListMessagesOutput{}, err
	}
	if messages == nil {
		messages = []QueuedMessage{}
	}
	return nil, ListMessagesOutput{Messages: messages, Count: len(messages)}, nil
}

// CancelInput is the input of danmaku_cancel
type CancelInput struct {
	ID string `json:"id" jsonschema:"the message id returned by danmaku_send"`
}

// ResultOutput is a plain success report
type ResultOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Cancel removes a queued message
func (h *Handler) Cancel(ctx context.Context, req *mcpsdk.CallToolRequest, input CancelInput) (*mcpsdk.CallToolResult, ResultOutput, error) {
	if input.ID == "" {
		return nil, ResultOutput{}, fmt.Errorf("id is required")
	}

	msg, err := h.client.Cancel(ctx, input.ID)
	if err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true, Message: fmt.Sprintf("Cancelled %s (%s)", msg.ID, msg.Text)}, nil
}

// ProcessorInput is the input of danmaku_processor
type ProcessorInput struct {
	Action string `json:"action" jsonschema:"start or stop"`
}

// Processor starts or stops delivery to the overlay
func (h *Handler) Processor(ctx context.Context, req *mcpsdk.CallToolRequest, input ProcessorInput) (*mcpsdk.CallToolResult, ResultOutput, error) {
	var running bool
	switch input.Action {
	case "start":
		running = true
	case "stop":
	default:
		return nil, ResultOutput{}, fmt.Errorf("action must be start or stop, got %q", input.Action)
	}

	if err := h.client.SetProcessor(ctx, running); err != nil {
		return nil, ResultOutput{}, err
	}
	msg := "Delivery stopped"
	if running {
		msg = "Delivery started"
	}
	return nil, ResultOutput{Success: true, Message: msg}, nil
}

// ============ Filter Tools ============

// CheckTextInput is the input of danmaku_check_text
type CheckTextInput struct {
	Text   string `json:"text" jsonschema:"the text to run through the content filter"`
	UserID int64  `json:"user_id,omitempty" jsonschema:"numeric id the check is attributed to"`
}

// CheckText runs the content filter without queueing
func (h *Handler) CheckText(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckTextInput) (*mcpsdk.CallToolResult, FilterResult, error) {
	if input.Text == "" {
		return nil, FilterResult{}, fmt.Errorf("text is required")
	}

	result, err := h.client.Check(ctx, input.Text, input.UserID)
	if err != nil {
		return nil, FilterResult{}, err
	}
	return nil, *result, nil
}

// ListRulesInput is the input of danmaku_list_rules
type ListRulesInput struct {
	All bool `json:"all,omitempty" jsonschema:"include disabled rules"`
}

// ListRulesOutput is the output of danmaku_list_rules
type ListRulesOutput struct {
	Rules []Rule `json:"rules"`
	Count int    `json:"count"`
}

// ListRules lists the filter rules in evaluation order
func (h *Handler) ListRules(ctx context.Context, req *mcpsdk.CallToolRequest, input ListRulesInput) (*mcpsdk.CallToolResult, ListRulesOutput, error) {
	rules, err := h.client.Rules(ctx, input.All)
	if err != nil {
		return nil, ListRulesOutput{}, err
	}
	if rules == nil {
		rules = []Rule{}
	}
	return nil, ListRulesOutput{Rules: rules, Count: len(rules)}, nil
}

// SetRuleInput is the input of danmaku_set_rule
type SetRuleInput struct {
	ID      string `json:"id" jsonschema:"the rule id"`
	Enabled bool   `json:"enabled" jsonschema:"true to enable, false to disable"`
}

// SetRule enables or disables a rule
func (h *Handler) SetRule(ctx context.Context, req *mcpsdk.CallToolRequest, input SetRuleInput) (*mcpsdk.CallToolResult, ResultOutput, error) {
	if input.ID == "" {
		return nil, ResultOutput{}, fmt.Errorf("id is required")
	}
	if err := h.client.SetRuleEnabled(ctx, input.ID, input.Enabled); err != nil {
		return nil, ResultOutput{}, err
	}

	state := "disabled"
	if input.Enabled {
		state = "enabled"
	}
	return nil, ResultOutput{Success: true, Message: fmt.Sprintf("Rule %s %s", input.ID, state)}, nil
}

// StatsInput is the input of danmaku_filter_stats
type StatsInput struct {
	Days int `json:"days,omitempty" jsonschema:"how many days back to summarise, default 7"`
}

// Stats summarises recent filter decisions
func (h *Handler) Stats(ctx context.Context, req *mcpsdk.CallToolRequest, input StatsInput) (*mcpsdk.CallToolResult, Statistics, error) {
	days := input.Days
	if days <= 0 {
		days = 7
	}
	stats, err := h.client.Statistics(ctx, days)
	if err != nil {
		return nil, Statistics{}, err
	}
	return nil, *stats, nil
}

// ============ Overlay Tools ============

// OverlayInput is the input of danmaku_overlay
type OverlayInput struct {
	Action  string  `json:"action" jsonschema:"pause, resume, clear, speed or opacity"`
	Speed   string  `json:"speed,omitempty" jsonschema:"slow, normal or fast, for the speed action"`
	Opacity float64 `json:"opacity,omitempty" jsonschema:"0 to 1, for the opacity action"`
}

// Overlay controls the danmaku overlay
func (h *Handler) Overlay(ctx context.Context, req *mcpsdk.CallToolRequest, input OverlayInput) (*mcpsdk.CallToolResult, ResultOutput, error) {
	settings := map[string]interface{}{}
	switch input.Action {
	case "speed":
		settings["speed"] = input.Speed
	case "opacity":
		settings["opacity"] = input.Opacity
	}

	if err := h.client.OverlayControl(ctx, input.Action, settings); err != nil {
		return nil, ResultOutput{}, err
	}
	return nil, ResultOutput{Success: true, Message: "Overlay " + input.Action + " done"}, nil
}
