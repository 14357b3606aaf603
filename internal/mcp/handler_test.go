package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// newMockAPI serves a minimal admin API and records the last request
func newMockAPI(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.RequestURI())

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/queue":
			var req SendRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Text == "加群" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"error":         "content blocked by filter (rules: ad_filter)",
					"matched_rules": []string{"ad_filter"},
				})
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(QueuedMessage{ID: "dm_1", Text: req.Text, Priority: req.Priority, Status: "pending"})
		case r.URL.Path == "/api/queue":
			json.NewEncoder(w).Encode(QueueInfo{
				TotalMessages: 2,
				StatusCounts:  map[string]int{"pending": 2},
				MaxSize:       1000,
			})
		case r.URL.Path == "/api/queue/messages":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"messages": []QueuedMessage{{ID: "dm_1", Text: "hi", UserID: 7, Status: "pending"}},
				"count":    1,
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/queue/dm_1":
			json.NewEncoder(w).Encode(QueuedMessage{ID: "dm_1", Text: "hi"})
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "message not found"})
		case r.URL.Path == "/api/processor/start", r.URL.Path == "/api/processor/stop":
			json.NewEncoder(w).Encode(map[string]bool{"running": r.URL.Path == "/api/processor/start"})
		case r.URL.Path == "/api/filter/check":
			json.NewEncoder(w).Encode(FilterResult{Action: "replace", RiskLevel: "medium", FilteredText: "你是***吗", MatchedRules: []string{"profanity_filter"}})
		case r.URL.Path == "/api/filter/stats":
			json.NewEncoder(w).Encode(Statistics{PeriodDays: 7, TotalProcessed: 10, Blocked: 2})
		case r.URL.Path == "/api/rules":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"rules": []Rule{{ID: "length_limit", Enabled: true}, {ID: "ad_filter", Enabled: true}},
			})
		case r.URL.Path == "/api/rules/ad_filter/disable":
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		case r.URL.Path == "/api/overlay/speed":
			var settings map[string]interface{}
			json.NewDecoder(r.Body).Decode(&settings)
			if settings["speed"] != "fast" {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid overlay control"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestHandler_Send(t *testing.T) {
	server, calls := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))

	_, out, err := handler.Send(context.Background(), nil, SendInput{Text: "hello", Priority: 3, Color: "#FF0000"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.ID != "dm_1" || out.Priority != 3 || out.Status != "pending" {
		t.Errorf("Unexpected output: %+v", out)
	}
	if (*calls)[0] != "POST /api/queue" {
		t.Errorf("Expected POST /api/queue, got %s", (*calls)[0])
	}
}

func TestHandler_SendRejected(t *testing.T) {
	server, _ := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))

	_, _, err := handler.Send(context.Background(), nil, SendInput{Text: "加群"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity {
		t.Errorf("Expected status 422, got %d", apiErr.Status)
	}
	if apiErr.Message != "content blocked by filter (rules: ad_filter)" {
		t.Errorf("Unexpected message: %s", apiErr.Message)
	}

	if _, _, err := handler.Send(context.Background(), nil, SendInput{}); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestHandler_QueueStatusAndMessages(t *testing.T) {
	server, calls := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))
	ctx := context.Background()

	_, info, err := handler.QueueStatus(ctx, nil, QueueStatusInput{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if info.TotalMessages != 2 || info.StatusCounts["pending"] != 2 {
		t.Errorf("Unexpected info: %+v", info)
	}

	userID := int64(7)
	_, list, err := handler.ListMessages(ctx, nil, ListMessagesInput{UserID: &userID, Status: "pending"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if list.Count != 1 || list.Messages[0].ID != "dm_1" {
		t.Errorf("Unexpected list: %+v", list)
	}
	if got := (*calls)[1]; got != "GET /api/queue/messages?status=pending&user_id=7" {
		t.Errorf("Unexpected request: %s", got)
	}
}

func TestHandler_Cancel(t *testing.T) {
	server, _ := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))
	ctx := context.Background()

	_, out, err := handler.Cancel(ctx, nil, CancelInput{ID: "dm_1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Success || out.Message != "Cancelled dm_1 (hi)" {
		t.Errorf("Unexpected output: %+v", out)
	}

	_, _, err = handler.Cancel(ctx, nil, CancelInput{ID: "dm_missing"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected 404 APIError, got %v", err)
	}
}

func TestHandler_Processor(t *testing.T) {
	server, calls := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))
	ctx := context.Background()

	_, out, err := handler.Processor(ctx, nil, ProcessorInput{Action: "start"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Message != "Delivery started" {
		t.Errorf("Unexpected message: %s", out.Message)
	}
	if (*calls)[0] != "POST /api/processor/start" {
		t.Errorf("Unexpected request: %s", (*calls)[0])
	}

	if _, _, err := handler.Processor(ctx, nil, ProcessorInput{Action: "restart"}); err == nil {
		t.Error("Expected error for unknown action")
	}
}

func TestHandler_FilterTools(t *testing.T) {
	server, calls := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))
	ctx := context.Background()

	_, result, err := handler.CheckText(ctx, nil, CheckTextInput{Text: "你是傻逼吗"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Action != "replace" || result.FilteredText != "你是***吗" {
		t.Errorf("Unexpected result: %+v", result)
	}

	_, rules, err := handler.ListRules(ctx, nil, ListRulesInput{All: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if rules.Count != 2 {
		t.Errorf("Expected 2 rules, got %d", rules.Count)
	}

	_, out, err := handler.SetRule(ctx, nil, SetRuleInput{ID: "ad_filter", Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Message != "Rule ad_filter disabled" {
		t.Errorf("Unexpected message: %s", out.Message)
	}

	_, stats, err := handler.Stats(ctx, nil, StatsInput{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if stats.TotalProcessed != 10 || stats.Blocked != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	want := []string{
		"POST /api/filter/check",
		"GET /api/rules?all=1",
		"POST /api/rules/ad_filter/disable",
		"GET /api/filter/stats?days=7",
	}
	for i, w := range want {
		if (*calls)[i] != w {
			t.Errorf("Call %d: expected %s, got %s", i, w, (*calls)[i])
		}
	}
}

func TestHandler_Overlay(t *testing.T) {
	server, _ := newMockAPI(t)
	handler := NewHandler(NewClient(server.URL))
	ctx := context.Background()

	if _, _, err := handler.Overlay(ctx, nil, OverlayInput{Action: "speed", Speed: "fast"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, _, err := handler.Overlay(ctx, nil, OverlayInput{Action: "speed", Speed: "warp"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Errorf("Expected 400 APIError, got %v", err)
	}
}

func TestServer_ListAndCallTools(t *testing.T) {
	api, _ := newMockAPI(t)
	ctx := context.Background()

	s := NewServer(NewHandler(NewClient(api.URL)), "test")
	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := s.GetServer().Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("Server connect failed: %v", err)
	}
	defer serverSession.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("Client connect failed: %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{
		"danmaku_cancel",
		"danmaku_check_text",
		"danmaku_filter_stats",
		"danmaku_list_messages",
		"danmaku_list_rules",
		"danmaku_overlay",
		"danmaku_processor",
		"danmaku_queue_status",
		"danmaku_send",
		"danmaku_set_rule",
	}
	if len(names) != len(want) {
		t.Fatalf("Expected %d tools, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Tool %d: expected %s, got %s", i, want[i], names[i])
		}
	}

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "danmaku_send",
		Arguments: map[string]interface{}{"text": "加群"},
	})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if !result.IsError {
		t.Error("Expected a rejected send to be reported as a tool error")
	}
}
