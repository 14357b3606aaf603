package data

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/infra/danmaku"
)

func TestDanmakuSink_SendNormalizesStyle(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(danmaku.Response{Success: true, Message: "queued"})
	}))
	defer srv.Close()

	sink := NewDanmakuSink(danmaku.NewClient(srv.URL, "k", 100, time.Second))
	result, err := sink.Send(context.Background(), "hi", domain.Style{Position: "sideways"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success || result.Message != "queued" {
		t.Errorf("Unexpected result: %+v", result)
	}
	if body["position"] != "scroll" || body["color"] != "#FFFFFF" {
		t.Errorf("Expected default style to be filled in, got %v", body)
	}
}

func TestDanmakuSink_ControlFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewDanmakuSink(danmaku.NewClient(srv.URL, "k", 100, time.Second))
	if _, err := sink.Control(context.Background(), danmaku.ActionPause, nil); err == nil {
		t.Error("Expected error for non-200 overlay response")
	}
}
