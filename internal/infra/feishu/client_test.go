package feishu

import (
	"testing"

	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

func strPtr(s string) *string { return &s }

func textEvent(senderType, content string, mentions ...*larkim.MentionEvent) *larkim.P2MessageReceiveV1 {
	return &larkim.P2MessageReceiveV1{
		Event: &larkim.P2MessageReceiveV1Data{
			Sender: &larkim.EventSender{
				SenderId:   &larkim.UserId{OpenId: strPtr("ou_123")},
				SenderType: strPtr(senderType),
			},
			Message: &larkim.EventMessage{
				MessageId:   strPtr("om_1"),
				ChatId:      strPtr("oc_1"),
				ChatType:    strPtr("group"),
				MessageType: strPtr("text"),
				CreateTime:  strPtr("1700000000000"),
				Content:     strPtr(content),
				Mentions:    mentions,
			},
		},
	}
}

func TestParseEvent_Text(t *testing.T) {
	event := textEvent("user", `{"text":"@_user_1 /send hello"}`, &larkim.MentionEvent{Key: strPtr("@_user_1")})

	msg, ok := ParseEvent(event)
	if !ok {
		t.Fatal("Expected message to be parsed")
	}
	if msg.Content != "/send hello" {
		t.Errorf("Expected '/send hello', got '%s'", msg.Content)
	}
	if msg.Sender == nil || msg.Sender.OpenID != "ou_123" {
		t.Errorf("Expected sender ou_123, got %+v", msg.Sender)
	}
	if msg.CreateTime != 1700000000000 {
		t.Errorf("Expected create time to be parsed, got %d", msg.CreateTime)
	}
	if msg.ChatType != "group" || msg.MsgID != "om_1" {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestParseEvent_SkipsAppSenders(t *testing.T) {
	if _, ok := ParseEvent(textEvent("app", `{"text":"echo"}`)); ok {
		t.Error("Expected messages from apps to be skipped")
	}
}

func TestParseEvent_SkipsUnsupported(t *testing.T) {
	event := textEvent("user", `{"image_key":"img_1"}`)
	event.Event.Message.MessageType = strPtr("image")
	if _, ok := ParseEvent(event); ok {
		t.Error("Expected image messages to be skipped")
	}
	if _, ok := ParseEvent(&larkim.P2MessageReceiveV1{}); ok {
		t.Error("Expected empty event to be skipped")
	}
}

func TestParsePostContent(t *testing.T) {
	content := `{"title":"Title","content":[[{"tag":"text","text":"/send "},{"tag":"text","text":"hi"}],[{"tag":"img","image_key":"k"}]]}`
	got := parsePostContent(content)
	if got != "Title\n/send hi" {
		t.Errorf("Expected 'Title\\n/send hi', got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("弹幕弹幕弹幕", 2); got != "弹幕..." {
		t.Errorf("Expected rune-safe truncation, got %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("Expected 'short', got %q", got)
	}
}
