package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseCommandMessage(t *testing.T) {
	body := []byte(`{
		"command_id": "4f9c9f5e-1111-4222-8333-abcdefabcdef",
		"type": "Debit",
		"domain": "payments",
		"reply_to": "payments__replies",
		"created_at": "2026-01-02T03:04:05Z",
		"data": {"account": "A", "amount": 100}
	}`)

	msg, err := ParseCommandMessage(body)
	if err != nil {
		t.Fatalf("ParseCommandMessage failed: %v", err)
	}
	if msg.Type != "Debit" || msg.Domain != "payments" {
		t.Errorf("unexpected message: %+v", msg)
	}

	var data map[string]any
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("data should stay valid JSON: %v", err)
	}
	if data["account"] != "A" {
		t.Errorf("data round trip lost fields: %v", data)
	}
}

func TestParseCommandMessage_MissingFields(t *testing.T) {
	if _, err := ParseCommandMessage([]byte(`{"type":"Debit"}`)); err == nil {
		t.Error("expected error for missing command_id and domain")
	}
	if _, err := ParseCommandMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestParseCommandMessage_EmptyData(t *testing.T) {
	msg, err := ParseCommandMessage([]byte(`{"command_id":"x","type":"T","domain":"d"}`))
	if err != nil {
		t.Fatalf("ParseCommandMessage failed: %v", err)
	}
	if string(msg.Data) != "{}" {
		t.Errorf("empty data should normalize to {}, got %s", msg.Data)
	}
}

func TestNewReply(t *testing.T) {
	cmd := &Command{
		Domain:        "payments",
		CommandID:     "cid",
		CorrelationID: "corr",
	}
	r := NewReply(cmd, "Debit", OutcomeSuccess, json.RawMessage(`{"ok":true}`), nil)
	if r.Type != "DebitResponse" {
		t.Errorf("reply type = %q, want DebitResponse", r.Type)
	}
	if r.Outcome != OutcomeSuccess || r.CorrelationID != "corr" {
		t.Errorf("unexpected reply: %+v", r)
	}
	if r.CompletedAt.IsZero() || r.CompletedAt.After(time.Now().UTC().Add(time.Second)) {
		t.Errorf("completed_at not stamped: %v", r.CompletedAt)
	}
}

func TestParseReply(t *testing.T) {
	body := []byte(`{"command_id":"cid","domain":"payments","type":"DebitResponse","outcome":"FAILED","error":{"code":"DECLINED","message":"no","class":"PERMANENT"}}`)
	r, err := ParseReply(body)
	if err != nil {
		t.Fatalf("ParseReply failed: %v", err)
	}
	if r.Outcome != OutcomeFailed || r.Error == nil || r.Error.Code != "DECLINED" {
		t.Errorf("unexpected reply: %+v", r)
	}

	if _, err := ParseReply([]byte(`{}`)); err == nil {
		t.Error("expected error for reply without command_id")
	}
}
