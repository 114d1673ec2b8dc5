package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReplyOutcome is the terminal outcome carried by a reply message.
type ReplyOutcome string

const (
	OutcomeSuccess  ReplyOutcome = "SUCCESS"
	OutcomeCanceled ReplyOutcome = "CANCELED"
	OutcomeFailed   ReplyOutcome = "FAILED"
)

// CommandMessage is the JSON body of a command queue message.
type CommandMessage struct {
	CommandID     string          `json:"command_id"`
	Type          string          `json:"type"`
	Domain        string          `json:"domain"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       string          `json:"reply_to"`
	CreatedAt     time.Time       `json:"created_at"`
	Data          json.RawMessage `json:"data"`
}

// ParseCommandMessage decodes and validates a command queue body.
func ParseCommandMessage(body []byte) (*CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode command message: %w", err)
	}
	if msg.CommandID == "" || msg.Type == "" || msg.Domain == "" {
		return nil, fmt.Errorf("command message missing command_id, type or domain")
	}
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage(`{}`)
	}
	return &msg, nil
}

// ReplyError carries failure details in a reply body.
type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Class   string `json:"class"`
}

// Reply is the JSON body published on a reply queue when a command reaches
// a terminal outcome and reply_to was set.
type Reply struct {
	CommandID     string          `json:"command_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Domain        string          `json:"domain"`
	Type          string          `json:"type"`
	Outcome       ReplyOutcome    `json:"outcome"`
	CompletedAt   time.Time       `json:"completed_at"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ReplyError     `json:"error,omitempty"`
}

// NewReply builds a reply for a command. The reply type is the command type
// with a "Response" suffix.
func NewReply(cmd *Command, commandType string, outcome ReplyOutcome, data json.RawMessage, replyErr *ReplyError) *Reply {
	return &Reply{
		CommandID:     cmd.CommandID,
		CorrelationID: cmd.CorrelationID,
		Domain:        cmd.Domain,
		Type:          commandType + "Response",
		Outcome:       outcome,
		CompletedAt:   time.Now().UTC(),
		Data:          data,
		Error:         replyErr,
	}
}

// ParseReply decodes a reply queue body.
func ParseReply(body []byte) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if r.CommandID == "" {
		return nil, fmt.Errorf("reply missing command_id")
	}
	return &r, nil
}
