// Package server defines the JSON frames exchanged with chat clients and
// utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/identity"
)

// Frame types. "message" is used in both directions: inbound it posts a
// message, outbound it announces one.
const (
	FrameGetMessages   = "getMessages"
	FrameMessage       = "message"
	FrameDeleteMessage = "deleteMessage"
	FrameMessages      = "messages"
)

// InboundFrame is a request sent by a client.
type InboundFrame struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

// MessagePayload is the wire form of a chat message. Time is in unix
// milliseconds.
type MessagePayload struct {
	ID    string            `json:"id"`
	User  identity.Identity `json:"user"`
	Value string            `json:"value"`
	Time  int64             `json:"time"`
}

// EventFrame announces a message lifecycle event.
type EventFrame struct {
	Type    string          `json:"type"`
	Message *MessagePayload `json:"message,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// HistoryFrame answers a getMessages request.
type HistoryFrame struct {
	Type     string           `json:"type"`
	Messages []MessagePayload `json:"messages"`
}

func toPayload(m chat.Message) MessagePayload {
	return MessagePayload{
		ID:    m.ID.String(),
		User:  m.Author,
		Value: m.Body,
		Time:  m.CreatedAt.UnixMilli(),
	}
}

func encodeEvent(evt chat.Event) ([]byte, error) {
	switch evt.Kind {
	case chat.MessageAdded:
		payload := toPayload(evt.Message)
		return json.Marshal(EventFrame{Type: FrameMessage, Message: &payload})
	case chat.MessageExpired:
		return json.Marshal(EventFrame{Type: FrameDeleteMessage, ID: evt.ID.String()})
	default:
		return nil, fmt.Errorf("unknown event kind %d", evt.Kind)
	}
}

func encodeHistory(messages []chat.Message) ([]byte, error) {
	payloads := make([]MessagePayload, 0, len(messages))
	for _, m := range messages {
		payloads = append(payloads, toPayload(m))
	}
	return json.Marshal(HistoryFrame{Type: FrameMessages, Messages: payloads})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
