package webhook

import (
	"encoding/json"
	"fmt"
)

// Payload is the top-level Meta webhook envelope. Only the "instagram"
// and "page" objects are processed; anything else is rejected upstream.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups events for one page. Time is epoch milliseconds.
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// MessagingEvent is one inbound messaging event. Sender/recipient are
// platform-scoped user IDs; Timestamp is epoch milliseconds.
type MessagingEvent struct {
	Sender    Party    `json:"sender"`
	Recipient Party    `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
	Read      *Read    `json:"read,omitempty"`
}

type Party struct {
	ID string `json:"id"`
}

// Message is the message body of a messaging event.
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     *ReplyTo     `json:"reply_to,omitempty"`
}

type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

type AttachmentPayload struct {
	URL string `json:"url"`
}

// ReplyTo carries story-reply context when present.
type ReplyTo struct {
	MID   string `json:"mid,omitempty"`
	Story *Story `json:"story,omitempty"`
}

type Story struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

type Read struct {
	MID string `json:"mid"`
}

// ParsePayload decodes the raw webhook body. Unknown fields are
// tolerated; Meta adds fields without versioning the payload.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("webhook: parse payload: %w", err)
	}
	if p.Object == "" {
		return nil, fmt.Errorf("webhook: payload missing object field")
	}
	return &p, nil
}
