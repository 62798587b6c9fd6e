package chat

import (
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matheus3301/rcschat/internal/composing"
	"github.com/matheus3301/rcschat/internal/contact"
)

// Content types carried in chat messages.
const (
	MimeText         = "text/plain"
	MimeGeolocation  = "application/vnd.gsma.rcspushlocation+xml"
	MimeFileTransfer = "application/vnd.gsma.rcs-ft-http+xml"
	MimeComposing    = composing.MimeType
)

// Message is one chat message. The ID is the idempotence key across
// receive paths; a Message is not modified once built.
type Message struct {
	ID             string     `json:"id"`
	Remote         contact.ID `json:"remote"`
	Content        string     `json:"content"`
	MimeType       string     `json:"mime_type"`
	LocalTimestamp time.Time  `json:"local_timestamp"`
	SentTimestamp  time.Time  `json:"sent_timestamp"`
	DisplayName    string     `json:"display_name,omitempty"`
}

// NewTextMessage builds an outgoing text message with a fresh ID.
func NewTextMessage(remote contact.ID, text string) *Message {
	now := time.Now()
	return &Message{
		ID:             uuid.NewString(),
		Remote:         remote,
		Content:        text,
		MimeType:       MimeText,
		LocalTimestamp: now,
		SentTimestamp:  now,
	}
}

// NewGeolocationMessage builds an outgoing geolocation push.
func NewGeolocationMessage(remote contact.ID, doc string) *Message {
	m := NewTextMessage(remote, doc)
	m.MimeType = MimeGeolocation
	return m
}

// mediaType strips parameters and lower-cases a content type.
func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt, _, _ = strings.Cut(ct, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
