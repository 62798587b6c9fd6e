package chat

import (
	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/imdn"
)

// MessageEvent is the payload of message_received, message_sent and
// message_send_failed.
type MessageEvent struct {
	SessionID        string  `json:"session_id"`
	ChatID           string  `json:"chat_id"`
	Message          Message `json:"message"`
	DisplayRequested bool    `json:"display_requested,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// DeliveryEvent is the payload of delivery_status and
// delivery_report_failed.
type DeliveryEvent struct {
	SessionID string      `json:"session_id"`
	ChatID    string      `json:"chat_id"`
	MessageID string      `json:"message_id"`
	Contact   contact.ID  `json:"contact"`
	Status    imdn.Status `json:"status"`
	Error     string      `json:"error,omitempty"`
}

// ComposingEvent is the payload of composing.
type ComposingEvent struct {
	SessionID string     `json:"session_id"`
	ChatID    string     `json:"chat_id"`
	Contact   contact.ID `json:"contact"`
	Active    bool       `json:"active"`
}

// SessionEvent is the payload of the session lifecycle kinds.
type SessionEvent struct {
	SessionID    string            `json:"session_id"`
	ChatID       string            `json:"chat_id"`
	Kind         Kind              `json:"kind"`
	Direction    Direction         `json:"direction"`
	Remote       contact.ID        `json:"remote"`
	Subject      string            `json:"subject,omitempty"`
	AutoAccept   bool              `json:"auto_accept,omitempty"`
	FirstMessage *Message          `json:"first_message,omitempty"`
	Participants Roster            `json:"participants,omitempty"`
	Reason       TerminationReason `json:"reason,omitempty"`
	Code         Code              `json:"code,omitempty"`
	ErrorText    string            `json:"error,omitempty"`
	Err          *Error            `json:"-"`
}

// ErrorEvent is the payload of session_error: a failure the session
// survives.
type ErrorEvent struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	Code      Code   `json:"code"`
	Error     string `json:"error"`
}

// StateEvent is the payload of session_state.
type StateEvent struct {
	SessionID string `json:"session_id"`
	From      State  `json:"from"`
	To        State  `json:"to"`
}

// ParticipantsEvent is the payload of participants_updated. Changes only
// holds entries whose status actually changed.
type ParticipantsEvent struct {
	SessionID string `json:"session_id"`
	ChatID    string `json:"chat_id"`
	Changes   Roster `json:"changes"`
}

// ContentEvent is the payload of file_transfer_invitation and geolocation.
type ContentEvent struct {
	SessionID string  `json:"session_id"`
	ChatID    string  `json:"chat_id"`
	Message   Message `json:"message"`
}

func (s *Session) publish(kind string, payload any) {
	if s.deps.Bus == nil {
		return
	}
	s.deps.Bus.Publish(bus.NewEvent(kind, payload))
}

func (s *Session) sessionEvent() SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := SessionEvent{
		SessionID: s.id,
		ChatID:    s.chatID,
		Kind:      s.kind,
		Direction: s.direction,
		Remote:    s.remote,
		Subject:   s.subject,
	}
	if s.kind == KindGroup {
		ev.Participants = s.roster.Clone()
	}
	return ev
}
