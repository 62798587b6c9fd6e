package api

import (
	"context"

	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/store"
)

// Chats is the chat engine surface the HTTP API drives.
type Chats interface {
	Sessions() []chat.Info
	SessionInfo(id string) (chat.Info, error)
	Start(remote contact.ID, text string) (chat.Info, error)
	StartGroup(subject string, participants []contact.ID) (chat.Info, error)
	Rejoin(chatID string) (chat.Info, error)
	Restart(chatID string) (chat.Info, error)
	Accept(id string) error
	Reject(id string) error
	Terminate(id string) error
	SendText(id, text string) (*chat.Message, error)
	Typing(id string, active bool) error
	InviteParticipants(ctx context.Context, id string, contacts []contact.ID) error
}

// Archive is the persisted side read and written by the API.
type Archive interface {
	ListMessages(chatID string, beforeTs int64, limit int) ([]store.Message, error)
	SearchMessages(query string, chatID string, limit int) ([]store.SearchResult, error)
	QueueOutbox(clientMsgID, chatID, contact, body string) error
	GetOutbox(clientMsgID string) (*store.OutboxEntry, error)
}

// Replayer serves journaled events to reconnecting clients.
type Replayer interface {
	Replay(after int64, chatID string, limit int) ([]store.JournalEntry, error)
}

// ServiceChats adapts *chat.Service to Chats.
type ServiceChats struct {
	*chat.Service
}

func (s ServiceChats) SessionInfo(id string) (chat.Info, error) {
	sess, err := s.Session(id)
	if err != nil {
		return chat.Info{}, err
	}
	return sess.Info(), nil
}

func (s ServiceChats) Start(remote contact.ID, text string) (chat.Info, error) {
	var first *chat.Message
	if text != "" {
		first = chat.NewTextMessage(remote, text)
	}
	return info(s.StartOneToOne(remote, first))
}

func (s ServiceChats) StartGroup(subject string, participants []contact.ID) (chat.Info, error) {
	return info(s.Service.StartGroup(subject, participants))
}

func (s ServiceChats) Rejoin(chatID string) (chat.Info, error) {
	return info(s.Service.Rejoin(chatID))
}

func (s ServiceChats) Restart(chatID string) (chat.Info, error) {
	return info(s.Service.Restart(chatID))
}

func info(sess *chat.Session, err error) (chat.Info, error) {
	if err != nil {
		return chat.Info{}, err
	}
	return sess.Info(), nil
}
