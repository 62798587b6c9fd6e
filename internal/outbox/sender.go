package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/store"
)

// ChatSender hands prepared messages to chat sessions.
type ChatSender interface {
	Post(chatID string, m *chat.Message) error
	PostTo(remote contact.ID, m *chat.Message) error
}

// Options tune the drain loop.
type Options struct {
	PollInterval time.Duration
	// MaxAttempts is how many times an entry is requeued while its session
	// is missing or still negotiating.
	MaxAttempts int
}

// Sender drains the outbox into chat sessions. An entry is 'sent' once a
// session accepted it; the message's own delivery state lives in the
// messages table.
type Sender struct {
	db     *store.DB
	chats  ChatSender
	bus    *bus.Bus
	opts   Options
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, chats ChatSender, b *bus.Bus, opts Options, logger *zap.Logger) *Sender {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:     db,
		chats:  chats,
		bus:    b,
		opts:   opts,
		logger: logger.Named("outbox"),
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending() {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	for _, entry := range pending {
		s.process(entry)
	}
}

func (s *Sender) process(entry store.OutboxEntry) {
	log := s.logger.With(zap.String("client_msg_id", entry.ClientMsgID))
	if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
		log.Error("failed to mark sending", zap.Error(err))
		return
	}

	m, err := s.deliver(entry)
	switch {
	case err == nil:
		if err := s.db.MarkOutboxSent(entry.ClientMsgID, m.ID); err != nil {
			log.Error("failed to mark sent", zap.Error(err))
		}
		log.Debug("outbox entry handed to session", zap.String("chat_id", entry.ChatID))

	case retryable(err) && entry.Attempts+1 < s.opts.MaxAttempts:
		if err := s.db.RequeueOutbox(entry.ClientMsgID); err != nil {
			log.Error("failed to requeue", zap.Error(err))
		}

	default:
		log.Warn("outbox entry failed", zap.Error(err), zap.Int("attempts", entry.Attempts+1))
		if err := s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error()); err != nil {
			log.Error("failed to mark failed", zap.Error(err))
		}
		if !errors.Is(err, chat.ErrSendFailed) {
			remote, _ := contact.Parse(entry.Contact)
			s.bus.Publish(bus.NewEvent(bus.MessageSendFailed, chat.MessageEvent{
				ChatID:  entry.ChatID,
				Message: chat.Message{ID: entry.ClientMsgID, Remote: remote, Content: entry.Body, MimeType: chat.MimeText},
				Error:   err.Error(),
			}))
		}
	}
}

// deliver returns the message it built, or nil when the entry could not be
// turned into one.
func (s *Sender) deliver(entry store.OutboxEntry) (*chat.Message, error) {
	if entry.ChatID != "" {
		m := message(entry, "")
		return m, s.chats.Post(entry.ChatID, m)
	}
	remote, ok := contact.Parse(entry.Contact)
	if !ok {
		return nil, fmt.Errorf("outbox: invalid contact %q", entry.Contact)
	}
	m := message(entry, remote)
	return m, s.chats.PostTo(remote, m)
}

// message reuses the client ID as the chat message ID so that callers can
// correlate delivery reports with what they queued.
func message(entry store.OutboxEntry, remote contact.ID) *chat.Message {
	m := chat.NewTextMessage(remote, entry.Body)
	m.ID = entry.ClientMsgID
	return m
}

func retryable(err error) bool {
	return errors.Is(err, chat.ErrNotEstablished) || errors.Is(err, chat.ErrSessionNotFound)
}
