// Package history journals chat events to the store so that clients can
// replay what they missed while disconnected.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/store"
)

const (
	flushInterval = 200 * time.Millisecond
	maxBatch      = 64
	pruneInterval = time.Hour
)

// Journal is a bus subscriber writing events in batches.
type Journal struct {
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
	retention time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewJournal creates a journal. A zero retention keeps events forever.
func NewJournal(db *store.DB, b *bus.Bus, retention time.Duration, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{
		db:        db,
		bus:       b,
		logger:    logger.Named("history"),
		retention: retention,
	}
}

// Start subscribes to chat and daemon events. Composing indicators are
// transient and not journaled.
func (j *Journal) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})
	chatCh, unsubChat := j.bus.Subscribe(bus.NamespaceChat, 1024)
	daemonCh, unsubDaemon := j.bus.Subscribe(bus.NamespaceDaemon, 16)

	go func() {
		defer close(j.done)
		defer unsubChat()
		defer unsubDaemon()

		flush := time.NewTicker(flushInterval)
		defer flush.Stop()
		prune := time.NewTicker(pruneInterval)
		defer prune.Stop()

		var batch []store.JournalEntry
		write := func() {
			if len(batch) == 0 {
				return
			}
			if _, err := j.db.AppendJournal(batch); err != nil {
				j.logger.Error("failed to journal events", zap.Error(err), zap.Int("count", len(batch)))
			}
			batch = batch[:0]
		}
		add := func(evt bus.Event) {
			if evt.Kind == bus.Composing {
				return
			}
			entry, err := Entry(evt)
			if err != nil {
				j.logger.Warn("event not journaled", zap.String("kind", evt.Kind), zap.Error(err))
				return
			}
			batch = append(batch, entry)
			if len(batch) >= maxBatch {
				write()
			}
		}

		j.prune()
		for {
			select {
			case evt := <-chatCh:
				add(evt)
			case evt := <-daemonCh:
				add(evt)
			case <-flush.C:
				write()
			case <-prune.C:
				j.prune()
			case <-ctx.Done():
				// Drain what is already buffered so shutdown loses nothing
				// the bus delivered.
				for {
					select {
					case evt := <-chatCh:
						add(evt)
					default:
						write()
						return
					}
				}
			}
		}
	}()
}

// Stop flushes pending events and stops the journal.
func (j *Journal) Stop() {
	if j.cancel != nil {
		j.cancel()
		<-j.done
	}
}

func (j *Journal) prune() {
	if j.retention <= 0 {
		return
	}
	n, err := j.db.PruneJournal(time.Now().Add(-j.retention).UnixMilli())
	if err != nil {
		j.logger.Error("failed to prune journal", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("journal pruned", zap.Int64("events", n))
	}
}

// Replay returns journaled entries after seq, oldest first.
func (j *Journal) Replay(after int64, chatID string, limit int) ([]store.JournalEntry, error) {
	return j.db.JournalSince(after, chatID, limit)
}

// Entry converts a bus event into its journal form.
func Entry(evt bus.Event) (store.JournalEntry, error) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return store.JournalEntry{}, fmt.Errorf("encode payload: %w", err)
	}
	sessionID, chatID := keys(evt.Payload)
	return store.JournalEntry{
		Kind:      evt.Kind,
		SessionID: sessionID,
		ChatID:    chatID,
		Payload:   string(payload),
		Timestamp: evt.Timestamp.UnixMilli(),
	}, nil
}

func keys(payload any) (sessionID, chatID string) {
	switch p := payload.(type) {
	case chat.MessageEvent:
		return p.SessionID, p.ChatID
	case chat.DeliveryEvent:
		return p.SessionID, p.ChatID
	case chat.ComposingEvent:
		return p.SessionID, p.ChatID
	case chat.SessionEvent:
		return p.SessionID, p.ChatID
	case chat.ParticipantsEvent:
		return p.SessionID, p.ChatID
	case chat.ContentEvent:
		return p.SessionID, p.ChatID
	case chat.ErrorEvent:
		return p.SessionID, p.ChatID
	case chat.StateEvent:
		return p.SessionID, ""
	}
	return "", ""
}
