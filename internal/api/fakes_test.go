package api

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/status"
	"github.com/matheus3301/rcschat/internal/store"
)

type fakeChats struct {
	mu       sync.Mutex
	sessions map[string]chat.Info
	sent     []string
	typing   []bool
	invited  []contact.ID
	started  []contact.ID
	groups   [][]contact.ID
	accepted []string
	err      error
}

func newFakeChats() *fakeChats {
	return &fakeChats{sessions: map[string]chat.Info{
		"s1": {ID: "s1", ChatID: "+33622222222", Kind: chat.KindOneToOne, State: chat.StateEstablished, Remote: "+33622222222"},
		"g1": {ID: "g1", ChatID: "conf-1", Kind: chat.KindGroup, State: chat.StateEstablished},
	}}
}

func (f *fakeChats) Sessions() []chat.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]chat.Info, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeChats) SessionInfo(id string) (chat.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return chat.Info{}, chat.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeChats) lookup(id string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.sessions[id]; !ok {
		return chat.ErrSessionNotFound
	}
	return nil
}

func (f *fakeChats) Start(remote contact.ID, text string) (chat.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return chat.Info{}, f.err
	}
	f.started = append(f.started, remote)
	info := chat.Info{ID: "new", ChatID: string(remote), Kind: chat.KindOneToOne, State: chat.StateInitiating, Remote: string(remote)}
	f.sessions["new"] = info
	return info, nil
}

func (f *fakeChats) StartGroup(subject string, participants []contact.ID) (chat.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return chat.Info{}, f.err
	}
	f.groups = append(f.groups, participants)
	return chat.Info{ID: "grp", Kind: chat.KindGroup, Subject: subject, State: chat.StateInitiating}, nil
}

func (f *fakeChats) Rejoin(chatID string) (chat.Info, error) {
	if chatID != "conf-9" {
		return chat.Info{}, chat.ErrSessionNotFound
	}
	return chat.Info{ID: "rj", ChatID: chatID, Kind: chat.KindGroup}, nil
}

func (f *fakeChats) Restart(chatID string) (chat.Info, error) {
	return chat.Info{}, fmt.Errorf("%w: %s", chat.ErrSessionExists, chatID)
}

func (f *fakeChats) Accept(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return err
	}
	f.accepted = append(f.accepted, id)
	return nil
}

func (f *fakeChats) Reject(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return err
	}
	return chat.ErrNoDecisionPending
}

func (f *fakeChats) Terminate(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return err
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeChats) SendText(id, text string) (*chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return nil, err
	}
	f.sent = append(f.sent, text)
	return &chat.Message{ID: "m1", Content: text, MimeType: chat.MimeText, LocalTimestamp: time.Now()}, nil
}

func (f *fakeChats) Typing(id string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return err
	}
	f.typing = append(f.typing, active)
	return nil
}

func (f *fakeChats) InviteParticipants(_ context.Context, id string, contacts []contact.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lookup(id); err != nil {
		return err
	}
	if f.sessions[id].Kind != chat.KindGroup {
		return chat.ErrNotGroup
	}
	f.invited = append(f.invited, contacts...)
	return nil
}

type testEnv struct {
	e       *echo.Echo
	h       *Handler
	chats   *fakeChats
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	m := status.NewMachine(b)
	chats := newFakeChats()
	h := NewHandler(Deps{Chats: chats, Archive: db, Replay: journal{db}, Bus: b, Machine: m, Profile: "test"})
	e := echo.New()
	h.RegisterRoutes(e)
	t.Cleanup(h.Close)
	return &testEnv{e: e, h: h, chats: chats, db: db, bus: b, machine: m}
}

type journal struct{ db *store.DB }

func (j journal) Replay(after int64, chatID string, limit int) ([]store.JournalEntry, error) {
	return j.db.JournalSince(after, chatID, limit)
}
