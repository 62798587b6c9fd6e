package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/imdn"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/sip"
)

type peer struct {
	svc    *Service
	events <-chan bus.Event
}

// newPeer runs a Service for uri on the loopback network with real MSRP
// over 127.0.0.1.
func newPeer(t *testing.T, n *sip.Network, uri string, tune func(*Settings)) peer {
	t.Helper()
	ua, err := n.Agent(uri, "127.0.0.1")
	require.NoError(t, err)
	b := bus.New()
	events, unsub := b.Subscribe(bus.NamespaceChat, 256)
	deps := testDeps(t, ua, b)
	deps.NewTransport = func() msrp.Transport {
		return msrp.NewManager(msrp.Options{Host: "127.0.0.1", OpenTimeout: 2 * time.Second}, zap.NewNop())
	}
	if tune != nil {
		tune(&deps.Settings)
	}
	svc := NewService(deps, 4)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
		unsub()
	})
	return peer{svc: svc, events: events}
}

func TestOneToOneChatOverLoopback(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)
	bob := newPeer(t, n, bobURI, nil)

	first := NewTextMessage("", "hello bob")
	outgoing, err := alice.svc.StartOneToOne("+33622222222", first)
	require.NoError(t, err)

	invited := waitFor(t, bob.events, bus.SessionInvited).Payload.(SessionEvent)
	assert.Equal(t, contact.ID("+33611111111"), invited.Remote)
	assert.Equal(t, Terminating, invited.Direction)
	require.NotNil(t, invited.FirstMessage)
	assert.Equal(t, "hello bob", invited.FirstMessage.Content)
	require.NoError(t, bob.svc.Accept(invited.SessionID))

	waitFor(t, alice.events, bus.SessionStarted)
	waitFor(t, bob.events, bus.SessionStarted)
	got := waitFor(t, bob.events, bus.MessageReceived).Payload.(MessageEvent)
	assert.Equal(t, first.ID, got.Message.ID)
	assert.Equal(t, "hello bob", got.Message.Content)

	sent, err := alice.svc.SendText(outgoing.ID(), "second")
	require.NoError(t, err)
	got = waitFor(t, bob.events, bus.MessageReceived).Payload.(MessageEvent)
	assert.Equal(t, sent.ID, got.Message.ID)
	assert.Equal(t, "second", got.Message.Content)
	assert.True(t, got.DisplayRequested)

	report := waitFor(t, alice.events, bus.DeliveryStatus).Payload.(DeliveryEvent)
	assert.Equal(t, imdn.StatusDelivered, report.Status)

	incoming, err := bob.svc.SessionByChat("+33611111111")
	require.NoError(t, err)
	require.NoError(t, bob.svc.Terminate(incoming.ID()))

	ended := waitFor(t, alice.events, bus.SessionTerminated).Payload.(SessionEvent)
	assert.Equal(t, ReasonRemote, ended.Reason)
	select {
	case <-outgoing.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("originating session not closed")
	}
	assert.Eventually(t, func() bool { return alice.svc.Len() == 0 && bob.svc.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRejectedInvitation(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)
	bob := newPeer(t, n, bobURI, nil)

	_, err := alice.svc.StartOneToOne("+33622222222", NewTextMessage("", "are you there"))
	require.NoError(t, err)
	invited := waitFor(t, bob.events, bus.SessionInvited).Payload.(SessionEvent)
	require.NoError(t, bob.svc.Reject(invited.SessionID))

	waitFor(t, bob.events, bus.SessionRejected)
	failed := waitFor(t, alice.events, bus.MessageSendFailed).Payload.(MessageEvent)
	assert.Equal(t, "are you there", failed.Message.Content)
	ended := waitFor(t, alice.events, bus.SessionTerminated).Payload.(SessionEvent)
	assert.Equal(t, CodeInitiationDeclined, ended.Code)
}

func TestRingingTimeout(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)
	bob := newPeer(t, n, bobURI, func(s *Settings) { s.RingingTimeout = 100 * time.Millisecond })

	_, err := alice.svc.StartOneToOne("+33622222222", nil)
	require.NoError(t, err)

	ended := waitFor(t, bob.events, bus.SessionTerminated).Payload.(SessionEvent)
	assert.Equal(t, ReasonTimeout, ended.Reason)
	assert.Equal(t, CodeInitiationDeclined, ended.Code)

	ended = waitFor(t, alice.events, bus.SessionTerminated).Payload.(SessionEvent)
	assert.Equal(t, CodeInitiationDeclined, ended.Code)
}

func TestAutoAccept(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)
	bob := newPeer(t, n, bobURI, func(s *Settings) { s.AutoAccept = true })

	_, err := alice.svc.StartOneToOne("+33622222222", nil)
	require.NoError(t, err)

	invited := waitFor(t, bob.events, bus.SessionInvited).Payload.(SessionEvent)
	assert.True(t, invited.AutoAccept)
	waitFor(t, alice.events, bus.SessionStarted)
	assert.ErrorIs(t, bob.svc.Accept(invited.SessionID), ErrNoDecisionPending)
}

func TestUnknownRemote(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)

	_, err := alice.svc.StartOneToOne("+33699999999", nil)
	require.NoError(t, err)
	ended := waitFor(t, alice.events, bus.SessionTerminated).Payload.(SessionEvent)
	assert.Equal(t, CodeInitiationDeclined, ended.Code)
}

func TestServiceLookups(t *testing.T) {
	n := sip.NewNetwork()
	alice := newPeer(t, n, aliceURI, nil)

	_, err := alice.svc.Session("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = alice.svc.Rejoin("unknown-chat")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = alice.svc.StartGroup("trip", []contact.ID{"+33622222222"})
	assert.Equal(t, CodeInitiationFailed, CodeOf(err))

	require.NoError(t, alice.svc.Close(context.Background()))
	_, err = alice.svc.StartOneToOne("+33622222222", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestGroupInvitationReplacesLiveSession(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.NamespaceChat, 64)
	defer unsub()
	svc := NewService(testDeps(t, fakeUA{}, b), 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	const chatID = "0123456789abcdef0123456789abcdef"
	oldDialog := &fakeDialog{est: true}
	old := newSession(svc.ctx, svc.deps, sessionParams{
		kind:           KindGroup,
		direction:      Originating,
		dialog:         oldDialog,
		target:         "sip:focus@conf.example.org",
		contributionID: chatID,
	}, svc.registry.Remove)
	old.mu.Lock()
	old.state = StateEstablished
	old.channel = &fakeChannel{}
	old.mu.Unlock()
	svc.registry.Add(old)

	svc.HandleInvite(groupInvitation(t, chatID))

	assert.True(t, old.PendingRemoval())
	current, ok := svc.registry.ByChatID(chatID)
	require.True(t, ok)
	assert.NotEqual(t, old.ID(), current.ID())
	assert.Equal(t, Terminating, current.Direction())

	invited := waitFor(t, events, bus.SessionInvited).Payload.(SessionEvent)
	assert.Equal(t, current.ID(), invited.SessionID)
	assert.True(t, invited.AutoAccept)

	// The replaced session drains instead of being torn down.
	assert.Never(t, func() bool { return old.State() != StateEstablished }, 200*time.Millisecond, 10*time.Millisecond)
	assert.Zero(t, oldDialog.byeCount())
	_, live := svc.registry.Get(old.ID())
	assert.True(t, live)
}

func TestOneToOneInvitationDoesNotReplace(t *testing.T) {
	b := bus.New()
	events, unsub := b.Subscribe(bus.NamespaceChat, 64)
	defer unsub()
	svc := NewService(testDeps(t, fakeUA{}, b), 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})

	const chatID = "0123456789abcdef0123456789abcdef"
	old := newSession(svc.ctx, svc.deps, sessionParams{
		kind:           KindGroup,
		direction:      Originating,
		dialog:         &fakeDialog{est: true},
		target:         "sip:focus@conf.example.org",
		contributionID: chatID,
	}, svc.registry.Remove)
	old.mu.Lock()
	old.state = StateEstablished
	old.mu.Unlock()
	svc.registry.Add(old)

	d := groupInvitation(t, chatID)
	d.offer.Header.Set("Contact", "<sip:+33622222222@example.org>")
	d.offer.From = bobURI
	svc.HandleInvite(d)

	invited := waitFor(t, events, bus.SessionInvited).Payload.(SessionEvent)
	assert.Equal(t, KindOneToOne, invited.Kind)
	assert.False(t, invited.AutoAccept)
	assert.False(t, old.PendingRemoval())
}
