package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/activity"
	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/composing"
	"github.com/matheus3301/rcschat/internal/conference"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/contribution"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/store"
)

// closeTimeout bounds the signalling done while tearing a session down.
const closeTimeout = 5 * time.Second

// Group chat states kept in the store.
const (
	GroupStateInvited    = "invited"
	GroupStateStarted    = "started"
	GroupStateRejected   = "rejected"
	GroupStateTerminated = "terminated"
)

// Store is the persistence the engine needs. *store.DB implements it.
type Store interface {
	RecordMessage(m *store.Message) (bool, error)
	IsMessagePersisted(msgID string) (bool, error)
	UpdateMessageStatus(msgID, status string) error
	GroupChat(chatID string) (*store.GroupChat, error)
	UpsertGroupChat(g *store.GroupChat) error
	SetGroupChatState(chatID, state string) error
	SetGroupChatRejoinURI(chatID, uri string) error
	SetParticipant(chatID, contact, status string) error
}

// Deps are the collaborators shared by every session of a Service.
type Deps struct {
	UA           sip.UserAgent
	Store        Store
	Bus          *bus.Bus
	Contribution *contribution.Generator
	// NewTransport creates the MSRP transport of one session.
	NewTransport func() msrp.Transport
	Settings     Settings
	Logger       *zap.Logger
}

// Info is a snapshot of a session for listings.
type Info struct {
	ID             string    `json:"id"`
	ChatID         string    `json:"chat_id"`
	ContributionID string    `json:"contribution_id"`
	Kind           Kind      `json:"kind"`
	Direction      Direction `json:"direction"`
	State          State     `json:"state"`
	Remote         string    `json:"remote"`
	Subject        string    `json:"subject,omitempty"`
	RejoinURI      string    `json:"rejoin_uri,omitempty"`
	Participants   Roster    `json:"participants,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}

// Session is one chat session, 1-1 or group. All mutable fields are guarded
// by mu; the composing manager has its own lock and is never called with mu
// held.
type Session struct {
	id             string
	kind           Kind
	direction      Direction
	contributionID string
	chatID         string
	self           contact.ID
	target         string
	startedAt      time.Time

	deps      Deps
	logger    *zap.Logger
	dialog    sip.Dialog
	transport msrp.Transport
	activity  *activity.Timer
	composing *composing.Manager
	watcher   *composing.Watcher
	onClosed  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc

	interrupted    atomic.Bool
	closing        atomic.Bool
	pendingRemoval atomic.Bool
	decisions      chan bool
	done           chan struct{}

	mu           sync.Mutex
	state        State
	remote       contact.ID
	subject      string
	rejoinURI    string
	firstMessage *Message
	roster       Roster
	offered      Roster
	autoAccept   bool
	decided      bool
	responded    bool
	channel      msrp.Session
	conference   *conference.Subscriber
}

type sessionParams struct {
	kind           Kind
	direction      Direction
	dialog         sip.Dialog
	remote         contact.ID
	target         string
	contributionID string
	subject        string
	rejoinURI      string
	firstMessage   *Message
	roster         Roster
	autoAccept     bool
}

func newSession(parent context.Context, deps Deps, p sessionParams, onClosed func(*Session)) *Session {
	ctx, cancel := context.WithCancel(parent)
	self, _ := contact.Parse(deps.UA.LocalURI())
	s := &Session{
		id:             uuid.NewString(),
		kind:           p.kind,
		direction:      p.direction,
		contributionID: p.contributionID,
		self:           self,
		target:         p.target,
		startedAt:      time.Now(),
		deps:           deps,
		dialog:         p.dialog,
		transport:      deps.NewTransport(),
		onClosed:       onClosed,
		ctx:            ctx,
		cancel:         cancel,
		decisions:      make(chan bool, 1),
		done:           make(chan struct{}),
		state:          StateInitiating,
		remote:         p.remote,
		subject:        p.subject,
		rejoinURI:      p.rejoinURI,
		firstMessage:   p.firstMessage,
		roster:         p.roster,
		autoAccept:     p.autoAccept,
	}
	if s.roster == nil {
		s.roster = Roster{}
	}
	s.chatID = string(p.remote)
	if p.kind == KindGroup {
		s.chatID = p.contributionID
	}
	s.logger = deps.Logger.Named("chat").With(
		zap.String("session_id", s.id),
		zap.String("chat_id", s.chatID),
		zap.String("kind", string(s.kind)),
	)
	s.activity = activity.New(func() {
		s.logger.Info("session inactive")
		s.Terminate(ReasonInactivity)
	})
	s.composing = composing.NewManager(deps.Settings.ComposingTimeout, s.SendComposing, s.logger)
	s.watcher = composing.NewWatcher(func(c contact.ID, active bool) {
		s.publish(bus.Composing, ComposingEvent{SessionID: s.id, ChatID: s.chatID, Contact: c, Active: active})
	})
	s.dialog.SetHandler(s.handleRequest)
	return s
}

func (s *Session) ID() string             { return s.id }
func (s *Session) ChatID() string         { return s.chatID }
func (s *Session) ContributionID() string { return s.contributionID }
func (s *Session) Kind() Kind             { return s.kind }
func (s *Session) Direction() Direction   { return s.direction }

// Done is closed once the session is terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Remote() contact.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Participants returns a copy of the group roster.
func (s *Session) Participants() Roster {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Clone()
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		ID:             s.id,
		ChatID:         s.chatID,
		ContributionID: s.contributionID,
		Kind:           s.kind,
		Direction:      s.direction,
		State:          s.state,
		Remote:         string(s.remote),
		Subject:        s.subject,
		RejoinURI:      s.rejoinURI,
		StartedAt:      s.startedAt,
	}
	if s.kind == KindGroup {
		info.Participants = s.roster.Clone()
	}
	return info
}

// PendingRemoval reports whether a newer session replaced this one.
func (s *Session) PendingRemoval() bool { return s.pendingRemoval.Load() }

func (s *Session) setState(to State) error {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		return invalidTransition(from, to)
	}
	s.state = to
	s.mu.Unlock()
	s.logger.Debug("state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	s.publish(bus.SessionState, StateEvent{SessionID: s.id, From: from, To: to})
	return nil
}

// advance moves a driver forward, reporting ErrInterrupted when the
// session was terminated underneath it.
func (s *Session) advance(to State) error {
	if err := s.checkInterrupted(); err != nil {
		return err
	}
	if err := s.setState(to); err != nil {
		if s.interrupted.Load() {
			return ErrInterrupted
		}
		return newError(CodeUnexpected, CauseUnexpected, "", err)
	}
	return nil
}

func (s *Session) checkInterrupted() error {
	if s.interrupted.Load() {
		return ErrInterrupted
	}
	return nil
}

// Accept answers a ringing invitation.
func (s *Session) Accept() error { return s.decide(true) }

// Reject declines a ringing invitation.
func (s *Session) Reject() error { return s.decide(false) }

func (s *Session) decide(accept bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.direction != Terminating || s.decided ||
		(s.state != StateOfferReceived && s.state != StateRinging) {
		return ErrNoDecisionPending
	}
	s.decided = true
	s.decisions <- accept
	return nil
}

// Typing feeds the local composing indicator.
func (s *Session) Typing(active bool) {
	if active {
		s.composing.Typing()
		return
	}
	s.composing.Stop()
}

// Terminate ends the session. It is idempotent.
func (s *Session) Terminate(reason TerminationReason) {
	s.terminate(reason, nil)
}

// fail terminates the session after a driver or transport failure.
func (s *Session) fail(err error) {
	if err == nil {
		return
	}
	var e *Error
	if !errors.As(err, &e) {
		e = newError(CodeUnexpected, CauseUnexpected, "", err)
	}
	reason := ReasonError
	switch e.Cause {
	case CauseTimeout:
		reason = ReasonTimeout
	case CauseRejected:
		reason = ReasonRemote
	}
	s.terminate(reason, e)
}

// terminate tears the session down once. The first caller owns the
// teardown whatever state the session is in; later callers return at once.
func (s *Session) terminate(reason TerminationReason, cause *Error) {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	from := s.state
	if from == StateTerminating || from == StateTerminated {
		s.mu.Unlock()
		return
	}
	moved := from == StateMediaNegotiating || from == StateEstablished
	if moved {
		s.state = StateTerminating
	}
	mediaSession := s.channel
	s.channel = nil
	sub := s.conference
	responded := s.responded
	s.mu.Unlock()

	s.interrupted.Store(true)
	s.cancel()
	if moved {
		s.publish(bus.SessionState, StateEvent{SessionID: s.id, From: from, To: StateTerminating})
	}
	s.logger.Info("terminating session", zap.String("reason", string(reason)), zap.String("from", string(from)))

	s.activity.Stop()
	s.composing.Close()
	s.watcher.Close()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if sub != nil {
		if err := sub.Unsubscribe(ctx); err != nil {
			s.logger.Debug("conference unsubscribe failed", zap.Error(err))
		}
	}
	switch {
	case reason == ReasonRemote:
	case s.dialog.Established():
		if err := s.dialog.Bye(ctx); err != nil {
			s.logger.Debug("bye failed", zap.Error(err))
		}
	case s.direction == Originating && from == StateOfferSent:
		if err := s.dialog.Cancel(ctx); err != nil {
			s.logger.Debug("cancel failed", zap.Error(err))
		}
	case s.direction == Terminating && !responded:
		if err := s.dialog.Reject(ctx, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable"); err != nil {
			s.logger.Debug("reject failed", zap.Error(err))
		}
	}
	if mediaSession != nil {
		_ = mediaSession.Close()
	}
	_ = s.transport.Close()

	s.mu.Lock()
	last := s.state
	s.state = StateTerminated
	s.mu.Unlock()
	s.publish(bus.SessionState, StateEvent{SessionID: s.id, From: last, To: StateTerminated})

	if s.kind == KindGroup && !s.pendingRemoval.Load() {
		if err := s.deps.Store.SetGroupChatState(s.chatID, GroupStateTerminated); err != nil {
			s.logger.Warn("store group state failed", zap.Error(err))
		}
	}
	if !s.pendingRemoval.Load() {
		ev := s.sessionEvent()
		ev.Reason = reason
		if cause != nil {
			ev.Code = cause.Code
			ev.ErrorText = cause.Error()
			ev.Err = cause
		}
		s.publish(bus.SessionTerminated, ev)
	}
	if s.onClosed != nil {
		s.onClosed(s)
	}
	close(s.done)
}

// HandleBye processes a BYE from the remote.
func (s *Session) HandleBye() {
	s.logger.Info("remote hung up")
	s.terminate(ReasonRemote, nil)
}

// HandleCancel processes a CANCEL of a pending invitation.
func (s *Session) HandleCancel() {
	s.logger.Info("invitation cancelled by remote")
	s.terminate(ReasonRemote, newError(CodeInitiationCancelled, CauseRejected, "cancelled by remote", nil))
}

func (s *Session) handleRequest(req *sip.Request) *sip.Response {
	switch req.Method {
	case sip.MethodBye:
		s.HandleBye()
		return sip.NewResponse(sip.StatusOK, "OK")
	case sip.MethodCancel:
		s.HandleCancel()
		return sip.NewResponse(sip.StatusOK, "OK")
	default:
		return sip.NewResponse(sip.StatusNotImplemented, "Not Implemented")
	}
}
