package chat

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/media"
	"github.com/matheus3301/rcschat/internal/resourcelist"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/store"
)

// GroupStateStarting is stored for a group chat whose INVITE is in flight.
const GroupStateStarting = "starting"

// Service owns the live sessions of one identity: it creates them, routes
// incoming invitations and runs their drivers on the worker pool.
type Service struct {
	deps     Deps
	logger   *zap.Logger
	registry *Registry
	pool     *Pool

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func NewService(deps Deps, poolSize int) *Service {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		deps:     deps,
		logger:   deps.Logger.Named("chat"),
		registry: NewRegistry(),
		pool:     NewPool(poolSize, deps.Logger.Named("pool")),
		ctx:      ctx,
		cancel:   cancel,
	}
	deps.UA.HandleInvites(svc.HandleInvite)
	return svc
}

func (svc *Service) self() contact.ID {
	c, _ := contact.Parse(svc.deps.UA.LocalURI())
	return c
}

func (svc *Service) start(p sessionParams, d Driver) *Session {
	s := newSession(svc.ctx, svc.deps, p, svc.registry.Remove)
	svc.registry.Add(s)
	s.logger.Info("session created", zap.String("driver", d.Name()), zap.String("direction", string(p.direction)))
	svc.pool.Run(s, d)
	return s
}

// StartOneToOne opens a 1-1 chat with remote. first, when set, travels in
// the INVITE.
func (svc *Service) StartOneToOne(remote contact.ID, first *Message) (*Session, error) {
	if svc.closed.Load() {
		return nil, ErrClosed
	}
	d, err := svc.deps.UA.NewDialog(remote.URI())
	if err != nil {
		return nil, fmt.Errorf("chat: new dialog: %w", err)
	}
	if first != nil && first.Remote == "" {
		first.Remote = remote
	}
	return svc.start(sessionParams{
		kind:           KindOneToOne,
		direction:      Originating,
		dialog:         d,
		remote:         remote,
		target:         remote.URI(),
		contributionID: svc.deps.Contribution.Generate(d.CallID()),
		firstMessage:   first,
	}, OriginateDriver{}), nil
}

// StartGroup creates an ad-hoc group chat at the conference factory.
func (svc *Service) StartGroup(subject string, participants []contact.ID) (*Session, error) {
	if svc.closed.Load() {
		return nil, ErrClosed
	}
	factory := svc.deps.Settings.ConferenceFactoryURI
	if factory == "" {
		return nil, newError(CodeInitiationFailed, CauseNegotiation, "no conference factory configured", nil)
	}
	self := svc.self()
	var invitees []contact.ID
	for _, c := range participants {
		if c != self && c != "" {
			invitees = append(invitees, c)
		}
	}
	if len(invitees) == 0 {
		return nil, fmt.Errorf("chat: group chat needs at least one participant")
	}
	if limit := svc.deps.Settings.MaxParticipants; limit > 0 && len(invitees) > limit {
		return nil, ErrTooManyParticipants
	}
	d, err := svc.deps.UA.NewDialog(factory)
	if err != nil {
		return nil, fmt.Errorf("chat: new dialog: %w", err)
	}
	chatID := svc.deps.Contribution.Generate(d.CallID())
	roster := statusFor(invitees, ParticipantInviting)
	if err := svc.deps.Store.UpsertGroupChat(&store.GroupChat{
		ChatID:       chatID,
		Subject:      subject,
		State:        GroupStateStarting,
		Participants: rosterToStore(roster),
		Timestamp:    time.Now().UnixMilli(),
	}); err != nil {
		return nil, fmt.Errorf("chat: store group chat: %w", err)
	}
	return svc.start(sessionParams{
		kind:           KindGroup,
		direction:      Originating,
		dialog:         d,
		target:         factory,
		contributionID: chatID,
		subject:        subject,
		roster:         roster,
	}, OriginateDriver{Invitees: invitees}), nil
}

// Rejoin re-enters a stored group chat through its conference URI.
func (svc *Service) Rejoin(chatID string) (*Session, error) {
	g, err := svc.storedGroup(chatID)
	if err != nil {
		return nil, err
	}
	if g.RejoinURI == "" {
		return nil, newError(CodeSessionNotFound, CauseNegotiation, "no rejoin uri for "+chatID, nil)
	}
	d, err := svc.deps.UA.NewDialog(g.RejoinURI)
	if err != nil {
		return nil, fmt.Errorf("chat: new dialog: %w", err)
	}
	return svc.start(sessionParams{
		kind:           KindGroup,
		direction:      Originating,
		dialog:         d,
		target:         g.RejoinURI,
		contributionID: chatID,
		subject:        g.Subject,
		rejoinURI:      g.RejoinURI,
		roster:         rosterFromStore(g.Participants),
	}, RejoinDriver{}), nil
}

// Restart re-creates a stored group chat at the conference factory.
func (svc *Service) Restart(chatID string) (*Session, error) {
	g, err := svc.storedGroup(chatID)
	if err != nil {
		return nil, err
	}
	factory := svc.deps.Settings.ConferenceFactoryURI
	if factory == "" {
		return nil, newError(CodeRestartFailed, CauseNegotiation, "no conference factory configured", nil)
	}
	d, err := svc.deps.UA.NewDialog(factory)
	if err != nil {
		return nil, fmt.Errorf("chat: new dialog: %w", err)
	}
	stored := rosterFromStore(g.Participants)
	return svc.start(sessionParams{
		kind:           KindGroup,
		direction:      Originating,
		dialog:         d,
		target:         factory,
		contributionID: chatID,
		subject:        g.Subject,
		rejoinURI:      g.RejoinURI,
		roster:         stored.Clone(),
	}, RestartDriver{Stored: stored}), nil
}

func (svc *Service) storedGroup(chatID string) (*store.GroupChat, error) {
	if svc.closed.Load() {
		return nil, ErrClosed
	}
	if s, ok := svc.registry.ByChatID(chatID); ok && !s.State().Final() {
		return nil, fmt.Errorf("%w: group chat %s has session %s", ErrSessionExists, chatID, s.ID())
	}
	g, err := svc.deps.Store.GroupChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("chat: load group chat: %w", err)
	}
	if g == nil {
		return nil, ErrSessionNotFound
	}
	return g, nil
}

// invitation is what the service reads from an incoming INVITE before a
// session exists.
type invitation struct {
	group          bool
	contributionID string
	subject        string
	rejoinURI      string
	offered        Roster
}

func (svc *Service) inspect(req *sip.Request) invitation {
	inv := invitation{
		contributionID: req.Header.Get("Contribution-ID"),
		subject:        req.Header.Get("Subject"),
	}
	contactHeader := req.Header.Get("Contact")
	if strings.Contains(strings.ToLower(contactHeader), ";isfocus") {
		inv.group = true
	}
	ct := req.ContentType
	if ct == "" {
		ct = media.MimeType
	}
	if parts, err := media.SplitBody(ct, req.Body); err == nil {
		if p, ok := media.FindPart(parts, resourcelist.MimeType); ok {
			inv.group = true
			r, err := RosterFromResourceList(p.Body, svc.self(), ParticipantConnected, svc.logger)
			if err != nil {
				svc.logger.Warn("malformed resource list in invitation", zap.Error(err))
			}
			inv.offered = r
		}
	}
	if inv.group {
		inv.rejoinURI = uriFromContact(contactHeader)
	}
	return inv
}

// HandleInvite takes a new terminating dialog. A group invitation for a
// chat that already has a live session replaces it: the old session keeps
// running until it drains, and the new one is accepted without asking when
// the old one was established.
func (svc *Service) HandleInvite(d sip.Dialog) {
	req := d.Offer()
	if req == nil {
		return
	}
	if svc.closed.Load() {
		_ = d.Reject(context.Background(), sip.StatusTemporarilyUnavailable, "Temporarily Unavailable")
		return
	}
	inv := svc.inspect(req)
	if inv.contributionID == "" {
		inv.contributionID = svc.deps.Contribution.Generate(d.CallID())
	}
	remote, _ := contact.Parse(req.From)

	autoAccept := false
	if inv.group {
		if old, ok := svc.registry.ByContributionID(inv.contributionID); ok && old.Kind() == KindGroup {
			autoAccept = svc.replace(old)
		}
	}

	p := sessionParams{
		direction:      Terminating,
		dialog:         d,
		remote:         remote,
		target:         d.RemoteParty(),
		contributionID: inv.contributionID,
		subject:        inv.subject,
		rejoinURI:      inv.rejoinURI,
		autoAccept:     autoAccept,
		kind:           KindOneToOne,
	}
	var stored Roster
	if inv.group {
		p.kind = KindGroup
		g, err := svc.deps.Store.GroupChat(inv.contributionID)
		if err != nil {
			svc.logger.Warn("load group chat failed", zap.Error(err))
		}
		if g != nil {
			stored = rosterFromStore(g.Participants)
			if p.subject == "" {
				p.subject = g.Subject
			}
		}
		p.roster = stored.Clone()
		if err := svc.deps.Store.UpsertGroupChat(&store.GroupChat{
			ChatID:    inv.contributionID,
			RejoinURI: inv.rejoinURI,
			Subject:   inv.subject,
			State:     GroupStateInvited,
			Timestamp: time.Now().UnixMilli(),
		}); err != nil {
			svc.logger.Warn("store group chat failed", zap.Error(err))
		}
	}
	s := newSession(svc.ctx, svc.deps, p, svc.registry.Remove)
	s.offered = inv.offered
	svc.registry.Add(s)
	s.logger.Info("incoming session", zap.String("remote", string(remote)), zap.Bool("auto_accept", autoAccept))
	svc.pool.Run(s, TerminateDriver{Stored: stored})
}

// replace marks old pending removal in favour of a new invitation for the
// same chat and reports whether the new session should be accepted
// automatically. old is left running: it is no longer picked for outgoing
// traffic and ends on its inactivity timer, a remote BYE or Close.
func (svc *Service) replace(old *Session) bool {
	established := old.State() == StateEstablished
	old.pendingRemoval.Store(true)
	old.logger.Info("session pending removal", zap.Bool("was_established", established))
	return established
}

// Session returns the live session with id.
func (svc *Service) Session(id string) (*Session, error) {
	s, ok := svc.registry.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// SessionByChat returns the current session of chatID.
func (svc *Service) SessionByChat(chatID string) (*Session, error) {
	s, ok := svc.registry.ByChatID(chatID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions returns snapshots of every live session.
func (svc *Service) Sessions() []Info {
	list := svc.registry.List()
	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, s.Info())
	}
	return out
}

func (svc *Service) Accept(id string) error {
	s, err := svc.Session(id)
	if err != nil {
		return err
	}
	return s.Accept()
}

func (svc *Service) Reject(id string) error {
	s, err := svc.Session(id)
	if err != nil {
		return err
	}
	return s.Reject()
}

func (svc *Service) Terminate(id string) error {
	s, err := svc.Session(id)
	if err != nil {
		return err
	}
	s.Terminate(ReasonUser)
	return nil
}

// SendText sends text over session id.
func (svc *Service) SendText(id, text string) (*Message, error) {
	s, err := svc.Session(id)
	if err != nil {
		return nil, err
	}
	return sendText(s, text)
}

// SendToChat sends text over the current session of chatID.
func (svc *Service) SendToChat(chatID, text string) (*Message, error) {
	s, err := svc.SessionByChat(chatID)
	if err != nil {
		return nil, err
	}
	return sendText(s, text)
}

// Post sends a prepared message over the current session of chatID.
func (svc *Service) Post(chatID string, m *Message) error {
	s, err := svc.SessionByChat(chatID)
	if err != nil {
		return err
	}
	return s.SendMessage(m)
}

// PostTo sends m to remote over the live one-to-one session, or opens one
// carrying m as its first message. A session still negotiating yields
// ErrNotEstablished.
func (svc *Service) PostTo(remote contact.ID, m *Message) error {
	// A one-to-one chat is keyed by its remote party.
	if s, ok := svc.registry.ByChatID(string(remote)); ok {
		return s.SendMessage(m)
	}
	_, err := svc.StartOneToOne(remote, m)
	return err
}

func sendText(s *Session, text string) (*Message, error) {
	m := NewTextMessage(s.Remote(), text)
	if err := s.SendMessage(m); err != nil {
		return m, err
	}
	return m, nil
}

func (svc *Service) Typing(id string, active bool) error {
	s, err := svc.Session(id)
	if err != nil {
		return err
	}
	s.Typing(active)
	return nil
}

func (svc *Service) InviteParticipants(ctx context.Context, id string, contacts []contact.ID) error {
	s, err := svc.Session(id)
	if err != nil {
		return err
	}
	return s.InviteParticipants(ctx, contacts)
}

// Len is the number of live sessions.
func (svc *Service) Len() int { return svc.registry.Len() }

// Close terminates every session and waits for their drivers.
func (svc *Service) Close(ctx context.Context) error {
	if !svc.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, s := range svc.registry.List() {
		s.Terminate(ReasonSystem)
	}
	svc.cancel()
	done := make(chan struct{})
	go func() {
		svc.pool.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat: waiting for drivers: %w", ctx.Err())
	}
}

func rosterToStore(r Roster) map[string]string {
	m := make(map[string]string, len(r))
	for c, st := range r {
		m[string(c)] = string(st)
	}
	return m
}
