package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/cpim"
	"github.com/matheus3301/rcschat/internal/media"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/store"
)

// Driver runs the signalling of one session variant up to the established
// state. Run checks the session's interrupted flag after every blocking
// step and returns ErrInterrupted once it is set.
type Driver interface {
	Name() string
	Run(ctx context.Context, s *Session) error
}

// serviceNotAuthorised is the Warning text of a 403 refusing a restart.
const serviceNotAuthorised = "127 Service not authorised"

// OriginateDriver starts a 1-1 chat, or an ad-hoc group chat when Invitees
// is set.
type OriginateDriver struct {
	Invitees []contact.ID
}

func (OriginateDriver) Name() string { return "originate" }

func (d OriginateDriver) Run(ctx context.Context, s *Session) error {
	s.mu.Lock()
	first := s.firstMessage
	s.mu.Unlock()
	if s.kind == KindGroup {
		first = nil
	}
	return s.originate(ctx, first, d.Invitees, func(resp *sip.Response) error {
		return classifyFinal(resp, false)
	})
}

// RejoinDriver re-enters a group chat through its stored conference URI.
type RejoinDriver struct{}

func (RejoinDriver) Name() string { return "rejoin" }

func (RejoinDriver) Run(ctx context.Context, s *Session) error {
	return s.originate(ctx, nil, nil, func(resp *sip.Response) error {
		return classifyFinal(resp, true)
	})
}

// RestartDriver re-creates a group chat at the conference factory with the
// stored roster.
type RestartDriver struct {
	Stored Roster
}

func (RestartDriver) Name() string { return "restart" }

func (d RestartDriver) Run(ctx context.Context, s *Session) error {
	invitees := restartParticipants(d.Stored)
	if len(invitees) == 0 {
		return newError(CodeRestartFailed, CauseNegotiation, "no participants to restart with", nil)
	}
	return s.originate(ctx, nil, invitees, func(resp *sip.Response) error {
		if resp.StatusCode == sip.StatusForbidden {
			if resp.WarningContains(serviceNotAuthorised) {
				return newError(CodeRestartFailed, CauseRejected, describeResponse(resp.StatusCode, resp.Reason), nil)
			}
			return newError(CodeInitiationFailed, CauseRejected, describeResponse(resp.StatusCode, resp.Reason), nil)
		}
		return classifyFinal(resp, true)
	})
}

// classifyFinal maps a final INVITE response to a session error.
func classifyFinal(resp *sip.Response, rejoining bool) error {
	if resp.Success() {
		return nil
	}
	reason := describeResponse(resp.StatusCode, resp.Reason)
	switch {
	case resp.StatusCode == sip.StatusNotFound && rejoining:
		return newError(CodeSessionNotFound, CauseRejected, reason, nil)
	case resp.StatusCode == sip.StatusRequestTerminated:
		return newError(CodeInitiationCancelled, CauseRejected, reason, nil)
	case resp.StatusCode == sip.StatusRequestTimeout:
		return newError(CodeInitiationDeclined, CauseTimeout, reason, nil)
	case resp.StatusCode >= 400 && resp.StatusCode < 500, resp.StatusCode >= 600:
		return newError(CodeInitiationDeclined, CauseRejected, reason, nil)
	default:
		return newError(CodeInitiationFailed, CauseNegotiation, reason, nil)
	}
}

func (s *Session) inviteRequest(contentType string, body []byte, recipientList bool) *sip.Request {
	req := sip.NewRequest(sip.MethodInvite, s.target)
	req.Header.Set("Contribution-ID", s.contributionID)
	req.Header.Set("Accept-Contact", "*;+g.oma.sip-im")
	if recipientList {
		req.Header.Set("Require", "recipient-list-invite")
	}
	s.mu.Lock()
	if s.subject != "" {
		req.Header.Set("Subject", s.subject)
	}
	s.mu.Unlock()
	req.ContentType = contentType
	req.Body = body
	return req
}

// sendInvite sends the INVITE and answers one 407 challenge.
func (s *Session) sendInvite(ctx context.Context, build func() *sip.Request) (*sip.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, s.deps.Settings.ResponseTimeout)
	defer cancel()
	resp, err := s.dialog.SendRequest(ctx, build())
	if err != nil {
		return nil, s.inviteError(err)
	}
	if resp.StatusCode == sip.StatusProxyAuthRequired {
		if err := s.checkInterrupted(); err != nil {
			return nil, err
		}
		req := build()
		if err := s.dialog.Authorize(req, resp); err != nil {
			return nil, newError(CodeInitiationFailed, CauseNegotiation, "authorization", err)
		}
		if resp, err = s.dialog.SendRequest(ctx, req); err != nil {
			return nil, s.inviteError(err)
		}
	}
	if err := s.checkInterrupted(); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Session) inviteError(err error) error {
	switch {
	case s.interrupted.Load():
		return ErrInterrupted
	case errors.Is(err, sip.ErrTimeout):
		return newError(CodeInitiationDeclined, CauseTimeout, "no final response", err)
	default:
		return newError(CodeInitiationFailed, CauseTransport, "invite", err)
	}
}

// originate is the shared originating sequence: offer, INVITE, ACK, media.
func (s *Session) originate(ctx context.Context, first *Message, invitees []contact.ID, classify func(*sip.Response) error) error {
	contentType, body, offered, err := s.buildOffer(first, invitees)
	if err != nil {
		return err
	}
	if err := s.advance(StateOfferSent); err != nil {
		return err
	}
	if first != nil {
		s.record(first, store.DirectionOut, StatusSending)
	}
	resp, err := s.sendInvite(ctx, func() *sip.Request {
		return s.inviteRequest(contentType, body, len(invitees) > 0)
	})
	if err != nil {
		s.failFirst(first, err)
		return err
	}
	if err := classify(resp); err != nil {
		s.failFirst(first, err)
		return err
	}
	if err := s.dialog.Ack(ctx); err != nil {
		return newError(CodeInitiationFailed, CauseTransport, "ack", err)
	}
	remote, _, err := parseBody(resp.ContentType, resp.Body)
	if err != nil {
		return err
	}
	if s.kind == KindGroup {
		s.focusAnswered(resp, invitees)
	}
	if err := s.advance(StateMediaNegotiating); err != nil {
		return err
	}
	ch, err := s.createChannel(remote, media.ResolveOfferer(offered, remote.Setup))
	if err != nil {
		return err
	}
	if err := s.openChannel(ctx, ch); err != nil {
		return err
	}
	if err := s.established(); err != nil {
		return err
	}
	if first != nil {
		s.setMessageStatus(first.ID, StatusSent)
		s.publish(bus.MessageSent, MessageEvent{SessionID: s.id, ChatID: s.chatID, Message: *first})
	}
	if s.kind == KindGroup {
		s.subscribeConference(ctx)
	}
	return nil
}

func (s *Session) failFirst(first *Message, err error) {
	if first == nil || errors.Is(err, ErrInterrupted) {
		return
	}
	s.setMessageStatus(first.ID, StatusFailed)
	s.publish(bus.MessageSendFailed, MessageEvent{SessionID: s.id, ChatID: s.chatID, Message: *first, Error: err.Error()})
}

// focusAnswered records the conference URI the focus returned and marks
// the invited roster.
func (s *Session) focusAnswered(resp *sip.Response, invitees []contact.ID) {
	if uri := uriFromContact(resp.Header.Get("Contact")); uri != "" {
		s.mu.Lock()
		s.rejoinURI = uri
		s.mu.Unlock()
		if err := s.deps.Store.SetGroupChatRejoinURI(s.chatID, uri); err != nil {
			s.logger.Warn("store rejoin uri failed", zap.Error(err))
		}
	}
	if err := s.deps.Store.SetGroupChatState(s.chatID, GroupStateStarted); err != nil {
		s.logger.Warn("store group state failed", zap.Error(err))
	}
	if len(invitees) > 0 {
		s.UpdateParticipants(statusFor(invitees, ParticipantInvited))
	}
}

// uriFromContact extracts the URI of a Contact header value.
func uriFromContact(h string) string {
	h = strings.TrimSpace(h)
	if i := strings.IndexByte(h, '<'); i >= 0 {
		if j := strings.IndexByte(h[i:], '>'); j > 0 {
			return h[i+1 : i+j]
		}
	}
	uri, _, _ := strings.Cut(h, ";")
	return strings.TrimSpace(uri)
}

// TerminateDriver answers an incoming session. Stored is the roster the
// store held for a group chat before this invitation.
type TerminateDriver struct {
	Stored Roster
}

func (TerminateDriver) Name() string { return "terminate" }

func (d TerminateDriver) Run(ctx context.Context, s *Session) error {
	offer := s.dialog.Offer()
	if offer == nil {
		return newError(CodeUnexpected, CauseUnexpected, "terminating dialog without offer", nil)
	}
	if err := s.advance(StateOfferReceived); err != nil {
		return err
	}
	remote, parts, err := parseBody(offer.ContentType, offer.Body)
	if err != nil {
		s.respond(ctx, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return err
	}
	var first []byte
	if s.kind == KindOneToOne {
		if p, ok := media.FindPart(parts, cpim.MimeType); ok {
			first = p.Body
		}
	}

	s.mu.Lock()
	auto := s.autoAccept
	s.mu.Unlock()
	if s.kind == KindGroup {
		auto = auto || s.deps.Settings.AutoAcceptGroup
	} else {
		auto = auto || s.deps.Settings.AutoAccept
	}
	invited := s.sessionEvent()
	invited.AutoAccept = auto
	invited.FirstMessage = previewFirst(first, s.Remote())
	s.publish(bus.SessionInvited, invited)

	if !auto {
		if err := s.dialog.SendProvisional(ctx, sip.StatusRinging); err != nil {
			s.logger.Debug("180 ringing not sent", zap.Error(err))
		}
		if err := s.advance(StateRinging); err != nil {
			return err
		}
		accepted, err := s.waitDecision(ctx)
		if err != nil {
			if errors.Is(err, ErrInterrupted) {
				return err
			}
			s.respond(ctx, sip.StatusBusyHere, "Busy Here")
			return newError(CodeInitiationDeclined, CauseTimeout, "ringing timeout", err)
		}
		if !accepted {
			s.respond(ctx, sip.StatusDecline, "Decline")
			s.publish(bus.SessionRejected, s.sessionEvent())
			if s.kind == KindGroup {
				if err := s.deps.Store.SetGroupChatState(s.chatID, GroupStateRejected); err != nil {
					s.logger.Warn("store group state failed", zap.Error(err))
				}
			}
			s.Terminate(ReasonUser)
			return nil
		}
	}

	if err := s.advance(StateAccepted); err != nil {
		return err
	}
	s.publish(bus.SessionAccepted, s.sessionEvent())

	answer, role, err := s.buildAnswer(remote)
	if err != nil {
		s.respond(ctx, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return err
	}
	ch, err := s.createChannel(remote, role)
	if err != nil {
		s.respond(ctx, sip.StatusNotAcceptableHere, "Not Acceptable Here")
		return err
	}
	// The passive side starts accepting before the 200 OK so the remote
	// can connect as soon as it has the answer.
	var opened chan error
	if role != media.SetupActive {
		opened = make(chan error, 1)
		go func() { opened <- s.openChannel(ctx, ch) }()
	}

	resp := sip.NewResponse(sip.StatusOK, "OK")
	resp.Header.Set("Contribution-ID", s.contributionID)
	resp.ContentType = media.MimeType
	resp.Body = answer
	s.markResponded()
	ackCtx, cancel := context.WithTimeout(ctx, s.deps.Settings.ResponseTimeout)
	err = s.dialog.SendAnswer(ackCtx, resp)
	cancel()
	if err != nil {
		if s.interrupted.Load() {
			return ErrInterrupted
		}
		return newError(CodeInitiationFailed, CauseTimeout, "no ack", err)
	}
	if err := s.advance(StateMediaNegotiating); err != nil {
		return err
	}
	if opened != nil {
		err = <-opened
	} else {
		err = s.openChannel(ctx, ch)
	}
	if err != nil {
		return err
	}
	if err := s.established(); err != nil {
		return err
	}
	s.deliverFirstMessage(first)
	if s.kind == KindGroup {
		if err := s.deps.Store.SetGroupChatState(s.chatID, GroupStateStarted); err != nil {
			s.logger.Warn("store group state failed", zap.Error(err))
		}
		s.mu.Lock()
		offered := s.offered.Clone()
		s.mu.Unlock()
		s.UpdateParticipants(offered)
		s.subscribeConference(ctx)
		s.reinviteMissing(ctx, d.Stored)
	}
	return nil
}

func (s *Session) waitDecision(ctx context.Context) (bool, error) {
	timer := time.NewTimer(s.deps.Settings.RingingTimeout)
	defer timer.Stop()
	select {
	case accepted := <-s.decisions:
		return accepted, nil
	case <-timer.C:
		s.mu.Lock()
		s.decided = true
		s.mu.Unlock()
		return false, errors.New("no answer from user")
	case <-ctx.Done():
		return false, ErrInterrupted
	}
}

func (s *Session) markResponded() {
	s.mu.Lock()
	s.responded = true
	s.mu.Unlock()
}

// respond sends a final error response to the offer.
func (s *Session) respond(ctx context.Context, code int, reason string) {
	s.markResponded()
	if err := s.dialog.Reject(ctx, code, reason); err != nil {
		s.logger.Debug("reject not sent", zap.Int("code", code), zap.Error(err))
	}
}

// previewFirst decodes the first message of an invitation for listeners.
func previewFirst(part []byte, remote contact.ID) *Message {
	if len(part) == 0 {
		return nil
	}
	m, err := cpim.Decode(part)
	if err != nil {
		return nil
	}
	now := time.Now()
	msg := &Message{
		ID:             m.MessageID(),
		Remote:         remote,
		Content:        m.Content,
		MimeType:       mediaType(m.ContentType),
		LocalTimestamp: now,
		SentTimestamp:  now,
	}
	if m.HasDateTime {
		msg.SentTimestamp = m.DateTime
	}
	return msg
}
