package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/conference"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/sip"
)

// InviteParticipants adds contacts to an established group chat with
// REFER requests. A 407 challenge is answered once; every other non-2xx
// marks the contact failed.
func (s *Session) InviteParticipants(ctx context.Context, contacts []contact.ID) error {
	if s.kind != KindGroup {
		return ErrNotGroup
	}
	if _, err := s.activeChannel(); err != nil {
		return err
	}
	s.mu.Lock()
	var fresh []contact.ID
	for _, c := range contacts {
		if c == s.self {
			continue
		}
		if st, ok := s.roster[c]; ok && (st == ParticipantConnected || st == ParticipantInvited || st == ParticipantInviting) {
			continue
		}
		fresh = append(fresh, c)
	}
	limit := s.deps.Settings.MaxParticipants
	if limit > 0 && s.activeCountLocked()+len(fresh) > limit {
		s.mu.Unlock()
		return ErrTooManyParticipants
	}
	s.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}

	s.UpdateParticipants(statusFor(fresh, ParticipantInviting))
	for _, c := range fresh {
		status := ParticipantInvited
		if err := s.refer(ctx, c); err != nil {
			s.logger.Warn("invite participant failed", zap.String("contact", string(c)), zap.Error(err))
			status = ParticipantFailed
		}
		s.UpdateParticipants(Roster{c: status})
	}
	return nil
}

func (s *Session) activeCountLocked() int {
	n := 0
	for _, st := range s.roster {
		if rejoinable[st] {
			n++
		}
	}
	return n
}

func statusFor(ids []contact.ID, st ParticipantStatus) Roster {
	r := make(Roster, len(ids))
	for _, id := range ids {
		r[id] = st
	}
	return r
}

func (s *Session) newRefer(c contact.ID) *sip.Request {
	req := sip.NewRequest(sip.MethodRefer, s.dialog.RemoteParty())
	req.Header.Set("Refer-To", "<"+c.URI()+">")
	req.Header.Set("Referred-By", "<"+s.deps.UA.LocalURI()+">")
	req.Header.Set("Contribution-ID", s.contributionID)
	return req
}

func (s *Session) refer(ctx context.Context, c contact.ID) error {
	resp, err := s.dialog.SendRequest(ctx, s.newRefer(c))
	if err != nil {
		return err
	}
	if resp.StatusCode == sip.StatusProxyAuthRequired {
		req := s.newRefer(c)
		if err := s.dialog.Authorize(req, resp); err != nil {
			return err
		}
		if resp, err = s.dialog.SendRequest(ctx, req); err != nil {
			return err
		}
	}
	if !resp.Success() {
		return fmt.Errorf("refer: %s", describeResponse(resp.StatusCode, resp.Reason))
	}
	return nil
}

// UpdateParticipants merges roster into the session's roster. The last
// writer wins; only entries that actually change are persisted and
// published.
func (s *Session) UpdateParticipants(roster Roster) {
	s.mu.Lock()
	changes := make(Roster)
	for c, st := range roster {
		if c == s.self {
			continue
		}
		if cur, ok := s.roster[c]; ok && cur == st {
			continue
		}
		s.roster[c] = st
		changes[c] = st
	}
	s.mu.Unlock()
	if len(changes) == 0 {
		return
	}
	for c, st := range changes {
		if err := s.deps.Store.SetParticipant(s.chatID, string(c), string(st)); err != nil {
			s.logger.Warn("store participant failed", zap.String("contact", string(c)), zap.Error(err))
		}
	}
	s.publish(bus.ParticipantsUpdated, ParticipantsEvent{SessionID: s.id, ChatID: s.chatID, Changes: changes})
}

// conferenceHandler receives the session's conference notifications.
type conferenceHandler struct {
	s *Session
}

func (h conferenceHandler) ConferenceInfo(info *conference.Info) {
	s := h.s
	r := make(Roster, len(info.Users))
	for _, u := range info.Users {
		if u.Yourown {
			continue
		}
		c, ok := contact.Parse(u.Entity)
		if !ok {
			s.logger.Debug("skipping conference user", zap.String("entity", u.Entity))
			continue
		}
		if c == s.self {
			continue
		}
		r[c] = StatusFromConference(u)
	}
	s.activity.Update()
	s.UpdateParticipants(r)
}

func (h conferenceHandler) SubscriptionTerminated() {
	h.s.logger.Info("conference subscription ended")
}

// subscribeConference starts following the focus. Failure is reported and
// logged, the chat goes on without roster updates.
func (s *Session) subscribeConference(ctx context.Context) {
	s.mu.Lock()
	focus := s.rejoinURI
	if focus == "" {
		focus = s.dialog.RemoteParty()
	}
	sub := conference.NewSubscriber(s.deps.UA, focus, s.deps.Settings.ConferenceExpires, conferenceHandler{s: s}, s.logger)
	s.conference = sub
	s.mu.Unlock()
	if err := sub.Subscribe(ctx); err != nil {
		e := newError(CodeSubscribeFailed, CauseRejected, focus, err)
		s.logger.Warn("conference subscription failed", zap.Error(e))
	}
}

// reinviteMissing re-invites participants the store still lists as part of
// the chat but the focus did not offer.
func (s *Session) reinviteMissing(ctx context.Context, stored Roster) {
	s.mu.Lock()
	offered := s.offered
	s.mu.Unlock()
	missing := MissingParticipants(stored, offered)
	if len(missing) == 0 {
		return
	}
	s.logger.Info("re-inviting missing participants", zap.Int("count", len(missing)))
	if err := s.InviteParticipants(ctx, missing); err != nil {
		s.logger.Warn("re-invite failed", zap.Error(err))
	}
}
