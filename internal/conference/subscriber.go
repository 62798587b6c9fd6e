package conference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/sip"
)

// DefaultExpires is the subscription lifetime asked for when none is
// configured.
const DefaultExpires = time.Hour

// ErrSubscribeFailed is returned when the focus refuses the subscription.
var ErrSubscribeFailed = errors.New("conference: subscribe failed")

// Handler receives the outcome of notifications.
type Handler interface {
	ConferenceInfo(info *Info)
	SubscriptionTerminated()
}

// Subscriber holds the conference event subscription of one group chat.
type Subscriber struct {
	ua      sip.UserAgent
	focus   string
	handler Handler
	logger  *zap.Logger

	mu         sync.Mutex
	expires    time.Duration
	dialog     sip.Dialog
	subscribed bool
	refresh    *time.Timer
}

// NewSubscriber creates an idle subscriber towards the focus URI.
func NewSubscriber(ua sip.UserAgent, focus string, expires time.Duration, h Handler, logger *zap.Logger) *Subscriber {
	if expires <= 0 {
		expires = DefaultExpires
	}
	return &Subscriber{
		ua:      ua,
		focus:   focus,
		handler: h,
		logger:  logger.Named("conference"),
		expires: expires,
	}
}

// Subscribed reports whether the focus accepted the subscription.
func (s *Subscriber) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

// Subscribe sends (or refreshes) the subscription. A 407 challenge and a
// 423 interval-too-brief are each retried once.
func (s *Subscriber) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dialog == nil {
		d, err := s.ua.NewDialog(s.focus)
		if err != nil {
			return fmt.Errorf("conference: dialog: %w", err)
		}
		d.SetHandler(s.HandleRequest)
		s.dialog = d
	}

	req := s.newSubscribe(s.expires)
	resp, err := s.dialog.SendRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
	}
	switch resp.StatusCode {
	case sip.StatusProxyAuthRequired:
		req = s.newSubscribe(s.expires)
		if err := s.dialog.Authorize(req, resp); err != nil {
			return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
		}
		if resp, err = s.dialog.SendRequest(ctx, req); err != nil {
			return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
		}
	case sip.StatusIntervalTooBrief:
		if minExpires, err := strconv.Atoi(resp.Header.Get("Min-Expires")); err == nil && minExpires > 0 {
			s.expires = time.Duration(minExpires) * time.Second
		}
		if resp, err = s.dialog.SendRequest(ctx, s.newSubscribe(s.expires)); err != nil {
			return fmt.Errorf("%w: %v", ErrSubscribeFailed, err)
		}
	}
	if resp.StatusCode != sip.StatusOK && resp.StatusCode != sip.StatusAccepted {
		return fmt.Errorf("%w: %d %s", ErrSubscribeFailed, resp.StatusCode, resp.Reason)
	}

	if v, err := strconv.Atoi(resp.Header.Get("Expires")); err == nil && v > 0 {
		s.expires = time.Duration(v) * time.Second
	}
	s.subscribed = true
	s.scheduleRefreshLocked()
	s.logger.Info("subscribed to conference", zap.String("focus", s.focus), zap.Duration("expires", s.expires))
	return nil
}

// Unsubscribe ends the subscription with Expires: 0.
func (s *Subscriber) Unsubscribe(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRefreshLocked()
	if !s.subscribed || s.dialog == nil {
		return nil
	}
	s.subscribed = false
	resp, err := s.dialog.SendRequest(ctx, s.newSubscribe(0))
	if err != nil {
		return fmt.Errorf("conference: unsubscribe: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("conference: unsubscribe: %d %s", resp.StatusCode, resp.Reason)
	}
	return nil
}

// HandleRequest answers NOTIFY requests on the subscription dialog.
func (s *Subscriber) HandleRequest(req *sip.Request) *sip.Response {
	if req.Method != sip.MethodNotify {
		return sip.NewResponse(sip.StatusNotImplemented, "Not Implemented")
	}
	if len(req.Body) > 0 {
		info, err := Parse(req.Body)
		if err != nil {
			s.logger.Warn("bad conference notification", zap.Error(err))
			return sip.NewResponse(sip.StatusBadRequest, "Bad Request")
		}
		s.handler.ConferenceInfo(info)
	}
	if strings.HasPrefix(strings.ToLower(req.Header.Get("Subscription-State")), "terminated") {
		s.mu.Lock()
		s.subscribed = false
		s.stopRefreshLocked()
		s.mu.Unlock()
		s.logger.Info("conference subscription terminated by focus", zap.String("focus", s.focus))
		s.handler.SubscriptionTerminated()
	}
	return sip.NewResponse(sip.StatusOK, "OK")
}

func (s *Subscriber) newSubscribe(expires time.Duration) *sip.Request {
	req := sip.NewRequest(sip.MethodSubscribe, s.focus)
	req.Header.Set("Event", "conference")
	req.Header.Set("Accept", MimeType)
	req.Header.Set("Expires", strconv.Itoa(int(expires/time.Second)))
	return req
}

func (s *Subscriber) scheduleRefreshLocked() {
	s.stopRefreshLocked()
	s.refresh = time.AfterFunc(s.expires/2, func() {
		if !s.Subscribed() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Subscribe(ctx); err != nil {
			s.logger.Warn("conference refresh failed", zap.Error(err))
		}
	})
}

func (s *Subscriber) stopRefreshLocked() {
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}
