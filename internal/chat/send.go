package chat

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/composing"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/cpim"
	"github.com/matheus3301/rcschat/internal/imdn"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/store"
)

// anonymousURI addresses messages sent into a group chat.
const anonymousURI = "sip:anonymous@anonymous.invalid"

// Message status values kept in the store.
const (
	StatusReceived = "received"
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
)

// imdnMode picks the notifications requested on outgoing messages.
func (s *Session) imdnMode() cpim.IMDNMode {
	st := s.deps.Settings
	display, delivery := st.DisplayReports, st.DeliveryReports
	if s.kind == KindGroup {
		display, delivery = st.GroupDisplayReports, st.GroupDeliveryReports
	}
	switch {
	case display:
		return cpim.IMDNDeliveryDisplay
	case delivery:
		return cpim.IMDNDelivery
	default:
		return cpim.IMDNNone
	}
}

func (s *Session) recipientURI(remote contact.ID) string {
	if s.kind == KindGroup || remote == "" {
		return anonymousURI
	}
	return remote.URI()
}

func (s *Session) encodeMessage(m *Message) string {
	return cpim.Encode(cpim.Envelope{
		From:        s.deps.UA.LocalURI(),
		To:          s.recipientURI(m.Remote),
		MessageID:   m.ID,
		ContentType: m.MimeType,
		Content:     m.Content,
		Sent:        m.SentTimestamp,
		Mode:        s.imdnMode(),
	})
}

func (s *Session) activeChannel() (msrp.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEstablished || s.channel == nil {
		return nil, ErrNotEstablished
	}
	return s.channel, nil
}

// SendMessage sends m over the session. A failure is reported to listeners
// and returned; it is not retried.
func (s *Session) SendMessage(m *Message) error {
	ch, err := s.activeChannel()
	if err != nil {
		return err
	}
	if m.Remote == "" && s.kind == KindOneToOne {
		m.Remote = s.Remote()
	}
	typ := msrp.ChunkText
	if m.MimeType == MimeGeolocation {
		typ = msrp.ChunkGeolocation
	}
	s.record(m, store.DirectionOut, StatusSending)

	if err := ch.SendChunks(m.ID, []byte(s.encodeMessage(m)), cpim.MimeType, typ); err != nil {
		s.setMessageStatus(m.ID, StatusFailed)
		s.logger.Warn("message send failed", zap.String("msg_id", m.ID), zap.Error(err))
		s.publish(bus.MessageSendFailed, MessageEvent{SessionID: s.id, ChatID: s.chatID, Message: *m, Error: err.Error()})
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	s.activity.Update()
	s.composing.MessageSent()
	s.setMessageStatus(m.ID, StatusSent)
	s.publish(bus.MessageSent, MessageEvent{SessionID: s.id, ChatID: s.chatID, Message: *m})
	return nil
}

// SendDeliveryStatus reports the disposition of msgID to remote. A failed
// delivered or displayed report is published so the caller can decide to
// retry it out of band.
func (s *Session) SendDeliveryStatus(remote contact.ID, msgID string, status imdn.Status, ts time.Time) error {
	ch, err := s.activeChannel()
	if err == nil {
		doc := imdn.Build(msgID, status, ts)
		payload := cpim.EncodeDeliveryReport(s.deps.UA.LocalURI(), remote.URI(), uuid.NewString(), doc, time.Now())
		err = ch.SendChunks(msgID, []byte(payload), cpim.MimeType, reportChunkType(status))
	}
	if err != nil {
		if status == imdn.StatusDelivered || status == imdn.StatusDisplayed {
			s.publish(bus.DeliveryReportFailed, DeliveryEvent{
				SessionID: s.id, ChatID: s.chatID, MessageID: msgID, Contact: remote, Status: status, Error: err.Error(),
			})
		}
		return fmt.Errorf("chat: send %s report: %w", status, err)
	}
	return nil
}

func reportChunkType(status imdn.Status) msrp.ChunkType {
	switch status {
	case imdn.StatusDelivered:
		return msrp.ChunkDeliveredReport
	case imdn.StatusDisplayed:
		return msrp.ChunkDisplayedReport
	default:
		return msrp.ChunkOtherReport
	}
}

// SendComposing sends an isComposing indicator. It is the send function of
// the session's composing manager.
func (s *Session) SendComposing(active bool) error {
	ch, err := s.activeChannel()
	if err != nil {
		return err
	}
	payload := cpim.Encode(cpim.Envelope{
		From:        s.deps.UA.LocalURI(),
		To:          s.recipientURI(s.Remote()),
		ContentType: composing.MimeType,
		Content:     composing.Build(active, composing.DefaultRefresh),
		Sent:        time.Now(),
	})
	return ch.SendChunks(uuid.NewString(), []byte(payload), cpim.MimeType, msrp.ChunkComposing)
}

// record persists m and reports whether it was not already known.
func (s *Session) record(m *Message, direction, status string) bool {
	inserted, err := s.deps.Store.RecordMessage(&store.Message{
		MsgID:          m.ID,
		ChatID:         s.chatID,
		Contact:        string(m.Remote),
		Direction:      direction,
		MimeType:       m.MimeType,
		Content:        m.Content,
		Status:         status,
		LocalTimestamp: m.LocalTimestamp.UnixMilli(),
		SentTimestamp:  m.SentTimestamp.UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("record message failed", zap.String("msg_id", m.ID), zap.Error(err))
		return false
	}
	return inserted
}

func (s *Session) setMessageStatus(msgID, status string) {
	if err := s.deps.Store.UpdateMessageStatus(msgID, status); err != nil {
		s.logger.Warn("update message status failed", zap.String("msg_id", msgID), zap.Error(err))
	}
}
