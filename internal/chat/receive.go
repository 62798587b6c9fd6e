package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/cpim"
	"github.com/matheus3301/rcschat/internal/imdn"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/store"
)

// listener adapts a Session to msrp.Listener.
type listener struct {
	s *Session
}

func (l *listener) DataReceived(msgID string, data []byte, mimeType string) {
	l.s.onDataReceived(msgID, data, mimeType)
}

func (l *listener) TransferComplete(msgID string) {
	l.s.logger.Debug("transfer complete", zap.String("msg_id", msgID))
}

func (l *listener) TransferError(msgID, errText string, typ msrp.ChunkType) {
	l.s.onTransferError(msgID, errText, typ)
}

// onDataReceived classifies an inbound MSRP payload.
func (s *Session) onDataReceived(msgID string, data []byte, mimeType string) {
	s.activity.Update()
	if len(data) == 0 {
		return
	}
	switch mediaType(mimeType) {
	case MimeComposing:
		s.receiveComposing(s.Remote(), data)
	case MimeText:
		now := time.Now()
		s.receiveText(&Message{
			ID:             s.messageID(msgID),
			Remote:         s.Remote(),
			Content:        string(data),
			MimeType:       MimeText,
			LocalTimestamp: now,
			SentTimestamp:  now,
		}, false)
	case cpim.MimeType:
		s.receiveCPIM(msgID, data)
	default:
		s.logger.Debug("dropping unsupported payload", zap.String("mime_type", mimeType))
	}
}

func (s *Session) messageID(msrpID string) string {
	if msrpID != "" {
		return msrpID
	}
	return uuid.NewString()
}

func (s *Session) receiveCPIM(msgID string, data []byte) {
	m, err := cpim.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed cpim payload", zap.Error(err))
		return
	}
	id := m.MessageID()
	if id == "" {
		id = s.messageID(msgID)
	}
	from := s.Remote()
	if c, ok := contact.Parse(m.From()); ok {
		from = c
	}
	if s.kind == KindGroup && from == s.self {
		return
	}
	now := time.Now()
	sent := now
	if m.HasDateTime {
		sent = m.DateTime
	}
	msg := &Message{
		ID:             id,
		Remote:         from,
		Content:        m.Content,
		MimeType:       mediaType(m.ContentType),
		LocalTimestamp: now,
		SentTimestamp:  sent,
		DisplayName:    displayName(m.From()),
	}
	wantDisplay := s.kind == KindOneToOne && m.WantsDisplay()

	switch msg.MimeType {
	case MimeFileTransfer:
		s.receiveContent(msg, bus.FileTransferInvitation)
		s.sendDelivered(from, id)
	case MimeText:
		s.receiveText(msg, wantDisplay)
		if m.WantsDelivery() {
			s.sendDelivered(from, id)
		}
	case MimeComposing:
		s.receiveComposing(from, []byte(m.Content))
	case imdn.MimeType:
		s.receiveReport(from, []byte(m.Content))
	case MimeGeolocation:
		s.receiveContent(msg, bus.Geolocation)
		if m.WantsDelivery() {
			s.sendDelivered(from, id)
		}
	default:
		s.logger.Debug("dropping unsupported cpim content", zap.String("content_type", m.ContentType))
	}
}

// displayName extracts the quoted display name of a CPIM address.
func displayName(addr string) string {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, `"`) {
		return ""
	}
	name, _, ok := strings.Cut(addr[1:], `"`)
	if !ok {
		return ""
	}
	return name
}

func (s *Session) receiveText(msg *Message, wantDisplay bool) {
	s.watcher.Reset(msg.Remote)
	if !s.record(msg, store.DirectionIn, StatusReceived) {
		s.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.ID))
		return
	}
	s.publish(bus.MessageReceived, MessageEvent{
		SessionID:        s.id,
		ChatID:           s.chatID,
		Message:          *msg,
		DisplayRequested: wantDisplay,
	})
}

// receiveContent records and publishes a non-text payload under kind.
func (s *Session) receiveContent(msg *Message, kind string) bool {
	if !s.record(msg, store.DirectionIn, StatusReceived) {
		return false
	}
	s.publish(kind, ContentEvent{SessionID: s.id, ChatID: s.chatID, Message: *msg})
	return true
}

func (s *Session) receiveComposing(from contact.ID, doc []byte) {
	if err := s.watcher.Receive(from, doc); err != nil {
		s.logger.Debug("dropping malformed composing indicator", zap.Error(err))
	}
}

func (s *Session) receiveReport(from contact.ID, doc []byte) {
	r, err := imdn.Parse(doc)
	if err != nil {
		s.logger.Warn("dropping malformed delivery report", zap.Error(err))
		return
	}
	s.setMessageStatus(r.MessageID, string(r.Status))
	s.publish(bus.DeliveryStatus, DeliveryEvent{
		SessionID: s.id,
		ChatID:    s.chatID,
		MessageID: r.MessageID,
		Contact:   from,
		Status:    r.Status,
	})
}

func (s *Session) sendDelivered(to contact.ID, msgID string) {
	if err := s.SendDeliveryStatus(to, msgID, imdn.StatusDelivered, time.Now()); err != nil {
		s.logger.Debug("delivered report not sent", zap.String("msg_id", msgID), zap.Error(err))
	}
}

// onTransferError routes an MSRP failure. 408 and 413 only lose the
// message; anything else brings the session down.
func (s *Session) onTransferError(msgID, errText string, typ msrp.ChunkType) {
	switch typ {
	case msrp.ChunkText, msrp.ChunkGeolocation:
		s.setMessageStatus(msgID, StatusFailed)
		s.publish(bus.DeliveryStatus, DeliveryEvent{
			SessionID: s.id, ChatID: s.chatID, MessageID: msgID, Contact: s.Remote(), Status: imdn.StatusFailed, Error: errText,
		})
	case msrp.ChunkDeliveredReport, msrp.ChunkDisplayedReport:
		status := imdn.StatusDelivered
		if typ == msrp.ChunkDisplayedReport {
			status = imdn.StatusDisplayed
		}
		s.publish(bus.DeliveryReportFailed, DeliveryEvent{
			SessionID: s.id, ChatID: s.chatID, MessageID: msgID, Contact: s.Remote(), Status: status, Error: errText,
		})
	}

	if s.State() != StateEstablished {
		return
	}
	if strings.Contains(errText, "413") || strings.Contains(errText, "408") {
		s.logger.Warn("media session broken", zap.String("msg_id", msgID), zap.String("error", errText))
		s.publish(bus.SessionError, ErrorEvent{
			SessionID: s.id, ChatID: s.chatID, MessageID: msgID, Code: CodeMediaBroken, Error: errText,
		})
		return
	}
	s.logger.Warn("media session failed", zap.String("error", errText), zap.Stringer("chunk", typ))
	s.fail(newError(CodeMediaFailed, CauseTransport, errText, nil))
}

// deliverFirstMessage handles the message carried in a terminating INVITE
// as if it had arrived over MSRP.
func (s *Session) deliverFirstMessage(part []byte) {
	if len(part) == 0 {
		return
	}
	s.onDataReceived("", part, cpim.MimeType)
}

var _ msrp.Listener = (*listener)(nil)
