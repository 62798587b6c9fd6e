package bus

import "time"

// Event represents a domain event published on the bus. Payload is one of
// the chat package's event payloads, selected by Kind.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces.
const (
	NamespaceChat   = "chat."
	NamespaceDaemon = "daemon."
)

// Event kinds.
const (
	MessageReceived        = "chat.message_received"
	MessageSent            = "chat.message_sent"
	MessageSendFailed      = "chat.message_send_failed"
	DeliveryStatus         = "chat.delivery_status"
	DeliveryReportFailed   = "chat.delivery_report_failed"
	Composing              = "chat.composing"
	SessionInvited         = "chat.session_invited"
	SessionAccepted        = "chat.session_accepted"
	SessionRejected        = "chat.session_rejected"
	SessionStarted         = "chat.session_started"
	SessionTerminated      = "chat.session_terminated"
	SessionState           = "chat.session_state"
	SessionError           = "chat.session_error"
	ParticipantsUpdated    = "chat.participants_updated"
	FileTransferInvitation = "chat.file_transfer_invitation"
	Geolocation            = "chat.geolocation"
	DaemonStatusChanged    = "daemon.status_changed"
)

// NewEvent builds an event stamped with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
