package store

// Direction values for Message.Direction.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Message is a persisted chat message. MsgID is unique across the store and
// is the idempotence key for delivery to listeners.
type Message struct {
	ID             int64  `json:"-"`
	MsgID          string `json:"msg_id"`
	ChatID         string `json:"chat_id"`
	Contact        string `json:"contact"`
	Direction      string `json:"direction"`
	MimeType       string `json:"mime_type"`
	Content        string `json:"content"`
	Status         string `json:"status"` // received, sending, sent, failed, delivered, displayed
	LocalTimestamp int64  `json:"local_ts"`
	SentTimestamp  int64  `json:"sent_ts"`
}

// GroupChat is the persisted state of a group chat, keyed by contribution ID.
type GroupChat struct {
	ChatID       string
	RejoinURI    string
	Subject      string
	State        string
	Participants map[string]string
	Timestamp    int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64  `json:"-"`
	ClientMsgID  string `json:"client_msg_id"`
	ChatID       string `json:"chat_id,omitempty"`
	Contact      string `json:"contact,omitempty"`
	Body         string `json:"body"`
	Status       string `json:"status"` // queued, sending, sent, failed
	ErrorMessage string `json:"error,omitempty"`
	MsgID        string `json:"msg_id,omitempty"`
	Attempts     int    `json:"attempts"`
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message `json:"message"`
	Snippet string  `json:"snippet"`
}

// JournalEntry is one journaled bus event. Seq increases monotonically and
// is the replay cursor.
type JournalEntry struct {
	Seq       int64
	Kind      string
	SessionID string
	ChatID    string
	Payload   string
	Timestamp int64
}
