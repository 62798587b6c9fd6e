// Package cpim encodes and decodes the Message/CPIM envelope (RFC 3862)
// carried over MSRP, including the IMDN header block of RFC 5438.
package cpim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/rcschat/internal/contact"
)

// MIME type of a CPIM envelope.
const MimeType = "message/cpim"

// Header names.
const (
	HeaderFrom         = "From"
	HeaderTo           = "To"
	HeaderNS           = "NS"
	HeaderDateTime     = "DateTime"
	HeaderMessageID    = "imdn.Message-ID"
	HeaderDisposition  = "imdn.Disposition-Notification"
	HeaderContentType  = "Content-Type"
	HeaderContentLen   = "Content-Length"
	HeaderContentDispo = "Content-Disposition"
)

// IMDN namespace declaration and disposition values.
const (
	IMDNNamespace    = "imdn <urn:ietf:params:imdn>"
	PositiveDelivery = "positive-delivery"
	Display          = "display"
)

const crlf = "\r\n"

// ErrParse is returned when a payload looks like an envelope but its header
// blocks are malformed.
var ErrParse = errors.New("cpim: malformed envelope")

// IMDNMode selects the disposition notifications requested by an envelope.
type IMDNMode int

const (
	IMDNNone IMDNMode = iota
	IMDNDelivery
	IMDNDeliveryDisplay
)

func (m IMDNMode) String() string {
	switch m {
	case IMDNDelivery:
		return "delivery"
	case IMDNDeliveryDisplay:
		return "delivery+display"
	default:
		return "none"
	}
}

func (m IMDNMode) disposition() string {
	if m == IMDNDeliveryDisplay {
		return PositiveDelivery + ", " + Display
	}
	return PositiveDelivery
}

// Envelope is an outgoing CPIM message.
type Envelope struct {
	From        string
	To          string
	MessageID   string
	ContentType string
	Content     string
	Sent        time.Time
	Mode        IMDNMode
}

// Encode renders the envelope. Addresses are normalized with FormatAddress.
// The IMDN header block (NS, Message-ID, Disposition-Notification and
// Content-Length) is only emitted when Mode requests notifications.
func Encode(e Envelope) string {
	var b strings.Builder
	writeHeader(&b, HeaderFrom, FormatAddress(e.From))
	writeHeader(&b, HeaderTo, FormatAddress(e.To))
	if e.Mode == IMDNNone {
		writeHeader(&b, HeaderDateTime, FormatDateTime(e.Sent))
		b.WriteString(crlf)
		writeHeader(&b, HeaderContentType, withCharset(e.ContentType))
		b.WriteString(crlf)
		b.WriteString(e.Content)
		return b.String()
	}
	writeHeader(&b, HeaderNS, IMDNNamespace)
	writeHeader(&b, HeaderMessageID, e.MessageID)
	writeHeader(&b, HeaderDateTime, FormatDateTime(e.Sent))
	writeHeader(&b, HeaderDisposition, e.Mode.disposition())
	b.WriteString(crlf)
	writeHeader(&b, HeaderContentType, withCharset(e.ContentType))
	writeHeader(&b, HeaderContentLen, strconv.Itoa(len(e.Content)))
	b.WriteString(crlf)
	b.WriteString(e.Content)
	return b.String()
}

// EncodeDeliveryReport wraps an IMDN document. msgID identifies the report
// itself, not the message it acknowledges.
func EncodeDeliveryReport(from, to, msgID, imdnXML string, sent time.Time) string {
	var b strings.Builder
	writeHeader(&b, HeaderFrom, FormatAddress(from))
	writeHeader(&b, HeaderTo, FormatAddress(to))
	writeHeader(&b, HeaderNS, IMDNNamespace)
	writeHeader(&b, HeaderMessageID, msgID)
	writeHeader(&b, HeaderDateTime, FormatDateTime(sent))
	b.WriteString(crlf)
	writeHeader(&b, HeaderContentType, "message/imdn+xml")
	writeHeader(&b, HeaderContentDispo, "notification")
	writeHeader(&b, HeaderContentLen, strconv.Itoa(len(imdnXML)))
	b.WriteString(crlf)
	b.WriteString(imdnXML)
	return b.String()
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString(crlf)
}

func withCharset(contentType string) string {
	if contentType == "" {
		contentType = "text/plain"
	}
	if strings.Contains(strings.ToLower(contentType), "charset=") {
		return contentType
	}
	return contentType + ";charset=utf-8"
}

// FormatAddress puts an address into the bracketed URI form used in From
// and To headers. Malformed input is bracketed as-is, never rejected.
func FormatAddress(addr string) string {
	s := strings.TrimSpace(addr)
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(s, "<"), strings.HasPrefix(s, `"`):
		return s
	case strings.HasPrefix(lower, "sip:"), strings.HasPrefix(lower, "sips:"), strings.HasPrefix(lower, "tel:"):
		return "<" + s + ">"
	case contact.IsNumber(s):
		id, _ := contact.Parse(s)
		return "<" + id.URI() + ">"
	}
	return "<" + s + ">"
}

const dateTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatDateTime renders t in UTC with millisecond precision.
func FormatDateTime(t time.Time) string {
	return t.UTC().Format(dateTimeLayout)
}

// ParseDateTime accepts RFC 3339 timestamps with or without fractional
// seconds.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("cpim: datetime %q: %w", s, err)
	}
	return t, nil
}
