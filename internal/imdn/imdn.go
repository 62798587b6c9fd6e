// Package imdn builds and parses Instant Message Disposition Notification
// documents (RFC 5438).
package imdn

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Namespace of the imdn root element.
const Namespace = "urn:ietf:params:xml:ns:imdn"

// MimeType of an IMDN document.
const MimeType = "message/imdn+xml"

// ErrParse is returned for documents that are not IMDN.
var ErrParse = errors.New("imdn: malformed document")

// Status is a disposition status.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusDisplayed Status = "displayed"
	StatusFailed    Status = "failed"
	StatusError     Status = "error"
	StatusForbidden Status = "forbidden"
	StatusProcessed Status = "processed"
	StatusStored    Status = "stored"
)

// Notification element names.
const (
	DeliveryNotification   = "delivery-notification"
	DisplayNotification    = "display-notification"
	ProcessingNotification = "processing-notification"
)

// NotificationFor picks the notification element that carries status.
func NotificationFor(s Status) string {
	switch s {
	case StatusDisplayed:
		return DisplayNotification
	case StatusDelivered, StatusFailed, StatusForbidden, StatusError:
		return DeliveryNotification
	default:
		return ProcessingNotification
	}
}

// Report is a parsed IMDN document.
type Report struct {
	MessageID    string
	DateTime     time.Time
	Notification string
	Status       Status
}

// Build renders a report for msgID.
func Build(msgID string, status Status, ts time.Time) string {
	method := NotificationFor(status)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	b.WriteString(`<imdn xmlns="` + Namespace + `">` + "\r\n")
	b.WriteString("<message-id>" + escape(msgID) + "</message-id>\r\n")
	b.WriteString("<datetime>" + ts.UTC().Format("2006-01-02T15:04:05.000Z") + "</datetime>\r\n")
	fmt.Fprintf(&b, "<%s><status><%s/></status></%s>\r\n", method, status, method)
	b.WriteString("</imdn>")
	return b.String()
}

func escape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

type statusElem struct {
	Values []struct {
		XMLName xml.Name
	} `xml:",any"`
}

type notificationElem struct {
	Status *statusElem `xml:"status"`
}

type document struct {
	XMLName    xml.Name          `xml:"urn:ietf:params:xml:ns:imdn imdn"`
	MessageID  string            `xml:"message-id"`
	DateTime   string            `xml:"datetime"`
	Delivery   *notificationElem `xml:"delivery-notification"`
	Display    *notificationElem `xml:"display-notification"`
	Processing *notificationElem `xml:"processing-notification"`
}

// Parse decodes an IMDN document.
func Parse(data []byte) (*Report, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	r := &Report{MessageID: strings.TrimSpace(doc.MessageID)}
	if r.MessageID == "" {
		return nil, fmt.Errorf("%w: missing message-id", ErrParse)
	}
	if dt := strings.TrimSpace(doc.DateTime); dt != "" {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			r.DateTime = t
		}
	}
	var n *notificationElem
	switch {
	case doc.Display != nil:
		r.Notification, n = DisplayNotification, doc.Display
	case doc.Delivery != nil:
		r.Notification, n = DeliveryNotification, doc.Delivery
	case doc.Processing != nil:
		r.Notification, n = ProcessingNotification, doc.Processing
	default:
		return nil, fmt.Errorf("%w: no notification element", ErrParse)
	}
	if n.Status == nil || len(n.Status.Values) == 0 {
		return nil, fmt.Errorf("%w: empty status", ErrParse)
	}
	r.Status = Status(n.Status.Values[0].XMLName.Local)
	return r, nil
}
