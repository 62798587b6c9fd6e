package cpim

import (
	"strings"
	"time"
)

// Message is a decoded CPIM payload. Header maps are keyed by lower-cased
// header name.
type Message struct {
	Headers        map[string]string
	ContentHeaders map[string]string
	ContentType    string
	Content        string
	DateTime       time.Time
	HasDateTime    bool
	// Enveloped is false for legacy payloads that carried bare text.
	Enveloped bool
}

// Header returns a message header by case-insensitive name.
func (m *Message) Header(name string) string {
	return m.Headers[strings.ToLower(name)]
}

// ContentHeader returns a content header by case-insensitive name.
func (m *Message) ContentHeader(name string) string {
	return m.ContentHeaders[strings.ToLower(name)]
}

func (m *Message) From() string        { return m.Header(HeaderFrom) }
func (m *Message) To() string          { return m.Header(HeaderTo) }
func (m *Message) MessageID() string   { return m.Header(HeaderMessageID) }
func (m *Message) Disposition() string { return m.Header(HeaderDisposition) }

// WantsDelivery reports whether the sender asked for a delivered report.
func (m *Message) WantsDelivery() bool {
	return strings.Contains(m.Disposition(), PositiveDelivery)
}

// WantsDisplay reports whether the sender asked for a displayed report.
func (m *Message) WantsDisplay() bool {
	return strings.Contains(m.Disposition(), Display)
}

var envelopeHeaders = map[string]bool{
	"from": true, "to": true, "cc": true, "datetime": true,
	"subject": true, "ns": true, "require": true,
}

// Decode parses a CPIM payload. A payload whose first line is not a CPIM
// header is returned unenveloped as text/plain so callers can fall back to
// their local receipt time.
func Decode(raw []byte) (*Message, error) {
	s := string(raw)
	if strings.TrimSpace(s) == "" {
		return nil, ErrParse
	}
	nl := crlf
	if !strings.Contains(s, crlf) {
		nl = "\n"
	}
	first, _, _ := strings.Cut(s, nl)
	if !looksLikeEnvelope(first) {
		return &Message{
			Headers:        map[string]string{},
			ContentHeaders: map[string]string{},
			ContentType:    "text/plain",
			Content:        s,
		}, nil
	}

	headBlock, rest, ok := strings.Cut(s, nl+nl)
	if !ok {
		return nil, ErrParse
	}
	contentBlock, content, ok := strings.Cut(rest, nl+nl)
	if !ok {
		// An envelope whose content headers run to the end carries no body.
		if strings.HasSuffix(rest, nl) {
			contentBlock, content = strings.TrimSuffix(rest, nl), ""
		} else {
			return nil, ErrParse
		}
	}

	headers, err := parseHeaders(headBlock, nl)
	if err != nil {
		return nil, err
	}
	contentHeaders, err := parseHeaders(contentBlock, nl)
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Headers:        headers,
		ContentHeaders: contentHeaders,
		Content:        content,
		Enveloped:      true,
	}
	ct, _, _ := strings.Cut(contentHeaders["content-type"], ";")
	msg.ContentType = strings.ToLower(strings.TrimSpace(ct))
	if dt, ok := headers["datetime"]; ok {
		if t, err := ParseDateTime(dt); err == nil {
			msg.DateTime, msg.HasDateTime = t, true
		}
	}
	return msg, nil
}

func looksLikeEnvelope(line string) bool {
	name, _, ok := strings.Cut(line, ":")
	if !ok {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if envelopeHeaders[name] {
		return true
	}
	// Namespaced header such as imdn.Message-ID.
	prefix, _, dotted := strings.Cut(name, ".")
	return dotted && prefix != "" && !strings.ContainsAny(prefix, " \t")
}

func parseHeaders(block, nl string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, line := range strings.Split(block, nl) {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, ErrParse
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return headers, nil
}
