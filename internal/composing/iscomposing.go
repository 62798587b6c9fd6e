package composing

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MimeType of an isComposing document (RFC 3994).
const MimeType = "application/im-iscomposing+xml"

// Namespace of the isComposing root element.
const Namespace = "urn:ietf:params:xml:ns:im-iscomposing"

// DefaultRefresh is how long a remote "active" state holds without a
// refresh when the document does not say otherwise.
const DefaultRefresh = 120 * time.Second

const (
	stateActive = "active"
	stateIdle   = "idle"
)

// Info is a parsed isComposing document.
type Info struct {
	Active      bool
	ContentType string
	Refresh     time.Duration
	LastActive  time.Time
}

// Build renders an isComposing document. refresh is only emitted for the
// active state.
func Build(active bool, refresh time.Duration) string {
	state := stateIdle
	if active {
		state = stateActive
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\r\n")
	b.WriteString(`<isComposing xmlns="` + Namespace + `"` + "\r\n")
	b.WriteString(` xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"` + "\r\n")
	b.WriteString(` xsi:schemaLocation="urn:ietf:params:xml:ns:im-composing iscomposing.xsd">` + "\r\n")
	b.WriteString("<state>" + state + "</state>\r\n")
	b.WriteString("<contenttype>text/plain</contenttype>\r\n")
	if active && refresh > 0 {
		b.WriteString("<refresh>" + strconv.Itoa(int(refresh/time.Second)) + "</refresh>\r\n")
	}
	b.WriteString("</isComposing>")
	return b.String()
}

type document struct {
	XMLName     xml.Name `xml:"isComposing"`
	State       string   `xml:"state"`
	ContentType string   `xml:"contenttype"`
	Refresh     string   `xml:"refresh"`
	LastActive  string   `xml:"lastactive"`
}

// Parse decodes an isComposing document.
func Parse(data []byte) (*Info, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("iscomposing: %w", err)
	}
	info := &Info{ContentType: strings.TrimSpace(doc.ContentType)}
	switch strings.ToLower(strings.TrimSpace(doc.State)) {
	case stateActive:
		info.Active = true
	case stateIdle:
	default:
		return nil, fmt.Errorf("iscomposing: unknown state %q", doc.State)
	}
	if r := strings.TrimSpace(doc.Refresh); r != "" {
		secs, err := strconv.Atoi(r)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("iscomposing: bad refresh %q", r)
		}
		info.Refresh = time.Duration(secs) * time.Second
	}
	if la := strings.TrimSpace(doc.LastActive); la != "" {
		if t, err := time.Parse(time.RFC3339, la); err == nil {
			info.LastActive = t
		}
	}
	return info, nil
}
