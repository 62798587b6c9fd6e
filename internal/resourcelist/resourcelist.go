// Package resourcelist builds and parses the RFC 4826 resource-list
// documents used to carry group chat rosters.
package resourcelist

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/contact"
)

// MimeType of a resource-list body.
const MimeType = "application/resource-lists+xml"

// Namespace of the resource-lists root element.
const Namespace = "urn:ietf:params:xml:ns:resource-lists"

// Build renders one entry per URI, each marked cp:copyControl="to".
func Build(uris []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	b.WriteString(`<resource-lists xmlns="` + Namespace + `" xmlns:cp="urn:ietf:params:xml:ns:copycontrol">`)
	b.WriteString("<list>\r\n")
	for _, uri := range uris {
		var esc bytes.Buffer
		_ = xml.EscapeText(&esc, []byte(uri))
		b.WriteString(` <entry uri="` + esc.String() + `" cp:copyControl="to"/>` + "\r\n")
	}
	b.WriteString("</list></resource-lists>")
	return b.String()
}

type entry struct {
	URI string `xml:"uri,attr"`
}

type list struct {
	Entries []entry `xml:"entry"`
}

type document struct {
	XMLName xml.Name `xml:"resource-lists"`
	Lists   []list   `xml:"list"`
}

// Parse returns the contacts listed in data, in document order and without
// duplicates. Entries that do not carry a valid identity are skipped and
// logged, as is the local identity self.
func Parse(data []byte, self contact.ID, logger *zap.Logger) ([]contact.ID, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("resource-list: %w", err)
	}
	seen := make(map[contact.ID]bool)
	var out []contact.ID
	for _, l := range doc.Lists {
		for _, e := range l.Entries {
			id, ok := contact.Parse(e.URI)
			if !ok {
				logger.Warn("skipping resource-list entry", zap.String("uri", e.URI))
				continue
			}
			if id == self || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}
