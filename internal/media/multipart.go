package media

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

// Boundary used for the multipart bodies this package builds.
const Boundary = "boundary1"

// Part is one body part.
type Part struct {
	ContentType string
	// Extra headers written after Content-Type, in order.
	Headers [][2]string
	Body    []byte
}

// Header returns an extra header by case-insensitive name.
func (p Part) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h[0], name) {
			return h[1]
		}
	}
	return ""
}

// MultipartContentType is the Content-Type of a body built with boundary.
func MultipartContentType(boundary string) string {
	return `multipart/mixed;boundary="` + boundary + `"`
}

// BuildMultipart renders parts separated by boundary.
func BuildMultipart(boundary string, parts ...Part) []byte {
	var b bytes.Buffer
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: " + p.ContentType + "\r\n")
		for _, h := range p.Headers {
			b.WriteString(h[0] + ": " + h[1] + "\r\n")
		}
		b.WriteString("Content-Length: " + strconv.Itoa(len(p.Body)) + "\r\n\r\n")
		b.Write(p.Body)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--")
	return b.Bytes()
}

// SplitBody returns the parts of a request or response body. A body that is
// not multipart comes back as a single part.
func SplitBody(contentType string, body []byte) ([]Part, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("media: content type %q: %w", contentType, err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return []Part{{ContentType: mediaType, Body: body}}, nil
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("media: multipart body without boundary")
	}
	r := multipart.NewReader(bytes.NewReader(body), boundary)
	var parts []Part
	for {
		p, err := r.NextRawPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("media: multipart: %w", err)
		}
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("media: multipart: %w", err)
		}
		parts = append(parts, partFromHeader(p.Header, data))
	}
	return parts, nil
}

func partFromHeader(h textproto.MIMEHeader, body []byte) Part {
	ct, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		ct = strings.TrimSpace(h.Get("Content-Type"))
	}
	p := Part{ContentType: ct, Body: body}
	for k, vs := range h {
		if k == "Content-Type" || k == "Content-Length" {
			continue
		}
		for _, v := range vs {
			p.Headers = append(p.Headers, [2]string{k, v})
		}
	}
	return p
}

// FindPart returns the first part of the given media type.
func FindPart(parts []Part, mediaType string) (Part, bool) {
	for _, p := range parts {
		if strings.EqualFold(p.ContentType, mediaType) {
			return p, true
		}
	}
	return Part{}, false
}
