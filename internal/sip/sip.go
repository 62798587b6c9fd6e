// Package sip defines the SIP dialog peer the chat engine drives, and an
// in-process loopback implementation of it.
package sip

import (
	"context"
	"errors"
	"net/textproto"
	"strings"
)

// Methods.
const (
	MethodInvite    = "INVITE"
	MethodAck       = "ACK"
	MethodBye       = "BYE"
	MethodCancel    = "CANCEL"
	MethodRefer     = "REFER"
	MethodSubscribe = "SUBSCRIBE"
	MethodNotify    = "NOTIFY"
)

// Status codes the chat engine reacts to.
const (
	StatusRinging                = 180
	StatusOK                     = 200
	StatusAccepted               = 202
	StatusBadRequest             = 400
	StatusForbidden              = 403
	StatusNotFound               = 404
	StatusProxyAuthRequired      = 407
	StatusRequestTimeout         = 408
	StatusIntervalTooBrief       = 423
	StatusTemporarilyUnavailable = 480
	StatusBusyHere               = 486
	StatusRequestTerminated      = 487
	StatusNotAcceptableHere      = 488
	StatusNotImplemented         = 501
	StatusDecline                = 603
)

var (
	// ErrTimeout means no final response arrived in time.
	ErrTimeout = errors.New("sip: transaction timeout")
	// ErrNoAck means a 200 OK was never acknowledged.
	ErrNoAck = errors.New("sip: no ack received")
	// ErrTerminated is returned for requests on a finished dialog.
	ErrTerminated = errors.New("sip: dialog terminated")
)

// Header holds SIP headers keyed by canonical name.
type Header map[string][]string

// Get returns the first value of key.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	vs := h[textproto.CanonicalMIMEHeaderKey(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Set replaces the values of key.
func (h Header) Set(key, value string) {
	h[textproto.CanonicalMIMEHeaderKey(key)] = []string{value}
}

// Add appends a value to key.
func (h Header) Add(key, value string) {
	k := textproto.CanonicalMIMEHeaderKey(key)
	h[k] = append(h[k], value)
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Request is a SIP request.
type Request struct {
	Method      string
	URI         string
	From        string
	Header      Header
	ContentType string
	Body        []byte
}

// NewRequest creates a request with an empty header set.
func NewRequest(method, uri string) *Request {
	return &Request{Method: method, URI: uri, Header: Header{}}
}

// Response is a SIP response.
type Response struct {
	StatusCode  int
	Reason      string
	Header      Header
	ContentType string
	Body        []byte
}

// NewResponse creates a response with an empty header set.
func NewResponse(code int, reason string) *Response {
	return &Response{StatusCode: code, Reason: reason, Header: Header{}}
}

// Success reports a 2xx response.
func (r *Response) Success() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Provisional reports a 1xx response.
func (r *Response) Provisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }

// WarningContains reports whether a Warning header mentions text.
func (r *Response) WarningContains(text string) bool {
	for _, w := range r.Header[textproto.CanonicalMIMEHeaderKey("Warning")] {
		if strings.Contains(w, text) {
			return true
		}
	}
	return false
}

// RequestHandler answers requests arriving inside a dialog.
type RequestHandler func(req *Request) *Response

// Dialog is one SIP dialog as seen by a chat session. Send operations block
// until a final response and honor ctx.
type Dialog interface {
	CallID() string
	LocalParty() string
	RemoteParty() string
	// LocalAddress is the IP address to advertise in SDP.
	LocalAddress() string
	// Offer is the INVITE that created a terminating dialog, nil otherwise.
	Offer() *Request
	SendRequest(ctx context.Context, req *Request) (*Response, error)
	// Authorize adds credentials answering a 407 challenge to req.
	Authorize(req *Request, challenge *Response) error
	SendProvisional(ctx context.Context, code int) error
	// SendAnswer sends a 2xx to the offer and waits for the ACK.
	SendAnswer(ctx context.Context, resp *Response) error
	Reject(ctx context.Context, code int, reason string) error
	Ack(ctx context.Context) error
	Cancel(ctx context.Context) error
	Bye(ctx context.Context) error
	Established() bool
	// SetHandler installs the handler for in-dialog requests from the remote.
	SetHandler(h RequestHandler)
}

// InviteHandler takes ownership of a new terminating dialog.
type InviteHandler func(d Dialog)

// UserAgent creates dialogs for one local identity.
type UserAgent interface {
	LocalURI() string
	NewDialog(target string) (Dialog, error)
	HandleInvites(h InviteHandler)
}
