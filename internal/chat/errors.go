package chat

import (
	"errors"
	"fmt"
)

// Code is the failure taxonomy reported to listeners.
type Code string

const (
	CodeInitiationDeclined  Code = "session-initiation-declined"
	CodeInitiationFailed    Code = "session-initiation-failed"
	CodeInitiationCancelled Code = "session-initiation-cancelled"
	CodeMediaFailed         Code = "media-session-failed"
	CodeMediaBroken         Code = "media-session-broken"
	CodeSessionNotFound     Code = "session-not-found"
	CodeRestartFailed       Code = "session-restart-failed"
	CodeSubscribeFailed     Code = "subscribe-conference-failed"
	CodeUnexpected          Code = "unexpected-failure"
)

// Cause is the diagnostic class of a failure.
type Cause string

const (
	CauseParse       Cause = "parse"
	CauseTransport   Cause = "transport"
	CauseNegotiation Cause = "negotiation"
	CauseRejected    Cause = "rejected"
	CauseTimeout     Cause = "timeout"
	CauseUnexpected  Cause = "unexpected"
)

// Error is a session-level failure.
type Error struct {
	Code   Code
	Cause  Cause
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, cause Cause, reason string, err error) *Error {
	return &Error{Code: code, Cause: cause, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

var (
	// ErrSessionNotFound is returned for unknown session or chat IDs.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrSendFailed wraps transport failures of SendMessage; listeners have
	// already been told through message_send_failed.
	ErrSendFailed = errors.New("chat: send message failed")
	// ErrNotEstablished is returned when sending before media is up.
	ErrNotEstablished = errors.New("chat: session not established")
	// ErrNotGroup is returned for group operations on a 1-1 session.
	ErrNotGroup = errors.New("chat: not a group chat")
	// ErrTooManyParticipants is returned when an invitation would exceed
	// the configured roster size.
	ErrTooManyParticipants = errors.New("chat: too many participants")
	// ErrNoDecisionPending is returned by Accept and Reject outside the
	// invitation phase.
	ErrNoDecisionPending = errors.New("chat: no invitation pending")
	// ErrInterrupted stops a driver whose session was terminated.
	ErrInterrupted = errors.New("chat: session interrupted")
	// ErrSessionExists is returned when a stored group chat already has a
	// live session.
	ErrSessionExists = errors.New("chat: session already active")
	// ErrClosed is returned once the service is shutting down.
	ErrClosed = errors.New("chat: service closed")
)

func invalidTransition(from, to State) error {
	return fmt.Errorf("chat: invalid transition from %s to %s", from, to)
}
