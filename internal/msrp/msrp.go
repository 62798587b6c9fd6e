// Package msrp carries chat payloads over MSRP (RFC 4975). It defines the
// transport contract the chat engine consumes and implements it over TCP.
package msrp

import (
	"context"
	"errors"
)

// ChunkType classifies what a chunk carries so transfer errors can be
// routed back to the right handler.
type ChunkType int

const (
	ChunkEmpty ChunkType = iota
	ChunkText
	ChunkComposing
	ChunkDeliveredReport
	ChunkDisplayedReport
	ChunkOtherReport
	ChunkGeolocation
	ChunkFileTransfer
)

func (t ChunkType) String() string {
	switch t {
	case ChunkText:
		return "text"
	case ChunkComposing:
		return "composing"
	case ChunkDeliveredReport:
		return "delivered-report"
	case ChunkDisplayedReport:
		return "displayed-report"
	case ChunkOtherReport:
		return "report"
	case ChunkGeolocation:
		return "geolocation"
	case ChunkFileTransfer:
		return "file-transfer"
	default:
		return "empty"
	}
}

// ErrClosed is returned when sending on a closed session.
var ErrClosed = errors.New("msrp: session closed")

// Listener receives session events. Callbacks run on the session's reader
// goroutine.
type Listener interface {
	DataReceived(msgID string, data []byte, mimeType string)
	TransferComplete(msgID string)
	TransferError(msgID, errText string, typ ChunkType)
}

// Session is one negotiated MSRP channel.
type Session interface {
	// Open connects (client role) or waits for the remote to connect
	// (server role).
	Open(ctx context.Context) error
	SendChunks(msgID string, data []byte, mimeType string, typ ChunkType) error
	SendEmptyChunk() error
	Close() error
}

// Transport creates the MSRP sessions of one chat session.
type Transport interface {
	// LocalPort returns the listening port, opening the listener on first use.
	LocalPort() (int, error)
	// LocalPath is the a=path URL advertising port.
	LocalPath(port int) string
	CreateClientSession(host string, port int, remotePath, fingerprint string, l Listener) (Session, error)
	CreateServerSession(remotePath string, l Listener) (Session, error)
	Close() error
}
