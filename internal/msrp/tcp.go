package msrp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/randutil"
	"go.uber.org/zap"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// DefaultChunkSize bounds the body of one SEND request.
	DefaultChunkSize = 10 * 1024
	// DefaultOpenTimeout bounds connect and accept.
	DefaultOpenTimeout = 10 * time.Second
	// DefaultMaxMessageSize bounds a reassembled incoming message.
	DefaultMaxMessageSize = 1 << 20

	discardPort = 9
)

// Options configure a Manager.
type Options struct {
	Host        string
	Secured     bool
	ChunkSize   int
	OpenTimeout time.Duration
	// MaxMessageSize caps incoming messages; larger ones are answered 413.
	MaxMessageSize int
}

// Manager is the TCP transport of one chat session. It owns at most one
// listening socket.
type Manager struct {
	opts      Options
	logger    *zap.Logger
	sessionID string

	mu       sync.Mutex
	ln       *net.TCPListener
	path     string
	sessions []*session
}

var _ Transport = (*Manager)(nil)

var ids = randutil.NewMathRandomGenerator()

// NewManager creates a transport bound to opts.Host.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = DefaultOpenTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Manager{
		opts:      opts,
		logger:    logger.Named("msrp"),
		sessionID: ids.GenerateString(12, alphanumeric),
	}
}

// LocalPort opens the listening socket if needed and returns its port.
func (m *Manager) LocalPort() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil {
		return m.ln.Addr().(*net.TCPAddr).Port, nil
	}
	ln, err := net.Listen("tcp", net.JoinHostPort(m.opts.Host, "0"))
	if err != nil {
		return 0, fmt.Errorf("msrp: listen: %w", err)
	}
	m.ln = ln.(*net.TCPListener)
	return m.ln.Addr().(*net.TCPAddr).Port, nil
}

// LocalPath returns the path URL for port and remembers it as the
// From-Path of this transport's sessions.
func (m *Manager) LocalPath(port int) string {
	scheme := "msrp"
	if m.opts.Secured {
		scheme = "msrps"
	}
	p := fmt.Sprintf("%s://%s/%s;tcp", scheme, net.JoinHostPort(m.opts.Host, strconv.Itoa(port)), m.sessionID)
	m.mu.Lock()
	m.path = p
	m.mu.Unlock()
	return p
}

func (m *Manager) fromPath() string {
	m.mu.Lock()
	p := m.path
	m.mu.Unlock()
	if p == "" {
		p = m.LocalPath(discardPort)
	}
	return p
}

// CreateClientSession prepares a session that connects to host:port.
func (m *Manager) CreateClientSession(host string, port int, remotePath, fingerprint string, l Listener) (Session, error) {
	s := m.newSession(remotePath, l)
	s.dialAddr = net.JoinHostPort(host, strconv.Itoa(port))
	if fingerprint != "" {
		m.logger.Debug("remote fingerprint", zap.String("fingerprint", fingerprint))
	}
	return s, nil
}

// CreateServerSession prepares a session that accepts one connection on
// the listening socket.
func (m *Manager) CreateServerSession(remotePath string, l Listener) (Session, error) {
	if _, err := m.LocalPort(); err != nil {
		return nil, err
	}
	return m.newSession(remotePath, l), nil
}

func (m *Manager) newSession(remotePath string, l Listener) *session {
	s := &session{
		manager:    m,
		remotePath: remotePath,
		localPath:  m.fromPath(),
		listener:   l,
		pending:    make(map[string]pendingChunk),
		inbound:    make(map[string]*inboundMessage),
		rejected:   make(map[string]bool),
	}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s
}

// Close shuts the listener and every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	ln := m.ln
	m.ln = nil
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (m *Manager) accept(ctx context.Context) (net.Conn, error) {
	m.mu.Lock()
	ln := m.ln
	m.mu.Unlock()
	if ln == nil {
		return nil, ErrClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.SetDeadline(time.Now()) })
	defer stop()
	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("msrp: accept: %w", ctx.Err())
		}
		return nil, fmt.Errorf("msrp: accept: %w", err)
	}
	_ = ln.SetDeadline(time.Time{})
	return conn, nil
}

type pendingChunk struct {
	msgID string
	typ   ChunkType
	last  bool
}

type inboundMessage struct {
	mimeType string
	data     []byte
}

type session struct {
	manager    *Manager
	dialAddr   string
	remotePath string
	localPath  string
	listener   Listener

	writeMu sync.Mutex
	conn    net.Conn

	mu      sync.Mutex
	pending map[string]pendingChunk
	inbound map[string]*inboundMessage
	// rejected holds messages answered 413 whose remaining chunks are
	// still arriving.
	rejected map[string]bool
	closed   bool
}

func (s *session) Open(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.manager.opts.OpenTimeout)
	defer cancel()

	var conn net.Conn
	var err error
	if s.dialAddr != "" {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", s.dialAddr)
		if err != nil {
			return fmt.Errorf("msrp: connect %s: %w", s.dialAddr, err)
		}
	} else {
		conn, err = s.manager.accept(ctx)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.mu.Unlock()
	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()
	go s.readLoop(conn)
	return nil
}

func newTID() string {
	return ids.GenerateString(10, alphanumeric)
}

func (s *session) SendChunks(msgID string, data []byte, mimeType string, typ ChunkType) error {
	if len(data) == 0 {
		return s.SendEmptyChunk()
	}
	size := s.manager.opts.ChunkSize
	total := len(data)
	for start := 0; start < total; start += size {
		end := min(start+size, total)
		last := end == total
		flag := byte(flagMore)
		if last {
			flag = flagComplete
		}
		f := sendFrame{
			tid:      newTID(),
			toPath:   s.remotePath,
			fromPath: s.localPath,
			msgID:    msgID,
			mimeType: mimeType,
			start:    start + 1,
			end:      end,
			total:    total,
			body:     data[start:end],
			flag:     flag,
		}
		s.track(f.tid, pendingChunk{msgID: msgID, typ: typ, last: last})
		if err := s.write(f.encode()); err != nil {
			s.untrack(f.tid)
			return err
		}
	}
	return nil
}

func (s *session) SendEmptyChunk() error {
	f := sendFrame{
		tid:      newTID(),
		toPath:   s.remotePath,
		fromPath: s.localPath,
		msgID:    uuid.NewString(),
	}
	s.track(f.tid, pendingChunk{typ: ChunkEmpty, last: true})
	if err := s.write(f.encode()); err != nil {
		s.untrack(f.tid)
		return err
	}
	return nil
}

func (s *session) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return ErrClosed
	}
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("msrp: write: %w", err)
	}
	return nil
}

func (s *session) track(tid string, p pendingChunk) {
	s.mu.Lock()
	s.pending[tid] = p
	s.mu.Unlock()
}

func (s *session) untrack(tid string) {
	s.mu.Lock()
	delete(s.pending, tid)
	s.mu.Unlock()
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		f, err := readFrame(r)
		if err != nil {
			if s.isClosed() {
				return
			}
			if errors.Is(err, errMalformed) {
				s.manager.logger.Warn("dropping msrp connection", zap.Error(err))
			}
			s.listener.TransferError("", "connection lost: "+err.Error(), ChunkEmpty)
			_ = s.Close()
			return
		}
		if f.isResponse() {
			s.handleResponse(f)
			continue
		}
		s.handleRequest(f)
	}
}

func (s *session) handleResponse(f *frame) {
	s.mu.Lock()
	p, ok := s.pending[f.tid]
	delete(s.pending, f.tid)
	s.mu.Unlock()
	if !ok || p.typ == ChunkEmpty {
		return
	}
	if f.status == 200 {
		if p.last {
			s.listener.TransferComplete(p.msgID)
		}
		return
	}
	// One failure per message: the remaining chunks are not reported.
	s.mu.Lock()
	for tid, other := range s.pending {
		if other.msgID == p.msgID {
			delete(s.pending, tid)
		}
	}
	s.mu.Unlock()
	s.listener.TransferError(p.msgID, fmt.Sprintf("%d %s", f.status, f.comment), p.typ)
}

func (s *session) handleRequest(f *frame) {
	if f.method != "SEND" {
		// REPORT and unknown methods are acknowledged but not acted upon.
		if f.method != "REPORT" {
			_ = s.write(encodeResponse(f.tid, 501, "Unknown method", f.header("From-Path"), s.localPath))
		}
		return
	}
	respond := f.header("Failure-Report") != "no"
	if len(f.body) == 0 {
		if respond {
			_ = s.write(encodeResponse(f.tid, 200, "OK", f.header("From-Path"), s.localPath))
		}
		return
	}
	msgID := f.header("Message-ID")
	s.mu.Lock()
	if s.rejected[msgID] {
		if f.flag != flagMore {
			delete(s.rejected, msgID)
		}
		s.mu.Unlock()
		return
	}
	size := len(f.body)
	if in := s.inbound[msgID]; in != nil {
		size += len(in.data)
	}
	if size > s.manager.opts.MaxMessageSize {
		delete(s.inbound, msgID)
		if f.flag == flagMore {
			s.rejected[msgID] = true
		}
		s.mu.Unlock()
		s.manager.logger.Warn("incoming msrp message too large", zap.String("msg_id", msgID), zap.Int("size", size))
		if respond {
			_ = s.write(encodeResponse(f.tid, 413, "Message too large", f.header("From-Path"), s.localPath))
		}
		return
	}
	s.mu.Unlock()
	if respond {
		_ = s.write(encodeResponse(f.tid, 200, "OK", f.header("From-Path"), s.localPath))
	}

	s.mu.Lock()
	in := s.inbound[msgID]
	if in == nil {
		in = &inboundMessage{mimeType: f.header("Content-Type")}
		s.inbound[msgID] = in
	}
	in.data = append(in.data, f.body...)
	switch f.flag {
	case flagMore:
		s.mu.Unlock()
		return
	case flagAbort:
		delete(s.inbound, msgID)
		s.mu.Unlock()
		return
	}
	delete(s.inbound, msgID)
	s.mu.Unlock()
	s.listener.DataReceived(msgID, in.data, in.mimeType)
}
