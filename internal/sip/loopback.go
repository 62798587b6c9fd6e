package sip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/matheus3301/rcschat/internal/contact"
)

// OutOfDialogHandler answers a request that opens a new non-INVITE dialog
// (SUBSCRIBE to a conference focus, for instance). The handler may keep d to
// send requests back later.
type OutOfDialogHandler func(d Dialog, req *Request) *Response

// Network is an in-process SIP network. Agents registered on it reach each
// other by contact identity.
type Network struct {
	mu     sync.RWMutex
	agents map[contact.ID]*Agent
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{agents: make(map[contact.ID]*Agent)}
}

// Agent registers a user agent for uri. addr is the IP address its dialogs
// advertise.
func (n *Network) Agent(uri, addr string) (*Agent, error) {
	id, ok := contact.Parse(uri)
	if !ok {
		return nil, fmt.Errorf("sip: invalid agent uri %q", uri)
	}
	a := &Agent{network: n, uri: uri, addr: addr}
	n.mu.Lock()
	n.agents[id] = a
	n.mu.Unlock()
	return a, nil
}

func (n *Network) lookup(uri string) *Agent {
	id, ok := contact.Parse(uri)
	if !ok {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.agents[id]
}

// Agent is a loopback user agent.
type Agent struct {
	network *Network
	uri     string
	addr    string

	mu        sync.RWMutex
	onInvite  InviteHandler
	onRequest OutOfDialogHandler
}

var _ UserAgent = (*Agent)(nil)

func (a *Agent) LocalURI() string { return a.uri }

// HandleInvites installs the handler for incoming sessions.
func (a *Agent) HandleInvites(h InviteHandler) {
	a.mu.Lock()
	a.onInvite = h
	a.mu.Unlock()
}

// HandleRequests installs the handler for dialog-creating non-INVITE
// requests.
func (a *Agent) HandleRequests(h OutOfDialogHandler) {
	a.mu.Lock()
	a.onRequest = h
	a.mu.Unlock()
}

// NewDialog creates an originating dialog towards target.
func (a *Agent) NewDialog(target string) (Dialog, error) {
	return newDialog(a, target, uuid.NewString()+"@"+a.addr), nil
}

type dialog struct {
	agent  *Agent
	callID string
	local  string
	remote string
	offer  *Request

	mu          sync.Mutex
	peer        *dialog
	handler     RequestHandler
	established bool
	terminated  bool
	final       chan *Response
	acked       chan struct{}
	ackOnce     sync.Once
	provisional []int
}

func newDialog(a *Agent, remote, callID string) *dialog {
	return &dialog{
		agent:  a,
		callID: callID,
		local:  a.uri,
		remote: remote,
		final:  make(chan *Response, 1),
		acked:  make(chan struct{}),
	}
}

func (d *dialog) CallID() string       { return d.callID }
func (d *dialog) LocalParty() string   { return d.local }
func (d *dialog) RemoteParty() string  { return d.remote }
func (d *dialog) LocalAddress() string { return d.agent.addr }
func (d *dialog) Offer() *Request      { return d.offer }

func (d *dialog) Established() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.established && !d.terminated
}

func (d *dialog) SetHandler(h RequestHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *dialog) getPeer() *dialog {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer
}

func (d *dialog) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = Header{}
	}
	req.From = d.local
	if peer := d.getPeer(); peer != nil && req.Method != MethodInvite {
		return peer.deliver(req), nil
	}
	target := d.agent.network.lookup(d.remote)
	if target == nil {
		return NewResponse(StatusNotFound, "Not Found"), nil
	}
	peer := newDialog(target, d.local, d.callID)
	peer.offer = req
	d.mu.Lock()
	d.peer = peer
	d.mu.Unlock()
	peer.mu.Lock()
	peer.peer = d
	peer.mu.Unlock()

	if req.Method != MethodInvite {
		target.mu.RLock()
		h := target.onRequest
		target.mu.RUnlock()
		if h == nil {
			return NewResponse(StatusNotImplemented, "Not Implemented"), nil
		}
		resp := h(peer, req)
		if resp.Success() {
			d.setEstablished()
			peer.setEstablished()
		}
		return resp, nil
	}

	target.mu.RLock()
	h := target.onInvite
	target.mu.RUnlock()
	if h == nil {
		return NewResponse(StatusTemporarilyUnavailable, "Temporarily Unavailable"), nil
	}
	go h(peer)

	select {
	case resp := <-d.final:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func (d *dialog) deliver(req *Request) *Response {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	switch req.Method {
	case MethodBye:
		d.terminate()
		if peer := d.getPeer(); peer != nil {
			peer.terminate()
		}
	case MethodCancel:
		d.terminate()
		if peer := d.getPeer(); peer != nil {
			peer.pushFinal(NewResponse(StatusRequestTerminated, "Request Terminated"))
		}
	}
	if h == nil {
		if req.Method == MethodBye || req.Method == MethodCancel {
			return NewResponse(StatusOK, "OK")
		}
		return NewResponse(StatusNotImplemented, "Not Implemented")
	}
	return h(req)
}

func (d *dialog) Authorize(req *Request, challenge *Response) error {
	auth := challenge.Header.Get("Proxy-Authenticate")
	if auth == "" {
		return errors.New("sip: challenge without Proxy-Authenticate")
	}
	req.Header.Set("Proxy-Authorization", fmt.Sprintf(`Digest username="%s", %s`, d.local, trimScheme(auth)))
	return nil
}

func trimScheme(challenge string) string {
	const digest = "Digest "
	if len(challenge) > len(digest) && challenge[:len(digest)] == digest {
		return challenge[len(digest):]
	}
	return challenge
}

func (d *dialog) SendProvisional(_ context.Context, code int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.terminated {
		return ErrTerminated
	}
	d.provisional = append(d.provisional, code)
	return nil
}

func (d *dialog) SendAnswer(ctx context.Context, resp *Response) error {
	peer := d.getPeer()
	if peer == nil {
		return ErrTerminated
	}
	peer.pushFinal(resp)
	select {
	case <-d.acked:
		d.setEstablished()
		return nil
	case <-ctx.Done():
		return ErrNoAck
	}
}

func (d *dialog) Reject(_ context.Context, code int, reason string) error {
	peer := d.getPeer()
	if peer == nil {
		return ErrTerminated
	}
	peer.pushFinal(NewResponse(code, reason))
	d.terminate()
	return nil
}

func (d *dialog) Ack(context.Context) error {
	peer := d.getPeer()
	if peer == nil {
		return ErrTerminated
	}
	d.setEstablished()
	peer.ackOnce.Do(func() { close(peer.acked) })
	return nil
}

func (d *dialog) Cancel(ctx context.Context) error {
	peer := d.getPeer()
	if peer == nil {
		d.pushFinal(NewResponse(StatusRequestTerminated, "Request Terminated"))
		return nil
	}
	req := NewRequest(MethodCancel, d.remote)
	req.From = d.local
	peer.deliver(req)
	d.pushFinal(NewResponse(StatusRequestTerminated, "Request Terminated"))
	d.terminate()
	return nil
}

func (d *dialog) Bye(ctx context.Context) error {
	peer := d.getPeer()
	d.terminate()
	if peer == nil {
		return nil
	}
	req := NewRequest(MethodBye, d.remote)
	req.From = d.local
	peer.deliver(req)
	return nil
}

func (d *dialog) pushFinal(resp *Response) {
	select {
	case d.final <- resp:
	default:
	}
}

func (d *dialog) setEstablished() {
	d.mu.Lock()
	d.established = true
	d.mu.Unlock()
}

func (d *dialog) terminate() {
	d.mu.Lock()
	d.terminated = true
	d.mu.Unlock()
}
