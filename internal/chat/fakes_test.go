package chat

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/contribution"
	"github.com/matheus3301/rcschat/internal/cpim"
	"github.com/matheus3301/rcschat/internal/media"
	"github.com/matheus3301/rcschat/internal/msrp"
	"github.com/matheus3301/rcschat/internal/sip"
	"github.com/matheus3301/rcschat/internal/store"
)

const (
	aliceURI = "tel:+33611111111"
	bobURI   = "tel:+33622222222"
	carolURI = "tel:+33633333333"
)

// fakeDialog answers SendRequest from a script and records what was sent.
type fakeDialog struct {
	mu        sync.Mutex
	offer     *sip.Request
	responses []*sip.Response
	sent      []*sip.Request
	rejected  []int
	byes      int
	cancels   int
	est       bool
	handler   sip.RequestHandler
	// rejectDelay slows Reject down to widen races with it.
	rejectDelay time.Duration
}

func (d *fakeDialog) CallID() string       { return "call-1@127.0.0.1" }
func (d *fakeDialog) LocalParty() string   { return aliceURI }
func (d *fakeDialog) RemoteParty() string  { return "sip:focus@conf.example.org" }
func (d *fakeDialog) LocalAddress() string { return "127.0.0.1" }
func (d *fakeDialog) Offer() *sip.Request  { return d.offer }

func (d *fakeDialog) SendRequest(_ context.Context, req *sip.Request) (*sip.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	if len(d.responses) == 0 {
		return sip.NewResponse(sip.StatusOK, "OK"), nil
	}
	resp := d.responses[0]
	d.responses = d.responses[1:]
	return resp, nil
}

func (d *fakeDialog) Authorize(req *sip.Request, challenge *sip.Response) error {
	req.Header.Set("Proxy-Authorization", "Digest "+challenge.Header.Get("Proxy-Authenticate"))
	return nil
}

func (d *fakeDialog) SendProvisional(context.Context, int) error { return nil }

func (d *fakeDialog) SendAnswer(context.Context, *sip.Response) error {
	d.mu.Lock()
	d.est = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDialog) Reject(_ context.Context, code int, _ string) error {
	time.Sleep(d.rejectDelay)
	d.mu.Lock()
	d.rejected = append(d.rejected, code)
	d.mu.Unlock()
	return nil
}

func (d *fakeDialog) Ack(context.Context) error { return nil }

func (d *fakeDialog) Cancel(context.Context) error {
	d.mu.Lock()
	d.cancels++
	d.mu.Unlock()
	return nil
}

func (d *fakeDialog) Bye(context.Context) error {
	d.mu.Lock()
	d.byes++
	d.est = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDialog) Established() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.est
}

func (d *fakeDialog) SetHandler(h sip.RequestHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *fakeDialog) rejections() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.rejected...)
}

func (d *fakeDialog) byeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.byes
}

func (d *fakeDialog) requests() []*sip.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*sip.Request(nil), d.sent...)
}

type chunk struct {
	msgID string
	data  string
	typ   msrp.ChunkType
}

// fakeChannel is an msrp.Session that records chunks.
type fakeChannel struct {
	mu     sync.Mutex
	chunks []chunk
	err    error
	closed bool
}

func (c *fakeChannel) Open(context.Context) error { return nil }

func (c *fakeChannel) SendChunks(msgID string, data []byte, _ string, typ msrp.ChunkType) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, chunk{msgID: msgID, data: string(data), typ: typ})
	return nil
}

func (c *fakeChannel) SendEmptyChunk() error { return nil }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeChannel) sent(typ msrp.ChunkType) []chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chunk
	for _, ch := range c.chunks {
		if ch.typ == typ {
			out = append(out, ch)
		}
	}
	return out
}

type fakeTransport struct{}

func (fakeTransport) LocalPort() (int, error) { return 20000, nil }
func (fakeTransport) LocalPath(int) string    { return "msrp://127.0.0.1:20000/fake;tcp" }
func (fakeTransport) CreateClientSession(string, int, string, string, msrp.Listener) (msrp.Session, error) {
	return &fakeChannel{}, nil
}
func (fakeTransport) CreateServerSession(string, msrp.Listener) (msrp.Session, error) {
	return &fakeChannel{}, nil
}
func (fakeTransport) Close() error { return nil }

// fakeUA only reports its identity; sessions built on it get their dialog
// injected directly.
type fakeUA struct{}

func (fakeUA) LocalURI() string                     { return aliceURI }
func (fakeUA) NewDialog(string) (sip.Dialog, error) { return &fakeDialog{}, nil }
func (fakeUA) HandleInvites(sip.InviteHandler)      {}

func testStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "rcs.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testDeps(t *testing.T, ua sip.UserAgent, b *bus.Bus) Deps {
	t.Helper()
	gen, err := contribution.NewGenerator("device-secret")
	require.NoError(t, err)
	settings := DefaultSettings()
	settings.ResponseTimeout = 2 * time.Second
	settings.RingingTimeout = 2 * time.Second
	return Deps{
		UA:           ua,
		Store:        testStore(t),
		Bus:          b,
		Contribution: gen,
		NewTransport: func() msrp.Transport { return fakeTransport{} },
		Settings:     settings,
		Logger:       zap.NewNop(),
	}
}

// establishedSession builds a session already in the established state
// over a fake dialog and channel.
func establishedSession(t *testing.T, kind Kind, b *bus.Bus) (*Session, *fakeDialog, *fakeChannel) {
	t.Helper()
	d := &fakeDialog{est: true}
	deps := testDeps(t, fakeUA{}, b)
	p := sessionParams{
		kind:           kind,
		direction:      Originating,
		dialog:         d,
		remote:         "+33622222222",
		target:         bobURI,
		contributionID: "0123456789abcdef0123456789abcdef",
	}
	s := newSession(context.Background(), deps, p, nil)
	ch := &fakeChannel{}
	s.mu.Lock()
	s.state = StateEstablished
	s.channel = ch
	s.mu.Unlock()
	t.Cleanup(func() { s.Terminate(ReasonSystem) })
	return s, d, ch
}

// ringingSession builds an incoming 1-1 session waiting for the user's
// answer.
func ringingSession(t *testing.T, b *bus.Bus) (*Session, *fakeDialog) {
	t.Helper()
	d := &fakeDialog{}
	deps := testDeps(t, fakeUA{}, b)
	p := sessionParams{
		kind:           KindOneToOne,
		direction:      Terminating,
		dialog:         d,
		remote:         "+33622222222",
		target:         bobURI,
		contributionID: "fedcba9876543210fedcba9876543210",
	}
	s := newSession(context.Background(), deps, p, nil)
	s.mu.Lock()
	s.state = StateRinging
	s.mu.Unlock()
	t.Cleanup(func() { s.Terminate(ReasonSystem) })
	return s, d
}

// groupInvitation is a terminating dialog whose INVITE comes from a
// conference focus for contributionID.
func groupInvitation(t *testing.T, contributionID string) *fakeDialog {
	t.Helper()
	desc := media.Description{
		Host:         "127.0.0.1",
		Port:         20001,
		Path:         "msrp://127.0.0.1:20001/focus;tcp",
		Setup:        media.SetupActpass,
		AcceptTypes:  []string{cpim.MimeType},
		WrappedTypes: []string{MimeText},
	}
	body, err := desc.Marshal()
	require.NoError(t, err)
	req := sip.NewRequest(sip.MethodInvite, aliceURI)
	req.From = "sip:focus@conf.example.org"
	req.Header.Set("Contribution-ID", contributionID)
	req.Header.Set("Contact", "<sip:focus@conf.example.org>;isfocus")
	req.Header.Set("Subject", "trip")
	req.ContentType = media.MimeType
	req.Body = body
	return &fakeDialog{offer: req}
}

// waitFor reads events until one of kind arrives.
func waitFor(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return bus.Event{}
		}
	}
}
