package conference

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/sip"
)

const sample = `<?xml version="1.0" encoding="UTF-8"?>
<conference-info xmlns="urn:ietf:params:xml:ns:conference-info" entity="sip:conf1@example.org" state="partial" version="3">
 <conference-description><maximum-user-count>20</maximum-user-count></conference-description>
 <users>
  <user entity="tel:+33611111111" state="full">
   <display-text>Bob</display-text>
   <endpoint entity="sip:+33611111111@example.org"><status>connected</status></endpoint>
  </user>
  <user entity="tel:+33622222222" state="full">
   <endpoint entity="sip:+33622222222@example.org">
    <status>disconnected</status>
    <disconnection-method>failed</disconnection-method>
    <disconnection-info><reason>SIP;cause=603;text="Decline"</reason></disconnection-info>
   </endpoint>
  </user>
 </users>
</conference-info>`

func TestParse(t *testing.T) {
	info, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "sip:conf1@example.org", info.Entity)
	assert.Equal(t, 3, info.Version)
	assert.Equal(t, 20, info.MaxUserCount)
	require.Len(t, info.Users, 2)
	assert.Equal(t, User{Entity: "tel:+33611111111", DisplayText: "Bob", State: StateConnected}, info.Users[0])
	assert.Equal(t, StateDisconnected, info.Users[1].State)
	assert.Equal(t, StateFailed, info.Users[1].DisconnectionMethod)
	assert.Contains(t, info.Users[1].FailureReason, "603")

	_, err = Parse([]byte("<conference-info/>"))
	assert.Error(t, err, "namespace is mandatory")
}

type recordingHandler struct {
	mu         sync.Mutex
	infos      []*Info
	terminated int
}

func (h *recordingHandler) ConferenceInfo(info *Info) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infos = append(h.infos, info)
}

func (h *recordingHandler) SubscriptionTerminated() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated++
}

func newFocus(t *testing.T, respond func(req *sip.Request, n int) *sip.Response) (*sip.Agent, *sip.Agent, *sip.Dialog) {
	t.Helper()
	network := sip.NewNetwork()
	me, err := network.Agent("tel:+33600000000", "127.0.0.1")
	require.NoError(t, err)
	focus, err := network.Agent("sip:conf1@example.org", "127.0.0.1")
	require.NoError(t, err)
	var server sip.Dialog
	n := 0
	focus.HandleRequests(func(d sip.Dialog, req *sip.Request) *sip.Response {
		server = d
		d.SetHandler(func(req *sip.Request) *sip.Response {
			n++
			return respond(req, n)
		})
		n++
		return respond(req, n)
	})
	return me, focus, &server
}

func TestSubscribeAuthRetryAndNotify(t *testing.T) {
	var expires []string
	me, focus, server := newFocus(t, func(req *sip.Request, n int) *sip.Response {
		expires = append(expires, req.Header.Get("Expires"))
		if n == 1 {
			r := sip.NewResponse(sip.StatusProxyAuthRequired, "Proxy Authentication Required")
			r.Header.Set("Proxy-Authenticate", `Digest realm="ims", nonce="abc"`)
			return r
		}
		assert.NotEmpty(t, req.Header.Get("Proxy-Authorization"))
		return sip.NewResponse(sip.StatusOK, "OK")
	})

	h := &recordingHandler{}
	s := NewSubscriber(me, focus.LocalURI(), 0, h, zap.NewNop())
	require.NoError(t, s.Subscribe(context.Background()))
	assert.True(t, s.Subscribed())

	notify := sip.NewRequest(sip.MethodNotify, me.LocalURI())
	notify.Body = []byte(sample)
	resp, err := (*server).SendRequest(context.Background(), notify)
	require.NoError(t, err)
	assert.Equal(t, sip.StatusOK, resp.StatusCode)

	bye := sip.NewRequest(sip.MethodNotify, me.LocalURI())
	bye.Header.Set("Subscription-State", "terminated;reason=noresource")
	_, err = (*server).SendRequest(context.Background(), bye)
	require.NoError(t, err)

	h.mu.Lock()
	assert.Len(t, h.infos, 1)
	assert.Equal(t, 1, h.terminated)
	h.mu.Unlock()
	assert.False(t, s.Subscribed())

	require.NoError(t, s.Unsubscribe(context.Background()))
	assert.Equal(t, []string{"3600", "3600"}, expires)
}

func TestSubscribeIntervalTooBrief(t *testing.T) {
	var expires []string
	me, focus, _ := newFocus(t, func(req *sip.Request, n int) *sip.Response {
		expires = append(expires, req.Header.Get("Expires"))
		if n == 1 {
			r := sip.NewResponse(sip.StatusIntervalTooBrief, "Interval Too Brief")
			r.Header.Set("Min-Expires", "7200")
			return r
		}
		return sip.NewResponse(sip.StatusAccepted, "Accepted")
	})
	s := NewSubscriber(me, focus.LocalURI(), 0, &recordingHandler{}, zap.NewNop())
	require.NoError(t, s.Subscribe(context.Background()))

	require.NoError(t, s.Unsubscribe(context.Background()))
	assert.Equal(t, []string{"3600", "7200", "0"}, expires)
}

func TestSubscribeRejected(t *testing.T) {
	me, focus, _ := newFocus(t, func(*sip.Request, int) *sip.Response {
		return sip.NewResponse(sip.StatusForbidden, "Forbidden")
	})
	s := NewSubscriber(me, focus.LocalURI(), 0, &recordingHandler{}, zap.NewNop())
	err := s.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrSubscribeFailed)
	assert.False(t, s.Subscribed())
}
