package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/rcschat/internal/api"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New("/nonexistent.sock", strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions", r.URL.Path)
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","chat_id":"+33622222222","kind":"one-to-one","state":"established"}]}`))
	}))

	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Equal(t, "+33622222222", sessions[0].ChatID)
}

func TestStartSendsRequestBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req api.StartRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+33622222222", req.To)
		assert.Equal(t, "hi", req.Text)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"s9","remote":"+33622222222"}`))
	}))

	info, err := c.Start(context.Background(), api.StartRequest{To: "+33622222222", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "s9", info.ID)
}

func TestErrorBodyBecomesAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"session not established"}`))
	}))

	err := c.Accept(context.Background(), "s1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "session not established", apiErr.Message)
}

func TestHTTPHealthWhileNotServing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"STARTING","profile":"main","sessions":0}`))
	}))

	h, err := c.HTTPHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "STARTING", h.Status)
	assert.Equal(t, "main", h.Profile)
}

func TestMessagesQuery(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chats/+33622222222/messages", r.URL.Path)
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		assert.Equal(t, "500", r.URL.Query().Get("before"))
		_, _ = w.Write([]byte(`{"messages":[{"msg_id":"m1","content":"hello"}],"has_more":true}`))
	}))

	msgs, more, err := c.Messages(context.Background(), "+33622222222", 500, 10)
	require.NoError(t, err)
	assert.True(t, more)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].MsgID)
}

func TestEventsStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "7", r.URL.Query().Get("since"))
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()
		_ = ws.WriteJSON(api.Frame{Seq: 8, Kind: "chat.message_received", ChatID: "c1", Payload: json.RawMessage(`{}`)})
		_ = ws.WriteJSON(api.Frame{Seq: 9, Kind: "chat.message_sent", ChatID: "c1", Payload: json.RawMessage(`{}`)})
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var seqs []int64
	err := c.Events(ctx, 7, "", func(f api.Frame) error {
		seqs = append(seqs, f.Seq)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{8, 9}, seqs)
}
