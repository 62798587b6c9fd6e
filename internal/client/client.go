// Package client talks to a running daemon: gRPC health on the profile
// socket, everything else over the HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/rcschat/internal/api"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/store"
)

// APIError is a non-2xx answer from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon: %d %s", e.Status, e.Message)
}

// Client wraps the connections to one daemon.
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient

	base string
	http *http.Client
}

// New dials the daemon's Unix domain socket and targets the HTTP API at
// apiAddr (host:port).
func New(socketPath, apiAddr string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
		base:   "http://" + apiAddr,
		http:   &http.Client{},
	}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Serving reports the health of service ("" for the whole daemon).
func (c *Client) Serving(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.Health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Health is the body of GET /healthz.
type Health struct {
	Status   string `json:"status"`
	Profile  string `json:"profile"`
	Sessions int    `json:"sessions"`
}

func (c *Client) HTTPHealth(ctx context.Context) (*Health, error) {
	var h Health
	// /healthz answers 503 with the same body while not serving.
	err := c.do(ctx, http.MethodGet, "/healthz", nil, &h)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusServiceUnavailable && h.Status != "" {
		return &h, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) Sessions(ctx context.Context) ([]chat.Info, error) {
	var out struct {
		Sessions []chat.Info `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

func (c *Client) Session(ctx context.Context, id string) (*chat.Info, error) {
	var info chat.Info
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(id), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Start opens a 1-1 session (req.To) or a group chat (req.Participants).
func (c *Client) Start(ctx context.Context, req api.StartRequest) (*chat.Info, error) {
	var info chat.Info
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Accept(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/accept", nil, nil)
}

func (c *Client) Reject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/reject", nil, nil)
}

func (c *Client) Terminate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/terminate", nil, nil)
}

func (c *Client) Send(ctx context.Context, id, text string) (*chat.Message, error) {
	var m chat.Message
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/messages", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Composing(ctx context.Context, id string, active bool) error {
	body := map[string]bool{"active": active}
	return c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/composing", body, nil)
}

func (c *Client) Invite(ctx context.Context, id string, contacts []string) (*chat.Info, error) {
	var info chat.Info
	body := map[string][]string{"contacts": contacts}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(id)+"/participants", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Rejoin(ctx context.Context, chatID string) (*chat.Info, error) {
	return c.group(ctx, chatID, "rejoin")
}

func (c *Client) Restart(ctx context.Context, chatID string) (*chat.Info, error) {
	return c.group(ctx, chatID, "restart")
}

func (c *Client) group(ctx context.Context, chatID, action string) (*chat.Info, error) {
	var info chat.Info
	if err := c.do(ctx, http.MethodPost, "/v1/groups/"+url.PathEscape(chatID)+"/"+action, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Messages pages backwards through a chat from before (0 = now).
func (c *Client) Messages(ctx context.Context, chatID string, before int64, limit int) ([]store.Message, bool, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []store.Message `json:"messages"`
		HasMore  bool            `json:"has_more"`
	}
	path := "/v1/chats/" + url.PathEscape(chatID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, false, err
	}
	return out.Messages, out.HasMore, nil
}

func (c *Client) Search(ctx context.Context, query, chatID string, limit int) ([]store.SearchResult, error) {
	q := url.Values{"q": {query}}
	if chatID != "" {
		q.Set("chat_id", chatID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Results []store.SearchResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Queue adds a message to the outbox and returns its client message ID.
func (c *Client) Queue(ctx context.Context, req api.OutboxRequest) (string, error) {
	var out struct {
		ClientMsgID string `json:"client_msg_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/outbox", req, &out); err != nil {
		return "", err
	}
	return out.ClientMsgID, nil
}

func (c *Client) Outbox(ctx context.Context, clientMsgID string) (*store.OutboxEntry, error) {
	var e store.OutboxEntry
	if err := c.do(ctx, http.MethodGet, "/v1/outbox/"+url.PathEscape(clientMsgID), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Events streams frames to fn until ctx is cancelled, the daemon closes the
// stream, or fn returns an error. since replays journaled events first.
func (c *Client) Events(ctx context.Context, since int64, chatID string, fn func(api.Frame) error) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return err
	}
	u.Scheme = "ws"
	u.Path = "/v1/events"
	q := url.Values{}
	if since > 0 {
		q.Set("since", strconv.FormatInt(since, 10))
	}
	if chatID != "" {
		q.Set("chat_id", chatID)
	}
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial events: %w", err)
	}
	defer func() { _ = ws.Close() }()

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	defer stop()

	for {
		var f api.Frame
		if err := ws.ReadJSON(&f); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		if out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
