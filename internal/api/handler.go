// Package api serves the daemon's HTTP API: chat sessions, history, the
// outbox, a websocket event stream and metrics.
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/chat"
	"github.com/matheus3301/rcschat/internal/status"
)

// Handler handles HTTP requests.
type Handler struct {
	chats    Chats
	archive  Archive
	replay   Replayer
	bus      *bus.Bus
	machine  *status.Machine
	metrics  http.Handler
	profile  string
	logger   *zap.Logger
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// Deps are the collaborators of a Handler. Metrics and Replay are optional.
type Deps struct {
	Chats   Chats
	Archive Archive
	Replay  Replayer
	Bus     *bus.Bus
	Machine *status.Machine
	Metrics http.Handler
	Profile string
	Logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chats:    d.Chats,
		archive:  d.Archive,
		replay:   d.Replay,
		bus:      d.Bus,
		machine:  d.Machine,
		metrics:  d.Metrics,
		profile:  d.Profile,
		logger:   logger.Named("api"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		closing:  make(chan struct{}),
	}
}

// Close ends open event streams. Hijacked websocket connections are not
// closed by the HTTP server's shutdown.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	v1 := e.Group("/v1")

	v1.GET("/sessions", h.ListSessions)
	v1.POST("/sessions", h.StartSession)
	v1.GET("/sessions/:id", h.GetSession)
	v1.POST("/sessions/:id/accept", h.AcceptSession)
	v1.POST("/sessions/:id/reject", h.RejectSession)
	v1.POST("/sessions/:id/terminate", h.TerminateSession)
	v1.POST("/sessions/:id/messages", h.SendMessage)
	v1.POST("/sessions/:id/composing", h.SetComposing)
	v1.POST("/sessions/:id/participants", h.InviteParticipants)

	v1.POST("/groups/:chatId/rejoin", h.RejoinGroup)
	v1.POST("/groups/:chatId/restart", h.RestartGroup)

	v1.GET("/chats/:chatId/messages", h.ListMessages)
	v1.GET("/search", h.Search)
	v1.POST("/outbox", h.QueueOutbox)
	v1.GET("/outbox/:clientMsgId", h.GetOutbox)

	v1.GET("/events", h.Events)

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
	e.GET("/healthz", h.Health)
}

// Health reports the daemon state; it answers 503 until the daemon serves.
// GET /healthz
func (h *Handler) Health(c echo.Context) error {
	code := http.StatusOK
	state := status.Ready
	if h.machine != nil {
		state = h.machine.Current()
		if !state.Serving() {
			code = http.StatusServiceUnavailable
		}
	}
	return c.JSON(code, map[string]any{
		"status":   state,
		"profile":  h.profile,
		"sessions": len(h.chats.Sessions()),
	})
}

func errorJSON(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}

// engineError maps chat engine errors onto HTTP status codes.
func (h *Handler) engineError(c echo.Context, err error) error {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), chat.CodeOf(err) == chat.CodeSessionNotFound:
		code = http.StatusNotFound
	case errors.Is(err, chat.ErrNotEstablished), errors.Is(err, chat.ErrNoDecisionPending),
		errors.Is(err, chat.ErrSessionExists):
		code = http.StatusConflict
	case errors.Is(err, chat.ErrNotGroup), errors.Is(err, chat.ErrTooManyParticipants):
		code = http.StatusBadRequest
	case errors.Is(err, chat.ErrClosed):
		code = http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrSendFailed):
		code = http.StatusBadGateway
	}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return errorJSON(c, code, err.Error())
}
