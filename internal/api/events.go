package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/bus"
	"github.com/matheus3301/rcschat/internal/history"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	replayLimit  = 1000
)

// Frame is one event on the websocket stream. Seq is set on replayed
// frames only.
type Frame struct {
	Seq     int64           `json:"seq,omitempty"`
	Kind    string          `json:"kind"`
	TS      int64           `json:"ts"`
	ChatID  string          `json:"chat_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Events upgrades to a websocket streaming bus events as JSON frames. With
// since=<seq> the journal after seq is replayed first; frames replayed and
// streamed live may overlap, and clients dedupe on message IDs.
// GET /v1/events?since=<seq>&chat_id=<id>
func (h *Handler) Events(c echo.Context) error {
	chatID := c.QueryParam("chat_id")
	since := int64(-1)
	if raw := c.QueryParam("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return errorJSON(c, http.StatusBadRequest, "since must be a sequence number")
		}
		since = v
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer func() { _ = ws.Close() }()

	// Subscribe before replaying so nothing falls between the two.
	events, unsub := h.bus.Subscribe("", 256)
	defer unsub()

	if since >= 0 && h.replay != nil {
		entries, err := h.replay.Replay(since, chatID, replayLimit)
		if err != nil {
			h.logger.Error("journal replay failed", zap.Error(err))
		}
		for _, e := range entries {
			f := Frame{Seq: e.Seq, Kind: e.Kind, TS: e.Timestamp, ChatID: e.ChatID, Payload: json.RawMessage(e.Payload)}
			if err := writeFrame(ws, f); err != nil {
				return nil
			}
		}
	}

	closed := make(chan struct{})
	go readPump(ws, closed)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case evt := <-events:
			f, ok := liveFrame(evt)
			if !ok || (chatID != "" && f.ChatID != chatID) {
				continue
			}
			if err := writeFrame(ws, f); err != nil {
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		case <-h.closing:
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			return nil
		}
	}
}

func liveFrame(evt bus.Event) (Frame, bool) {
	e, err := history.Entry(evt)
	if err != nil {
		return Frame{}, false
	}
	return Frame{Kind: e.Kind, TS: e.Timestamp, ChatID: e.ChatID, Payload: json.RawMessage(e.Payload)}, true
}

func writeFrame(ws *websocket.Conn, f Frame) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(f)
}

// readPump discards client frames and closes done once the peer goes away.
func readPump(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
