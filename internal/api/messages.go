package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/matheus3301/rcschat/internal/contact"
	"github.com/matheus3301/rcschat/internal/store"
)

// OutboxRequest queues a message for a chat or a contact.
type OutboxRequest struct {
	ClientMsgID string `json:"client_msg_id"`
	ChatID      string `json:"chat_id"`
	To          string `json:"to"`
	Text        string `json:"text"`
}

// ListMessages returns a page of a chat's history, newest first.
// GET /v1/chats/:chatId/messages?before=<ms>&limit=<n>
func (h *Handler) ListMessages(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	before, _ := strconv.ParseInt(c.QueryParam("before"), 10, 64)

	messages, err := h.archive.ListMessages(c.Param("chatId"), before, limit+1)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "failed to list messages")
	}
	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []store.Message{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"messages": messages,
		"has_more": hasMore,
	})
}

// Search runs a full-text query over message content.
// GET /v1/search?q=<query>&chat_id=<id>&limit=<n>
func (h *Handler) Search(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return errorJSON(c, http.StatusBadRequest, "q is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	results, err := h.archive.SearchMessages(q, c.QueryParam("chat_id"), limit)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "search failed: "+err.Error())
	}
	if results == nil {
		results = []store.SearchResult{}
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// QueueOutbox queues a message; the outbox sender hands it to a session.
// POST /v1/outbox
func (h *Handler) QueueOutbox(c echo.Context) error {
	var req OutboxRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return errorJSON(c, http.StatusBadRequest, "text is required")
	}
	if (req.ChatID == "") == (req.To == "") {
		return errorJSON(c, http.StatusBadRequest, "set exactly one of chat_id or to")
	}
	to := ""
	if req.To != "" {
		id, ok := contact.Parse(req.To)
		if !ok {
			return errorJSON(c, http.StatusBadRequest, "invalid contact "+strconv.Quote(req.To))
		}
		to = string(id)
	}
	if req.ClientMsgID == "" {
		req.ClientMsgID = uuid.NewString()
	}
	if err := h.archive.QueueOutbox(req.ClientMsgID, req.ChatID, to, req.Text); err != nil {
		return errorJSON(c, http.StatusConflict, "queue failed: "+err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"client_msg_id": req.ClientMsgID, "status": "queued"})
}

// GetOutbox reports the state of a queued message.
// GET /v1/outbox/:clientMsgId
func (h *Handler) GetOutbox(c echo.Context) error {
	e, err := h.archive.GetOutbox(c.Param("clientMsgId"))
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, "failed to read outbox")
	}
	if e == nil {
		return errorJSON(c, http.StatusNotFound, "outbox entry not found")
	}
	return c.JSON(http.StatusOK, e)
}
