package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/matheus3301/rcschat/internal/contact"
)

// StartRequest opens a one-to-one chat when To is set, a group chat when
// Participants is.
type StartRequest struct {
	To           string   `json:"to"`
	Text         string   `json:"text"`
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
}

type textRequest struct {
	Text string `json:"text"`
}

type composingRequest struct {
	Active bool `json:"active"`
}

type participantsRequest struct {
	Contacts []string `json:"contacts"`
}

func parseContacts(raw []string) ([]contact.ID, error) {
	out := make([]contact.ID, 0, len(raw))
	for _, r := range raw {
		id, ok := contact.Parse(r)
		if !ok {
			return nil, fmt.Errorf("invalid contact %q", r)
		}
		out = append(out, id)
	}
	return out, nil
}

// ListSessions returns every live session.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"sessions": h.chats.Sessions()})
}

// GetSession returns one session.
// GET /v1/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	info, err := h.chats.SessionInfo(c.Param("id"))
	if err != nil {
		return h.engineError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// StartSession starts a one-to-one or group chat. The session runs in the
// background; its progress is reported on the event stream.
// POST /v1/sessions
func (h *Handler) StartSession(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	switch {
	case req.To != "" && len(req.Participants) > 0:
		return errorJSON(c, http.StatusBadRequest, "set either to or participants")
	case req.To != "":
		remote, ok := contact.Parse(req.To)
		if !ok {
			return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("invalid contact %q", req.To))
		}
		info, err := h.chats.Start(remote, req.Text)
		if err != nil {
			return h.engineError(c, err)
		}
		return c.JSON(http.StatusAccepted, info)
	case len(req.Participants) > 0:
		contacts, err := parseContacts(req.Participants)
		if err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		info, err := h.chats.StartGroup(req.Subject, contacts)
		if err != nil {
			return h.engineError(c, err)
		}
		return c.JSON(http.StatusAccepted, info)
	default:
		return errorJSON(c, http.StatusBadRequest, "to or participants is required")
	}
}

// AcceptSession accepts a pending invitation.
// POST /v1/sessions/:id/accept
func (h *Handler) AcceptSession(c echo.Context) error {
	return h.command(c, h.chats.Accept)
}

// RejectSession declines a pending invitation.
// POST /v1/sessions/:id/reject
func (h *Handler) RejectSession(c echo.Context) error {
	return h.command(c, h.chats.Reject)
}

// TerminateSession ends a session.
// POST /v1/sessions/:id/terminate
func (h *Handler) TerminateSession(c echo.Context) error {
	return h.command(c, h.chats.Terminate)
}

func (h *Handler) command(c echo.Context, fn func(id string) error) error {
	if err := fn(c.Param("id")); err != nil {
		return h.engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SendMessage sends a text message over a session.
// POST /v1/sessions/:id/messages
func (h *Handler) SendMessage(c echo.Context) error {
	var req textRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return errorJSON(c, http.StatusBadRequest, "text is required")
	}
	m, err := h.chats.SendText(c.Param("id"), req.Text)
	if err != nil {
		return h.engineError(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// SetComposing reports local typing activity.
// POST /v1/sessions/:id/composing
func (h *Handler) SetComposing(c echo.Context) error {
	var req composingRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if err := h.chats.Typing(c.Param("id"), req.Active); err != nil {
		return h.engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// InviteParticipants adds contacts to a group chat.
// POST /v1/sessions/:id/participants
func (h *Handler) InviteParticipants(c echo.Context) error {
	var req participantsRequest
	if err := c.Bind(&req); err != nil || len(req.Contacts) == 0 {
		return errorJSON(c, http.StatusBadRequest, "contacts is required")
	}
	contacts, err := parseContacts(req.Contacts)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	if err := h.chats.InviteParticipants(c.Request().Context(), c.Param("id"), contacts); err != nil {
		return h.engineError(c, err)
	}
	info, err := h.chats.SessionInfo(c.Param("id"))
	if err != nil {
		return h.engineError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

// RejoinGroup re-enters a stored group chat.
// POST /v1/groups/:chatId/rejoin
func (h *Handler) RejoinGroup(c echo.Context) error {
	info, err := h.chats.Rejoin(c.Param("chatId"))
	if err != nil {
		return h.engineError(c, err)
	}
	return c.JSON(http.StatusAccepted, info)
}

// RestartGroup re-creates a stored group chat at the conference factory.
// POST /v1/groups/:chatId/restart
func (h *Handler) RestartGroup(c echo.Context) error {
	info, err := h.chats.Restart(c.Param("chatId"))
	if err != nil {
		return h.engineError(c, err)
	}
	return c.JSON(http.StatusAccepted, info)
}
