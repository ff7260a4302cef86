package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/pipeline"
	"github.com/docpilot/internal/proposals"
)

type proposalHandler struct {
	svc  *proposals.Service
	post *pipeline.Postprocessor
}

type statusRequest struct {
	Status        string `json:"status"`
	ReviewedBy    string `json:"reviewedBy"`
	DiscardReason string `json:"discardReason"`
}

type statusResponse struct {
	Proposal           *proposals.Proposal          `json:"proposal"`
	ConversationStatus proposals.ConversationStatus `json:"conversationStatus"`
}

type textRequest struct {
	Text     string `json:"text"`
	EditedBy string `json:"editedBy"`
}

func proposalID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.KindInvalidInput, "invalid proposal id %q", c.Param("id"))
	}
	return id, nil
}

func (h *proposalHandler) get(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *proposalHandler) list(c echo.Context) error {
	f := proposals.Filter{ConversationID: c.QueryParam("conversationId")}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := proposals.ParseStatus(raw)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidStatus, err, "invalid status filter")
		}
		f.Status = status
	}
	if raw := c.QueryParam("includeGraduated"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return invalidInput(err, "invalid includeGraduated")
		}
		f.IncludeGraduated = include
	}

	ps, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	if ps == nil {
		ps = []*proposals.Proposal{}
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *proposalHandler) updateStatus(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}

	p, cs, err := h.svc.Transition(c.Request().Context(), id, proposals.Status(req.Status), actor(c, req.ReviewedBy), req.DiscardReason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{Proposal: p, ConversationStatus: cs})
}

func (h *proposalHandler) updateText(c echo.Context) error {
	id, err := proposalID(c)
	if err != nil {
		return err
	}
	var req textRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}

	p, err := h.svc.EditText(c.Request().Context(), id, req.Text, actor(c, req.EditedBy))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *proposalHandler) conversationStatus(c echo.Context) error {
	conv := c.Param("id")
	cs, err := h.svc.ConversationStatus(c.Request().Context(), conv)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"conversationId": conv,
		"status":         cs,
	})
}

func (h *proposalHandler) reprocess(c echo.Context) error {
	res, err := h.svc.Reprocess(c.Request().Context(), h.post.SuggestedText)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
