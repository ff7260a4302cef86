package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docpilot/internal/jobqueue"
)

type tenantHandler struct {
	queue   jobqueue.Enqueuer
	clearer Clearer
}

type clearRequest struct {
	StreamID string `json:"streamId"`
}

func (h *tenantHandler) process(c echo.Context) error {
	tenant := c.Param("tenant")
	if err := h.queue.EnqueueBatch(c.Request().Context(), tenant); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"tenant": tenant,
		"status": "queued",
	})
}

func (h *tenantHandler) clearProcessed(c echo.Context) error {
	var req clearRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}
	res, err := h.clearer.ClearProcessed(c.Request().Context(), c.Param("tenant"), req.StreamID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
