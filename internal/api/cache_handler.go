package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docpilot/internal/llmcache"
)

type cacheHandler struct {
	cache *llmcache.Cache
}

type purgeRequest struct {
	// Purpose is a purpose name, "all" or empty.
	Purpose string `json:"purpose"`
	// OlderThan is a Go duration such as "72h".
	OlderThan string `json:"olderThan"`
}

func (h *cacheHandler) purge(c echo.Context) error {
	var req purgeRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}
	purpose, age, err := llmcache.ParsePurgeScope(req.Purpose, req.OlderThan)
	if err != nil {
		return invalidInput(err, "invalid purge request")
	}
	removed, err := h.cache.Purge(c.Request().Context(), purpose, age)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int{"removed": removed})
}

func (h *cacheHandler) stats(c echo.Context) error {
	stats, err := h.cache.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}
