package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docpilot/internal/apperr"
	"github.com/docpilot/internal/changesets"
)

type batchHandler struct {
	svc *changesets.Service
}

type createBatchRequest struct {
	ProposalIDs []int64 `json:"proposalIds"`
}

// prFailureResponse carries per-proposal failures alongside the error when no
// proposal could be applied.
type prFailureResponse struct {
	errorBody
	FailedProposals []changesets.Failure `json:"failedProposals"`
}

func (h *batchHandler) create(c echo.Context) error {
	var req createBatchRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}
	b, err := h.svc.CreateDraftBatch(c.Request().Context(), req.ProposalIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *batchHandler) list(c echo.Context) error {
	batches, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	if batches == nil {
		batches = []*changesets.Batch{}
	}
	return c.JSON(http.StatusOK, batches)
}

func (h *batchHandler) get(c echo.Context) error {
	b, err := h.svc.Get(c.Request().Context(), c.Param("batchId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *batchHandler) delete(c echo.Context) error {
	if err := h.svc.DeleteDraftBatch(c.Request().Context(), c.Param("batchId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *batchHandler) generatePR(c echo.Context) error {
	var opts changesets.PROptions
	if err := c.Bind(&opts); err != nil {
		return invalidInput(err, "invalid request body")
	}
	opts.SubmittedBy = actor(c, opts.SubmittedBy)

	res, err := h.svc.GeneratePR(c.Request().Context(), c.Param("batchId"), opts)
	return h.respondPR(c, res, err)
}

func (h *batchHandler) submit(c echo.Context) error {
	var req changesets.SubmitRequest
	if err := c.Bind(&req); err != nil {
		return invalidInput(err, "invalid request body")
	}
	req.SubmittedBy = actor(c, req.SubmittedBy)

	res, err := h.svc.SubmitProposals(c.Request().Context(), req)
	return h.respondPR(c, res, err)
}

func (h *batchHandler) respondPR(c echo.Context, res *changesets.PRResult, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, res)
	}
	if apperr.IsKind(err, apperr.KindNothingApplied) && res != nil {
		code, body := errorResponse(err)
		return c.JSON(code, prFailureResponse{errorBody: body, FailedProposals: res.FailedProposals})
	}
	return err
}
