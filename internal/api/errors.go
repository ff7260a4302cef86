package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/docpilot/internal/apperr"
)

type errorDetail struct {
	Kind    apperr.Kind `json:"kind"`
	Message string      `json:"message"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidInput:      http.StatusBadRequest,
	apperr.KindInvalidStatus:     http.StatusBadRequest,
	apperr.KindUnauthorized:      http.StatusUnauthorized,
	apperr.KindNotFound:          http.StatusNotFound,
	apperr.KindInvalidTransition: http.StatusConflict,
	apperr.KindConflict:          http.StatusConflict,
	apperr.KindGraduated:         http.StatusConflict,
	apperr.KindBusy:              http.StatusConflict,
	apperr.KindNotEligible:       http.StatusUnprocessableEntity,
	apperr.KindNothingApplied:    http.StatusUnprocessableEntity,
	apperr.KindPRFailed:          http.StatusBadGateway,
	apperr.KindInternal:          http.StatusInternalServerError,
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func kindForHTTP(code int) apperr.Kind {
	switch code {
	case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusMethodNotAllowed:
		return apperr.KindInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.KindUnauthorized
	case http.StatusNotFound:
		return apperr.KindNotFound
	default:
		return apperr.KindInternal
	}
}

func errorResponse(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorBody{Error: errorDetail{Kind: kindForHTTP(he.Code), Message: fmt.Sprint(he.Message)}}
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Err != nil && ae.Kind != apperr.KindInternal {
			msg = fmt.Sprintf("%s: %v", ae.Message, ae.Err)
		}
		return statusFor(ae.Kind), errorBody{Error: errorDetail{Kind: ae.Kind, Message: msg}}
	}
	return http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: apperr.KindInternal, Message: "internal error"}}
}

// errorHandler renders every handler error as {"error": {kind, message}}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := errorResponse(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}

func invalidInput(err error, format string, args ...any) error {
	return apperr.Wrap(apperr.KindInvalidInput, err, format, args...)
}
