package httperrors

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/go-staking/internal/staking"
	"github/chapool/go-staking/internal/util"
)

// Public error types
const (
	TypeGeneric         = "generic"
	TypeBadRequest      = "BAD_REQUEST"
	TypeNotFound        = "NOT_FOUND"
	TypeNotConfigured   = "NOT_CONFIGURED"
	TypeInternalFailure = "INTERNAL_FAILURE"
)

// HTTPError is the JSON error body of every failed request
type HTTPError struct {
	Code  int    `json:"status"`
	Type  string `json:"type"`
	Title string `json:"title"`
	// Pipeline failures also carry where they happened
	Stage string `json:"stage,omitempty"`
	Chain string `json:"chain,omitempty"`
	Role  string `json:"role,omitempty"`

	Internal error `json:"-"`
}

func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{
		Code:  code,
		Type:  errorType,
		Title: title,
	}
}

func NewFromEcho(e *echo.HTTPError) *HTTPError {
	return &HTTPError{
		Code:     e.Code,
		Type:     TypeGeneric,
		Title:    fmt.Sprint(e.Message),
		Internal: e.Internal,
	}
}

func (e *HTTPError) Error() string {
	var msg string
	if e.Stage != "" {
		msg = fmt.Sprintf("HTTPError %d (%s) at %s: %s", e.Code, e.Type, e.Stage, e.Title)
	} else {
		msg = fmt.Sprintf("HTTPError %d (%s): %s", e.Code, e.Type, e.Title)
	}
	if e.Internal != nil {
		msg = fmt.Sprintf("%s - %v", msg, e.Internal)
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return e.Internal
}

// FromPipelineError maps a pipeline failure to its HTTP status, keeping the error kind as public type
func FromPipelineError(err error) *HTTPError {
	var pe *staking.PipelineError
	if !errors.As(err, &pe) {
		return &HTTPError{Code: http.StatusInternalServerError, Type: TypeInternalFailure, Title: err.Error(), Internal: err}
	}

	return &HTTPError{
		Code:     statusFor(pe.Kind),
		Type:     pe.Kind.String(),
		Title:    pe.Error(),
		Stage:    string(pe.Stage),
		Chain:    string(pe.Chain),
		Role:     string(pe.Role),
		Internal: err,
	}
}

func statusFor(kind staking.ErrorKind) int {
	switch kind {
	case staking.KindMalformedTransaction, staking.KindUnknownSignerRole:
		return http.StatusBadRequest
	case staking.KindIncompleteWitnessSet:
		return http.StatusConflict
	case staking.KindBroadcastRejected:
		return http.StatusUnprocessableEntity
	case staking.KindSignatureMismatch:
		return http.StatusBadGateway
	case staking.KindSignerUnavailable:
		return http.StatusServiceUnavailable
	case staking.KindSignerTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorHandler renders every handler error as an HTTPError body
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var herr *HTTPError
	var eerr *echo.HTTPError
	switch {
	case errors.As(err, &herr):
	case errors.As(err, &eerr):
		herr = NewFromEcho(eerr)
	default:
		herr = FromPipelineError(err)
	}

	if herr.Code >= http.StatusInternalServerError {
		util.LogFromContext(c.Request().Context()).Error().Err(err).Int("status", herr.Code).Msg("Request failed")
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(herr.Code)
	} else {
		werr = c.JSON(herr.Code, herr)
	}
	if werr != nil {
		log.Warn().Err(werr).AnErr("http_err", err).Msg("Failed to handle HTTP error")
	}
}
