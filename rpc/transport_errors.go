package rpc

import (
	stderrors "errors"
	"fmt"
	"maps"
	"net/http"

	apperrors "github.com/goliatone/go-errors"
	sonarfit "github.com/goliatone/go-sonarfit"
)

// TransportErrorMapping defines protocol-level mappings for bridge errors.
type TransportErrorMapping struct {
	Code       string
	HTTPStatus int
	Retryable  bool
}

// MapError maps a bridge error code to its transport treatment.
func MapError(err error) TransportErrorMapping {
	code := sonarfit.CodeOf(err)

	switch code {
	case sonarfit.CodeInvalidArgs:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusBadRequest}
	case sonarfit.CodeInvalidConfig:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusUnprocessableEntity}
	case sonarfit.CodePermission:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusForbidden}
	case sonarfit.CodeCancelled:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict}
	case sonarfit.CodeInitFailed, sonarfit.CodeNoResult:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusFailedDependency}
	case sonarfit.CodeNoAnchor:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusServiceUnavailable, Retryable: true}
	case sonarfit.CodeStartFailed:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusInternalServerError}
	default:
		return TransportErrorMapping{Code: sonarfit.CodeInternal, HTTPStatus: http.StatusInternalServerError}
	}
}

// HTTPStatusForError returns the mapped HTTP status code for a bridge error.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

// ErrorEnvelope converts err into the transport error shape. Errors without
// a text code are reported as E_INTERNAL.
func ErrorEnvelope(err error) *Error {
	if err == nil {
		return nil
	}
	mapping := MapError(err)
	out := &Error{
		Code:      mapping.Code,
		Message:   err.Error(),
		Retryable: mapping.Retryable,
	}

	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		out.Message = ge.Message
		out.Category = fmt.Sprint(ge.Category)
		if len(ge.Metadata) > 0 {
			out.Details = maps.Clone(ge.Metadata)
		}
	}
	return out
}
