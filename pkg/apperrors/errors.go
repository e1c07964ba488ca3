// Package apperrors defines the error kinds shared by the attachment and
// prediction layers. Callers match them with errors.Is; every layer wraps
// with %w so the kind survives propagation.
package apperrors

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAttachmentNotReady = errors.New("attachment not ready")
	ErrIndexMissing       = errors.New("required index missing")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrEncodingFailure    = errors.New("file could not be encoded")
	ErrByteCeilingRisk    = errors.New("payload would exceed document byte ceiling")
	ErrInvalidInput       = errors.New("invalid input")
)

// HTTPStatus maps an error kind to the status code the HTTP layer reports.
// An attachment that is still uploading is reported as 409 so clients can
// render it as "processing" instead of as a failure or an empty file.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAttachmentNotReady):
		return http.StatusConflict
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrEncodingFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrByteCeilingRisk):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
