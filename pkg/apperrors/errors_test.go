package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("get record: %w", ErrNotFound), http.StatusNotFound},
		{"not ready", fmt.Errorf("fetch: %w", ErrAttachmentNotReady), http.StatusConflict},
		{"denied", ErrPermissionDenied, http.StatusForbidden},
		{"encoding", ErrEncodingFailure, http.StatusUnprocessableEntity},
		{"ceiling", ErrByteCeilingRisk, http.StatusRequestEntityTooLarge},
		{"invalid", ErrInvalidInput, http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindsAreDistinct(t *testing.T) {
	kinds := []error{ErrNotFound, ErrAttachmentNotReady, ErrIndexMissing, ErrPermissionDenied,
		ErrEncodingFailure, ErrByteCeilingRisk, ErrInvalidInput}
	for i, a := range kinds {
		for j, b := range kinds {
			if i != j && errors.Is(a, b) {
				t.Errorf("%v should not match %v", a, b)
			}
		}
	}
}
