package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"validation", Validation("bad input"), CodeValidation},
		{"not found", NotFound("missing"), CodeNotFound},
		{"unauthorized", Unauthorized("nope"), CodeUnauthorized},
		{"conflict", Conflict("dup"), CodeConflict},
		{"upstream", Upstream(errors.New("down"), "catalog"), CodeUpstream},
		{"internal", Internal(errors.New("boom"), "oops"), CodeInternal},
		{"plain error defaults to internal", errors.New("anything"), CodeInternal},
		{"wrapped taxonomy error", fmt.Errorf("context: %w", NotFound("missing")), CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(Upstream(errors.New("down"), "catalog")) {
		t.Error("upstream errors should be retryable")
	}
	if Retryable(Validation("bad input")) {
		t.Error("validation errors should not be retryable")
	}
	if Retryable(errors.New("plain")) {
		t.Error("plain errors should not be retryable")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "catalog lookup failed")
	if !errors.Is(err, cause) {
		t.Error("errors.Is does not reach the cause")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(Validation("point %d rejected", 4)); got != "point 4 rejected" {
		t.Errorf("Message = %q", got)
	}
	// Plain errors get the generic line; internals never leak to clients.
	if got := Message(errors.New("boom")); got != "An unexpected error occurred." {
		t.Errorf("Message = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{NotFound("missing"), http.StatusNotFound},
		{Unauthorized("nope"), http.StatusUnauthorized},
		{Conflict("dup"), http.StatusConflict},
		{Upstream(nil, "down"), http.StatusBadGateway},
		{Internal(nil, "boom"), http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
