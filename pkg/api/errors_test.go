package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/manavgup/rag-modulo/pkg/services"
	"github.com/manavgup/rag-modulo/pkg/validation"
)

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation error", &services.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest},
		{"structured answer validation", &validation.ValidationFailedError{}, http.StatusUnprocessableEntity},
		{"not found", services.ErrNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("loading collection: %w", services.ErrNotFound), http.StatusNotFound},
		{"forbidden", services.ErrForbidden, http.StatusForbidden},
		{"session not writable", services.ErrSessionNotWritable, http.StatusConflict},
		{"already exists", services.ErrAlreadyExists, http.StatusConflict},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			httpErr := mapServiceError(tc.err)
			assert.Equal(t, tc.status, httpErr.Code)
		})
	}
}

func TestMapServiceError_HidesInternalDetails(t *testing.T) {
	httpErr := mapServiceError(errors.New("pq: connection refused at 10.0.0.5"))
	assert.Equal(t, http.StatusInternalServerError, httpErr.Code)
	assert.Equal(t, "internal server error", httpErr.Message)
}
