package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/manavgup/rag-modulo/pkg/services"
	"github.com/manavgup/rag-modulo/pkg/validation"
)

// mapServiceError maps service-layer errors to HTTP error responses.
func mapServiceError(err error) *echo.HTTPError {
	var validErr *services.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var validationFailed *validation.ValidationFailedError
	if errors.As(err, &validationFailed) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, validationFailed.Error())
	}
	if errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, services.ErrForbidden) {
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
	if errors.Is(err, services.ErrSessionNotWritable) {
		return echo.NewHTTPError(http.StatusConflict, "session does not accept messages")
	}
	if errors.Is(err, services.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
