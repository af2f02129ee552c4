package app

import (
	"errors"
	"net/http"

	"grievance/api/internal/apperr"
	"grievance/api/internal/auth"
	"grievance/api/internal/store"
)

// storeError converts a store failure into the app error taxonomy.
func storeError(err error, notFoundMessage, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(notFoundMessage)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Transient(op, err)
}

func mapError(err error) (status int, code, message string, details any) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Kind == apperr.KindTransient {
			return appErr.Kind.Status(), appErr.Code, "Temporarily unavailable, retry later", nil
		}
		return appErr.Kind.Status(), appErr.Code, appErr.Message, appErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
