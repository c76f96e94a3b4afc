package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"videodrive/internal/domain"
)

func TestHandleServiceErrorStatuses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", domain.NewValidationError("size", "out of bounds"), http.StatusBadRequest},
		{"quota", domain.ErrQuotaExceeded, http.StatusForbidden},
		{"foreign key", domain.ErrForbiddenKey, http.StatusForbidden},
		{"not found", domain.ErrVideoNotFound, http.StatusNotFound},
		{"duplicate", domain.ErrDuplicateContent, http.StatusConflict},
		{"no reservation", domain.ErrReservationNotFound, http.StatusConflict},
		{"mismatch", domain.ErrReservationMismatch, http.StatusConflict},
		{"conflict", domain.ErrTransactionConflict, http.StatusConflict},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestHandleServiceErrorWrapped(t *testing.T) {
	rec := httptest.NewRecorder()
	handleServiceError(rec, errors.Join(errors.New("context"), domain.ErrQuotaExceeded))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
