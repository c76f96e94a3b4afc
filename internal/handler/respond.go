package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// handleServiceError переводит доменные ошибки в HTTP-статусы.
// Конфликты жизненного цикла загрузки (дубликат, потерянное или
// несовпавшее резервирование, проигранная гонка) — это 409.
func handleServiceError(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrQuotaExceeded):
		http.Error(w, "storage quota exceeded", http.StatusForbidden)
	case errors.Is(err, domain.ErrForbiddenKey):
		http.Error(w, "key outside caller namespace", http.StatusForbidden)
	case errors.Is(err, domain.ErrVideoNotFound):
		http.Error(w, "video not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateContent):
		http.Error(w, "duplicate content", http.StatusConflict)
	case errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrReservationMismatch),
		errors.Is(err, domain.ErrTransactionConflict):
		http.Error(w, "upload state conflict", http.StatusConflict)
	default:
		log.Error().Err(err).Msg("internal error")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
