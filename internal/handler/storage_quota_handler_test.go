package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videodrive/internal/repository"
	"videodrive/internal/service"
	"videodrive/internal/store"
)

func newQuotaHandler() (*StorageQuotaHandler, *repository.QuotaRepository) {
	st := store.NewMemoryStore()
	quotaRepo := repository.NewQuotaRepository(st)
	return NewStorageQuotaHandler(service.NewStorageQuotaService(quotaRepo)), quotaRepo
}

func bearerToken(t *testing.T, email string) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"email": email}).
		SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return "Bearer " + raw
}

func TestUpdateQuotaLimitRequiresToken(t *testing.T) {
	h, _ := newQuotaHandler()

	req := httptest.NewRequest(http.MethodPut, "/v1/quota/limit",
		strings.NewReader(`{"user_id":"u@e.com","new_limit":42}`))
	rec := httptest.NewRecorder()

	h.UpdateQuotaLimit(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUpdateQuotaLimitWithToken(t *testing.T) {
	h, quotaRepo := newQuotaHandler()

	req := httptest.NewRequest(http.MethodPut, "/v1/quota/limit",
		strings.NewReader(`{"user_id":"u@e.com","new_limit":42}`))
	req.Header.Set("Authorization", bearerToken(t, "admin@e.com"))
	rec := httptest.NewRecorder()

	h.UpdateQuotaLimit(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	profile, err := quotaRepo.GetProfile(req.Context(), "u@e.com")
	require.NoError(t, err)
	assert.Equal(t, int64(42), profile.QuotaBytes)
}

func TestGetQuotaInfoRequiresToken(t *testing.T) {
	h, _ := newQuotaHandler()

	req := httptest.NewRequest(http.MethodGet, "/v1/quota", nil)
	rec := httptest.NewRecorder()

	h.GetQuotaInfo(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
