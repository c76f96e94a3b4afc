package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"videodrive/internal/auth"
	"videodrive/internal/domain"
	"videodrive/internal/service"
)

// VideoHandler — операции над записями видео пользователя.
type VideoHandler struct {
	videoService *service.VideoService
	validate     *validator.Validate
}

func NewVideoHandler(videoService *service.VideoService) *VideoHandler {
	return &VideoHandler{
		videoService: videoService,
		validate:     validator.New(),
	}
}

// ListVideos возвращает все видео вызывающего.
func (h *VideoHandler) ListVideos(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	videos, err := h.videoService.ListVideos(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"videos": videos,
		"count":  len(videos),
	})
}

type deleteVideosRequest struct {
	VideoIDs []string `json:"video_ids" validate:"required,min=1"`
}

// DeleteVideos помечает пакет видео на удаление.
func (h *VideoHandler) DeleteVideos(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req deleteVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	queued, err := h.videoService.DeleteVideos(r.Context(), userID, req.VideoIDs)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"queued": queued})
}

type updateLocationRequest struct {
	Latitude  float64 `json:"lat" validate:"min=-90,max=90"`
	Longitude float64 `json:"lon" validate:"min=-180,max=180"`
	Address   string  `json:"address" validate:"required"`
	City      string  `json:"city"`
	Region    string  `json:"region"`
	Country   string  `json:"country"`
}

// UpdateLocation сохраняет место съемки.
func (h *VideoHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	videoID := chi.URLParam(r, "id")

	var req updateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loc := &domain.VideoLocation{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Address:   req.Address,
		City:      req.City,
		Region:    req.Region,
		Country:   req.Country,
	}
	if err := h.videoService.UpdateLocation(r.Context(), userID, videoID, loc); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

type enrichmentRequest struct {
	ThumbnailBucket string  `json:"thumbnail_bucket"`
	ThumbnailKey    string  `json:"thumbnail_key"`
	DurationSeconds float64 `json:"duration_seconds" validate:"min=0"`
	Width           int64   `json:"width" validate:"min=0"`
	Height          int64   `json:"height" validate:"min=0"`
	ContentType     string  `json:"content_type"`
}

// ApplyEnrichment принимает метаданные от внешнего этапа обогащения.
func (h *VideoHandler) ApplyEnrichment(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	videoID := chi.URLParam(r, "id")

	var req enrichmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	enr := &domain.VideoEnrichment{
		ThumbnailBucket: req.ThumbnailBucket,
		ThumbnailKey:    req.ThumbnailKey,
		DurationSeconds: req.DurationSeconds,
		Width:           req.Width,
		Height:          req.Height,
		ContentType:     req.ContentType,
	}
	if err := h.videoService.ApplyEnrichment(r.Context(), userID, videoID, enr); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}
