package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"videodrive/internal/auth"
	"videodrive/internal/service"
	"videodrive/internal/service/s3"
)

// UploadHandler — HTTP-поверхность жизненного цикла загрузки:
// открытие сессии, подписанные URL частей, сборка, отмена и фиксация.
type UploadHandler struct {
	uploadService *service.UploadService
	validate      *validator.Validate
}

func NewUploadHandler(uploadService *service.UploadService) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		validate:      validator.New(),
	}
}

type initUploadRequest struct {
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size" validate:"required,gt=0"`
	ContentHash string `json:"content_hash" validate:"required"`
}

// InitUpload открывает сессию загрузки и резервирует квоту.
func (h *UploadHandler) InitUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req initUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.uploadService.InitUpload(r.Context(), userID, service.InitUploadInput{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
		ContentHash: req.ContentHash,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

type partURLRequest struct {
	Key        string `json:"key" validate:"required"`
	UploadID   string `json:"upload_id" validate:"required"`
	PartNumber int    `json:"part_number" validate:"required,min=1"`
}

// GetPartURL выдает подписанный URL для одной части.
func (h *UploadHandler) GetPartURL(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req partURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	url, err := h.uploadService.GetPartUploadTarget(r.Context(), userID, req.Key, req.UploadID, req.PartNumber)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

type completeUploadRequest struct {
	Key      string             `json:"key" validate:"required"`
	UploadID string             `json:"upload_id" validate:"required"`
	Parts    []s3.CompletedPart `json:"parts" validate:"required,min=1"`
}

// CompleteUpload собирает объект из загруженных частей.
func (h *UploadHandler) CompleteUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req completeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.uploadService.CompleteUpload(r.Context(), userID, req.Key, req.UploadID, req.Parts); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

type abortUploadRequest struct {
	Key      string `json:"key" validate:"required"`
	UploadID string `json:"upload_id" validate:"required"`
}

// AbortUpload отменяет сессию и освобождает резервирование.
func (h *UploadHandler) AbortUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req abortUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.uploadService.AbortUpload(r.Context(), userID, req.Key, req.UploadID); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"aborted": true})
}

type finalizeUploadRequest struct {
	Bucket       string    `json:"bucket"`
	Key          string    `json:"key" validate:"required"`
	OriginalName string    `json:"original_name"`
	ContentType  string    `json:"content_type"`
	ContentHash  string    `json:"content_hash" validate:"required"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// FinalizeUpload фиксирует завершенную загрузку в леджере.
func (h *UploadHandler) FinalizeUpload(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.VerifyToken(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req finalizeUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := h.uploadService.FinalizeUpload(r.Context(), userID, service.FinalizeInput{
		Bucket:       req.Bucket,
		Key:          req.Key,
		OriginalName: req.OriginalName,
		ContentType:  req.ContentType,
		ContentHash:  req.ContentHash,
		UploadedAt:   req.UploadedAt,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}
