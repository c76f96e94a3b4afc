package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
	"videodrive/internal/repository"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
)

// UploadService — менеджер сессий загрузки. Оркестрирует multipart-протокол
// против объектного хранилища и согласует резервирование, фиксацию и
// освобождение квоты с леджером и индексом дедупликации.
//
// Машина состояний одной загрузки:
// PENDING -> RESERVED -> TRANSFERRING -> FINALIZING -> {COMMITTED | ABORTED | DUPLICATE | FAILED}.
type UploadService struct {
	store           store.Store
	s3Client        s3.Storage
	quotaRepo       *repository.QuotaRepository
	reservationRepo *repository.ReservationRepository
	hashRepo        *repository.HashRepository
	videoRepo       *repository.VideoRepository

	originalBucket string
	partURLTTL     time.Duration
}

func NewUploadService(
	st store.Store,
	s3Client s3.Storage,
	quotaRepo *repository.QuotaRepository,
	reservationRepo *repository.ReservationRepository,
	hashRepo *repository.HashRepository,
	videoRepo *repository.VideoRepository,
	originalBucket string,
	partURLTTL time.Duration,
) *UploadService {
	return &UploadService{
		store:           st,
		s3Client:        s3Client,
		quotaRepo:       quotaRepo,
		reservationRepo: reservationRepo,
		hashRepo:        hashRepo,
		videoRepo:       videoRepo,
		originalBucket:  originalBucket,
		partURLTTL:      partURLTTL,
	}
}

// InitUploadInput — параметры начала загрузки. Заявленный размер
// принимается на веру для резервирования квоты; источник истины по
// фактическим байтам — объектное хранилище.
type InitUploadInput struct {
	FileName    string
	ContentType string
	Size        int64
	ContentHash string
}

// InitUploadResult — дескриптор открытой сессии загрузки. При
// Duplicate в VideoID лежит идентификатор уже сохраненного видео,
// остальные поля пусты.
type InitUploadResult struct {
	Duplicate bool   `json:"duplicate"`
	VideoID   string `json:"video_id,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
	UploadID  string `json:"upload_id,omitempty"`
}

// InitUpload резервирует место в квоте и открывает multipart-сессию.
// Порядок: валидация -> рекомендательная проверка дубликата -> открытие
// сессии -> атомарное резервирование (профиль + строка резервирования).
// Если резервирование не удалось после открытия сессии, сессия
// отменяется, чтобы не осталось осиротевшего ресурса хранилища.
func (s *UploadService) InitUpload(ctx context.Context, ownerID string, input InitUploadInput) (*InitUploadResult, error) {
	if input.ContentHash == "" {
		return nil, domain.NewValidationError("content_hash", "is required")
	}
	ext := domain.FileExt(input.FileName)
	if !domain.ExtensionAllowed(ext) {
		return nil, domain.NewValidationError("file_name", "unsupported file type")
	}
	if input.Size <= 0 || input.Size > domain.MaxUploadBytes {
		return nil, domain.NewValidationError("size", "out of bounds")
	}

	// Рекомендательная проверка: дает клиенту шанс не гонять байты и
	// сразу получить ссылку на уже сохраненное видео. Авторитетная
	// проверка — условная вставка при фиксации.
	existingID, err := s.hashRepo.Lookup(ctx, ownerID, input.ContentHash)
	if err != nil {
		return nil, err
	}
	if existingID != "" {
		return &InitUploadResult{Duplicate: true, VideoID: existingID}, nil
	}

	safeName := domain.SanitizeFileName(input.FileName)
	key := domain.ObjectKey(ownerID, uuid.NewString(), safeName)
	videoID := domain.VideoIDFromKey(key)

	uploadID, err := s.s3Client.CreateMultipartUpload(ctx, s.originalBucket, key, input.ContentType)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload session: %w", err)
	}

	now := time.Now().UTC()
	reservation := &domain.UploadReservation{
		OwnerID:   ownerID,
		VideoID:   videoID,
		ObjectKey: key,
		SizeBytes: input.Size,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.ReservationTTL),
	}

	if err := s.quotaRepo.Reserve(ctx, ownerID, input.Size, s.reservationRepo.InsertOp(reservation)); err != nil {
		// Компенсация: сессия уже открыта, резервирование не записано.
		if abortErr := s.s3Client.AbortMultipartUpload(ctx, s.originalBucket, key, uploadID); abortErr != nil {
			log.Warn().Err(abortErr).Str("key", key).Msg("failed to abort upload session after reserve failure")
		}
		return nil, err
	}

	return &InitUploadResult{
		VideoID:  videoID,
		Bucket:   s.originalBucket,
		Key:      key,
		UploadID: uploadID,
	}, nil
}

// GetPartUploadTarget выдает подписанный URL на загрузку одной части
// одной сессии. Ключи вне пространства имен вызывающего отклоняются.
func (s *UploadService) GetPartUploadTarget(ctx context.Context, ownerID, key, uploadID string, partNumber int) (string, error) {
	if key == "" || uploadID == "" || partNumber < 1 {
		return "", domain.NewValidationError("part", "missing upload parameters")
	}
	if !domain.KeyInNamespace(ownerID, key) {
		return "", domain.ErrForbiddenKey
	}

	url, err := s.s3Client.PresignUploadPart(ctx, s.originalBucket, key, uploadID, int32(partNumber), s.partURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to presign part: %w", err)
	}
	return url, nil
}

// CompleteUpload собирает объект из загруженных частей. Части могут
// приходить в любом порядке — перед сборкой они сортируются по номеру.
// Леджер здесь не трогается: фиксация — отдельный шаг.
func (s *UploadService) CompleteUpload(ctx context.Context, ownerID, key, uploadID string, parts []s3.CompletedPart) error {
	if key == "" || uploadID == "" || len(parts) == 0 {
		return domain.NewValidationError("parts", "missing completion parameters")
	}
	if !domain.KeyInNamespace(ownerID, key) {
		return domain.ErrForbiddenKey
	}

	valid := make([]s3.CompletedPart, 0, len(parts))
	for _, part := range parts {
		if part.PartNumber >= 1 && part.ETag != "" {
			valid = append(valid, part)
		}
	}
	if len(valid) == 0 {
		return domain.NewValidationError("parts", "no valid upload parts")
	}
	sort.Slice(valid, func(i, j int) bool {
		return valid[i].PartNumber < valid[j].PartNumber
	})

	if err := s.s3Client.CompleteMultipartUpload(ctx, s.originalBucket, key, uploadID, valid); err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}
	return nil
}

// AbortUpload отменяет сессию и освобождает резервирование, если оно
// еще существует. Безопасен при повторных вызовах: второй вызов не
// находит резервирования и ничего не делает. Сбои компенсации
// логируются и глотаются — страховкой служит плановая очистка сирот.
func (s *UploadService) AbortUpload(ctx context.Context, ownerID, key, uploadID string) error {
	if key == "" || uploadID == "" {
		return domain.NewValidationError("abort", "missing abort parameters")
	}
	if !domain.KeyInNamespace(ownerID, key) {
		return domain.ErrForbiddenKey
	}

	if err := s.s3Client.AbortMultipartUpload(ctx, s.originalBucket, key, uploadID); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to abort upload session")
	}

	videoID := domain.VideoIDFromKey(key)
	reservation, err := s.reservationRepo.Get(ctx, ownerID, videoID)
	if err != nil {
		if errors.Is(err, domain.ErrReservationNotFound) {
			return nil
		}
		return err
	}

	s.releaseReservation(ctx, reservation)
	return nil
}

// FinalizeInput — уведомление о завершенной передаче.
type FinalizeInput struct {
	Bucket       string
	Key          string
	OriginalName string
	ContentType  string
	ContentHash  string
	UploadedAt   time.Time
}

// FinalizeUpload фиксирует загрузку одной транзакцией всё-или-ничего:
// захват отпечатка, запись о видео, удаление резервирования и перевод
// байтов из reserved в used. Если транзакция отклонена (гонка
// дедупликации), резервирование освобождается и вызывающему сообщается
// "дубликат", а не "успех".
func (s *UploadService) FinalizeUpload(ctx context.Context, ownerID string, input FinalizeInput) (*domain.VideoRecord, error) {
	if input.ContentHash == "" {
		return nil, domain.NewValidationError("content_hash", "is required")
	}
	if !domain.KeyInNamespace(ownerID, input.Key) {
		return nil, domain.ErrForbiddenKey
	}

	videoID := domain.VideoIDFromKey(input.Key)
	reservation, err := s.reservationRepo.Get(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if reservation.SizeBytes <= 0 {
		return nil, domain.ErrReservationMismatch
	}
	if reservation.ObjectKey != "" && reservation.ObjectKey != input.Key {
		return nil, domain.ErrReservationMismatch
	}

	now := time.Now().UTC()
	createdAt := input.UploadedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	bucket := input.Bucket
	if bucket == "" {
		bucket = s.originalBucket
	}

	record := &domain.VideoRecord{
		VideoID:      videoID,
		OwnerID:      ownerID,
		ObjectBucket: bucket,
		ObjectKey:    input.Key,
		OriginalName: input.OriginalName,
		ContentType:  input.ContentType,
		Size:         reservation.SizeBytes,
		Status:       domain.VideoStatusReady,
		ContentHash:  input.ContentHash,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}
	lock := &domain.ContentHashLock{
		OwnerID:     ownerID,
		Fingerprint: input.ContentHash,
		VideoID:     videoID,
		CreatedAt:   now,
	}

	err = s.store.Transact(ctx,
		s.reservationRepo.DeleteOp(ownerID, videoID, true),
		s.hashRepo.InsertOp(lock),
		s.videoRepo.InsertOp(record),
		s.quotaRepo.CommitOp(ownerID, reservation.SizeBytes, now),
	)
	if err == nil {
		return record, nil
	}

	if errors.Is(err, store.ErrTransactionCanceled) {
		// Проигравший гонку дедупликации: откат — явное освобождение
		// резервирования, результат — "дубликат".
		s.releaseReservation(ctx, reservation)
		return nil, domain.ErrDuplicateContent
	}
	return nil, fmt.Errorf("failed to commit upload: %w", err)
}

// releaseReservation атомарно удаляет строку резервирования и возвращает
// байты из reservedBytes. Существование строки — защита от двойного
// освобождения: повторная транзакция отклоняется по предусловию.
func (s *UploadService) releaseReservation(ctx context.Context, reservation *domain.UploadReservation) {
	now := time.Now().UTC()
	err := s.store.Transact(ctx,
		s.reservationRepo.DeleteOp(reservation.OwnerID, reservation.VideoID, true),
		s.quotaRepo.ReleaseOp(reservation.OwnerID, reservation.SizeBytes, now),
	)
	if err != nil && !errors.Is(err, store.ErrTransactionCanceled) {
		log.Warn().
			Err(err).
			Str("owner", reservation.OwnerID).
			Str("video", reservation.VideoID).
			Msg("failed to release reservation")
	}
}
