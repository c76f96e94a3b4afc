package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
	"videodrive/internal/repository"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
)

// CleanupService — плановая выверка: удаляет из объектного хранилища
// сирот (объекты без записи о видео) и возвращает в квоту просроченные
// резервирования. Это страховка для загрузок, которые не были ни
// зафиксированы, ни отменены (упавший клиент).
type CleanupService struct {
	store           store.Store
	s3Client        s3.Storage
	videoRepo       *repository.VideoRepository
	reservationRepo *repository.ReservationRepository
	quotaRepo       *repository.QuotaRepository

	originalBucket  string
	thumbnailBucket string
	prefix          string
	pageSize        int32
	maxKeys         int
}

func NewCleanupService(
	st store.Store,
	s3Client s3.Storage,
	videoRepo *repository.VideoRepository,
	reservationRepo *repository.ReservationRepository,
	quotaRepo *repository.QuotaRepository,
	originalBucket, thumbnailBucket string,
	prefix string,
	pageSize int32,
	maxKeys int,
) *CleanupService {
	if prefix == "" {
		prefix = domain.KeyPrefix
	}
	if pageSize <= 0 {
		pageSize = 250
	}
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	return &CleanupService{
		store:           st,
		s3Client:        s3Client,
		videoRepo:       videoRepo,
		reservationRepo: reservationRepo,
		quotaRepo:       quotaRepo,
		originalBucket:  originalBucket,
		thumbnailBucket: thumbnailBucket,
		prefix:          prefix,
		pageSize:        pageSize,
		maxKeys:         maxKeys,
	}
}

// CleanupStats — итоги одного прохода выверки.
type CleanupStats struct {
	Scanned   int  `json:"scanned"`
	Deleted   int  `json:"deleted"`
	Skipped   int  `json:"skipped"`
	Released  int  `json:"released"`
	Truncated bool `json:"truncated"`
}

// RunCleanup выполняет один проход: сначала свип объектов без записи,
// затем освобождение просроченных резервирований.
func (s *CleanupService) RunCleanup(ctx context.Context) (*CleanupStats, error) {
	stats := &CleanupStats{}

	if err := s.sweepOrphans(ctx, stats); err != nil {
		return stats, err
	}
	if err := s.releaseExpired(ctx, stats); err != nil {
		return stats, err
	}
	return stats, nil
}

// sweepOrphans листает пространство загрузок и удаляет объекты, за
// которыми нет записи о видео. Объекты под живым (непросроченным)
// резервированием не трогаются: загрузка может быть в полушаге от
// фиксации.
func (s *CleanupService) sweepOrphans(ctx context.Context, stats *CleanupStats) error {
	token := ""
	now := time.Now().UTC()

	for {
		page, err := s.s3Client.ListObjects(ctx, s.originalBucket, s.prefix, token, s.pageSize)
		if err != nil {
			return fmt.Errorf("failed to list upload namespace: %w", err)
		}

		for _, key := range page.Keys {
			if stats.Scanned >= s.maxKeys {
				stats.Truncated = true
				return nil
			}
			stats.Scanned++

			ownerID := domain.OwnerFromKey(key)
			videoID := domain.VideoIDFromKey(key)
			if ownerID == "" || videoID == "" {
				stats.Skipped++
				continue
			}

			exists, err := s.videoRepo.Exists(ctx, ownerID, videoID)
			if err != nil {
				return err
			}
			if exists {
				continue
			}

			if reservation, err := s.reservationRepo.Get(ctx, ownerID, videoID); err == nil {
				if !reservation.Expired(now) {
					stats.Skipped++
					continue
				}
			} else if !errors.Is(err, domain.ErrReservationNotFound) {
				return err
			}

			if err := s.s3Client.DeleteObject(ctx, s.originalBucket, key); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to delete orphan object")
				stats.Skipped++
				continue
			}
			if s.thumbnailBucket != "" {
				thumbKey := domain.ThumbnailKey(ownerID, videoID)
				if err := s.s3Client.DeleteObject(ctx, s.thumbnailBucket, thumbKey); err != nil {
					log.Warn().Err(err).Str("key", thumbKey).Msg("failed to delete orphan thumbnail")
				}
			}
			stats.Deleted++
		}

		if !page.Truncated || page.NextToken == "" {
			return nil
		}
		token = page.NextToken
	}
}

// releaseExpired возвращает байты просроченных резервирований в квоту.
// Освобождение атомарно с удалением строки резервирования; отклоненная
// транзакция означает, что резервирование уже обработали без нас.
func (s *CleanupService) releaseExpired(ctx context.Context, stats *CleanupStats) error {
	reservations, err := s.reservationRepo.ScanAll(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, reservation := range reservations {
		if !reservation.Expired(now) {
			continue
		}

		err := s.store.Transact(ctx,
			s.reservationRepo.DeleteOp(reservation.OwnerID, reservation.VideoID, true),
			s.quotaRepo.ReleaseOp(reservation.OwnerID, reservation.SizeBytes, now),
		)
		if err != nil {
			if errors.Is(err, store.ErrTransactionCanceled) {
				continue
			}
			log.Warn().
				Err(err).
				Str("owner", reservation.OwnerID).
				Str("video", reservation.VideoID).
				Msg("failed to release expired reservation")
			continue
		}
		stats.Released++
	}
	return nil
}
