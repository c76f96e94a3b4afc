package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videodrive/internal/domain"
	"videodrive/internal/store"
)

// VideoRepository — долговечные записи о видео. Запись создается только
// внутри транзакции фиксации; статус меняет воркер удаления, технические
// поля — внешний этап обогащения.
type VideoRepository struct {
	store store.Store
}

func NewVideoRepository(st store.Store) *VideoRepository {
	return &VideoRepository{store: st}
}

func videoKey(ownerID, videoID string) store.Key {
	return store.Key{Owner: ownerID, Sort: store.SortVideo(videoID)}
}

func videoFromAttrs(ownerID, videoID string, attrs store.Attrs) *domain.VideoRecord {
	rec := &domain.VideoRecord{
		VideoID:         videoID,
		OwnerID:         ownerID,
		ObjectBucket:    attrs.String("originalBucket"),
		ObjectKey:       attrs.String("originalKey"),
		OriginalName:    attrs.String("originalName"),
		ContentType:     attrs.String("contentType"),
		Size:            attrs.Int64("size"),
		Status:          attrs.String("status"),
		ContentHash:     attrs.String("contentHash"),
		ThumbnailBucket: attrs.String("thumbnailBucket"),
		ThumbnailKey:    attrs.String("thumbnailKey"),
		DurationSeconds: attrs.Float64("duration"),
		Width:           attrs.Int64("width"),
		Height:          attrs.Int64("height"),
		Latitude:        attrs.Float64("lat"),
		Longitude:       attrs.Float64("lon"),
		Address:         attrs.String("address"),
		City:            attrs.String("city"),
		Region:          attrs.String("region"),
		Country:         attrs.String("country"),
		CreatedAt:       attrs.Time("createdAt"),
		UpdatedAt:       attrs.Time("updatedAt"),
	}
	if deletedAt := attrs.Time("deletedAt"); !deletedAt.IsZero() {
		rec.DeletedAt = &deletedAt
	}
	return rec
}

// Get возвращает запись либо domain.ErrVideoNotFound.
func (r *VideoRepository) Get(ctx context.Context, ownerID, videoID string) (*domain.VideoRecord, error) {
	attrs, err := r.store.Get(ctx, videoKey(ownerID, videoID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video record: %w", err)
	}
	return videoFromAttrs(ownerID, videoID, attrs), nil
}

// List возвращает все видео пользователя, упорядоченные по идентификатору.
func (r *VideoRepository) List(ctx context.Context, ownerID string) ([]domain.VideoRecord, error) {
	records, err := r.store.Query(ctx, ownerID, store.SortVideoPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list video records: %w", err)
	}

	videos := make([]domain.VideoRecord, 0, len(records))
	for _, rec := range records {
		videoID := rec.Key.Sort[len(store.SortVideoPrefix):]
		videos = append(videos, *videoFromAttrs(ownerID, videoID, rec.Attrs))
	}
	return videos, nil
}

// Exists сообщает, есть ли запись о видео (для свипа сирот).
func (r *VideoRepository) Exists(ctx context.Context, ownerID, videoID string) (bool, error) {
	_, err := r.store.Get(ctx, videoKey(ownerID, videoID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check video record: %w", err)
	}
	return true, nil
}

// InsertOp — вставка записи со статусом READY для транзакции фиксации.
func (r *VideoRepository) InsertOp(rec *domain.VideoRecord) store.Op {
	return store.Op{Insert: &store.InsertOp{
		Key: videoKey(rec.OwnerID, rec.VideoID),
		Attrs: store.Attrs{
			"videoId":        rec.VideoID,
			"originalBucket": rec.ObjectBucket,
			"originalKey":    rec.ObjectKey,
			"originalName":   rec.OriginalName,
			"contentType":    rec.ContentType,
			"size":           rec.Size,
			"status":         rec.Status,
			"contentHash":    rec.ContentHash,
			"createdAt":      rec.CreatedAt.Format(time.RFC3339Nano),
			"updatedAt":      rec.UpdatedAt.Format(time.RFC3339Nano),
		},
		IfAbsent: true,
	}}
}

// DeleteOp — удаление записи в транзакции воркера удаления.
func (r *VideoRepository) DeleteOp(ownerID, videoID string, mustExist bool) store.Op {
	return store.Op{Delete: &store.DeleteOp{
		Key:       videoKey(ownerID, videoID),
		MustExist: mustExist,
	}}
}

// MarkDeleting синхронно и идемпотентно переводит запись в DELETING.
// Отсутствие записи — domain.ErrVideoNotFound.
func (r *VideoRepository) MarkDeleting(ctx context.Context, ownerID, videoID string) error {
	now := time.Now().UTC()
	err := r.store.Apply(ctx, store.Op{Update: &store.UpdateOp{
		Key: videoKey(ownerID, videoID),
		Set: store.Attrs{
			"status":    domain.VideoStatusDeleting,
			"updatedAt": now.Format(time.RFC3339Nano),
			"deletedAt": now.Format(time.RFC3339Nano),
		},
	}})
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.ErrVideoNotFound
		}
		return fmt.Errorf("failed to mark video deleting: %w", err)
	}
	return nil
}

// UpdateLocation сохраняет место съемки на существующей записи.
func (r *VideoRepository) UpdateLocation(ctx context.Context, ownerID, videoID string, loc *domain.VideoLocation) error {
	err := r.store.Apply(ctx, store.Op{Update: &store.UpdateOp{
		Key: videoKey(ownerID, videoID),
		Set: store.Attrs{
			"lat":       loc.Latitude,
			"lon":       loc.Longitude,
			"address":   loc.Address,
			"city":      loc.City,
			"region":    loc.Region,
			"country":   loc.Country,
			"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}})
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.ErrVideoNotFound
		}
		return fmt.Errorf("failed to update video location: %w", err)
	}
	return nil
}

// ApplyEnrichment записывает технические метаданные от внешнего этапа
// обогащения.
func (r *VideoRepository) ApplyEnrichment(ctx context.Context, ownerID, videoID string, enr *domain.VideoEnrichment) error {
	set := store.Attrs{
		"duration":  enr.DurationSeconds,
		"width":     enr.Width,
		"height":    enr.Height,
		"updatedAt": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if enr.ThumbnailBucket != "" && enr.ThumbnailKey != "" {
		set["thumbnailBucket"] = enr.ThumbnailBucket
		set["thumbnailKey"] = enr.ThumbnailKey
	}
	if enr.ContentType != "" {
		set["contentType"] = enr.ContentType
	}

	err := r.store.Apply(ctx, store.Op{Update: &store.UpdateOp{
		Key: videoKey(ownerID, videoID),
		Set: set,
	}})
	if err != nil {
		if errors.Is(err, store.ErrConditionFailed) {
			return domain.ErrVideoNotFound
		}
		return fmt.Errorf("failed to apply video enrichment: %w", err)
	}
	return nil
}
