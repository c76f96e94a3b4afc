package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videodrive/internal/domain"
	"videodrive/internal/store"
)

// HashRepository — индекс дедупликации: отпечаток контента → видео,
// первым его захватившее. Проверка Exists до загрузки — только подсказка;
// авторитетная гарантия — условная вставка в транзакции фиксации.
type HashRepository struct {
	store store.Store
}

func NewHashRepository(st store.Store) *HashRepository {
	return &HashRepository{store: st}
}

func hashKey(ownerID, fingerprint string) store.Key {
	return store.Key{Owner: ownerID, Sort: store.SortHash(fingerprint)}
}

// Lookup возвращает идентификатор видео, захватившего отпечаток, либо
// пустую строку, если захвата нет. Рекомендательная проверка перед
// передачей байтов: позволяет клиенту не загружать заведомый дубликат
// и сразу сослаться на уже сохраненное видео.
func (r *HashRepository) Lookup(ctx context.Context, ownerID, fingerprint string) (string, error) {
	attrs, err := r.store.Get(ctx, hashKey(ownerID, fingerprint))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to check content hash: %w", err)
	}
	return attrs.String("videoId"), nil
}

// Exists сообщает, захвачен ли отпечаток.
func (r *HashRepository) Exists(ctx context.Context, ownerID, fingerprint string) (bool, error) {
	videoID, err := r.Lookup(ctx, ownerID, fingerprint)
	if err != nil {
		return false, err
	}
	return videoID != "", nil
}

// InsertOp — захват отпечатка "вставить, если нет" для транзакции фиксации.
// При гонке двух фиксаций одного отпечатка ровно одна транзакция проходит.
func (r *HashRepository) InsertOp(lock *domain.ContentHashLock) store.Op {
	return store.Op{Insert: &store.InsertOp{
		Key: hashKey(lock.OwnerID, lock.Fingerprint),
		Attrs: store.Attrs{
			"videoId":   lock.VideoID,
			"createdAt": lock.CreatedAt.Format(time.RFC3339Nano),
		},
		IfAbsent: true,
	}}
}

// DeleteOp — снятие захвата при физическом удалении видео.
func (r *HashRepository) DeleteOp(ownerID, fingerprint string) store.Op {
	return store.Op{Delete: &store.DeleteOp{
		Key: hashKey(ownerID, fingerprint),
	}}
}
