package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
	"videodrive/internal/store"
)

// reserveAttempts — лимит повторов оптимистичного резервирования.
// После исчерпания наружу уходит ErrQuotaExceeded, даже если место,
// возможно, есть: доступность приносится в жертву простоте под нагрузкой.
const reserveAttempts = 3

// QuotaRepository — леджер квот: счетчики профиля пользователя. Все
// изменения — условные записи (compare-and-swap) либо операции внутри
// общих транзакций фиксации/освобождения.
type QuotaRepository struct {
	store store.Store
}

func NewQuotaRepository(st store.Store) *QuotaRepository {
	return &QuotaRepository{store: st}
}

func profileKey(ownerID string) store.Key {
	return store.Key{Owner: ownerID, Sort: store.SortProfile}
}

func profileFromAttrs(ownerID string, attrs store.Attrs) *domain.QuotaProfile {
	return &domain.QuotaProfile{
		OwnerID:       ownerID,
		QuotaBytes:    attrs.Int64("quotaBytes"),
		UsedBytes:     attrs.Int64("usedBytes"),
		ReservedBytes: attrs.Int64("reservedBytes"),
		VideosCount:   attrs.Int64("videosCount"),
		CreatedAt:     attrs.Time("createdAt"),
		UpdatedAt:     attrs.Time("updatedAt"),
	}
}

// GetProfile возвращает профиль квоты, лениво создавая его с лимитом по
// умолчанию при первом обращении.
func (r *QuotaRepository) GetProfile(ctx context.Context, ownerID string) (*domain.QuotaProfile, error) {
	attrs, err := r.store.Get(ctx, profileKey(ownerID))
	if err == nil {
		return profileFromAttrs(ownerID, attrs), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get quota profile: %w", err)
	}

	// Профиля нет — создаем с дефолтным лимитом. Проигрыш гонки на
	// вставке не ошибка: просто перечитываем чужой профиль.
	now := time.Now().UTC()
	err = r.store.Apply(ctx, store.Op{Insert: &store.InsertOp{
		Key: profileKey(ownerID),
		Attrs: store.Attrs{
			"quotaBytes":    domain.DefaultQuotaBytes,
			"usedBytes":     int64(0),
			"reservedBytes": int64(0),
			"videosCount":   int64(0),
			"createdAt":     now.Format(time.RFC3339Nano),
			"updatedAt":     now.Format(time.RFC3339Nano),
		},
		IfAbsent: true,
	}})
	if err != nil && !errors.Is(err, store.ErrConditionFailed) {
		return nil, fmt.Errorf("failed to create quota profile: %w", err)
	}

	attrs, err = r.store.Get(ctx, profileKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to get quota profile: %w", err)
	}
	return profileFromAttrs(ownerID, attrs), nil
}

// Reserve пытается зарезервировать size байт в квоте пользователя,
// атомарно выполняя вместе с инкрементом reservedBytes дополнительные
// операции extra (вставку строки резервирования). Предусловие — точное
// совпадение прочитанных usedBytes/reservedBytes; при конфликте профиль
// перечитывается и попытка повторяется до reserveAttempts раз.
func (r *QuotaRepository) Reserve(ctx context.Context, ownerID string, size int64, extra ...store.Op) error {
	profile, err := r.GetProfile(ctx, ownerID)
	if err != nil {
		return err
	}

	for attempt := 1; attempt <= reserveAttempts; attempt++ {
		if !profile.CanReserve(size) {
			return domain.ErrQuotaExceeded
		}

		now := time.Now().UTC()
		ops := append([]store.Op{{Update: &store.UpdateOp{
			Key: profileKey(ownerID),
			Add: map[string]int64{"reservedBytes": size},
			Set: store.Attrs{"updatedAt": now.Format(time.RFC3339Nano)},
			Equals: map[string]int64{
				"usedBytes":     profile.UsedBytes,
				"reservedBytes": profile.ReservedBytes,
			},
		}}}, extra...)

		err = r.store.Transact(ctx, ops...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrTransactionCanceled) {
			return fmt.Errorf("failed to reserve quota: %w", err)
		}

		log.Debug().
			Str("owner", ownerID).
			Int("attempt", attempt).
			Msg("quota reserve conflict, retrying")

		profile, err = r.GetProfile(ctx, ownerID)
		if err != nil {
			return err
		}
	}

	return domain.ErrQuotaExceeded
}

// CommitOp — операция фиксации: байты резервирования становятся
// использованными, счетчик видео растет. Выполняется только в составе
// общей транзакции с вставкой записи и захватом отпечатка.
func (r *QuotaRepository) CommitOp(ownerID string, size int64, now time.Time) store.Op {
	return store.Op{Update: &store.UpdateOp{
		Key: profileKey(ownerID),
		Add: map[string]int64{
			"usedBytes":     size,
			"reservedBytes": -size,
			"videosCount":   1,
		},
		Set:     store.Attrs{"updatedAt": now.Format(time.RFC3339Nano)},
		AtLeast: map[string]int64{"reservedBytes": size},
	}}
}

// ReleaseOp — операция освобождения резервирования без фиксации.
func (r *QuotaRepository) ReleaseOp(ownerID string, size int64, now time.Time) store.Op {
	return store.Op{Update: &store.UpdateOp{
		Key:     profileKey(ownerID),
		Add:     map[string]int64{"reservedBytes": -size},
		Set:     store.Attrs{"updatedAt": now.Format(time.RFC3339Nano)},
		AtLeast: map[string]int64{"reservedBytes": size},
	}}
}

// DecommitOp — операция компенсации при физическом удалении видео.
func (r *QuotaRepository) DecommitOp(ownerID string, size int64, now time.Time) store.Op {
	return store.Op{Update: &store.UpdateOp{
		Key: profileKey(ownerID),
		Add: map[string]int64{
			"usedBytes":   -size,
			"videosCount": -1,
		},
		Set: store.Attrs{"updatedAt": now.Format(time.RFC3339Nano)},
	}}
}

// UpdateQuotaLimit задает новый лимит квоты пользователя.
func (r *QuotaRepository) UpdateQuotaLimit(ctx context.Context, ownerID string, newLimit int64) error {
	if _, err := r.GetProfile(ctx, ownerID); err != nil {
		return err
	}

	now := time.Now().UTC()
	err := r.store.Apply(ctx, store.Op{Update: &store.UpdateOp{
		Key: profileKey(ownerID),
		Set: store.Attrs{
			"quotaBytes": newLimit,
			"updatedAt":  now.Format(time.RFC3339Nano),
		},
	}})
	if err != nil {
		return fmt.Errorf("failed to update quota limit: %w", err)
	}
	return nil
}
