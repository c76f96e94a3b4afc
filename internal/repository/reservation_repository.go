package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"videodrive/internal/domain"
	"videodrive/internal/store"
)

// ReservationRepository — строки резервирований загрузок. Единственный
// писатель — менеджер сессий загрузки; существование строки служит
// защитой от повторного освобождения.
type ReservationRepository struct {
	store store.Store
}

func NewReservationRepository(st store.Store) *ReservationRepository {
	return &ReservationRepository{store: st}
}

func reservationKey(ownerID, videoID string) store.Key {
	return store.Key{Owner: ownerID, Sort: store.SortReservation(videoID)}
}

func reservationFromAttrs(ownerID, videoID string, attrs store.Attrs) *domain.UploadReservation {
	return &domain.UploadReservation{
		OwnerID:   ownerID,
		VideoID:   videoID,
		ObjectKey: attrs.String("key"),
		SizeBytes: attrs.Int64("size"),
		CreatedAt: attrs.Time("createdAt"),
		ExpiresAt: attrs.Time("expiresAt"),
	}
}

// Get возвращает резервирование либо domain.ErrReservationNotFound.
func (r *ReservationRepository) Get(ctx context.Context, ownerID, videoID string) (*domain.UploadReservation, error) {
	attrs, err := r.store.Get(ctx, reservationKey(ownerID, videoID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return reservationFromAttrs(ownerID, videoID, attrs), nil
}

// InsertOp — вставка резервирования в общую транзакцию резервирования.
func (r *ReservationRepository) InsertOp(res *domain.UploadReservation) store.Op {
	return store.Op{Insert: &store.InsertOp{
		Key: reservationKey(res.OwnerID, res.VideoID),
		Attrs: store.Attrs{
			"key":       res.ObjectKey,
			"size":      res.SizeBytes,
			"createdAt": res.CreatedAt.Format(time.RFC3339Nano),
			"expiresAt": res.ExpiresAt.Format(time.RFC3339Nano),
		},
		IfAbsent: true,
	}}
}

// DeleteOp — удаление резервирования в составе транзакции фиксации либо
// освобождения. mustExist защищает от двойного применения.
func (r *ReservationRepository) DeleteOp(ownerID, videoID string, mustExist bool) store.Op {
	return store.Op{Delete: &store.DeleteOp{
		Key:       reservationKey(ownerID, videoID),
		MustExist: mustExist,
	}}
}

// ScanAll возвращает все резервирования всех пользователей — для
// плановой очистки просроченных.
func (r *ReservationRepository) ScanAll(ctx context.Context) ([]domain.UploadReservation, error) {
	records, err := r.store.Scan(ctx, store.SortReservationPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan reservations: %w", err)
	}

	reservations := make([]domain.UploadReservation, 0, len(records))
	for _, rec := range records {
		videoID := rec.Key.Sort[len(store.SortReservationPrefix):]
		reservations = append(reservations, *reservationFromAttrs(rec.Key.Owner, videoID, rec.Attrs))
	}
	return reservations, nil
}
