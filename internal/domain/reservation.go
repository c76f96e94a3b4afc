package domain

import "time"

// UploadReservation — провизорная заявка на место в квоте, существующая,
// пока идет multipart-загрузка. Байты резервирования всегда учтены ровно
// в одном из счетчиков профиля: ReservedBytes до фиксации, UsedBytes после.
type UploadReservation struct {
	OwnerID   string    `json:"owner_id"`
	VideoID   string    `json:"video_id"`
	ObjectKey string    `json:"object_key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired сообщает, истек ли срок жизни резервирования.
func (r *UploadReservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ContentHashLock — захват отпечатка контента за конкретным видео.
// Создается только в транзакции фиксации, условием "вставить, если нет".
type ContentHashLock struct {
	OwnerID     string    `json:"owner_id"`
	Fingerprint string    `json:"fingerprint"`
	VideoID     string    `json:"video_id"`
	CreatedAt   time.Time `json:"created_at"`
}
