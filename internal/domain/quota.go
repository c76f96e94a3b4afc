package domain

import "time"

const (
	// DefaultQuotaBytes — квота по умолчанию для нового профиля (256GB).
	DefaultQuotaBytes int64 = 256 * 1024 * 1024 * 1024

	// GraceBytes — небольшой допуск сверх квоты, сглаживающий гонки
	// параллельных резервирований (1GB).
	GraceBytes int64 = 1024 * 1024 * 1024

	// MaxUploadBytes — максимальный размер одной загрузки (1GB).
	MaxUploadBytes int64 = 1024 * 1024 * 1024

	// ReservationTTL — срок жизни резервирования; по его истечении
	// место возвращает плановая очистка.
	ReservationTTL = 24 * time.Hour
)

// QuotaProfile — счетчики хранилища одного пользователя.
// Инвариант: UsedBytes + ReservedBytes <= QuotaBytes + GraceBytes.
type QuotaProfile struct {
	OwnerID       string    `json:"owner_id"`
	QuotaBytes    int64     `json:"quota_bytes"`
	UsedBytes     int64     `json:"used_bytes"`
	ReservedBytes int64     `json:"reserved_bytes"`
	VideosCount   int64     `json:"videos_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanReserve проверяет, помещается ли size в квоту с учетом допуска.
func (p *QuotaProfile) CanReserve(size int64) bool {
	return p.UsedBytes+p.ReservedBytes+size <= p.QuotaBytes+GraceBytes
}

// QuotaInfo — агрегированная информация о квоте для выдачи наружу.
type QuotaInfo struct {
	TotalSpace     int64   `json:"total_space"`
	UsedSpace      int64   `json:"used_space"`
	ReservedSpace  int64   `json:"reserved_space"`
	AvailableSpace int64   `json:"available_space"`
	UsagePercent   float64 `json:"usage_percent"`
	VideosCount    int64   `json:"videos_count"`
}
