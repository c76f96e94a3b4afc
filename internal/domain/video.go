package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Статусы записи о видео.
const (
	VideoStatusReady    = "READY"
	VideoStatusDeleting = "DELETING"
)

// KeyPrefix — корень пространства имен загрузок в объектном хранилище.
const KeyPrefix = "video/"

// AllowedExtensions — допустимые расширения загружаемых файлов.
var AllowedExtensions = []string{"mov", "mp4", "hevc", "m4v"}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// VideoRecord — долговечная запись о загруженном видео. Технические поля
// (длительность, разрешение, миниатюра) заполняет внешний этап обогащения
// уже после создания записи.
type VideoRecord struct {
	VideoID      string `json:"video_id"`
	OwnerID      string `json:"owner_id"`
	ObjectBucket string `json:"object_bucket"`
	ObjectKey    string `json:"object_key"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	Status       string `json:"status"`
	ContentHash  string `json:"content_hash"`

	ThumbnailBucket string  `json:"thumbnail_bucket,omitempty"`
	ThumbnailKey    string  `json:"thumbnail_key,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Width           int64   `json:"width,omitempty"`
	Height          int64   `json:"height,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
	Address   string  `json:"address,omitempty"`
	City      string  `json:"city,omitempty"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// VideoEnrichment — технические метаданные, приходящие от внешнего
// этапа обогащения.
type VideoEnrichment struct {
	ThumbnailBucket string  `json:"thumbnail_bucket"`
	ThumbnailKey    string  `json:"thumbnail_key"`
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int64   `json:"width"`
	Height          int64   `json:"height"`
	ContentType     string  `json:"content_type"`
}

// VideoLocation — место съемки, редактируемое пользователем.
type VideoLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address"`
	City      string  `json:"city,omitempty"`
	Region    string  `json:"region,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// SanitizeFileName заменяет небезопасные символы и ограничивает длину,
// сохраняя хвост имени (там расширение).
func SanitizeFileName(name string) string {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	if len(safe) > 180 {
		safe = safe[len(safe)-180:]
	}
	return safe
}

// FileExt возвращает расширение файла в нижнем регистре без точки.
func FileExt(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx+1:])
}

// ExtensionAllowed проверяет расширение по allow-списку.
func ExtensionAllowed(ext string) bool {
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ObjectKey строит ключ оригинала: video/<owner>/<id>_<safeName>.
func ObjectKey(ownerID, id, safeName string) string {
	return fmt.Sprintf("%s%s/%s_%s", KeyPrefix, ownerID, id, safeName)
}

// ThumbnailKey строит ключ миниатюры для видео.
func ThumbnailKey(ownerID, videoID string) string {
	return fmt.Sprintf("%s%s/%s.jpg", KeyPrefix, ownerID, videoID)
}

// VideoIDFromKey извлекает идентификатор видео (последний сегмент ключа).
func VideoIDFromKey(key string) string {
	idx := strings.LastIndex(key, "/")
	if idx < 0 {
		return ""
	}
	return key[idx+1:]
}

// OwnerFromKey извлекает владельца из ключа вида video/<owner>/<videoId>.
func OwnerFromKey(key string) string {
	if !strings.HasPrefix(key, KeyPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(key, KeyPrefix)
	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return ""
	}
	return strings.ToLower(rest[:idx])
}

// KeyInNamespace проверяет, что ключ лежит в пространстве имен владельца.
func KeyInNamespace(ownerID, key string) bool {
	return strings.HasPrefix(key, KeyPrefix+ownerID+"/")
}
