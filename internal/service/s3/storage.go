// storage.go
package s3

import (
	"context"
	"time"
)

// Storage определяет интерфейс объектного хранилища, который использует
// ядро: multipart-сессии, подписанные URL для частей, удаление и листинг.
type Storage interface {
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)
	PresignUploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, ttl time.Duration) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix, continuationToken string, pageSize int32) (*ObjectPage, error)
}

// CompletedPart представляет загруженную часть файла.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// ObjectPage — одна страница листинга по префиксу.
type ObjectPage struct {
	Keys      []string
	NextToken string
	Truncated bool
}
