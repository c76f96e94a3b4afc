package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videodrive/internal/domain"
	"videodrive/internal/repository"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
)

// fakeStorage — объектное хранилище в памяти для тестов сервисов.
type fakeStorage struct {
	mu         sync.Mutex
	nextUpload int
	objects    map[string]map[string]bool // bucket -> key
	uploads    map[string]string          // uploadID -> key
	aborted    []string
	createErr  error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects: make(map[string]map[string]bool),
		uploads: make(map[string]string),
	}
}

func (f *fakeStorage) putObject(bucket, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects[bucket] == nil {
		f.objects[bucket] = make(map[string]bool)
	}
	f.objects[bucket][key] = true
}

func (f *fakeStorage) hasObject(bucket, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[bucket][key]
}

func (f *fakeStorage) CreateMultipartUpload(_ context.Context, _, key, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextUpload++
	id := fmt.Sprintf("upload-%d", f.nextUpload)
	f.uploads[id] = key
	return id, nil
}

func (f *fakeStorage) PresignUploadPart(_ context.Context, bucket, key, uploadID string, partNumber int32, _ time.Duration) (string, error) {
	return fmt.Sprintf("https://%s/%s?uploadId=%s&partNumber=%d", bucket, key, uploadID, partNumber), nil
}

func (f *fakeStorage) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []s3.CompletedPart) error {
	f.mu.Lock()
	if _, ok := f.uploads[uploadID]; !ok {
		f.mu.Unlock()
		return fmt.Errorf("no such upload: %s", uploadID)
	}
	delete(f.uploads, uploadID)
	f.mu.Unlock()

	f.putObject(bucket, key)
	return nil
}

func (f *fakeStorage) AbortMultipartUpload(_ context.Context, _, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, uploadID)
	f.aborted = append(f.aborted, uploadID)
	return nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects[bucket], key)
	return nil
}

func (f *fakeStorage) ListObjects(_ context.Context, bucket, prefix, token string, pageSize int32) (*s3.ObjectPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for key := range f.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	start := 0
	if token != "" {
		for i, key := range keys {
			if key > token {
				start = i
				break
			}
		}
	}
	end := start + int(pageSize)
	if end >= len(keys) {
		return &s3.ObjectPage{Keys: keys[start:]}, nil
	}
	return &s3.ObjectPage{
		Keys:      keys[start:end],
		NextToken: keys[end-1],
		Truncated: true,
	}, nil
}

type uploadFixture struct {
	store           *store.MemoryStore
	storage         *fakeStorage
	quotaRepo       *repository.QuotaRepository
	reservationRepo *repository.ReservationRepository
	hashRepo        *repository.HashRepository
	videoRepo       *repository.VideoRepository
	service         *UploadService
}

func newUploadFixture() *uploadFixture {
	st := store.NewMemoryStore()
	storage := newFakeStorage()
	quotaRepo := repository.NewQuotaRepository(st)
	reservationRepo := repository.NewReservationRepository(st)
	hashRepo := repository.NewHashRepository(st)
	videoRepo := repository.NewVideoRepository(st)

	return &uploadFixture{
		store:           st,
		storage:         storage,
		quotaRepo:       quotaRepo,
		reservationRepo: reservationRepo,
		hashRepo:        hashRepo,
		videoRepo:       videoRepo,
		service: NewUploadService(
			st, storage, quotaRepo, reservationRepo, hashRepo, videoRepo,
			"originals", 15*time.Minute,
		),
	}
}

func validInput() InitUploadInput {
	return InitUploadInput{
		FileName:    "holiday.mp4",
		ContentType: "video/mp4",
		Size:        1024,
		ContentHash: "deadbeef",
	}
}

func TestInitUploadValidation(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	in := validInput()
	in.ContentHash = ""
	_, err := fx.service.InitUpload(ctx, "u", in)
	assert.True(t, domain.IsValidation(err))

	in = validInput()
	in.FileName = "document.pdf"
	_, err = fx.service.InitUpload(ctx, "u", in)
	assert.True(t, domain.IsValidation(err))

	in = validInput()
	in.Size = 0
	_, err = fx.service.InitUpload(ctx, "u", in)
	assert.True(t, domain.IsValidation(err))

	in = validInput()
	in.Size = domain.MaxUploadBytes + 1
	_, err = fx.service.InitUpload(ctx, "u", in)
	assert.True(t, domain.IsValidation(err))
}

func TestInitUploadReservesQuota(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	result, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "originals", result.Bucket)
	assert.True(t, strings.HasPrefix(result.Key, "video/u/"))
	assert.True(t, strings.HasSuffix(result.Key, "_holiday.mp4"))
	assert.Equal(t, domain.VideoIDFromKey(result.Key), result.VideoID)
	assert.NotEmpty(t, result.UploadID)

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), profile.ReservedBytes)

	reservation, err := fx.reservationRepo.Get(ctx, "u", result.VideoID)
	require.NoError(t, err)
	assert.Equal(t, result.Key, reservation.ObjectKey)
	assert.WithinDuration(t, time.Now().Add(domain.ReservationTTL), reservation.ExpiresAt, time.Minute)
}

func TestInitUploadAdvisoryDuplicate(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	lock := &domain.ContentHashLock{
		OwnerID:     "u",
		Fingerprint: "deadbeef",
		VideoID:     "v-existing",
		CreatedAt:   time.Now().UTC(),
	}
	require.NoError(t, fx.store.Transact(ctx, fx.hashRepo.InsertOp(lock)))

	result, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	// Клиент получает ссылку на видео, уже захватившее отпечаток.
	assert.Equal(t, "v-existing", result.VideoID)
	assert.Empty(t, result.UploadID)
}

// Провал резервирования после открытия сессии отменяет сессию.
func TestInitUploadQuotaFailureAbortsSession(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	require.NoError(t, fx.quotaRepo.UpdateQuotaLimit(ctx, "u", 0))
	seedUsed(t, fx.store, "u", domain.GraceBytes)

	_, err := fx.service.InitUpload(ctx, "u", validInput())
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Len(t, fx.storage.aborted, 1)
}

func seedUsed(t *testing.T, st store.Store, owner string, used int64) {
	t.Helper()
	err := st.Apply(context.Background(), store.Op{Update: &store.UpdateOp{
		Key: store.Key{Owner: owner, Sort: store.SortProfile},
		Add: map[string]int64{"usedBytes": used},
	}})
	require.NoError(t, err)
}

func TestGetPartUploadTarget(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	url, err := fx.service.GetPartUploadTarget(ctx, "u", "video/u/v1_a.mp4", "upload-1", 3)
	require.NoError(t, err)
	assert.Contains(t, url, "partNumber=3")

	_, err = fx.service.GetPartUploadTarget(ctx, "u", "video/other/v1_a.mp4", "upload-1", 1)
	assert.ErrorIs(t, err, domain.ErrForbiddenKey)

	_, err = fx.service.GetPartUploadTarget(ctx, "u", "video/u/v1_a.mp4", "upload-1", 0)
	assert.True(t, domain.IsValidation(err))
}

func TestCompleteUploadSortsAndFiltersParts(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	result, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)

	parts := []s3.CompletedPart{
		{PartNumber: 2, ETag: "b"},
		{PartNumber: 0, ETag: "zero"}, // отбрасывается
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 3, ETag: ""}, // отбрасывается
	}
	require.NoError(t, fx.service.CompleteUpload(ctx, "u", result.Key, result.UploadID, parts))
	assert.True(t, fx.storage.hasObject("originals", result.Key))
}

func TestCompleteUploadNoValidParts(t *testing.T) {
	fx := newUploadFixture()
	err := fx.service.CompleteUpload(context.Background(), "u", "video/u/v1", "up-1",
		[]s3.CompletedPart{{PartNumber: 0, ETag: ""}})
	assert.True(t, domain.IsValidation(err))
}

func TestFinalizeUploadCommits(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	result, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)

	record, err := fx.service.FinalizeUpload(ctx, "u", FinalizeInput{
		Key:          result.Key,
		OriginalName: "holiday.mp4",
		ContentType:  "video/mp4",
		ContentHash:  "deadbeef",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusReady, record.Status)
	assert.Equal(t, int64(1024), record.Size)

	// Резервирование снято, байты переведены в used.
	_, err = fx.reservationRepo.Get(ctx, "u", result.VideoID)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), profile.UsedBytes)
	assert.Zero(t, profile.ReservedBytes)
	assert.Equal(t, int64(1), profile.VideosCount)

	exists, err := fx.hashRepo.Exists(ctx, "u", "deadbeef")
	require.NoError(t, err)
	assert.True(t, exists)

	// Повторная фиксация того же ключа: резервирования больше нет.
	_, err = fx.service.FinalizeUpload(ctx, "u", FinalizeInput{
		Key:         result.Key,
		ContentHash: "deadbeef",
	})
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestFinalizeUploadWithoutReservation(t *testing.T) {
	fx := newUploadFixture()

	_, err := fx.service.FinalizeUpload(context.Background(), "u", FinalizeInput{
		Key:         "video/u/v-unknown",
		ContentHash: "deadbeef",
	})
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestFinalizeUploadKeyMismatch(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	// Строка резервирования указывает на другой ключ объекта.
	now := time.Now().UTC()
	reservation := &domain.UploadReservation{
		OwnerID:   "u",
		VideoID:   "v-1",
		ObjectKey: "video/u/v-other",
		SizeBytes: 100,
		CreatedAt: now,
		ExpiresAt: now.Add(domain.ReservationTTL),
	}
	require.NoError(t, fx.store.Transact(ctx, fx.reservationRepo.InsertOp(reservation)))

	_, err := fx.service.FinalizeUpload(ctx, "u", FinalizeInput{
		Key:         "video/u/v-1",
		ContentHash: "deadbeef",
	})
	assert.ErrorIs(t, err, domain.ErrReservationMismatch)
}

// Гонка дедупликации: две загрузки одного контента, фиксация второй
// отклоняется, ее резервирование освобождается.
func TestFinalizeUploadDuplicateRace(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	first, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)
	second, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)

	_, err = fx.service.FinalizeUpload(ctx, "u", FinalizeInput{Key: first.Key, ContentHash: "deadbeef"})
	require.NoError(t, err)

	_, err = fx.service.FinalizeUpload(ctx, "u", FinalizeInput{Key: second.Key, ContentHash: "deadbeef"})
	assert.ErrorIs(t, err, domain.ErrDuplicateContent)

	// Ровно одна запись, резервирование проигравшего снято, квота чистая.
	videos, err := fx.videoRepo.List(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, videos, 1)
	assert.Equal(t, first.VideoID, videos[0].VideoID)

	_, err = fx.reservationRepo.Get(ctx, "u", second.VideoID)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), profile.UsedBytes)
	assert.Zero(t, profile.ReservedBytes)
	assert.Equal(t, int64(1), profile.VideosCount)
}

func TestAbortUploadIdempotent(t *testing.T) {
	fx := newUploadFixture()
	ctx := context.Background()

	result, err := fx.service.InitUpload(ctx, "u", validInput())
	require.NoError(t, err)

	require.NoError(t, fx.service.AbortUpload(ctx, "u", result.Key, result.UploadID))

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, profile.ReservedBytes)

	// Повторная отмена — no-op, reservedBytes не уходит в минус.
	require.NoError(t, fx.service.AbortUpload(ctx, "u", result.Key, result.UploadID))

	profile, err = fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, profile.ReservedBytes)
}

func TestAbortUploadForeignKey(t *testing.T) {
	fx := newUploadFixture()
	err := fx.service.AbortUpload(context.Background(), "u", "video/other/v1", "up-1")
	assert.ErrorIs(t, err, domain.ErrForbiddenKey)
}
