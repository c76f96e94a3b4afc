package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videodrive/internal/domain"
	"videodrive/internal/queue"
	"videodrive/internal/repository"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
)

// fakeStorage реализует s3.Storage: воркеру нужно только удаление.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string]map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string]map[string]bool)}
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

func (f *fakeStorage) CreateMultipartUpload(context.Context, string, string, string) (string, error) {
	return "", nil
}

func (f *fakeStorage) PresignUploadPart(context.Context, string, string, string, int32, time.Duration) (string, error) {
	return "", nil
}

func (f *fakeStorage) CompleteMultipartUpload(context.Context, string, string, string, []s3.CompletedPart) error {
	return nil
}

func (f *fakeStorage) AbortMultipartUpload(context.Context, string, string, string) error {
	return nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, bucket, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects[bucket], key)
	return nil
}

func (f *fakeStorage) ListObjects(context.Context, string, string, string, int32) (*s3.ObjectPage, error) {
	return &s3.ObjectPage{}, nil
}

type workerFixture struct {
	store     *store.MemoryStore
	storage   *fakeStorage
	queue     *queue.MemoryQueue
	videoRepo *repository.VideoRepository
	hashRepo  *repository.HashRepository
	quotaRepo *repository.QuotaRepository
	worker    *DeleteWorker
}

func newWorkerFixture() *workerFixture {
	st := store.NewMemoryStore()
	storage := newFakeStorage()
	q := queue.NewMemoryQueue()
	videoRepo := repository.NewVideoRepository(st)
	hashRepo := repository.NewHashRepository(st)
	quotaRepo := repository.NewQuotaRepository(st)

	return &workerFixture{
		store:     st,
		storage:   storage,
		queue:     q,
		videoRepo: videoRepo,
		hashRepo:  hashRepo,
		quotaRepo: quotaRepo,
		worker:    NewDeleteWorker(q, st, storage, videoRepo, hashRepo, quotaRepo, "thumbnails"),
	}
}

// commitVideo раскладывает зафиксированное видео: запись, отпечаток,
// счетчики профиля и объекты в хранилище.
func (fx *workerFixture) commitVideo(t *testing.T, ownerID, videoID, hash string, size int64) {
	t.Helper()
	ctx := context.Background()

	_, err := fx.quotaRepo.GetProfile(ctx, ownerID)
	require.NoError(t, err)
	require.NoError(t, fx.quotaRepo.Reserve(ctx, ownerID, size))

	now := time.Now().UTC()
	rec := &domain.VideoRecord{
		VideoID:      videoID,
		OwnerID:      ownerID,
		ObjectBucket: "originals",
		ObjectKey:    "video/" + ownerID + "/" + videoID,
		Size:         size,
		Status:       domain.VideoStatusReady,
		ContentHash:  hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	lock := &domain.ContentHashLock{OwnerID: ownerID, Fingerprint: hash, VideoID: videoID, CreatedAt: now}

	require.NoError(t, fx.store.Transact(ctx,
		fx.hashRepo.InsertOp(lock),
		fx.videoRepo.InsertOp(rec),
		fx.quotaRepo.CommitOp(ownerID, size, now),
	))

	fx.storage.putObject("originals", rec.ObjectKey)
	fx.storage.putObject("thumbnails", domain.ThumbnailKey(ownerID, videoID))
}

func TestProcessDeletesEverything(t *testing.T) {
	fx := newWorkerFixture()
	ctx := context.Background()

	fx.commitVideo(t, "u", "v1", "deadbeef", 100)

	require.NoError(t, fx.worker.Process(ctx, queue.DeleteTask{OwnerID: "u", VideoID: "v1"}))

	assert.False(t, fx.storage.hasObject("originals", "video/u/v1"))
	assert.False(t, fx.storage.hasObject("thumbnails", "video/u/v1.jpg"))

	_, err := fx.videoRepo.Get(ctx, "u", "v1")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)

	exists, err := fx.hashRepo.Exists(ctx, "u", "deadbeef")
	require.NoError(t, err)
	assert.False(t, exists)

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, profile.UsedBytes)
	assert.Zero(t, profile.VideosCount)
}

// Повторная доставка по уже удаленному видео — успех без побочных эффектов.
func TestProcessIdempotentOnMissingVideo(t *testing.T) {
	fx := newWorkerFixture()
	ctx := context.Background()

	fx.commitVideo(t, "u", "v1", "deadbeef", 100)
	require.NoError(t, fx.worker.Process(ctx, queue.DeleteTask{OwnerID: "u", VideoID: "v1"}))
	require.NoError(t, fx.worker.Process(ctx, queue.DeleteTask{OwnerID: "u", VideoID: "v1"}))

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Zero(t, profile.UsedBytes)
	assert.Zero(t, profile.VideosCount)
}

func TestProcessKeepsOtherVideos(t *testing.T) {
	fx := newWorkerFixture()
	ctx := context.Background()

	fx.commitVideo(t, "u", "v1", "hash-1", 100)
	fx.commitVideo(t, "u", "v2", "hash-2", 200)

	require.NoError(t, fx.worker.Process(ctx, queue.DeleteTask{OwnerID: "u", VideoID: "v1"}))

	_, err := fx.videoRepo.Get(ctx, "u", "v2")
	require.NoError(t, err)
	assert.True(t, fx.storage.hasObject("originals", "video/u/v2"))

	profile, err := fx.quotaRepo.GetProfile(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(200), profile.UsedBytes)
	assert.Equal(t, int64(1), profile.VideosCount)
}

// Полный путь через очередь: задания принимаются и подтверждаются.
func TestRunDrainsQueue(t *testing.T) {
	fx := newWorkerFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.commitVideo(t, "u", "v1", "hash-1", 100)
	fx.commitVideo(t, "u", "v2", "hash-2", 200)
	require.NoError(t, fx.queue.EnqueueBatch(ctx, []queue.DeleteTask{
		{OwnerID: "u", VideoID: "v1"},
		{OwnerID: "u", VideoID: "v2"},
	}))

	fx.worker.idleDelay = 10 * time.Millisecond
	done := make(chan struct{})
	go func() {
		fx.worker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, err1 := fx.videoRepo.Get(context.Background(), "u", "v1")
		_, err2 := fx.videoRepo.Get(context.Background(), "u", "v2")
		return err1 != nil && err2 != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.Zero(t, fx.queue.Len())
}
