package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videodrive/internal/domain"
	"videodrive/internal/queue"
	"videodrive/internal/repository"
	"videodrive/internal/store"
)

type videoFixture struct {
	store     *store.MemoryStore
	queue     *queue.MemoryQueue
	videoRepo *repository.VideoRepository
	service   *VideoService
}

func newVideoFixture() *videoFixture {
	st := store.NewMemoryStore()
	q := queue.NewMemoryQueue()
	videoRepo := repository.NewVideoRepository(st)
	return &videoFixture{
		store:     st,
		queue:     q,
		videoRepo: videoRepo,
		service:   NewVideoService(videoRepo, q),
	}
}

func (fx *videoFixture) insertVideo(t *testing.T, ownerID, videoID string) {
	t.Helper()
	now := time.Now().UTC()
	rec := &domain.VideoRecord{
		VideoID:      videoID,
		OwnerID:      ownerID,
		ObjectBucket: "originals",
		ObjectKey:    "video/" + ownerID + "/" + videoID,
		Size:         100,
		Status:       domain.VideoStatusReady,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, fx.store.Transact(context.Background(), fx.videoRepo.InsertOp(rec)))
}

func TestListVideos(t *testing.T) {
	fx := newVideoFixture()
	ctx := context.Background()

	fx.insertVideo(t, "u", "v1")
	fx.insertVideo(t, "u", "v2")
	fx.insertVideo(t, "w", "v3")

	videos, err := fx.service.ListVideos(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, videos, 2)

	_, err = fx.service.ListVideos(ctx, "")
	assert.Error(t, err)
}

func TestDeleteVideoMarksAndEnqueues(t *testing.T) {
	fx := newVideoFixture()
	ctx := context.Background()

	fx.insertVideo(t, "u", "v1")
	require.NoError(t, fx.service.DeleteVideo(ctx, "u", "v1"))

	record, err := fx.service.GetVideo(ctx, "u", "v1")
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusDeleting, record.Status)
	assert.NotNil(t, record.DeletedAt)
	assert.Equal(t, 1, fx.queue.Len())

	// Повтор по записи в DELETING не плодит заданий.
	require.NoError(t, fx.service.DeleteVideo(ctx, "u", "v1"))
	assert.Equal(t, 1, fx.queue.Len())
}

func TestDeleteVideoMissing(t *testing.T) {
	fx := newVideoFixture()
	err := fx.service.DeleteVideo(context.Background(), "u", "v-none")
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}

func TestDeleteVideosBatch(t *testing.T) {
	fx := newVideoFixture()
	ctx := context.Background()

	fx.insertVideo(t, "u", "v1")
	fx.insertVideo(t, "u", "v2")

	// Дубликаты и пустые строки схлопываются, отсутствующий элемент
	// не валит пакет.
	queued, err := fx.service.DeleteVideos(ctx, "u", []string{"v1", "v1", " ", "v2", "v-gone"})
	require.NoError(t, err)
	assert.Equal(t, 3, queued)
	assert.Equal(t, 3, fx.queue.Len())

	for _, id := range []string{"v1", "v2"} {
		record, err := fx.service.GetVideo(ctx, "u", id)
		require.NoError(t, err)
		assert.Equal(t, domain.VideoStatusDeleting, record.Status)
	}
}

func TestDeleteVideosEmpty(t *testing.T) {
	fx := newVideoFixture()
	_, err := fx.service.DeleteVideos(context.Background(), "u", []string{" ", ""})
	assert.True(t, domain.IsValidation(err))
}

func TestUpdateLocation(t *testing.T) {
	fx := newVideoFixture()
	ctx := context.Background()

	fx.insertVideo(t, "u", "v1")

	err := fx.service.UpdateLocation(ctx, "u", "v1", &domain.VideoLocation{
		Latitude:  -33.86,
		Longitude: 151.21,
		Address:   "Sydney NSW",
		Country:   "Australia",
	})
	require.NoError(t, err)

	record, err := fx.service.GetVideo(ctx, "u", "v1")
	require.NoError(t, err)
	assert.InDelta(t, -33.86, record.Latitude, 0.001)
	assert.Equal(t, "Sydney NSW", record.Address)

	err = fx.service.UpdateLocation(ctx, "u", "v1", &domain.VideoLocation{Latitude: 91, Address: "x"})
	assert.True(t, domain.IsValidation(err))

	err = fx.service.UpdateLocation(ctx, "u", "v1", &domain.VideoLocation{Address: "  "})
	assert.True(t, domain.IsValidation(err))
}

func TestApplyEnrichment(t *testing.T) {
	fx := newVideoFixture()
	ctx := context.Background()

	fx.insertVideo(t, "u", "v1")

	err := fx.service.ApplyEnrichment(ctx, "u", "v1", &domain.VideoEnrichment{
		ThumbnailBucket: "thumbnails",
		ThumbnailKey:    "video/u/v1.jpg",
		DurationSeconds: 12.5,
		Width:           1920,
		Height:          1080,
	})
	require.NoError(t, err)

	record, err := fx.service.GetVideo(ctx, "u", "v1")
	require.NoError(t, err)
	assert.Equal(t, "video/u/v1.jpg", record.ThumbnailKey)
	assert.InDelta(t, 12.5, record.DurationSeconds, 0.001)
	assert.Equal(t, int64(1920), record.Width)

	err = fx.service.ApplyEnrichment(ctx, "u", "v-gone", &domain.VideoEnrichment{})
	assert.ErrorIs(t, err, domain.ErrVideoNotFound)
}
