package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
	"videodrive/internal/queue"
	"videodrive/internal/repository"
)

// VideoService — операции над записями видео: листинг, пометка на
// удаление с постановкой заданий в очередь, место съемки и приемка
// метаданных от внешнего этапа обогащения.
type VideoService struct {
	videoRepo   *repository.VideoRepository
	deleteQueue queue.Queue
}

func NewVideoService(videoRepo *repository.VideoRepository, deleteQueue queue.Queue) *VideoService {
	return &VideoService{
		videoRepo:   videoRepo,
		deleteQueue: deleteQueue,
	}
}

// ListVideos возвращает все видео пользователя.
func (s *VideoService) ListVideos(ctx context.Context, ownerID string) ([]domain.VideoRecord, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}
	return s.videoRepo.List(ctx, ownerID)
}

// GetVideo возвращает одну запись.
func (s *VideoService) GetVideo(ctx context.Context, ownerID, videoID string) (*domain.VideoRecord, error) {
	return s.videoRepo.Get(ctx, ownerID, videoID)
}

// DeleteVideo помечает запись как DELETING и ставит задание на
// физическое удаление. Запись, уже находящаяся в DELETING, считается
// успешно обработанной.
func (s *VideoService) DeleteVideo(ctx context.Context, ownerID, videoID string) error {
	record, err := s.videoRepo.Get(ctx, ownerID, videoID)
	if err != nil {
		return err
	}
	if record.Status == domain.VideoStatusDeleting {
		return nil
	}

	if err := s.deleteQueue.Enqueue(ctx, queue.DeleteTask{OwnerID: ownerID, VideoID: videoID}); err != nil {
		return fmt.Errorf("failed to enqueue delete task: %w", err)
	}

	return s.videoRepo.MarkDeleting(ctx, ownerID, videoID)
}

// DeleteVideos помечает и ставит в очередь пакет видео. Пакет режется
// на чанки очереди, а переход статуса каждого элемента условен сам по
// себе: отсутствующий или уже удаленный элемент не валит весь пакет.
func (s *VideoService) DeleteVideos(ctx context.Context, ownerID string, videoIDs []string) (int, error) {
	seen := make(map[string]struct{}, len(videoIDs))
	unique := make([]string, 0, len(videoIDs))
	for _, id := range videoIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, domain.NewValidationError("video_ids", "is required")
	}

	tasks := make([]queue.DeleteTask, 0, len(unique))
	for _, id := range unique {
		tasks = append(tasks, queue.DeleteTask{OwnerID: ownerID, VideoID: id})
	}
	if err := s.deleteQueue.EnqueueBatch(ctx, tasks); err != nil {
		return 0, fmt.Errorf("failed to enqueue delete tasks: %w", err)
	}

	for _, id := range unique {
		if err := s.videoRepo.MarkDeleting(ctx, ownerID, id); err != nil {
			if errors.Is(err, domain.ErrVideoNotFound) {
				log.Debug().Str("owner", ownerID).Str("video", id).Msg("skip marking missing video")
				continue
			}
			return 0, err
		}
	}
	return len(unique), nil
}

// UpdateLocation сохраняет место съемки на собственной записи пользователя.
func (s *VideoService) UpdateLocation(ctx context.Context, ownerID, videoID string, loc *domain.VideoLocation) error {
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return domain.NewValidationError("location", "invalid coordinates")
	}
	if strings.TrimSpace(loc.Address) == "" {
		return domain.NewValidationError("address", "is required")
	}

	if _, err := s.videoRepo.Get(ctx, ownerID, videoID); err != nil {
		return err
	}
	return s.videoRepo.UpdateLocation(ctx, ownerID, videoID, loc)
}

// ApplyEnrichment принимает технические метаданные от внешнего этапа
// обогащения. Расхождение фактического размера объекта с заявленным —
// вопрос качества данных, леджер им не занимается.
func (s *VideoService) ApplyEnrichment(ctx context.Context, ownerID, videoID string, enr *domain.VideoEnrichment) error {
	if _, err := s.videoRepo.Get(ctx, ownerID, videoID); err != nil {
		return err
	}
	return s.videoRepo.ApplyEnrichment(ctx, ownerID, videoID, enr)
}
