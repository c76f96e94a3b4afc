package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"videodrive/internal/domain"
	"videodrive/internal/queue"
	"videodrive/internal/repository"
	"videodrive/internal/service/s3"
	"videodrive/internal/store"
)

// DeleteWorker — потребитель очереди удалений. Для каждого задания
// удаляет объекты из хранилища, затем одной транзакцией снимает запись
// о видео, отпечаток содержимого и возвращает байты из used. Задания
// идемпотентны: повторная доставка по уже удаленному видео просто
// подтверждается.
type DeleteWorker struct {
	queue     queue.Queue
	store     store.Store
	s3Client  s3.Storage
	videoRepo *repository.VideoRepository
	hashRepo  *repository.HashRepository
	quotaRepo *repository.QuotaRepository

	thumbnailBucket string
	pollWait        time.Duration
	idleDelay       time.Duration
}

func NewDeleteWorker(
	q queue.Queue,
	st store.Store,
	s3Client s3.Storage,
	videoRepo *repository.VideoRepository,
	hashRepo *repository.HashRepository,
	quotaRepo *repository.QuotaRepository,
	thumbnailBucket string,
) *DeleteWorker {
	return &DeleteWorker{
		queue:           q,
		store:           st,
		s3Client:        s3Client,
		videoRepo:       videoRepo,
		hashRepo:        hashRepo,
		quotaRepo:       quotaRepo,
		thumbnailBucket: thumbnailBucket,
		pollWait:        20 * time.Second,
		idleDelay:       time.Second,
	}
}

// Run крутит цикл приема до отмены контекста.
func (w *DeleteWorker) Run(ctx context.Context) {
	log.Info().Msg("delete worker started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("delete worker stopped")
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, 10, w.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to receive delete tasks")
			w.sleep(ctx, w.idleDelay)
			continue
		}
		if len(messages) == 0 {
			w.sleep(ctx, w.idleDelay)
			continue
		}

		for _, msg := range messages {
			if err := w.Process(ctx, msg.Task); err != nil {
				// Сообщение не подтверждаем — очередь доставит его снова.
				log.Error().
					Err(err).
					Str("owner", msg.Task.OwnerID).
					Str("video", msg.Task.VideoID).
					Msg("failed to process delete task")
				continue
			}
			if err := w.queue.Delete(ctx, msg.Handle); err != nil {
				log.Warn().Err(err).Str("handle", msg.Handle).Msg("failed to ack delete task")
			}
		}
	}
}

// Process выполняет одно задание. Отсутствующая запись — успех:
// кто-то уже удалил видео до нас.
func (w *DeleteWorker) Process(ctx context.Context, task queue.DeleteTask) error {
	record, err := w.videoRepo.Get(ctx, task.OwnerID, task.VideoID)
	if err != nil {
		if errors.Is(err, domain.ErrVideoNotFound) {
			return nil
		}
		return err
	}

	// Сначала байты в хранилище, потом леджер: упавший посередине воркер
	// оставит запись, и повторная доставка доведет дело до конца.
	if err := w.s3Client.DeleteObject(ctx, record.ObjectBucket, record.ObjectKey); err != nil {
		return err
	}

	thumbBucket := record.ThumbnailBucket
	thumbKey := record.ThumbnailKey
	if thumbKey == "" {
		thumbBucket = w.thumbnailBucket
		thumbKey = domain.ThumbnailKey(task.OwnerID, task.VideoID)
	}
	if thumbBucket != "" && thumbKey != "" {
		if err := w.s3Client.DeleteObject(ctx, thumbBucket, thumbKey); err != nil {
			log.Warn().Err(err).Str("key", thumbKey).Msg("failed to delete thumbnail")
		}
	}

	now := time.Now().UTC()
	ops := []store.Op{
		w.videoRepo.DeleteOp(task.OwnerID, task.VideoID, true),
		w.quotaRepo.DecommitOp(task.OwnerID, record.Size, now),
	}
	if record.ContentHash != "" {
		ops = append(ops, w.hashRepo.DeleteOp(task.OwnerID, record.ContentHash))
	}

	if err := w.store.Transact(ctx, ops...); err != nil {
		if errors.Is(err, store.ErrTransactionCanceled) {
			// Запись исчезла между чтением и транзакцией — задание уже
			// выполнено параллельной доставкой.
			return nil
		}
		return err
	}
	return nil
}

func (w *DeleteWorker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
