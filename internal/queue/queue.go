package queue

import (
	"context"
	"time"
)

// batchChunkSize — лимит пакетной отправки нижележащего примитива очереди.
const batchChunkSize = 10

// DeleteTask — задание на физическое удаление одного видео.
// Доставка "как минимум один раз": потребитель обязан быть идемпотентным.
type DeleteTask struct {
	OwnerID string `json:"owner"`
	VideoID string `json:"videoId"`
}

// Message — полученное из очереди задание вместе с квитанцией
// для подтверждения обработки.
type Message struct {
	Handle string
	Task   DeleteTask
}

// Queue определяет интерфейс асинхронной очереди заданий на удаление.
type Queue interface {
	// Enqueue ставит одно задание.
	Enqueue(ctx context.Context, task DeleteTask) error

	// EnqueueBatch ставит пакет заданий, разбивая его на чанки
	// по batchChunkSize.
	EnqueueBatch(ctx context.Context, tasks []DeleteTask) error

	// Receive забирает до max заданий, ожидая не дольше wait.
	Receive(ctx context.Context, max int32, wait time.Duration) ([]Message, error)

	// Delete подтверждает обработку задания по квитанции.
	Delete(ctx context.Context, handle string) error
}
