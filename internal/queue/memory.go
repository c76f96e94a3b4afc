package queue

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue — реализация Queue в памяти для тестов и локальной
// разработки. Сообщение остается в полете до подтверждения, как в SQS.
type MemoryQueue struct {
	mu       sync.Mutex
	nextID   int
	pending  []Message
	inflight map[string]Message
}

// NewMemoryQueue создает пустую очередь в памяти.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{inflight: make(map[string]Message)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task DeleteTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.push(task)
	return nil
}

func (q *MemoryQueue) EnqueueBatch(_ context.Context, tasks []DeleteTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, task := range tasks {
		q.push(task)
	}
	return nil
}

func (q *MemoryQueue) push(task DeleteTask) {
	q.nextID++
	q.pending = append(q.pending, Message{
		Handle: fmt.Sprintf("msg-%d", q.nextID),
		Task:   task,
	})
}

func (q *MemoryQueue) Receive(_ context.Context, max int32, _ time.Duration) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int(max)
	if n > len(q.pending) {
		n = len(q.pending)
	}
	if n == 0 {
		return nil, nil
	}

	batch := q.pending[:n]
	q.pending = q.pending[n:]
	for _, m := range batch {
		q.inflight[m.Handle] = m
	}
	return batch, nil
}

func (q *MemoryQueue) Delete(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, handle)
	return nil
}

// Requeue возвращает неподтвержденные сообщения обратно в очередь —
// имитация повторной доставки.
func (q *MemoryQueue) Requeue() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for handle, m := range q.inflight {
		q.pending = append(q.pending, m)
		delete(q.inflight, handle)
	}
}

// Len возвращает число ожидающих сообщений.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
