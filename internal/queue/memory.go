package queue

import (
	"context"
	"time"

	"github.com/ignatzorin/yodo-backend/internal/models"
)

// MemoryQueue очередь в памяти процесса для разработки и тестов.
// При рестарте незавершённые задачи теряются.
type MemoryQueue struct {
	tasks chan models.NotificationTask
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{tasks: make(chan models.NotificationTask, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task models.NotificationTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case task := <-q.tasks:
		return &Message{Task: task}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, *Message) error {
	return nil
}

// Len количество задач, ожидающих обработки.
func (q *MemoryQueue) Len() int {
	return len(q.tasks)
}
