// Package queue асинхронная очередь задач уведомлений с доставкой at-least-once.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/ignatzorin/yodo-backend/internal/models"
)

// ErrClosed очередь закрыта и больше не принимает задачи.
var ErrClosed = errors.New("queue closed")

// Message задача, выданная воркеру. Пока не вызван Ack, задача считается
// незавершённой и может быть выдана повторно после рестарта.
type Message struct {
	Task models.NotificationTask
	raw  string
}

// Queue очередь задач уведомлений.
type Queue interface {
	Enqueue(ctx context.Context, task models.NotificationTask) error
	// Dequeue ждёт задачу не дольше wait. Если задач нет, возвращает nil, nil.
	Dequeue(ctx context.Context, wait time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
}
