package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/goroutine"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/models"
	"github.com/ignatzorin/yodo-backend/internal/queue"
)

const (
	dequeueWait         = 2 * time.Second
	maxDeliveryAttempts = 3
)

// Pusher доставляет событие в открытые соединения пользователя.
type Pusher interface {
	BroadcastToUser(ctx context.Context, userID uuid.UUID, event string, data any) error
}

// NotificationSaver сохраняет уведомление в истории.
type NotificationSaver interface {
	Save(ctx context.Context, userID uuid.UUID, event string, data any) (*models.Notification, error)
}

// NotificationDispatcher разбирает очередь уведомлений пулом воркеров.
// Задача сохраняется в истории и отправляется в WebSocket; неудачная
// попытка повторяется до maxDeliveryAttempts, потом задача отбрасывается.
type NotificationDispatcher struct {
	queue    queue.Queue
	saver    NotificationSaver
	pusher   Pusher
	workers  int
	recovery *goroutine.RecoveryHandler
	log      *logrus.Entry
}

func NewNotificationDispatcher(q queue.Queue, saver NotificationSaver, pusher Pusher, workers int) *NotificationDispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &NotificationDispatcher{
		queue:    q,
		saver:    saver,
		pusher:   pusher,
		workers:  workers,
		recovery: goroutine.DefaultRecoveryHandler,
		log:      logger.Component("notify-dispatcher"),
	}
}

// Run блокируется до отмены ctx.
func (d *NotificationDispatcher) Run(ctx context.Context) error {
	d.log.WithField("workers", d.workers).Info("notification dispatcher started")

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		d.recovery.SafeGoWithContext(ctx, "notify-worker", func(ctx context.Context) {
			defer wg.Done()
			d.work(ctx)
		})
	}
	wg.Wait()

	d.log.Info("notification dispatcher stopped")
	return nil
}

func (d *NotificationDispatcher) work(ctx context.Context) {
	for ctx.Err() == nil {
		msg, err := d.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			d.log.WithError(err).Warn("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}
		d.Process(ctx, msg)
	}
}

// Process обрабатывает одну задачу.
func (d *NotificationDispatcher) Process(ctx context.Context, msg *queue.Message) {
	task := msg.Task
	fields := logrus.Fields{
		"task_id": task.ID,
		"user_id": task.UserID,
		"event":   task.Event,
	}

	var deliverErr error
	ok := d.recovery.Run("notify-deliver", func() {
		deliverErr = d.deliver(ctx, &task)
	})
	if !ok {
		deliverErr = errors.New("panic during delivery")
	}

	if deliverErr != nil {
		task.Attempts++
		fields["attempts"] = task.Attempts
		fields["error"] = deliverErr
		if task.Attempts < maxDeliveryAttempts {
			if err := d.queue.Enqueue(ctx, task); err != nil {
				// Без Ack задача останется в processing и вернётся через Recover.
				d.log.WithFields(fields).WithField("requeue_error", err).Error("notification requeue failed, left unacked")
				return
			}
			d.log.WithFields(fields).Warn("notification delivery failed, requeued")
		} else {
			d.log.WithFields(fields).Error("notification dropped after max attempts")
		}
	}

	if err := d.queue.Ack(ctx, msg); err != nil {
		d.log.WithFields(fields).WithError(err).Warn("notification ack failed")
	}
}

func (d *NotificationDispatcher) deliver(ctx context.Context, task *models.NotificationTask) error {
	// Повтор после сбоя push не дублирует запись в истории.
	if !task.Saved {
		if _, err := d.saver.Save(ctx, task.UserID, task.Event, task.Data); err != nil {
			return err
		}
		task.Saved = true
	}
	return d.pusher.BroadcastToUser(ctx, task.UserID, task.Event, task.Data)
}
