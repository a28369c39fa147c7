package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/models"
)

const (
	dialTimeout  = 5 * time.Second
	readTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
)

// RedisQueue надёжная очередь на двух списках: выданная задача атомарно
// переносится в processing и удаляется оттуда только после Ack.
type RedisQueue struct {
	client     *redis.Client
	key        string
	processing string
}

// NewRedisClient создаёт подключение и проверяет его через PING.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("queue: redis ping failed: %w", err)
	}
	return rdb, nil
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, task models.NotificationTask) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: marshal task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("queue: redis lpush failed: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	raw, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: redis blmove failed: %w", err)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		// Битую задачу не отдаём воркерам повторно.
		_ = q.client.LRem(ctx, q.processing, 1, raw).Err()
		return nil, err
	}
	return msg, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	if err := q.client.LRem(ctx, q.processing, 1, msg.raw).Err(); err != nil {
		return fmt.Errorf("queue: redis lrem failed: %w", err)
	}
	return nil
}

// Recover возвращает в очередь задачи, которые были выданы, но не подтверждены
// до остановки процесса. Вызывается при старте до запуска воркеров.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("queue: redis lmove failed: %w", err)
		}
		moved++
	}
}

func decodeMessage(raw string) (*Message, error) {
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	return &Message{Task: task, raw: raw}, nil
}
