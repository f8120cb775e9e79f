package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"streakboard/internal/domain"
)

// RedisActivityQueue реализует очередь задач на базе Redis lists.
// Запасной транспорт для окружений без RabbitMQ: подтверждения
// брокером не поддерживаются, неуспешная задача кладётся обратно.
type RedisActivityQueue struct {
	client *redis.Client
	key    string
}

// NewRedisActivityQueue создаёт очередь по указанному ключу.
func NewRedisActivityQueue(client *redis.Client, key string) *RedisActivityQueue {
	return &RedisActivityQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisActivityQueue) Enqueue(ctx context.Context, job domain.ActivityJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisActivityQueue) Receive(ctx context.Context) (domain.ActivityJob, domain.ActivityAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.ActivityJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.ActivityJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.ActivityJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.ActivityJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		var job domain.ActivityJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return domain.ActivityJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.LPush(context.Background(), q.key, payload).Err()
		}
		return job, ack, nil
	}
}
