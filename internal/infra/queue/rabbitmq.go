package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"streakboard/internal/domain"
	"streakboard/internal/infra/metrics"
)

// RabbitActivityQueue реализует очередь задач активности через AMQP.
// Доставка at-least-once: повтор того же события безопасен, функция
// перехода идемпотентна по дню.
type RabbitActivityQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	queue      string
}

// NewRabbitActivityQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitActivityQueue(amqpURL, queueName string) (*RabbitActivityQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitActivityQueue{conn: conn, ch: ch, queue: queueName}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitActivityQueue) Enqueue(ctx context.Context, job domain.ActivityJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди. Возвращаемый ack
// подтверждает обработку либо возвращает задачу брокеру.
func (q *RabbitActivityQueue) Receive(ctx context.Context) (domain.ActivityJob, domain.ActivityAckFunc, error) {
	if q.deliveries == nil {
		if err := q.ch.Qos(1, 0, false); err != nil {
			return domain.ActivityJob{}, nil, fmt.Errorf("set qos: %w", err)
		}
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.ActivityJob{}, nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}

	select {
	case <-ctx.Done():
		return domain.ActivityJob{}, nil, ctx.Err()
	case delivery, ok := <-q.deliveries:
		if !ok {
			return domain.ActivityJob{}, nil, errors.New("rabbitmq: канал доставки закрыт")
		}
		var job domain.ActivityJob
		if err := json.Unmarshal(delivery.Body, &job); err != nil {
			// Нечитаемое сообщение повторять бессмысленно.
			_ = delivery.Ack(false)
			return domain.ActivityJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return delivery.Nack(false, true)
		}
		return job, ack, nil
	}
}

// Close закрывает канал и соединение.
func (q *RabbitActivityQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		_ = q.conn.Close()
		return err
	}
	return q.conn.Close()
}
