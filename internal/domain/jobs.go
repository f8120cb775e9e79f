package domain

import (
	"context"
	"time"
)

// ActivityJob — задача на учёт активности, приходящая из подсистемы ленты.
// Category передаётся сырой строкой и валидируется на стороне воркера:
// события без категории (свободные ответы и т.п.) стрики не двигают.
type ActivityJob struct {
	ID         string    `json:"job_id,omitempty"`
	UserID     int64     `json:"user_id"`
	Category   string    `json:"category,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ActivityAckFunc подтверждает обработку или возвращает задачу в очередь.
type ActivityAckFunc func(success bool) error

// ActivityQueue — очередь задач на учёт активности.
type ActivityQueue interface {
	Enqueue(ctx context.Context, job ActivityJob) error
	Receive(ctx context.Context) (ActivityJob, ActivityAckFunc, error)
}
