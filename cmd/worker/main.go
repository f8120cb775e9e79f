package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"streakboard/internal/adapters/repo"
	"streakboard/internal/domain"
	"streakboard/internal/infra/config"
	"streakboard/internal/infra/db"
	applog "streakboard/internal/infra/log"
	"streakboard/internal/infra/metrics"
	"streakboard/internal/infra/queue"
	streakusecase "streakboard/internal/usecase/streak"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var activityQueue domain.ActivityQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitActivityQueue(cfg.RabbitURL, cfg.Queues.Activity)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		activityQueue = rabbit
	case cfg.RedisAddr != "":
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		activityQueue = queue.NewRedisActivityQueue(redisClient, cfg.Queues.Activity)
	default:
		logger.Fatal().Msg("worker: не указан транспорт очереди (RABBITMQ_URL или REDIS_ADDR)")
	}

	worker := &jobWorker{
		log:     logger,
		queue:   activityQueue,
		streaks: streakusecase.NewService(repoAdapter, logger.With().Str("component", "streak").Logger()),
	}

	logger.Info().Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}

// activityRecorder — онлайн-апдейтер с точки зрения воркера.
type activityRecorder interface {
	RecordActivity(ctx context.Context, userID int64, category domain.Category, occurredAt time.Time) (domain.StreakState, error)
}

const maxDeliveryAttempts = 5

type jobWorker struct {
	log        zerolog.Logger
	queue      domain.ActivityQueue
	streaks    activityRecorder
	attempts   map[string]int
	retryDelay time.Duration
}

func (w *jobWorker) Run(ctx context.Context) {
	if w.attempts == nil {
		w.attempts = make(map[string]int)
	}
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			w.sleep()
			continue
		}

		// Задача без идентификатора не попадает в учёт попыток:
		// обрабатываем её один раз и при отказе не возвращаем в очередь.
		attempt := maxDeliveryAttempts
		if job.ID != "" {
			attempt = w.attempts[job.ID] + 1
			w.attempts[job.ID] = attempt
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Int64("user", job.UserID).
			Str("category", job.Category).
			Int("attempt", attempt).
			Logger()

		// Событие без категории (свободный ответ и т.п.) стрики не двигает.
		if job.Category == "" {
			delete(w.attempts, job.ID)
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без категории")
			}
			continue
		}

		category, ok := domain.ParseCategory(job.Category)
		if !ok {
			jobLog.Warn().Msg("worker: категория вне закрытого набора, пропускаем задачу")
			delete(w.attempts, job.ID)
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
			}
			continue
		}

		state, err := w.streaks.RecordActivity(ctx, job.UserID, category, job.OccurredAt)
		if err != nil {
			// Активность уже надёжно записана подсистемой ленты, поэтому
			// отказ здесь не фатален: задача уходит на повтор, пока не
			// исчерпан предел попыток.
			if attempt < maxDeliveryAttempts {
				jobLog.Error().Err(err).Msg("worker: не удалось обновить стрик, вернём задачу в очередь")
				if ackErr := ack(false); ackErr != nil {
					jobLog.Error().Err(ackErr).Msg("worker: не удалось вернуть задачу в очередь")
				}
				w.sleep()
				continue
			}
			jobLog.Error().Err(err).Msg("worker: достигнут предел попыток, задача отброшена")
			delete(w.attempts, job.ID)
			if ackErr := ack(true); ackErr != nil {
				jobLog.Error().Err(ackErr).Msg("worker: не удалось подтвердить отброшенную задачу")
			}
			continue
		}

		delete(w.attempts, job.ID)
		jobLog.Info().
			Int("current", state.CurrentStreak).
			Int("longest", state.LongestStreak).
			Msg("worker: стрик обновлён")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
		}
	}
}

func (w *jobWorker) sleep() {
	delay := w.retryDelay
	if delay == 0 {
		delay = time.Second
	}
	time.Sleep(delay)
}
