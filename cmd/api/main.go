package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"streakboard/internal/adapters/repo"
	"streakboard/internal/domain"
	"streakboard/internal/infra/cache"
	"streakboard/internal/infra/config"
	"streakboard/internal/infra/db"
	httpinfra "streakboard/internal/infra/http"
	applog "streakboard/internal/infra/log"
	"streakboard/internal/infra/metrics"
	"streakboard/internal/infra/queue"
	leaderboardusecase "streakboard/internal/usecase/leaderboard"
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
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	var leaderboardCache domain.Cache
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		leaderboardCache = cache.NewRedis(redisClient)
	}

	var activityQueue domain.ActivityQueue
	switch {
	case cfg.RabbitURL != "":
		rabbit, err := queue.NewRabbitActivityQueue(cfg.RabbitURL, cfg.Queues.Activity)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: не удалось инициализировать очередь RabbitMQ")
		}
		defer rabbit.Close()
		activityQueue = rabbit
	case redisClient != nil:
		activityQueue = queue.NewRedisActivityQueue(redisClient, cfg.Queues.Activity)
	}

	streakService := streakusecase.NewService(repoAdapter, logger.With().Str("component", "streak").Logger())
	leaderboardService := leaderboardusecase.NewService(
		repoAdapter,
		repoAdapter,
		leaderboardCache,
		cfg.Leaderboard.CacheTTL,
		logger.With().Str("component", "leaderboard").Logger(),
	)

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger(), ":"+strconv.Itoa(cfg.Port))
	h := &handlers{
		streaks:      streakService,
		leaderboards: leaderboardService,
		queue:        activityQueue,
	}
	server.Router.Post("/api/v1/activity", h.recordActivity)
	server.Router.Post("/api/v1/activity/enqueue", h.enqueueActivity)
	server.Router.Get("/api/v1/leaderboards", h.leaderboardsHandler)

	go func() {
		log.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api: сервер остановлен")
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api: ошибка при остановке сервера")
	}
}

type handlers struct {
	streaks      *streakusecase.Service
	leaderboards *leaderboardusecase.Service
	queue        domain.ActivityQueue
}

type activityRequest struct {
	UserID     int64     `json:"user_id"`
	Category   string    `json:"category"`
	OccurredAt time.Time `json:"occurred_at"`
}

// recordActivity — синхронный путь онлайн-апдейтера. Событие без
// категории стрики не двигает, это штатный случай, а не ошибка.
// Отказ записи стрика не валит вызывающий поток логирования
// активности: событие уже записано его подсистемой.
func (h *handlers) recordActivity(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "skipped"})
		return
	}
	category, ok := domain.ParseCategory(req.Category)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	state, err := h.streaks.RecordActivity(r.Context(), req.UserID, category, occurredAt)
	if err != nil {
		log.Error().Err(err).Int64("user", req.UserID).Str("category", req.Category).Msg("api: не удалось обновить стрик")
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "streak_updated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"user_id":          state.UserID,
		"category":         state.Category,
		"current_streak":   state.CurrentStreak,
		"longest_streak":   state.LongestStreak,
		"last_active_date": formatDay(state.LastActiveDate),
	})
}

// enqueueActivity — асинхронный путь: задача уходит в очередь и
// обрабатывается воркером.
func (h *handlers) enqueueActivity(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	if h.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue is not configured")
		return
	}
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	job := domain.ActivityJob{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		Category:   strings.TrimSpace(req.Category),
		OccurredAt: occurredAt,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.queue.Enqueue(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("api: не удалось поставить задачу в очередь")
		writeError(w, http.StatusInternalServerError, "failed to enqueue activity")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "job_id": job.ID})
}

func (h *handlers) leaderboardsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := leaderboardusecase.DefaultLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	var categories []domain.Category
	if raw := query.Get("categories"); raw != "" {
		seen := make(map[domain.Category]struct{})
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			category, ok := domain.ParseCategory(part)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown category: "+part)
				return
			}
			if _, dup := seen[category]; dup {
				continue
			}
			seen[category] = struct{}{}
			categories = append(categories, category)
		}
	}

	boards, err := h.leaderboards.Leaderboards(r.Context(), limit, categories)
	if err != nil {
		log.Error().Err(err).Msg("api: не удалось построить лидерборд")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboards")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboards": boards})
}

func formatDay(day *time.Time) any {
	if day == nil {
		return nil
	}
	return day.Format("2006-01-02")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": msg})
}
