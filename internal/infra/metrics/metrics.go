package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Исходы применения функции перехода к событию активности.
const (
	StreakOutcomeStarted  = "started"
	StreakOutcomeExtended = "extended"
	StreakOutcomeReset    = "reset"
	StreakOutcomeNoop     = "noop"
)

var (
	StreakUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streak_updates_total",
		Help: "Применения функции перехода по категориям и исходам",
	}, []string{"category", "outcome"})

	StreakUpdateConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streak_update_conflicts_total",
		Help: "Конфликты версий при условном апсерте стрика",
	})

	LeaderboardRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_requests_total",
		Help: "Запросы лидерборда",
	})

	LeaderboardRowsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_rows_skipped_total",
		Help: "Строки стриков, пропущенные при чтении как повреждённые",
	})

	BackfillRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_runs_total",
		Help: "Запуски пересчёта стриков по режимам",
	}, []string{"mode"})

	BackfillGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backfill_groups",
		Help: "Число групп (user, category) в последнем пересчёте",
	})

	BackfillDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "backfill_duration_seconds",
		Help:    "Длительность полного пересчёта стриков",
		Buckets: prometheus.DefBuckets,
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		StreakUpdatesTotal,
		StreakUpdateConflicts,
		LeaderboardRequestsTotal,
		LeaderboardRowsSkipped,
		BackfillRunsTotal,
		BackfillGroups,
		BackfillDurationSeconds,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveStreakUpdate увеличивает счётчик применений функции перехода.
func ObserveStreakUpdate(category, outcome string) {
	StreakUpdatesTotal.WithLabelValues(category, outcome).Inc()
}
