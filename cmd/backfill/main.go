package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"streakboard/internal/adapters/repo"
	"streakboard/internal/infra/cache"
	"streakboard/internal/infra/config"
	"streakboard/internal/infra/db"
	applog "streakboard/internal/infra/log"
	"streakboard/internal/infra/metrics"
	backfillusecase "streakboard/internal/usecase/backfill"
)

// Ключ блокировки: два одновременных пересчёта не определены как
// безопасные, запуск сериализуется через Redis SetNX.
const lockKey = "backfill:streaks:lock"

func main() {
	dryRun := flag.Bool("dry-run", false, "посчитать и отчитаться, ничего не записывая")
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("backfill: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	service := backfillusecase.NewService(repoAdapter, repoAdapter, cfg.Backfill.Workers, logger.With().Str("component", "backfill").Logger())

	mode := backfillusecase.ModeNormal
	if *dryRun {
		mode = backfillusecase.ModeDryRun
	}

	run := func() error {
		report, err := service.Recompute(ctx, mode)
		if err != nil {
			return err
		}
		logger.Info().
			Str("mode", string(report.Mode)).
			Int("groups", report.Groups).
			Int("events", report.Events).
			Int64("inserted", report.Inserted).
			Int64("modified", report.Modified).
			Int64("unchanged", report.Unchanged).
			Int("failed", len(report.Failed)).
			Dur("elapsed", report.Elapsed).
			Msg("backfill: проход завершён")
		for _, key := range report.Failed {
			logger.Error().
				Int64("user", key.UserID).
				Str("category", string(key.Category)).
				Msg("backfill: запись не перезаписана, перезапустите проход")
		}
		return nil
	}

	// Сухой прогон ничего не пишет, блокировка ему не нужна.
	if cfg.RedisAddr == "" || *dryRun {
		if err := run(); err != nil {
			logger.Fatal().Err(err).Msg("backfill: проход завершился ошибкой")
		}
		return
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	locks := cache.NewRedis(redisClient)

	acquired := false
	err = locks.Once(lockKey, cfg.Backfill.LockTTL, func() error {
		acquired = true
		return run()
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("backfill: проход завершился ошибкой")
	}
	if !acquired {
		logger.Warn().Msg("backfill: пересчёт уже выполняется, выходим")
	}
}
