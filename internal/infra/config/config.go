package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"UTC"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Activity string `envconfig:"ACTIVITY_QUEUE_KEY" default:"activity_jobs"`
	} `envconfig:""`

	Leaderboard struct {
		CacheTTL time.Duration `envconfig:"LEADERBOARD_CACHE_TTL" default:"30s"`
	} `envconfig:""`

	Backfill struct {
		Workers int           `envconfig:"BACKFILL_WORKERS" default:"4"`
		LockTTL time.Duration `envconfig:"BACKFILL_LOCK_TTL" default:"30m"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
