package domain

import (
	"context"
	"time"
)

// StreakRepo — единственный владелец записей StreakState.
type StreakRepo interface {
	// Get возвращает состояние по ключу и признак его наличия.
	Get(ctx context.Context, userID int64, category Category) (StreakState, bool, error)
	// Upsert сохраняет состояние при совпадении версии записи.
	// Для новой записи expectedVersion == 0. Возвращает false при конфликте.
	Upsert(ctx context.Context, state StreakState, expectedVersion int64) (bool, error)
	// ListTop возвращает верх таблицы по категории в порядке
	// (longest desc, current desc, updated_at desc, user_id asc).
	ListTop(ctx context.Context, category Category, limit int) ([]StreakState, error)
	// BulkOverwrite перезаписывает итоговые состояния пересчёта,
	// не трогая записи, чьё состояние уже совпадает с вычисленным.
	BulkOverwrite(ctx context.Context, states []StreakState) (BulkResult, error)
}

// BulkResult — итог пакетной перезаписи бэкфилла.
type BulkResult struct {
	Inserted  int64
	Modified  int64
	Unchanged int64
	Failed    []StreakKey
}

// ActivityLog — read-only доступ к историческому журналу активности.
type ActivityLog interface {
	// ListCategorized возвращает все события с категорией,
	// отсортированные по (user_id, category, occurred_at).
	ListCategorized(ctx context.Context) ([]ActivityEvent, error)
}

// ProfileDirectory — батчевый доступ к карточкам пользователей.
// Профилями владеет внешняя подсистема, движок их не пишет.
type ProfileDirectory interface {
	Summaries(ctx context.Context, userIDs []int64) (map[int64]UserSummary, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}
