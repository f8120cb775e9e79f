package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"streakboard/internal/domain"
	"streakboard/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.StreakRepo       = (*Postgres)(nil)
	_ domain.ActivityLog      = (*Postgres)(nil)
	_ domain.ProfileDirectory = (*Postgres)(nil)
)

// Размер одного батча при пакетной перезаписи: независимые куски,
// чтобы сбой одного не откатывал весь проход.
const bulkChunkSize = 500

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Get возвращает состояние стрика по ключу. Реализует domain.StreakRepo.
func (p *Postgres) Get(ctx context.Context, userID int64, category domain.Category) (domain.StreakState, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	state := domain.StreakState{UserID: userID, Category: category}
	var lastActive sql.NullTime

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT current_streak, longest_streak, last_active_date, version, updated_at
FROM streaks WHERE user_id=$1 AND category=$2
`, userID, string(category)).Scan(&state.CurrentStreak, &state.LongestStreak, &lastActive, &state.Version, &state.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "streaks_get", "streaks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StreakState{}, false, nil
	}
	if err != nil {
		return domain.StreakState{}, false, err
	}
	if lastActive.Valid {
		day := domain.DayUTC(lastActive.Time)
		state.LastActiveDate = &day
	}
	return state, true, nil
}

// Upsert сохраняет состояние с проверкой версии записи. Для новой записи
// expectedVersion == 0: вставка с ON CONFLICT DO NOTHING, гонка за вставку
// того же ключа проигравшему вернётся как конфликт.
func (p *Postgres) Upsert(ctx context.Context, state domain.StreakState, expectedVersion int64) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var lastActive any
	if state.LastActiveDate != nil {
		lastActive = *state.LastActiveDate
	}

	if expectedVersion == 0 {
		start := time.Now()
		res, err := p.pool.Exec(ctx, `
INSERT INTO streaks (user_id, category, current_streak, longest_streak, last_active_date, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, now())
ON CONFLICT (user_id, category) DO NOTHING
`, state.UserID, string(state.Category), state.CurrentStreak, state.LongestStreak, lastActive)
		metrics.ObserveNetworkRequest("postgres", "streaks_insert", "streaks", start, err)
		if err != nil {
			return false, err
		}
		return res.RowsAffected() > 0, nil
	}

	start := time.Now()
	res, err := p.pool.Exec(ctx, `
UPDATE streaks
SET current_streak=$3, longest_streak=$4, last_active_date=$5, version=version+1, updated_at=now()
WHERE user_id=$1 AND category=$2 AND version=$6
`, state.UserID, string(state.Category), state.CurrentStreak, state.LongestStreak, lastActive, expectedVersion)
	metrics.ObserveNetworkRequest("postgres", "streaks_update_cas", "streaks", start, err)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListTop возвращает верх таблицы по категории. Повреждённые строки
// пропускаются, чтобы одна битая запись не валила весь лидерборд.
func (p *Postgres) ListTop(ctx context.Context, category domain.Category, limit int) ([]domain.StreakState, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT user_id, current_streak, longest_streak, last_active_date, version, updated_at
FROM streaks WHERE category=$1
ORDER BY longest_streak DESC, current_streak DESC, updated_at DESC, user_id ASC
LIMIT $2
`, string(category), limit)
	metrics.ObserveNetworkRequest("postgres", "streaks_list_top", "streaks", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []domain.StreakState
	for rows.Next() {
		st := domain.StreakState{Category: category}
		var lastActive sql.NullTime
		if err := rows.Scan(&st.UserID, &st.CurrentStreak, &st.LongestStreak, &lastActive, &st.Version, &st.UpdatedAt); err != nil {
			metrics.LeaderboardRowsSkipped.Inc()
			continue
		}
		if !st.Valid() {
			metrics.LeaderboardRowsSkipped.Inc()
			continue
		}
		if lastActive.Valid {
			day := domain.DayUTC(lastActive.Time)
			st.LastActiveDate = &day
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// BulkOverwrite безусловно перезаписывает итоговые состояния пересчёта.
// Записи, уже совпадающие с вычисленным состоянием, не переписываются:
// повторный прогон по неизменённому журналу оставляет строки байт в байт.
func (p *Postgres) BulkOverwrite(ctx context.Context, states []domain.StreakState) (domain.BulkResult, error) {
	var result domain.BulkResult
	for offset := 0; offset < len(states); offset += bulkChunkSize {
		end := offset + bulkChunkSize
		if end > len(states) {
			end = len(states)
		}
		if err := p.overwriteChunk(ctx, states[offset:end], &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (p *Postgres) overwriteChunk(ctx context.Context, states []domain.StreakState, result *domain.BulkResult) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, state := range states {
		var lastActive any
		if state.LastActiveDate != nil {
			lastActive = *state.LastActiveDate
		}
		batch.Queue(`
INSERT INTO streaks (user_id, category, current_streak, longest_streak, last_active_date, version, updated_at)
VALUES ($1, $2, $3, $4, $5, 1, now())
ON CONFLICT (user_id, category) DO UPDATE
SET current_streak=EXCLUDED.current_streak,
    longest_streak=EXCLUDED.longest_streak,
    last_active_date=EXCLUDED.last_active_date,
    version=streaks.version+1,
    updated_at=now()
WHERE (streaks.current_streak, streaks.longest_streak, streaks.last_active_date)
    IS DISTINCT FROM (EXCLUDED.current_streak, EXCLUDED.longest_streak, EXCLUDED.last_active_date)
RETURNING (xmax = 0) AS inserted
`, state.UserID, string(state.Category), state.CurrentStreak, state.LongestStreak, lastActive)
	}

	start := time.Now()
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()

	var firstErr error
	for _, state := range states {
		var inserted bool
		err := results.QueryRow().Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Условие DO UPDATE не сработало: строка уже в нужном состоянии.
			result.Unchanged++
		case err != nil:
			result.Failed = append(result.Failed, state.Key())
			if firstErr == nil {
				firstErr = err
			}
		case inserted:
			result.Inserted++
		default:
			result.Modified++
		}
	}
	metrics.ObserveNetworkRequest("postgres", "streaks_bulk_overwrite", "streaks", start, firstErr)
	return nil
}

// ListCategorized реализует domain.ActivityLog: полный журнал событий
// с категорией в порядке (user_id, category, occurred_at). Выбираются
// только поля, нужные пересчёту.
func (p *Postgres) ListCategorized(ctx context.Context) ([]domain.ActivityEvent, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, category, occurred_at
FROM activity_events
WHERE category IS NOT NULL AND category <> ''
ORDER BY user_id, category, occurred_at
`)
	metrics.ObserveNetworkRequest("postgres", "activity_events_list", "activity_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.ActivityEvent
	for rows.Next() {
		var ev domain.ActivityEvent
		var category string
		if err := rows.Scan(&ev.ID, &ev.UserID, &category, &ev.OccurredAt); err != nil {
			return nil, err
		}
		ev.Category = domain.Category(category)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Summaries реализует domain.ProfileDirectory одним батчевым запросом.
// Отсутствующие идентификаторы просто не попадают в результат.
func (p *Postgres) Summaries(ctx context.Context, userIDs []int64) (map[int64]domain.UserSummary, error) {
	if len(userIDs) == 0 {
		return map[int64]domain.UserSummary{}, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, name, username, avatar_url FROM users WHERE id = ANY($1)
`, userIDs)
	metrics.ObserveNetworkRequest("postgres", "users_summaries", "users", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make(map[int64]domain.UserSummary, len(userIDs))
	for rows.Next() {
		var s domain.UserSummary
		var name, username, avatar sql.NullString
		if err := rows.Scan(&s.ID, &name, &username, &avatar); err != nil {
			return nil, err
		}
		if name.Valid {
			s.Name = name.String
		}
		if username.Valid {
			s.Username = username.String
		}
		if avatar.Valid {
			s.AvatarURL = avatar.String
		}
		summaries[s.ID] = s
	}
	return summaries, rows.Err()
}
