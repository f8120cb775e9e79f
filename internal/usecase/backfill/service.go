package backfill

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"streakboard/internal/domain"
	"streakboard/internal/infra/metrics"
	"streakboard/internal/usecase/streak"
)

// Mode — режим запуска пересчёта.
type Mode string

const (
	// ModeNormal перезаписывает хранилище вычисленными состояниями.
	ModeNormal Mode = "normal"
	// ModeDryRun только считает и отчитывается, ничего не пишет.
	ModeDryRun Mode = "dry-run"
)

// Report — итог прохода пересчёта.
type Report struct {
	Mode      Mode
	Groups    int
	Events    int
	Inserted  int64
	Modified  int64
	Unchanged int64
	Failed    []domain.StreakKey
	Elapsed   time.Duration
}

// Service — офлайн-пересчёт: полный детерминированный реплей журнала
// активности через функцию перехода с перезаписью хранилища. Текущее
// содержимое хранилища не читается и ни на что не влияет, поэтому
// повторный запуск по неизменённому журналу даёт тот же результат.
type Service struct {
	events  domain.ActivityLog
	streaks domain.StreakRepo
	workers int
	log     zerolog.Logger
}

// NewService создаёт сервис пересчёта. workers ограничивает параллелизм
// реплея групп; значения меньше 1 трактуются как 1.
func NewService(events domain.ActivityLog, streaks domain.StreakRepo, workers int, logger zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{events: events, streaks: streaks, workers: workers, log: logger}
}

// Recompute перечитывает весь журнал категоризированных событий,
// группирует его по ключу (пользователь, категория) и заново выводит
// итоговое состояние каждой группы. Группы независимы и реплеятся
// параллельно; группы без событий в журнале не трогаются.
func (s *Service) Recompute(ctx context.Context, mode Mode) (Report, error) {
	start := time.Now()
	metrics.BackfillRunsTotal.WithLabelValues(string(mode)).Inc()

	events, err := s.events.ListCategorized(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("чтение журнала активности: %w", err)
	}

	groups := groupEvents(events)
	metrics.BackfillGroups.Set(float64(len(groups)))

	states := s.replayGroups(groups)

	report := Report{
		Mode:   mode,
		Groups: len(groups),
		Events: len(events),
	}

	if mode != ModeDryRun && len(states) > 0 {
		result, err := s.streaks.BulkOverwrite(ctx, states)
		if err != nil {
			return report, fmt.Errorf("перезапись стриков: %w", err)
		}
		report.Inserted = result.Inserted
		report.Modified = result.Modified
		report.Unchanged = result.Unchanged
		report.Failed = result.Failed
	}

	report.Elapsed = time.Since(start)
	metrics.BackfillDurationSeconds.Observe(report.Elapsed.Seconds())
	return report, nil
}

// groupEvents раскладывает события по ключам и сортирует каждую группу
// по возрастанию occurredAt.
func groupEvents(events []domain.ActivityEvent) map[domain.StreakKey][]time.Time {
	groups := make(map[domain.StreakKey][]time.Time)
	for _, ev := range events {
		if !ev.Category.Valid() {
			continue
		}
		key := domain.StreakKey{UserID: ev.UserID, Category: ev.Category}
		groups[key] = append(groups[key], ev.OccurredAt)
	}
	for _, days := range groups {
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	}
	return groups
}

// replayGroups прогоняет группы через функцию перехода пулом воркеров.
// Общего изменяемого состояния между группами нет, результаты
// собираются под мьютексом и сортируются для детерминизма отчёта.
func (s *Service) replayGroups(groups map[domain.StreakKey][]time.Time) []domain.StreakState {
	keys := make(chan domain.StreakKey)
	var (
		mu     sync.Mutex
		states = make([]domain.StreakState, 0, len(groups))
		wg     sync.WaitGroup
	)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range keys {
				state := streak.Replay(key.UserID, key.Category, groups[key])
				mu.Lock()
				states = append(states, state)
				mu.Unlock()
			}
		}()
	}
	for key := range groups {
		keys <- key
	}
	close(keys)
	wg.Wait()

	sort.Slice(states, func(i, j int) bool {
		if states[i].UserID != states[j].UserID {
			return states[i].UserID < states[j].UserID
		}
		return states[i].Category < states[j].Category
	})
	return states
}
