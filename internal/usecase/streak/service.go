package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"streakboard/internal/domain"
	"streakboard/internal/infra/metrics"
)

// ErrUnknownCategory возвращается для категории вне закрытого набора.
var ErrUnknownCategory = errors.New("неизвестная категория активности")

// ErrUpsertConflict возвращается, когда не удалось записать состояние
// за отведённое число попыток из-за конкурентных обновлений ключа.
var ErrUpsertConflict = errors.New("конфликт версий при сохранении стрика")

const casRetryMax = 5

// Service — онлайн-апдейтер: применяет функцию перехода к событию
// активности и сохраняет результат атомарным условным апсертом.
type Service struct {
	streaks domain.StreakRepo
	log     zerolog.Logger
}

// NewService создаёт апдейтер.
func NewService(streaks domain.StreakRepo, logger zerolog.Logger) *Service {
	return &Service{streaks: streaks, log: logger}
}

// RecordActivity учитывает одно событие активности для ключа
// (userID, category). Момент события нормализуется к дню UTC.
// Конкурентная запись по тому же ключу разрешается оптимистичным
// повтором: читаем, применяем переход, пишем с проверкой версии.
func (s *Service) RecordActivity(ctx context.Context, userID int64, category domain.Category, occurredAt time.Time) (domain.StreakState, error) {
	if !category.Valid() {
		return domain.StreakState{}, ErrUnknownCategory
	}
	day := domain.DayUTC(occurredAt)

	for attempt := 0; attempt < casRetryMax; attempt++ {
		prev, found, err := s.streaks.Get(ctx, userID, category)
		if err != nil {
			return domain.StreakState{}, fmt.Errorf("чтение стрика: %w", err)
		}

		var prevPtr *domain.StreakState
		var expected int64
		if found {
			prevPtr = &prev
			expected = prev.Version
		}
		next := Next(prevPtr, userID, category, day)

		if found && unchanged(prev, next) {
			metrics.ObserveStreakUpdate(string(category), metrics.StreakOutcomeNoop)
			return prev, nil
		}

		ok, err := s.streaks.Upsert(ctx, next, expected)
		if err != nil {
			return domain.StreakState{}, fmt.Errorf("сохранение стрика: %w", err)
		}
		if ok {
			next.Version = expected + 1
			metrics.ObserveStreakUpdate(string(category), outcome(prevPtr, next))
			return next, nil
		}

		metrics.StreakUpdateConflicts.Inc()
		s.log.Debug().
			Int64("user", userID).
			Str("category", string(category)).
			Int("attempt", attempt+1).
			Msg("streak: конфликт версий, перечитываем")
	}
	return domain.StreakState{}, ErrUpsertConflict
}

func unchanged(prev, next domain.StreakState) bool {
	if prev.CurrentStreak != next.CurrentStreak || prev.LongestStreak != next.LongestStreak {
		return false
	}
	if (prev.LastActiveDate == nil) != (next.LastActiveDate == nil) {
		return false
	}
	if prev.LastActiveDate != nil && !prev.LastActiveDate.Equal(*next.LastActiveDate) {
		return false
	}
	return true
}

func outcome(prev *domain.StreakState, next domain.StreakState) string {
	switch {
	case prev == nil:
		return metrics.StreakOutcomeStarted
	case next.CurrentStreak == 1:
		return metrics.StreakOutcomeReset
	default:
		return metrics.StreakOutcomeExtended
	}
}
