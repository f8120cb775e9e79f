package streak

import (
	"time"

	"streakboard/internal/domain"
)

// Next — функция перехода стрика, единственный источник правды для
// онлайн-апдейтера и бэкфилла. Чистая и детерминированная: по прежнему
// состоянию ключа (nil, если записи ещё нет) и календарному дню события
// возвращает следующее состояние.
//
// Правила:
//   - записи нет — стрик начинается: {1, 1, day};
//   - день раньше зафиксированного (событие пришло не по порядку) или
//     совпадает с ним — состояние не меняется;
//   - следующий день подряд — CurrentStreak += 1;
//   - разрыв больше суток — CurrentStreak сбрасывается в 1.
//
// LongestStreak после любого изменения подтягивается до максимума.
func Next(prev *domain.StreakState, userID int64, category domain.Category, day time.Time) domain.StreakState {
	day = domain.DayUTC(day)

	if prev == nil {
		return domain.StreakState{
			UserID:         userID,
			Category:       category,
			CurrentStreak:  1,
			LongestStreak:  1,
			LastActiveDate: &day,
		}
	}

	next := *prev
	if prev.LastActiveDate == nil {
		next.CurrentStreak = 1
		next.LastActiveDate = &day
		if next.LongestStreak < 1 {
			next.LongestStreak = 1
		}
		return next
	}

	last := domain.DayUTC(*prev.LastActiveDate)
	diff := int(day.Sub(last).Hours() / 24)
	switch {
	case diff <= 0:
		// Дубль за тот же день либо событие задним числом: no-op.
		return next
	case diff == 1:
		next.CurrentStreak = prev.CurrentStreak + 1
	default:
		next.CurrentStreak = 1
	}
	next.LastActiveDate = &day
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	return next
}

// Replay прогоняет отсортированную по возрастанию последовательность дней
// через функцию перехода, начиная с пустого состояния.
func Replay(userID int64, category domain.Category, days []time.Time) domain.StreakState {
	var state domain.StreakState
	var prev *domain.StreakState
	for _, day := range days {
		state = Next(prev, userID, category, day)
		prev = &state
	}
	return state
}
