package backfill

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streakboard/internal/domain"
)

type stubActivityLog struct {
	events []domain.ActivityEvent
}

func (s *stubActivityLog) ListCategorized(context.Context) ([]domain.ActivityEvent, error) {
	return s.events, nil
}

type stubStreakStore struct {
	overwrites [][]domain.StreakState
}

func (s *stubStreakStore) Get(context.Context, int64, domain.Category) (domain.StreakState, bool, error) {
	return domain.StreakState{}, false, nil
}

func (s *stubStreakStore) Upsert(context.Context, domain.StreakState, int64) (bool, error) {
	return true, nil
}

func (s *stubStreakStore) ListTop(context.Context, domain.Category, int) ([]domain.StreakState, error) {
	return nil, nil
}

func (s *stubStreakStore) BulkOverwrite(ctx context.Context, states []domain.StreakState) (domain.BulkResult, error) {
	s.overwrites = append(s.overwrites, states)
	return domain.BulkResult{Inserted: int64(len(states))}, nil
}

func at(day, hour int) time.Time {
	return time.Date(2025, time.March, day, hour, 0, 0, 0, time.UTC)
}

func sampleEvents() []domain.ActivityEvent {
	// Журнал нарочно перемешан: события приходят не по порядку
	// и с дублями за один день.
	return []domain.ActivityEvent{
		{ID: 5, UserID: 1, Category: domain.CategoryWorkout, OccurredAt: at(6, 9)},
		{ID: 1, UserID: 1, Category: domain.CategoryWorkout, OccurredAt: at(1, 8)},
		{ID: 3, UserID: 1, Category: domain.CategoryWorkout, OccurredAt: at(3, 10)},
		{ID: 2, UserID: 1, Category: domain.CategoryWorkout, OccurredAt: at(2, 7)},
		{ID: 4, UserID: 1, Category: domain.CategoryWorkout, OccurredAt: at(2, 21)},
		{ID: 6, UserID: 2, Category: domain.CategoryDeepWork, OccurredAt: at(4, 12)},
	}
}

func findState(t *testing.T, states []domain.StreakState, userID int64, category domain.Category) domain.StreakState {
	t.Helper()
	for _, st := range states {
		if st.UserID == userID && st.Category == category {
			return st
		}
	}
	t.Fatalf("не нашли состояние для (%d, %s)", userID, category)
	return domain.StreakState{}
}

func TestRecomputeReplaysGroups(t *testing.T) {
	store := &stubStreakStore{}
	service := NewService(&stubActivityLog{events: sampleEvents()}, store, 4, zerolog.Nop())

	report, err := service.Recompute(context.Background(), ModeNormal)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Groups != 2 || report.Events != 6 {
		t.Fatalf("ожидали 2 группы и 6 событий, получили %d и %d", report.Groups, report.Events)
	}
	if len(store.overwrites) != 1 {
		t.Fatalf("ожидали одну пакетную перезапись, получили %d", len(store.overwrites))
	}

	states := store.overwrites[0]
	workout := findState(t, states, 1, domain.CategoryWorkout)
	// Дни 1, 2, 2, 3, 6: после дня 3 стрик 3/3, разрыв до дня 6
	// сбрасывает текущий в 1, рекорд остаётся.
	if workout.CurrentStreak != 1 || workout.LongestStreak != 3 {
		t.Fatalf("ожидали 1/3, получили %d/%d", workout.CurrentStreak, workout.LongestStreak)
	}
	if workout.LastActiveDate == nil || !workout.LastActiveDate.Equal(domain.DayUTC(at(6, 0))) {
		t.Fatalf("ожидали последний день 6 марта, получили %v", workout.LastActiveDate)
	}

	deepWork := findState(t, states, 2, domain.CategoryDeepWork)
	if deepWork.CurrentStreak != 1 || deepWork.LongestStreak != 1 {
		t.Fatalf("ожидали 1/1, получили %d/%d", deepWork.CurrentStreak, deepWork.LongestStreak)
	}
}

func TestRecomputeDryRunWritesNothing(t *testing.T) {
	store := &stubStreakStore{}
	service := NewService(&stubActivityLog{events: sampleEvents()}, store, 2, zerolog.Nop())

	report, err := service.Recompute(context.Background(), ModeDryRun)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(store.overwrites) != 0 {
		t.Fatalf("сухой прогон не должен писать, получили %d перезаписей", len(store.overwrites))
	}
	if report.Groups != 2 || report.Events != 6 {
		t.Fatalf("ожидали отчёт 2/6, получили %d/%d", report.Groups, report.Events)
	}
	if report.Inserted != 0 || report.Modified != 0 {
		t.Fatalf("сухой прогон не должен отчитываться о записях: %+v", report)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	store := &stubStreakStore{}
	service := NewService(&stubActivityLog{events: sampleEvents()}, store, 3, zerolog.Nop())

	if _, err := service.Recompute(context.Background(), ModeNormal); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, err := service.Recompute(context.Background(), ModeNormal); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(store.overwrites) != 2 {
		t.Fatalf("ожидали две перезаписи, получили %d", len(store.overwrites))
	}
	if !reflect.DeepEqual(store.overwrites[0], store.overwrites[1]) {
		t.Fatalf("повторный прогон по тому же журналу должен дать тот же результат:\n%+v\n%+v", store.overwrites[0], store.overwrites[1])
	}
}

func TestRecomputeSkipsInvalidCategories(t *testing.T) {
	events := append(sampleEvents(), domain.ActivityEvent{ID: 7, UserID: 3, Category: domain.Category("gardening"), OccurredAt: at(1, 1)})
	store := &stubStreakStore{}
	service := NewService(&stubActivityLog{events: events}, store, 1, zerolog.Nop())

	report, err := service.Recompute(context.Background(), ModeNormal)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Groups != 2 {
		t.Fatalf("событие с категорией вне набора не должно создавать группу: %d групп", report.Groups)
	}
}

func TestRecomputeEmptyLog(t *testing.T) {
	store := &stubStreakStore{}
	service := NewService(&stubActivityLog{}, store, 2, zerolog.Nop())

	report, err := service.Recompute(context.Background(), ModeNormal)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Groups != 0 || len(store.overwrites) != 0 {
		t.Fatalf("пустой журнал не должен ничего писать: %+v", report)
	}
}
