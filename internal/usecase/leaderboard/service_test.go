package leaderboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streakboard/internal/domain"
)

type stubStreakStore struct {
	perCategory map[domain.Category][]domain.StreakState
	gotLimits   []int
}

func (s *stubStreakStore) Get(context.Context, int64, domain.Category) (domain.StreakState, bool, error) {
	return domain.StreakState{}, false, nil
}

func (s *stubStreakStore) Upsert(context.Context, domain.StreakState, int64) (bool, error) {
	return true, nil
}

func (s *stubStreakStore) ListTop(ctx context.Context, category domain.Category, limit int) ([]domain.StreakState, error) {
	s.gotLimits = append(s.gotLimits, limit)
	states := s.perCategory[category]
	if len(states) > limit {
		states = states[:limit]
	}
	return states, nil
}

func (s *stubStreakStore) BulkOverwrite(context.Context, []domain.StreakState) (domain.BulkResult, error) {
	return domain.BulkResult{}, nil
}

type stubProfiles struct {
	profiles map[int64]domain.UserSummary
	batches  int
	err      error
}

func (s *stubProfiles) Summaries(ctx context.Context, userIDs []int64) (map[int64]domain.UserSummary, error) {
	s.batches++
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[int64]domain.UserSummary, len(userIDs))
	for _, id := range userIDs {
		if summary, ok := s.profiles[id]; ok {
			out[id] = summary
		}
	}
	return out, nil
}

// stubCache запоминает записи и отдаёт их обратно без учёта TTL.
type stubCache struct {
	values map[string][]byte
	sets   int
}

func (c *stubCache) Once(key string, ttl time.Duration, fn func() error) error {
	return fn()
}

func (c *stubCache) Set(key string, value []byte, ttl time.Duration) error {
	if c.values == nil {
		c.values = make(map[string][]byte)
	}
	c.values[key] = value
	c.sets++
	return nil
}

func (c *stubCache) Get(key string) ([]byte, error) {
	return c.values[key], nil
}

func day(d int) *time.Time {
	t := time.Date(2025, time.March, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func newStore() *stubStreakStore {
	return &stubStreakStore{perCategory: map[domain.Category][]domain.StreakState{
		domain.CategoryWorkout: {
			{UserID: 1, Category: domain.CategoryWorkout, CurrentStreak: 4, LongestStreak: 9, LastActiveDate: day(10)},
			{UserID: 2, Category: domain.CategoryWorkout, CurrentStreak: 6, LongestStreak: 6, LastActiveDate: day(11)},
			{UserID: 3, Category: domain.CategoryWorkout, CurrentStreak: 1, LongestStreak: 2, LastActiveDate: day(5)},
		},
		domain.CategoryDeepWork: {
			{UserID: 2, Category: domain.CategoryDeepWork, CurrentStreak: 3, LongestStreak: 3, LastActiveDate: day(11)},
		},
	}}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: 1, -5: 1, 1: 1, 10: 10, 50: 50, 51: 50, 1000: 50}
	for input, expected := range cases {
		if got := ClampLimit(input); got != expected {
			t.Fatalf("ClampLimit(%d): ожидали %d, получили %d", input, expected, got)
		}
	}
}

func TestLeaderboardsClampsLimit(t *testing.T) {
	store := newStore()
	service := NewService(store, &stubProfiles{}, nil, 0, zerolog.Nop())

	if _, err := service.Leaderboards(context.Background(), 0, []domain.Category{domain.CategoryWorkout}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if store.gotLimits[0] != 1 {
		t.Fatalf("limit=0 должен схлопнуться в 1, получили %d", store.gotLimits[0])
	}

	if _, err := service.Leaderboards(context.Background(), 1000, []domain.Category{domain.CategoryWorkout}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if store.gotLimits[1] != 50 {
		t.Fatalf("limit=1000 должен схлопнуться в 50, получили %d", store.gotLimits[1])
	}
}

func TestLeaderboardsDefaultCategories(t *testing.T) {
	service := NewService(newStore(), &stubProfiles{}, nil, 0, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, nil)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	all := domain.AllCategories()
	if len(boards) != len(all) {
		t.Fatalf("ожидали %d категорий, получили %d", len(all), len(boards))
	}
	for i, board := range boards {
		if board.Category != all[i] {
			t.Fatalf("ожидали категорию %s на позиции %d, получили %s", all[i], i, board.Category)
		}
	}
}

func TestLeaderboardsRanksAndEnrichment(t *testing.T) {
	profiles := &stubProfiles{profiles: map[int64]domain.UserSummary{
		1: {ID: 1, Name: "Аня", Username: "anya", AvatarURL: "https://cdn/a.png"},
		2: {ID: 2, Name: "Борис", Username: "boris"},
	}}
	service := NewService(newStore(), profiles, nil, 0, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryWorkout, domain.CategoryDeepWork})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	workout := boards[0]
	if len(workout.Entries) != 3 {
		t.Fatalf("ожидали 3 строки, получили %d", len(workout.Entries))
	}
	for i, entry := range workout.Entries {
		if entry.Rank != i+1 {
			t.Fatalf("ранги должны идти подряд с 1: позиция %d имеет ранг %d", i, entry.Rank)
		}
	}
	if workout.Entries[0].User.Name != "Аня" {
		t.Fatalf("ожидали профиль Ани первым, получили %+v", workout.Entries[0].User)
	}
	// Пользователь 3 без профиля получает заглушку, строка не выпадает.
	placeholder := workout.Entries[2].User
	if placeholder.ID != 3 || placeholder.Name == "" {
		t.Fatalf("ожидали заглушку профиля, получили %+v", placeholder)
	}

	if profiles.batches != 1 {
		t.Fatalf("карточки должны запрашиваться одним батчем, получили %d", profiles.batches)
	}
}

func TestLeaderboardsSurvivesProfileOutage(t *testing.T) {
	profiles := &stubProfiles{err: errors.New("каталог профилей недоступен")}
	service := NewService(newStore(), profiles, nil, 0, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryWorkout})
	if err != nil {
		t.Fatalf("отказ каталога профилей не должен валить выдачу: %v", err)
	}
	for _, entry := range boards[0].Entries {
		if entry.User.ID == 0 {
			t.Fatalf("ожидали заглушку с id пользователя, получили %+v", entry.User)
		}
	}
}

func TestLeaderboardsDedupesCategories(t *testing.T) {
	store := newStore()
	service := NewService(store, &stubProfiles{}, nil, 0, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, []domain.Category{
		domain.CategoryWorkout,
		domain.CategoryWorkout,
		domain.CategoryDeepWork,
		domain.CategoryWorkout,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(boards) != 2 {
		t.Fatalf("повторы категорий должны схлопываться, получили %d списков", len(boards))
	}
	if boards[0].Category != domain.CategoryWorkout || boards[1].Category != domain.CategoryDeepWork {
		t.Fatalf("порядок первого вхождения должен сохраняться: %+v", boards)
	}
	if len(store.gotLimits) != 2 {
		t.Fatalf("хранилище должно опрашиваться по разу на категорию, получили %d запросов", len(store.gotLimits))
	}
}

func TestLeaderboardsCachesResponse(t *testing.T) {
	cache := &stubCache{}
	service := NewService(newStore(), &stubProfiles{}, cache, time.Minute, zerolog.Nop())

	if _, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryWorkout}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("удачная выдача должна кэшироваться, получили %d записей", cache.sets)
	}
}

func TestLeaderboardsSkipsCacheOnProfileOutage(t *testing.T) {
	cache := &stubCache{}
	profiles := &stubProfiles{err: errors.New("каталог профилей недоступен")}
	store := newStore()
	service := NewService(store, profiles, cache, time.Minute, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryWorkout})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(boards[0].Entries) == 0 {
		t.Fatalf("выдача с заглушками должна вернуться вызывающему")
	}
	// Выдача целиком из заглушек не должна пережить отказ каталога.
	if cache.sets != 0 {
		t.Fatalf("выдачу без карточек нельзя кэшировать, получили %d записей", cache.sets)
	}

	profiles.err = nil
	if _, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryWorkout}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("после восстановления каталога выдача снова кэшируется, получили %d записей", cache.sets)
	}
}

func TestLeaderboardsEmptyCategory(t *testing.T) {
	service := NewService(newStore(), &stubProfiles{}, nil, 0, zerolog.Nop())

	boards, err := service.Leaderboards(context.Background(), 10, []domain.Category{domain.CategoryRecharge})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(boards) != 1 || len(boards[0].Entries) != 0 {
		t.Fatalf("ожидали пустой список для категории без стриков, получили %+v", boards)
	}
}
