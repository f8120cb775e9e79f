package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"streakboard/internal/domain"
	"streakboard/internal/infra/metrics"
)

const (
	// DefaultLimit применяется, когда лимит не указан вовсе.
	DefaultLimit = 10
	// MaxLimit — верхняя граница размера выдачи по категории.
	MaxLimit = 50
)

// Service — read-only путь лидерборда: ранжирует сохранённые стрики
// по категориям и обогащает строки карточками пользователей.
type Service struct {
	streaks  domain.StreakRepo
	profiles domain.ProfileDirectory
	cache    domain.Cache
	cacheTTL time.Duration
	log      zerolog.Logger
}

// NewService создаёт сервис лидерборда. cache может быть nil.
func NewService(streaks domain.StreakRepo, profiles domain.ProfileDirectory, cache domain.Cache, cacheTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{streaks: streaks, profiles: profiles, cache: cache, cacheTTL: cacheTTL, log: logger}
}

// ClampLimit приводит лимит к допустимому диапазону [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Leaderboards возвращает ранжированные списки по запрошенным категориям.
// Пустой список категорий означает полный закрытый набор. Чтение
// не требует координации с писателями и допускает лёгкое отставание.
func (s *Service) Leaderboards(ctx context.Context, limit int, categories []domain.Category) ([]domain.CategoryLeaderboard, error) {
	metrics.LeaderboardRequestsTotal.Inc()

	limit = ClampLimit(limit)
	if len(categories) == 0 {
		categories = domain.AllCategories()
	} else {
		categories = dedupeCategories(categories)
	}

	if cached, ok := s.fromCache(limit, categories); ok {
		return cached, nil
	}

	perCategory := make(map[domain.Category][]domain.StreakState, len(categories))
	userIDs := make(map[int64]struct{})
	for _, category := range categories {
		states, err := s.streaks.ListTop(ctx, category, limit)
		if err != nil {
			return nil, fmt.Errorf("выборка стриков %s: %w", category, err)
		}
		perCategory[category] = states
		for _, st := range states {
			userIDs[st.UserID] = struct{}{}
		}
	}

	summaries, profilesOK := s.loadSummaries(ctx, userIDs)

	boards := make([]domain.CategoryLeaderboard, 0, len(categories))
	for _, category := range categories {
		states := perCategory[category]
		entries := make([]domain.LeaderboardEntry, 0, len(states))
		for i, st := range states {
			user, ok := summaries[st.UserID]
			if !ok {
				user = domain.PlaceholderSummary(st.UserID)
			}
			entries = append(entries, domain.LeaderboardEntry{
				Rank:           i + 1,
				Category:       category,
				CurrentStreak:  st.CurrentStreak,
				LongestStreak:  st.LongestStreak,
				LastActiveDate: st.LastActiveDate,
				User:           user,
			})
		}
		boards = append(boards, domain.CategoryLeaderboard{Category: category, Entries: entries})
	}

	// Выдача с заглушками вместо карточек живёт только в рамках запроса:
	// кэшировать её на весь TTL нельзя.
	if profilesOK {
		s.toCache(limit, categories, boards)
	}
	return boards, nil
}

// dedupeCategories убирает повторы, сохраняя порядок первого вхождения.
func dedupeCategories(categories []domain.Category) []domain.Category {
	seen := make(map[domain.Category]struct{}, len(categories))
	out := make([]domain.Category, 0, len(categories))
	for _, c := range categories {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// loadSummaries делает один батчевый запрос карточек. Отказ каталога
// профилей не валит выдачу: все строки получат заглушки, а второй
// результат сообщает, что карточки загрузить не удалось.
func (s *Service) loadSummaries(ctx context.Context, ids map[int64]struct{}) (map[int64]domain.UserSummary, bool) {
	if len(ids) == 0 {
		return nil, true
	}
	userIDs := make([]int64, 0, len(ids))
	for id := range ids {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	summaries, err := s.profiles.Summaries(ctx, userIDs)
	if err != nil {
		s.log.Error().Err(err).Msg("leaderboard: не удалось получить карточки пользователей")
		return nil, false
	}
	return summaries, true
}

func cacheKey(limit int, categories []domain.Category) string {
	parts := make([]string, 0, len(categories))
	for _, c := range categories {
		parts = append(parts, string(c))
	}
	return fmt.Sprintf("leaderboard:v1:%d:%s", limit, strings.Join(parts, ","))
}

func (s *Service) fromCache(limit int, categories []domain.Category) ([]domain.CategoryLeaderboard, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil, false
	}
	raw, err := s.cache.Get(cacheKey(limit, categories))
	if err != nil || len(raw) == 0 {
		return nil, false
	}
	var boards []domain.CategoryLeaderboard
	if err := json.Unmarshal(raw, &boards); err != nil {
		return nil, false
	}
	return boards, true
}

func (s *Service) toCache(limit int, categories []domain.Category, boards []domain.CategoryLeaderboard) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(boards)
	if err != nil {
		return
	}
	if err := s.cache.Set(cacheKey(limit, categories), raw, s.cacheTTL); err != nil {
		s.log.Debug().Err(err).Msg("leaderboard: не удалось сохранить кэш")
	}
}
