package domain

import "time"

// Category — вид активности, участвующий в подсчёте стриков.
// Набор закрытый: события с другими значениями стрики не двигают.
type Category string

const (
	CategoryDeepWork    Category = "deep_work"
	CategoryStartupTask Category = "startup_task"
	CategoryWorkout     Category = "workout"
	CategoryRecharge    Category = "recharge"
	CategoryNetworking  Category = "networking"
)

// AllCategories возвращает полный набор категорий в фиксированном порядке.
func AllCategories() []Category {
	return []Category{
		CategoryDeepWork,
		CategoryStartupTask,
		CategoryWorkout,
		CategoryRecharge,
		CategoryNetworking,
	}
}

// Valid сообщает, входит ли категория в закрытый набор.
func (c Category) Valid() bool {
	switch c {
	case CategoryDeepWork, CategoryStartupTask, CategoryWorkout, CategoryRecharge, CategoryNetworking:
		return true
	}
	return false
}

// ParseCategory валидирует сырое значение категории на границе приёма событий.
// Пустая строка означает событие без категории: оно стрики не двигает.
func ParseCategory(raw string) (Category, bool) {
	c := Category(raw)
	return c, c.Valid()
}

// StreakState — состояние стрика по ключу (пользователь, категория).
// Инварианты: CurrentStreak <= LongestStreak, LongestStreak не убывает,
// LastActiveDate под онлайн-апдейтером двигается только вперёд.
type StreakState struct {
	UserID         int64
	Category       Category
	CurrentStreak  int
	LongestStreak  int
	LastActiveDate *time.Time
	Version        int64
	UpdatedAt      time.Time
}

// Valid сообщает, выполняются ли инварианты счётчиков. Строки, у которых
// они нарушены (битые данные, ручные правки в БД), на чтении пропускаются.
func (s StreakState) Valid() bool {
	return s.CurrentStreak >= 0 && s.LongestStreak >= 0 && s.CurrentStreak <= s.LongestStreak
}

// StreakKey идентифицирует запись стрика.
type StreakKey struct {
	UserID   int64
	Category Category
}

// Key возвращает ключ записи.
func (s StreakState) Key() StreakKey {
	return StreakKey{UserID: s.UserID, Category: s.Category}
}

// ActivityEvent — запись журнала активности. Создаётся внешней подсистемой
// ленты, движок её только читает.
type ActivityEvent struct {
	ID         int64
	UserID     int64
	Category   Category
	OccurredAt time.Time
}

// UserSummary — денормализованная карточка пользователя для лидерборда.
type UserSummary struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// PlaceholderSummary возвращает заглушку, когда профиль не найден.
func PlaceholderSummary(userID int64) UserSummary {
	return UserSummary{ID: userID, Name: "Участник"}
}

// LeaderboardEntry — одна строка лидерборда. Не персистится, собирается
// на чтении из стрика и карточки пользователя.
type LeaderboardEntry struct {
	Rank           int         `json:"rank"`
	Category       Category    `json:"category"`
	CurrentStreak  int         `json:"current_streak"`
	LongestStreak  int         `json:"longest_streak"`
	LastActiveDate *time.Time  `json:"last_active_date"`
	User           UserSummary `json:"user"`
}

// CategoryLeaderboard — ранжированный список по одной категории.
type CategoryLeaderboard struct {
	Category Category           `json:"category"`
	Entries  []LeaderboardEntry `json:"entries"`
}

// DayUTC нормализует момент времени к календарному дню UTC.
func DayUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
