// internal/models/snapshot.go
package models

import "time"

// GameProgress 进度计数
type GameProgress struct {
	StartTime         time.Time     `json:"start_time"`
	PlayTime          time.Duration `json:"play_time"`
	ConversationCount int           `json:"conversation_count"`
}

// Snapshot 交给持久化层的完整存档
type Snapshot struct {
	CurrentLocation        string                        `json:"current_location"`
	VisitedLocations       []string                      `json:"visited_locations"`
	ConversationHistories  map[string][]ConversationTurn `json:"conversation_histories"`
	UnlockedAchievements   []string                      `json:"unlocked_achievements"`
	AchievementUnlockTimes map[string]time.Time          `json:"achievement_unlock_times,omitempty"`
	DiscoveredItems        []string                      `json:"discovered_items"`
	Progress               GameProgress                  `json:"progress"`
	SaveTime               time.Time                     `json:"save_time"`
}

// GameStats 汇总统计
type GameStats struct {
	CurrentLocation      string `json:"current_location"`
	LocationsVisited     int    `json:"locations_visited"`
	TotalLocations       int    `json:"total_locations"`
	AchievementsUnlocked int    `json:"achievements_unlocked"`
	TotalAchievements    int    `json:"total_achievements"`
	ItemsFound           int    `json:"items_found"`
	TotalItems           int    `json:"total_items"`
	ConversationCount    int    `json:"conversation_count"`
	PlayTimeMinutes      int    `json:"play_time_minutes"`
}
