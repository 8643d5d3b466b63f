// internal/models/event.go
package models

import "time"

// EventType 对外发布的游戏事件类型
type EventType string

const (
	EventCharacterInteractionStarted EventType = "character_interaction_started"
	EventConversationStarted         EventType = "conversation_started"
	EventConversationEnded           EventType = "conversation_ended"
	EventAchievementUnlocked         EventType = "achievement_unlocked"
	EventAllAchievementsUnlocked     EventType = "all_achievements_unlocked"
	EventItemDiscovered              EventType = "item_discovered"
	EventLocationChanged             EventType = "location_changed"
	EventGameSaved                   EventType = "game_saved"
	EventGameLoaded                  EventType = "game_loaded"
	EventGameReset                   EventType = "game_reset"
)

// GameEvent 事件载荷
type GameEvent struct {
	Type          EventType      `json:"type"`
	CharacterID   string         `json:"character_id,omitempty"`
	AchievementID string         `json:"achievement_id,omitempty"`
	ItemID        string         `json:"item_id,omitempty"`
	LocationID    string         `json:"location_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}
