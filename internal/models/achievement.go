// internal/models/achievement.go
package models

import "time"

// Achievement 成就定义与解锁状态。解锁是单调的，只有重置游戏才会回退。
type Achievement struct {
	ID              string     `json:"id" yaml:"id"`
	Title           string     `json:"title" yaml:"title"`
	Description     string     `json:"description" yaml:"description"`
	Hint            string     `json:"hint,omitempty" yaml:"hint"`
	CharacterID     string     `json:"character_id" yaml:"character_id"`
	TriggerKeywords []string   `json:"-" yaml:"trigger_keywords"`
	Unlocked        bool       `json:"unlocked" yaml:"-"`
	UnlockedAt      *time.Time `json:"unlocked_at,omitempty" yaml:"-"`
}
