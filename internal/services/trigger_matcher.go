// internal/services/trigger_matcher.go
package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/TomatoTown/internal/models"
)

// NormalizeTrigger 小写化并把下划线替换为空格，
// 使 "GRILLED_CHEESE"、"grilled cheese"、"Grilled_Cheese" 等价
func NormalizeTrigger(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", " ")
}

// AchievementService 持有成就定义与解锁状态。
// CheckTriggers 只读；Unlock 是幂等的集合插入。
type AchievementService struct {
	mu           sync.RWMutex
	achievements []*models.Achievement
	byID         map[string]*models.Achievement
	normalized   map[string][]string
	now          func() time.Time
}

// NewAchievementService 以定义列表创建服务，所有成就初始为未解锁
func NewAchievementService(defs []models.Achievement) *AchievementService {
	s := &AchievementService{
		byID:       make(map[string]*models.Achievement, len(defs)),
		normalized: make(map[string][]string, len(defs)),
		now:        time.Now,
	}
	for i := range defs {
		a := defs[i]
		a.Unlocked = false
		a.UnlockedAt = nil
		s.achievements = append(s.achievements, &a)
		s.byID[a.ID] = &a

		phrases := make([]string, 0, len(a.TriggerKeywords))
		for _, kw := range a.TriggerKeywords {
			if n := NormalizeTrigger(kw); strings.TrimSpace(n) != "" {
				phrases = append(phrases, n)
			}
		}
		s.normalized[a.ID] = phrases
	}
	return s
}

// CheckTriggers 返回该角色下尚未解锁且被文本命中的成就 id（按定义顺序）。
// 任一触发短语作为子串出现即命中。
func (s *AchievementService) CheckTriggers(characterID, text string) []string {
	candidate := NormalizeTrigger(text)
	if strings.TrimSpace(candidate) == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []string
	for _, a := range s.achievements {
		if a.CharacterID != characterID || a.Unlocked {
			continue
		}
		for _, phrase := range s.normalized[a.ID] {
			if strings.Contains(candidate, phrase) {
				hits = append(hits, a.ID)
				break
			}
		}
	}
	return hits
}

// Unlock 解锁成就。只有第一次调用返回 true，时间戳只设置一次。
func (s *AchievementService) Unlock(id string) (models.Achievement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return models.Achievement{}, false
	}
	if a.Unlocked {
		return copyAchievement(a), false
	}

	at := s.now()
	a.Unlocked = true
	a.UnlockedAt = &at
	return copyAchievement(a), true
}

// Get 查询单个成就
func (s *AchievementService) Get(id string) (models.Achievement, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return models.Achievement{}, false
	}
	return copyAchievement(a), true
}

// IsUnlocked 是否已解锁
func (s *AchievementService) IsUnlocked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	return ok && a.Unlocked
}

// All 返回全部成就的副本
func (s *AchievementService) All() []models.Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		out = append(out, copyAchievement(a))
	}
	return out
}

// ForCharacter 返回某角色的成就
func (s *AchievementService) ForCharacter(characterID string) []models.Achievement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Achievement
	for _, a := range s.achievements {
		if a.CharacterID == characterID {
			out = append(out, copyAchievement(a))
		}
	}
	return out
}

// Progress 已解锁数与总数
func (s *AchievementService) Progress() (unlocked, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.achievements {
		if a.Unlocked {
			unlocked++
		}
	}
	return unlocked, len(s.achievements)
}

// HasUnlockedAll 是否全部解锁（没有成就时为 false）
func (s *AchievementService) HasUnlockedAll() bool {
	unlocked, total := s.Progress()
	return total > 0 && unlocked == total
}

// UnlockedIDs 已解锁 id（排序）及解锁时间，用于存档
func (s *AchievementService) UnlockedIDs() ([]string, map[string]time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	times := make(map[string]time.Time)
	for _, a := range s.achievements {
		if a.Unlocked {
			ids = append(ids, a.ID)
			if a.UnlockedAt != nil {
				times[a.ID] = *a.UnlockedAt
			}
		}
	}
	sort.Strings(ids)
	return ids, times
}

// Restore 从存档恢复解锁状态；未知 id 被忽略
func (s *AchievementService) Restore(ids []string, times map[string]time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.achievements {
		a.Unlocked = false
		a.UnlockedAt = nil
	}
	for _, id := range ids {
		a, ok := s.byID[id]
		if !ok {
			continue
		}
		a.Unlocked = true
		at, ok := times[id]
		if !ok {
			at = s.now()
		}
		a.UnlockedAt = &at
	}
}

// Reset 清除全部解锁状态（仅用于重置游戏）
func (s *AchievementService) Reset() {
	s.Restore(nil, nil)
}

func copyAchievement(a *models.Achievement) models.Achievement {
	cp := *a
	cp.TriggerKeywords = append([]string(nil), a.TriggerKeywords...)
	if a.UnlockedAt != nil {
		at := *a.UnlockedAt
		cp.UnlockedAt = &at
	}
	return cp
}
