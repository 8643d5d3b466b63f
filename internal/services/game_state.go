// internal/services/game_state.go
package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// DefaultHistoryLimit 每个角色保留的最大对话轮数
const DefaultHistoryLimit = 20

// SnapshotStore 持久化协作者。Load 在没有存档时返回 (nil, nil)。
type SnapshotStore interface {
	Save(ctx context.Context, snapshot *models.Snapshot) error
	Load(ctx context.Context) (*models.Snapshot, error)
	Delete(ctx context.Context) error
}

// GameState 持有可持久化的游戏进度：对话历史、到访地点、发现的物品与计数。
// 成就解锁状态由 AchievementService 持有，存档时一并写入。
type GameState struct {
	world        *gamedata.World
	achievements *AchievementService
	store        SnapshotStore
	events       *EventBus
	historyLimit int
	logger       *utils.Logger
	now          func() time.Time

	mu              sync.RWMutex
	currentLocation string
	visited         []string
	histories       map[string][]models.ConversationTurn
	discovered      []string
	progress        models.GameProgress
	sessionStart    time.Time

	saveMu sync.Mutex
}

// NewGameState 创建新游戏状态；store 为 nil 时不持久化
func NewGameState(world *gamedata.World, achievements *AchievementService, store SnapshotStore, events *EventBus, historyLimit int) *GameState {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	gs := &GameState{
		world:        world,
		achievements: achievements,
		store:        store,
		events:       events,
		historyLimit: historyLimit,
		logger:       utils.GetLogger(),
		now:          time.Now,
	}
	gs.resetLocked()
	return gs
}

func (gs *GameState) resetLocked() {
	now := gs.now()
	gs.currentLocation = ""
	gs.visited = nil
	if gs.world != nil && gs.world.StartLocation != "" {
		gs.currentLocation = gs.world.StartLocation
		gs.visited = []string{gs.world.StartLocation}
	}
	gs.histories = make(map[string][]models.ConversationTurn)
	gs.discovered = nil
	gs.progress = models.GameProgress{StartTime: now}
	gs.sessionStart = now
}

// AddTurn 追加一轮对话并截断到最近 historyLimit 轮
func (gs *GameState) AddTurn(characterID, player, character string) models.ConversationTurn {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	turn := models.ConversationTurn{
		Timestamp: gs.now(),
		Player:    player,
		Character: character,
		Location:  gs.currentLocation,
	}

	history := append(gs.histories[characterID], turn)
	if len(history) > gs.historyLimit {
		trimmed := make([]models.ConversationTurn, gs.historyLimit)
		copy(trimmed, history[len(history)-gs.historyLimit:])
		history = trimmed
	}
	gs.histories[characterID] = history
	gs.progress.ConversationCount++

	return turn
}

// History 返回某角色完整历史的副本
func (gs *GameState) History(characterID string) []models.ConversationTurn {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return append([]models.ConversationTurn(nil), gs.histories[characterID]...)
}

// RecentHistory 返回最近 n 轮
func (gs *GameState) RecentHistory(characterID string, n int) []models.ConversationTurn {
	return RecentTurns(gs.History(characterID), n)
}

// CurrentLocation 当前所在地点
func (gs *GameState) CurrentLocation() string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return gs.currentLocation
}

// VisitLocation 移动到地点，返回是否首次到访
func (gs *GameState) VisitLocation(locationID string) bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.currentLocation = locationID
	for _, id := range gs.visited {
		if id == locationID {
			return false
		}
	}
	gs.visited = append(gs.visited, locationID)
	return true
}

// DiscoverItem 记录发现的物品，返回是否首次发现
func (gs *GameState) DiscoverItem(itemID string) bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	for _, id := range gs.discovered {
		if id == itemID {
			return false
		}
	}
	gs.discovered = append(gs.discovered, itemID)
	return true
}

// DiscoveredItems 已发现物品
func (gs *GameState) DiscoveredItems() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return append([]string(nil), gs.discovered...)
}

// Stats 汇总统计
func (gs *GameState) Stats() models.GameStats {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	stats := models.GameStats{
		CurrentLocation:   gs.currentLocation,
		LocationsVisited:  len(gs.visited),
		ItemsFound:        len(gs.discovered),
		ConversationCount: gs.progress.ConversationCount,
		PlayTimeMinutes:   int(gs.playTimeLocked().Minutes()),
	}
	if gs.world != nil {
		stats.TotalLocations = len(gs.world.Locations())
		stats.TotalItems = len(gs.world.Items())
	}
	if gs.achievements != nil {
		stats.AchievementsUnlocked, stats.TotalAchievements = gs.achievements.Progress()
	}
	return stats
}

func (gs *GameState) playTimeLocked() time.Duration {
	return gs.progress.PlayTime + gs.now().Sub(gs.sessionStart)
}

// Snapshot 生成完整存档
func (gs *GameState) Snapshot() *models.Snapshot {
	gs.mu.RLock()
	snap := &models.Snapshot{
		CurrentLocation:       gs.currentLocation,
		VisitedLocations:      append([]string(nil), gs.visited...),
		ConversationHistories: make(map[string][]models.ConversationTurn, len(gs.histories)),
		DiscoveredItems:       append([]string(nil), gs.discovered...),
		Progress:              gs.progress,
		SaveTime:              gs.now(),
	}
	snap.Progress.PlayTime = gs.playTimeLocked()
	for id, turns := range gs.histories {
		snap.ConversationHistories[id] = append([]models.ConversationTurn(nil), turns...)
	}
	gs.mu.RUnlock()

	snap.UnlockedAchievements = []string{}
	if gs.achievements != nil {
		snap.UnlockedAchievements, snap.AchievementUnlockTimes = gs.achievements.UnlockedIDs()
	}
	return snap
}

// Restore 用存档替换当前状态；历史按上限截断
func (gs *GameState) Restore(snap *models.Snapshot) {
	if snap == nil {
		return
	}

	gs.mu.Lock()
	gs.resetLocked()
	if snap.CurrentLocation != "" {
		gs.currentLocation = snap.CurrentLocation
	}
	if len(snap.VisitedLocations) > 0 {
		gs.visited = append([]string(nil), snap.VisitedLocations...)
	}
	ids := make([]string, 0, len(snap.ConversationHistories))
	for id := range snap.ConversationHistories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		turns := snap.ConversationHistories[id]
		if len(turns) > gs.historyLimit {
			turns = turns[len(turns)-gs.historyLimit:]
		}
		gs.histories[id] = append([]models.ConversationTurn(nil), turns...)
	}
	gs.discovered = append([]string(nil), snap.DiscoveredItems...)
	gs.progress = snap.Progress
	if gs.progress.StartTime.IsZero() {
		gs.progress.StartTime = gs.now()
	}
	gs.sessionStart = gs.now()
	gs.mu.Unlock()

	if gs.achievements != nil {
		gs.achievements.Restore(snap.UnlockedAchievements, snap.AchievementUnlockTimes)
	}
}

// Save 把当前状态写入持久化层
func (gs *GameState) Save(ctx context.Context) error {
	if gs.store == nil {
		return nil
	}

	gs.saveMu.Lock()
	defer gs.saveMu.Unlock()

	snap := gs.Snapshot()
	if err := gs.store.Save(ctx, snap); err != nil {
		gs.logger.Error("Failed to save game", map[string]interface{}{"error": err.Error()})
		return err
	}
	gs.publish(models.GameEvent{Type: models.EventGameSaved})
	return nil
}

// Load 启动时读取一次存档，返回是否存在存档
func (gs *GameState) Load(ctx context.Context) (bool, error) {
	if gs.store == nil {
		return false, nil
	}
	snap, err := gs.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	gs.Restore(snap)
	gs.logger.Info("Game loaded", map[string]interface{}{
		"saved_at":      snap.SaveTime.Format(time.RFC3339),
		"conversations": snap.Progress.ConversationCount,
	})
	gs.publish(models.GameEvent{Type: models.EventGameLoaded})
	return true, nil
}

// Reset 清空进度、成就与存档
func (gs *GameState) Reset(ctx context.Context) error {
	gs.mu.Lock()
	gs.resetLocked()
	gs.mu.Unlock()

	if gs.achievements != nil {
		gs.achievements.Reset()
	}
	if gs.store != nil {
		gs.saveMu.Lock()
		err := gs.store.Delete(ctx)
		gs.saveMu.Unlock()
		if err != nil {
			return err
		}
	}
	gs.publish(models.GameEvent{Type: models.EventGameReset})
	return nil
}

// StartAutoSave 按间隔自动保存，直到 ctx 结束
func (gs *GameState) StartAutoSave(ctx context.Context, interval time.Duration) {
	if interval <= 0 || gs.store == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = gs.Save(ctx)
			}
		}
	}()
}

func (gs *GameState) publish(event models.GameEvent) {
	if gs.events != nil {
		gs.events.Publish(event)
	}
}
