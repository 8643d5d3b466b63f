// internal/services/world_service.go
package services

import (
	"context"
	"fmt"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// TravelResult 移动结果
type TravelResult struct {
	Location          *models.Location `json:"location"`
	FirstVisit        bool             `json:"first_visit"`
	ClosedCharacterID string           `json:"closed_character_id,omitempty"`
}

// WorldService 地点移动与物品发现
type WorldService struct {
	world   *gamedata.World
	state   *GameState
	session *ConversationSession
	events  *EventBus
	logger  *utils.Logger
}

func NewWorldService(world *gamedata.World, state *GameState, session *ConversationSession, events *EventBus) *WorldService {
	return &WorldService{
		world:   world,
		state:   state,
		session: session,
		events:  events,
		logger:  utils.GetLogger(),
	}
}

// Travel 移动到相邻地点。进行中的对话会先被关闭，并等待其回到 Idle。
func (w *WorldService) Travel(ctx context.Context, locationID string) (*TravelResult, error) {
	loc, ok := w.world.Location(locationID)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("unknown location %q", locationID), nil)
	}

	current := w.state.CurrentLocation()
	if current == locationID {
		return &TravelResult{Location: loc}, nil
	}
	if !w.world.Connected(current, locationID) {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("%s is not reachable from %s", locationID, current), nil)
	}

	result := &TravelResult{Location: loc}
	if status := w.session.Status(); status.State == SessionActive || status.State == SessionOpening {
		result.ClosedCharacterID = status.CharacterID
		w.session.Close()
	}
	if err := w.session.WaitIdle(ctx); err != nil {
		return nil, apperrors.NewTimeoutError("waiting for conversation to close", err)
	}

	result.FirstVisit = w.state.VisitLocation(locationID)
	w.events.Publish(models.GameEvent{
		Type:       models.EventLocationChanged,
		LocationID: locationID,
		Data:       map[string]any{"from": current, "first_visit": result.FirstVisit},
	})

	if err := w.state.Save(ctx); err != nil {
		w.logger.Warn("Save after travel failed", map[string]interface{}{"error": err.Error()})
	}
	return result, nil
}

// Discover 在当前地点发现物品；重复发现是空操作
func (w *WorldService) Discover(ctx context.Context, itemID string) (*models.Item, bool, error) {
	item, ok := w.world.Item(itemID)
	if !ok {
		return nil, false, apperrors.NewNotFoundError(fmt.Sprintf("unknown item %q", itemID), nil)
	}
	if item.Location != w.state.CurrentLocation() {
		return nil, false, apperrors.NewValidationError(
			fmt.Sprintf("%s is not at the current location", itemID), nil)
	}

	first := w.state.DiscoverItem(itemID)
	if !first {
		return item, false, nil
	}

	w.events.Publish(models.GameEvent{
		Type:       models.EventItemDiscovered,
		ItemID:     itemID,
		LocationID: item.Location,
	})
	if err := w.state.Save(ctx); err != nil {
		w.logger.Warn("Save after discovery failed", map[string]interface{}{"error": err.Error()})
	}
	return item, true, nil
}
