package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/models"
)

func TestEventBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewEventBus()
	a, unsubA := bus.Subscribe(4)
	b, unsubB := bus.Subscribe(4)
	defer unsubB()

	bus.Publish(models.GameEvent{Type: models.EventConversationStarted, CharacterID: "albino_tomato"})

	for _, ch := range []<-chan models.GameEvent{a, b} {
		ev := <-ch
		require.Equal(t, models.EventConversationStarted, ev.Type)
		require.False(t, ev.Timestamp.IsZero())
	}

	unsubA()
	unsubA()
	_, open := <-a
	require.False(t, open)
	require.Equal(t, 1, bus.SubscriberCount())
}

func TestEventBusDropsWhenFull(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	bus.Publish(models.GameEvent{Type: models.EventGameSaved})
	bus.Publish(models.GameEvent{Type: models.EventGameLoaded})

	require.Equal(t, models.EventGameSaved, (<-ch).Type)
	require.Empty(t, ch)
}

func TestEventBusClose(t *testing.T) {
	bus := NewEventBus()
	ch, unsub := bus.Subscribe(1)
	bus.Close()
	unsub()

	_, open := <-ch
	require.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	require.False(t, open)

	bus.Publish(models.GameEvent{Type: models.EventGameReset})
}
