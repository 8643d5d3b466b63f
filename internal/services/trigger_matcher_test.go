package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/models"
)

func newTestAchievements() *AchievementService {
	return NewAchievementService(gamedata.Default().Achievements())
}

func TestCheckTriggersNormalization(t *testing.T) {
	for _, text := range []string{
		"Fine! GRILLED_CHEESE, happy now?",
		"i just love grilled cheese",
		"Grilled_Cheese is my alibi",
	} {
		t.Run(text, func(t *testing.T) {
			s := newTestAchievements()
			require.Equal(t, []string{"grilled_tomato"}, s.CheckTriggers("albino_tomato", text))
		})
	}
}

func TestCheckTriggersScopesToCharacter(t *testing.T) {
	s := newTestAchievements()
	require.Empty(t, s.CheckTriggers("cucumber_gal", "grilled cheese"))
	require.Empty(t, s.CheckTriggers("albino_tomato", "grilled"))
	require.Empty(t, s.CheckTriggers("albino_tomato", ""))
	require.Empty(t, s.CheckTriggers("nobody", "grilled cheese"))
}

func TestCheckTriggersOrSemantics(t *testing.T) {
	s := NewAchievementService([]models.Achievement{
		{ID: "a", CharacterID: "c", TriggerKeywords: []string{"first_phrase", "SECOND PHRASE"}},
		{ID: "b", CharacterID: "c", TriggerKeywords: []string{"unrelated"}},
	})
	require.Equal(t, []string{"a"}, s.CheckTriggers("c", "only the second_phrase appears"))
}

func TestCheckTriggersSkipsUnlocked(t *testing.T) {
	s := newTestAchievements()

	hits := s.CheckTriggers("albino_tomato", "GRILLED_CHEESE")
	require.Equal(t, []string{"grilled_tomato"}, hits)
	require.False(t, s.IsUnlocked("grilled_tomato"), "check must be read-only")

	_, changed := s.Unlock("grilled_tomato")
	require.True(t, changed)
	require.Empty(t, s.CheckTriggers("albino_tomato", "GRILLED_CHEESE"))
}

func TestUnlockIsIdempotent(t *testing.T) {
	s := newTestAchievements()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		return fixed.Add(time.Duration(calls) * time.Hour)
	}

	first, changed := s.Unlock("grilled_tomato")
	require.True(t, changed)
	require.True(t, first.Unlocked)

	second, changed := s.Unlock("grilled_tomato")
	require.False(t, changed)
	require.Equal(t, *first.UnlockedAt, *second.UnlockedAt)
	require.Equal(t, 1, calls)

	_, changed = s.Unlock("missing")
	require.False(t, changed)
}

func TestConcurrentUnlockHasOneEffect(t *testing.T) {
	s := newTestAchievements()
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, changed := s.Unlock("pumpkin_pals"); changed {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins)
}

func TestProgressRestoreAndReset(t *testing.T) {
	s := newTestAchievements()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	s.Restore([]string{"pumpkin_pals", "grilled_tomato", "ghost"}, map[string]time.Time{"pumpkin_pals": at})
	unlocked, total := s.Progress()
	require.Equal(t, 2, unlocked)
	require.Equal(t, 4, total)

	ids, times := s.UnlockedIDs()
	require.Equal(t, []string{"grilled_tomato", "pumpkin_pals"}, ids)
	require.Equal(t, at, times["pumpkin_pals"])

	for _, id := range []string{"gals_best_friend", "the_color_of_envy"} {
		s.Unlock(id)
	}
	require.True(t, s.HasUnlockedAll())

	s.Reset()
	unlocked, _ = s.Progress()
	require.Zero(t, unlocked)
	require.False(t, s.HasUnlockedAll())
	require.Len(t, s.ForCharacter("albino_tomato"), 1)
}
