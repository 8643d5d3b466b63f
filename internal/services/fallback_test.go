package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/models"
)

func dialoguesOf(category PersonalityCategory) []string {
	var out []string
	for _, line := range fallbackPools[category] {
		out = append(out, line.Dialogue)
	}
	return out
}

func TestFallbackSecretPrefersMysterious(t *testing.T) {
	table := NewFallbackTable(7)

	for _, msg := range []string{"tell me about your secret", "anything HIDDEN here?"} {
		for i := 0; i < 20; i++ {
			reply := table.Select(CategoryShy, msg)
			require.Equal(t, string(CategoryMysterious), reply.Category)
			require.Contains(t, dialoguesOf(CategoryMysterious), reply.Dialogue)
			require.Equal(t, models.ReplySourceFallback, reply.Source)
		}
	}
}

func TestFallbackSecretWinsOverGreeting(t *testing.T) {
	table := NewFallbackTable(11)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		reply := table.Select(CategoryShy, "hi, what's your secret?")
		require.Equal(t, string(CategoryMysterious), reply.Category)
		require.Contains(t, dialoguesOf(CategoryMysterious), reply.Dialogue)
		seen[reply.Dialogue] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestFallbackGreetingIsDeterministic(t *testing.T) {
	table := NewFallbackTable(42)

	for _, msg := range []string{"hello", "Hi there!", "well, hey you", "Greetings, friend"} {
		for i := 0; i < 10; i++ {
			reply := table.Select(CategoryWise, msg)
			require.Equal(t, fallbackPools[CategoryWise][0].Dialogue, reply.Dialogue)
		}
	}
}

func TestFallbackGreetingMatchesWholeWords(t *testing.T) {
	require.True(t, containsGreeting("oh, hi!"))
	require.False(t, containsGreeting("this is nothing"))
	require.False(t, containsGreeting("whey protein"))
}

func TestFallbackRandomStaysInPool(t *testing.T) {
	table := NewFallbackTable(1)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		reply := table.Select(CategoryCheerful, "what do you do all day")
		require.Contains(t, dialoguesOf(CategoryCheerful), reply.Dialogue)
		require.NotEmpty(t, reply.InternalMonologue)
		seen[reply.Dialogue] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestFallbackUnknownCategoryUsesDefault(t *testing.T) {
	table := NewFallbackTable(3)
	reply := table.Select(PersonalityCategory("grumpy"), "hello")
	require.Equal(t, "Hello there! Nice to meet you.", reply.Dialogue)
	require.Equal(t, string(CategoryDefault), reply.Category)
	require.Equal(t, 25, table.PoolSize())
}

func TestFirstMeetingGreeting(t *testing.T) {
	shy := &models.CharacterProfile{ID: "albino_tomato", Prompt: "You are very shy."}
	reply := FirstMeetingGreeting(shy)
	require.Equal(t, "Oh! H-hello there... I wasn't expecting visitors...", reply.Dialogue)
	require.Equal(t, models.ReplySourceGreeting, reply.Source)

	require.Equal(t, firstMeetingGreetings[CategoryDefault].Dialogue, FirstMeetingGreeting(nil).Dialogue)
}
