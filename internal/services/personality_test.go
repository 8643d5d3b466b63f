package services

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/gamedata"
)

func TestInferCategoryPriority(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   PersonalityCategory
	}{
		{"shy", "You are very SHY.", CategoryShy},
		{"bashful", "A bashful radish", CategoryShy},
		{"wise", "An ancient oak", CategoryWise},
		{"cheerful", "Always happy to help", CategoryCheerful},
		{"mysterious", "keeps a secret", CategoryMysterious},
		{"default", "A grumpy pepper", CategoryDefault},
		{"empty", "", CategoryDefault},
		{"shy beats mysterious", "shy, but knows a secret", CategoryShy},
		{"wise beats cheerful", "a wise and cheerful frog", CategoryWise},
		{"cheerful beats mysterious", "cheerful keeper of secrets", CategoryCheerful},
		{"substring heuristic", "a bold gardener", CategoryWise},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, InferCategory(tt.prompt))
		})
	}
}

func TestDefaultWorldCategories(t *testing.T) {
	w := gamedata.Default()
	want := map[string]PersonalityCategory{
		"albino_tomato":    CategoryShy,
		"cucumber_gal":     CategoryDefault,
		"green_pepper_gal": CategoryDefault,
		"pumpkin_pete":     CategoryCheerful,
	}
	for id, category := range want {
		c, ok := w.Character(id)
		require.True(t, ok)
		require.Equal(t, category, InferCategory(c.Prompt), id)
	}
}
