// internal/services/fallback.go
package services

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/TomatoTown/internal/models"
)

// cannedLine 一条带内心独白的本地回复
type cannedLine struct {
	Monologue string
	Dialogue  string
}

var fallbackPools = map[PersonalityCategory][]cannedLine{
	CategoryShy: {
		{"Someone is talking to me... I hope I don't say something silly.", "Oh... um... hello there. I don't really know what to say..."},
		{"Why is this so hard? Just say something normal.", "I'm not very good at talking to people... sorry."},
		{"Maybe if I stay very still they won't notice me blushing.", "Maybe we could just... sit quietly together?"},
		{"I hope I'm not taking up too much of their time.", "I hope I'm not bothering you..."},
		{"Other tomatoes are so much bolder than me.", "Sometimes I wish I could be braver..."},
	},
	CategoryWise: {
		{"Another seeker. Let us see what they truly want.", "Ah, my friend, wisdom comes to those who listen carefully."},
		{"The young are always in such a hurry.", "In my many years, I have learned that patience is a virtue."},
		{"The seasons always teach the same lesson.", "Everything grows in its own time, including understanding."},
		{"They will find the answer if they keep asking.", "The right question is worth more than a hundred answers."},
		{"Roots run deeper than most folk imagine.", "What you see above the soil is only half of the story."},
	},
	CategoryCheerful: {
		{"A visitor! This day just keeps getting better!", "Oh how wonderful to see you! What a beautiful day!"},
		{"I should introduce them to everyone!", "I just love meeting new friends in the garden!"},
		{"They look like they could use a smile.", "Isn't it just the best day to be out and about?"},
		{"Maybe they'll want to hear about the festival!", "Everything is more fun with good company!"},
		{"I can't stop smiling today.", "You've made my day brighter just by stopping by!"},
	},
	CategoryMysterious: {
		{"They are getting closer to the truth than they realize.", "Some secrets are meant to be discovered slowly..."},
		{"I wonder if they are ready to know.", "The garden holds many mysteries for those who seek them."},
		{"Careful. Say too much and the game is over.", "Not everything hidden wants to be found..."},
		{"Let them work for it.", "Perhaps the answer is closer than you think."},
		{"The shadows here remember everything.", "Ask the right questions, and the town may answer."},
	},
	CategoryDefault: {
		{"A new face around here. Let's be friendly.", "Hello there! Nice to meet you."},
		{"I wonder what they're looking for.", "What brings you to our garden today?"},
		{"They seem nice enough.", "It's a fine day in town, isn't it?"},
		{"Maybe they know some good gossip.", "Have you met everyone around here yet?"},
		{"I should get back to my chores soon.", "Feel free to look around, there's plenty to see."},
	},
}

var firstMeetingGreetings = map[PersonalityCategory]cannedLine{
	CategoryShy:        {"A stranger! Oh no, what do I say?", "Oh! H-hello there... I wasn't expecting visitors..."},
	CategoryWise:       {"I have been expecting someone like this.", "Welcome, young traveler. I sense you have questions to ask."},
	CategoryCheerful:   {"Yay, a brand new friend!", "Oh wonderful! A new friend has come to visit! How delightful!"},
	CategoryMysterious: {"So the seeker finally arrives.", "Ah... so you've found me. I wondered when someone would come asking the right questions..."},
	CategoryDefault:    {"Someone new in town.", "Hello there! Nice to meet you. What brings you to our garden?"},
}

var greetingWords = map[string]bool{
	"hello":     true,
	"hi":        true,
	"hey":       true,
	"howdy":     true,
	"greetings": true,
}

// FallbackTable 按人设分类挑选本地回复
type FallbackTable struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFallbackTable 创建回退表；seed 为 0 时使用当前时间
func NewFallbackTable(seed int64) *FallbackTable {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FallbackTable{rng: rand.New(rand.NewSource(seed))}
}

// Select 选择回退回复。
// 消息含 "secret"/"hidden" 时从 mysterious 池随机挑选，优先于问候判断；
// 否则含问候词时固定返回池中第一条。
func (f *FallbackTable) Select(category PersonalityCategory, message string) models.ReplyPayload {
	lower := strings.ToLower(message)
	secret := strings.Contains(lower, "secret") || strings.Contains(lower, "hidden")
	if secret {
		category = CategoryMysterious
	}

	pool, ok := fallbackPools[category]
	if !ok || len(pool) == 0 {
		category = CategoryDefault
		pool = fallbackPools[CategoryDefault]
	}

	line := pool[0]
	if secret || !containsGreeting(lower) {
		f.mu.Lock()
		line = pool[f.rng.Intn(len(pool))]
		f.mu.Unlock()
	}

	return models.ReplyPayload{
		InternalMonologue: line.Monologue,
		Dialogue:          line.Dialogue,
		Source:            models.ReplySourceFallback,
		Category:          string(category),
	}
}

// PoolSize 所有回退池的条目总数
func (f *FallbackTable) PoolSize() int {
	n := 0
	for _, pool := range fallbackPools {
		n += len(pool)
	}
	return n
}

// FirstMeetingGreeting 初次见面的固定问候，不经过网络
func FirstMeetingGreeting(profile *models.CharacterProfile) models.ReplyPayload {
	category := CategoryDefault
	if profile != nil {
		category = InferCategory(profile.Prompt)
	}
	line := firstMeetingGreetings[category]
	return models.ReplyPayload{
		InternalMonologue: line.Monologue,
		Dialogue:          line.Dialogue,
		Source:            models.ReplySourceGreeting,
		Category:          string(category),
	}
}

// containsGreeting 按整词匹配问候语，避免 "this" 命中 "hi"
func containsGreeting(lower string) bool {
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if greetingWords[w] {
			return true
		}
	}
	return false
}
