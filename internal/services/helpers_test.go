package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/llm"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/utils"
)

// memStore keeps the last snapshot as JSON so tests see what a real store would persist.
type memStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func (m *memStore) Save(ctx context.Context, snap *models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = b
	m.saves++
	return nil
}

func (m *memStore) Load(_ context.Context) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	var snap models.Snapshot
	if err := json.Unmarshal(m.data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *memStore) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type testRig struct {
	world        *gamedata.World
	achievements *AchievementService
	store        *memStore
	events       *EventBus
	state        *GameState
	generator    *ResponseGenerator
	serializer   *RequestSerializer
	session      *ConversationSession
	metrics      *utils.MetricsCollector
}

type rigOption func(*rigConfig)

type rigConfig struct {
	provider     llm.Provider
	replies      ReplySource
	dismissDelay time.Duration
}

func withProvider(p llm.Provider) rigOption {
	return func(c *rigConfig) { c.provider = p }
}

func withReplies(r ReplySource) rigOption {
	return func(c *rigConfig) { c.replies = r }
}

func withDismissDelay(d time.Duration) rigOption {
	return func(c *rigConfig) { c.dismissDelay = d }
}

func newTestRig(t *testing.T, opts ...rigOption) *testRig {
	t.Helper()

	cfg := rigConfig{dismissDelay: 5 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &testRig{
		world:   gamedata.Default(),
		store:   &memStore{},
		events:  NewEventBus(),
		metrics: utils.NewMetricsCollector(),
	}
	gm := utils.NewGameMetrics(r.metrics)
	r.achievements = NewAchievementService(r.world.Achievements())
	r.state = NewGameState(r.world, r.achievements, r.store, r.events, DefaultHistoryLimit)
	r.generator = NewResponseGenerator(cfg.provider, r.world, NewFallbackTable(99), GeneratorSettings{
		Model:        "test-model",
		MaxTokens:    256,
		Temperature:  0.8,
		TopP:         0.9,
		ContextTurns: 6,
	}, gm)
	r.serializer = NewRequestSerializer(r.generator, 0, time.Second, gm)
	t.Cleanup(r.serializer.Stop)

	replies := cfg.replies
	if replies == nil {
		replies = r.serializer
	}
	r.session = NewConversationSession(r.world, replies, NewDialogueExtractor(), r.achievements, r.state, r.events, gm, SessionOptions{
		DismissDelay: cfg.dismissDelay,
		ContextTurns: 6,
	})
	return r
}

// collect drains whatever is buffered on ch right now.
func collect(ch <-chan models.GameEvent) []models.GameEvent {
	var out []models.GameEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []models.GameEvent) []models.EventType {
	out := make([]models.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func countEvents(events []models.GameEvent, typ models.EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// gatedReplies blocks every GenerateReply until release is closed.
type gatedReplies struct {
	started chan string
	release chan struct{}
	reply   models.ReplyPayload
	err     error
}

func newGatedReplies(reply string) *gatedReplies {
	return &gatedReplies{
		started: make(chan string, 8),
		release: make(chan struct{}),
		reply:   models.ReplyPayload{Dialogue: reply, Source: models.ReplySourceRemote},
	}
}

func (g *gatedReplies) GenerateReply(ctx context.Context, characterID, message string, history []models.ConversationTurn) (models.ReplyPayload, error) {
	g.started <- message
	select {
	case <-g.release:
	case <-ctx.Done():
		return models.ReplyPayload{}, ctx.Err()
	}
	return g.reply, g.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}
