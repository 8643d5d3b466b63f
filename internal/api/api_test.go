package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/services"
	"github.com/Corphon/TomatoTown/internal/utils"
)

type stubForwarder struct {
	status int
	body   string
	err    error
	got    []byte
}

func (s *stubForwarder) Forward(ctx context.Context, body []byte) (int, []byte, error) {
	s.got = body
	return s.status, []byte(s.body), s.err
}

type testServer struct {
	handler *Handler
	router  *gin.Engine
	events  *services.EventBus
}

func newTestServer(t *testing.T, proxy ChatForwarder, chatLimit int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	world := gamedata.Default()
	metrics := utils.NewGameMetrics(utils.NewMetricsCollector())
	events := services.NewEventBus()
	achievements := services.NewAchievementService(world.Achievements())
	state := services.NewGameState(world, achievements, nil, events, services.DefaultHistoryLimit)
	generator := services.NewResponseGenerator(nil, world, services.NewFallbackTable(7), services.GeneratorSettings{
		Model:        "test-model",
		ContextTurns: 6,
	}, metrics)
	serializer := services.NewRequestSerializer(generator, 0, time.Second, metrics)
	t.Cleanup(serializer.Stop)
	session := services.NewConversationSession(world, serializer, services.NewDialogueExtractor(), achievements, state, events, metrics, services.SessionOptions{
		DismissDelay: time.Millisecond,
		ContextTurns: 6,
	})

	h := NewHandler(Handler{
		World:        world,
		Session:      session,
		Achievements: achievements,
		State:        state,
		WorldService: services.NewWorldService(world, state, session, events),
		Generator:    generator,
		Serializer:   serializer,
		Metrics:      metrics,
		Proxy:        proxy,
		Hub:          NewEventHub(),
	})
	return &testServer{
		handler: h,
		router:  SetupRouter(h, RouterOptions{ChatRateLimit: chatLimit}),
		events:  events,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp APIResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func dataMap(t *testing.T, resp APIResponse) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestHealthAndRequestID(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	w, resp := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, resp.Success)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, w.Header().Get("X-Request-ID"), resp.RequestID)

	generator := dataMap(t, resp)["generator"].(map[string]interface{})
	require.Equal(t, false, generator["available"])
	require.Equal(t, float64(25), generator["fallback_pool_size"])

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestCharactersHidePrompts(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	w, resp := ts.do(t, http.MethodGet, "/api/characters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "GRILLED_CHEESE")

	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 4)
}

func TestConversationFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	w, resp := ts.do(t, http.MethodPost, "/api/conversation/open", gin.H{"character_id": "albino_tomato"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "Oh! H-hello there... I wasn't expecting visitors...", dataMap(t, resp)["greeting"])

	w, resp = ts.do(t, http.MethodPost, "/api/conversation/message", gin.H{"message": "grilled cheese, huh?"})
	require.Equal(t, http.StatusOK, w.Code)
	turn := dataMap(t, resp)
	require.Equal(t, true, turn["accepted"])
	require.NotEmpty(t, turn["reply"])
	require.Len(t, turn["unlocked"], 1)

	w, resp = ts.do(t, http.MethodGet, "/api/conversation/history/albino_tomato", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Data, 1)

	w, resp = ts.do(t, http.MethodGet, "/api/achievements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, float64(1), dataMap(t, resp)["unlocked"])

	w, resp = ts.do(t, http.MethodPost, "/api/conversation/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, dataMap(t, resp)["closed"])

	w, resp = ts.do(t, http.MethodPost, "/api/conversation/message", gin.H{"message": "hello?"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, dataMap(t, resp)["accepted"])
	require.Equal(t, services.RejectNotActive, dataMap(t, resp)["reason"])
}

func TestErrorResponses(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown character", http.MethodPost, "/api/conversation/open", gin.H{"character_id": "nobody"}, http.StatusNotFound, ErrorCharacterNotFound},
		{"missing character id", http.MethodPost, "/api/conversation/open", gin.H{}, http.StatusBadRequest, ErrorBadRequest},
		{"unknown history", http.MethodGet, "/api/conversation/history/nobody", nil, http.StatusNotFound, ErrorCharacterNotFound},
		{"unreachable location", http.MethodPost, "/api/world/travel/saloon_backroom", nil, http.StatusBadRequest, ErrorLocationUnreachable},
		{"unknown location", http.MethodPost, "/api/world/travel/moon", nil, http.StatusNotFound, ErrorLocationNotFound},
		{"unknown item", http.MethodPost, "/api/world/items/spoon/discover", nil, http.StatusNotFound, ErrorItemNotFound},
		{"item elsewhere", http.MethodPost, "/api/world/items/rusty_key/discover", nil, http.StatusBadRequest, ErrorBadRequest},
		{"unknown route", http.MethodGet, "/api/nope", nil, http.StatusNotFound, ErrorNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := ts.do(t, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code)
			require.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			require.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestWorldAndGameEndpoints(t *testing.T) {
	ts := newTestServer(t, nil, 0)

	w, resp := ts.do(t, http.MethodPost, "/api/world/items/old_boot/discover", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, dataMap(t, resp)["first_discovery"])

	w, resp = ts.do(t, http.MethodPost, "/api/world/travel/saloon", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, dataMap(t, resp)["first_visit"])

	w, resp = ts.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := dataMap(t, resp)["stats"].(map[string]interface{})
	require.Equal(t, "saloon", stats["current_location"])
	require.Equal(t, float64(1), stats["items_found"])

	w, _ = ts.do(t, http.MethodPost, "/api/game/save", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = ts.do(t, http.MethodPost, "/api/game/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "town_center", dataMap(t, resp)["current_location"])
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ts.do(t, http.MethodGet, "/api/health", nil)

	w, resp := ts.do(t, http.MethodGet, "/api/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	counters := dataMap(t, resp)["counters"].(map[string]interface{})
	require.GreaterOrEqual(t, counters["api_requests_total"], float64(1))
}

func TestChatProxy(t *testing.T) {
	t.Run("forwards success", func(t *testing.T) {
		fwd := &stubForwarder{status: http.StatusOK, body: `{"choices":[{"message":{"content":"hi"}}]}`}
		ts := newTestServer(t, fwd, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"model":"m","messages":[]}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		require.JSONEq(t, fwd.body, w.Body.String())
		require.JSONEq(t, `{"model":"m","messages":[]}`, string(fwd.got))
	})

	t.Run("upstream error keeps status", func(t *testing.T) {
		fwd := &stubForwarder{status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`}
		ts := newTestServer(t, fwd, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusTooManyRequests, w.Code)
		require.JSONEq(t, `{"error":"slow down","status":429}`, w.Body.String())
	})

	t.Run("upstream error without message", func(t *testing.T) {
		fwd := &stubForwarder{status: http.StatusBadGateway, body: `<html>bad gateway</html>`}
		ts := newTestServer(t, fwd, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadGateway, w.Code)
		require.JSONEq(t, `{"error":"API request failed","status":502}`, w.Body.String())
	})

	t.Run("transport failure is internal error", func(t *testing.T) {
		fwd := &stubForwarder{err: errors.New("dial tcp: refused")}
		ts := newTestServer(t, fwd, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)

		require.Equal(t, http.StatusInternalServerError, w.Code)
		require.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	})

	t.Run("method not allowed", func(t *testing.T) {
		ts := newTestServer(t, &stubForwarder{status: http.StatusOK, body: `{}`}, 0)

		req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)
		require.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
	})

	t.Run("preflight", func(t *testing.T) {
		ts := newTestServer(t, nil, 0)

		req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusNoContent, w.Code)
		require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("not configured", func(t *testing.T) {
		ts := newTestServer(t, nil, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestChatProxyRateLimit(t *testing.T) {
	ts := newTestServer(t, &stubForwarder{status: http.StatusOK, body: `{}`}, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.Allow("ip", 1, time.Minute))
	require.False(t, rl.Allow("ip", 1, time.Minute))
	require.True(t, rl.Allow("other", 1, time.Minute))

	now = now.Add(61 * time.Second)
	require.True(t, rl.Allow("ip", 1, time.Minute))

	now = now.Add(2 * time.Minute)
	rl.cleanup()
	require.Empty(t, rl.visitors)
}

func TestEventsWebSocketStreamsGameEvents(t *testing.T) {
	ts := newTestServer(t, nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ts.handler.Hub.Run(ctx)
	sub, unsubscribe := ts.events.Subscribe(16)
	defer unsubscribe()
	go ts.handler.Hub.Forward(ctx, sub)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var welcome map[string]interface{}
	require.NoError(t, conn.ReadJSON(&welcome))
	require.Equal(t, "connected", welcome["type"])

	require.Eventually(t, func() bool { return ts.handler.Hub.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err = ts.handler.Session.Open(context.Background(), "pumpkin_pete")
	require.NoError(t, err)

	seen := map[models.EventType]bool{}
	for !seen[models.EventConversationStarted] {
		var ev models.GameEvent
		require.NoError(t, conn.ReadJSON(&ev))
		seen[ev.Type] = true
		if ev.Type == models.EventConversationStarted {
			assert.Equal(t, "pumpkin_pete", ev.CharacterID)
		}
	}
	require.True(t, seen[models.EventCharacterInteractionStarted])
}
