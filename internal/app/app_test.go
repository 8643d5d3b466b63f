package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/TomatoTown/internal/config"
	"github.com/Corphon/TomatoTown/internal/models"
	"github.com/Corphon/TomatoTown/internal/storage"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:             "0",
		DataDir:          filepath.Join(dir, "data"),
		LogDir:           filepath.Join(dir, "logs"),
		LogLevel:         "error",
		StorageDriver:    driver,
		SaveSlot:         storage.DefaultSlot,
		AutoSaveInterval: time.Hour,
		HistoryLimit:     20,
		ContextTurns:     6,
		DismissDelay:     time.Millisecond,
		ChatRateLimit:    10,
		LLM: config.LLMConfig{
			Provider:       "openrouter",
			Model:          "test-model",
			RequestTimeout: time.Second,
		},
	}
}

func TestNewWiresOfflineGame(t *testing.T) {
	cfg := testConfig(t, storage.DriverFile)
	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	require.False(t, a.Generator.Available())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// 没有服务端密钥时代理返回 500
	req = httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	w = httptest.NewRecorder()
	a.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestNewRejectsMissingWorldFile(t *testing.T) {
	cfg := testConfig(t, storage.DriverFile)
	cfg.WorldFile = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(cfg)
	require.Error(t, err)
}

func TestNewFallsBackWhenProviderMisconfigured(t *testing.T) {
	cfg := testConfig(t, storage.DriverFile)
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.APIURL = "http://127.0.0.1:1/v1/chat/completions"
	cfg.LLM.Provider = "nonexistent"

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	assert.False(t, a.Generator.Available())
}

func TestNewProvider(t *testing.T) {
	provider, err := newProvider(config.LLMConfig{Provider: "openrouter"})
	require.NoError(t, err)
	assert.Nil(t, provider)

	provider, err = newProvider(config.LLMConfig{
		Provider:       "openrouter",
		APIKey:         "sk-test",
		APIURL:         "http://localhost/v1/chat/completions",
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, provider)
}

func TestNewChatForwarder(t *testing.T) {
	cfg := testConfig(t, storage.DriverFile)
	assert.Nil(t, newChatForwarder(cfg))

	cfg.ProxyAPIKey = "sk-server"
	cfg.ProxyUpstreamURL = "http://localhost/v1/chat/completions"
	assert.NotNil(t, newChatForwarder(cfg))
}

func TestRunSavesOnShutdown(t *testing.T) {
	for _, driver := range []string{storage.DriverFile, storage.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(t, driver)
			a, err := New(cfg)
			require.NoError(t, err)

			a.State.AddTurn("pumpkin_pete", "hi", "howdy")

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- a.Run(ctx) }()

			time.Sleep(50 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("Run did not return after cancel")
			}

			store, err := storage.Open(driver, cfg.DataDir, cfg.SQLitePath(), cfg.SaveSlot)
			require.NoError(t, err)
			defer store.Close()

			snap, err := store.Load(context.Background())
			require.NoError(t, err)
			require.NotNil(t, snap)
			require.Len(t, snap.ConversationHistories["pumpkin_pete"], 1)
		})
	}
}

func TestRunRestoresSavedGame(t *testing.T) {
	cfg := testConfig(t, storage.DriverFile)

	store, err := storage.Open(cfg.StorageDriver, cfg.DataDir, cfg.SQLitePath(), cfg.SaveSlot)
	require.NoError(t, err)
	snap := &models.Snapshot{
		CurrentLocation:  "town_center",
		VisitedLocations: []string{"town_center"},
		Progress:         models.GameProgress{StartTime: time.Now(), ConversationCount: 3},
		SaveTime:         time.Now(),
	}
	require.NoError(t, store.Save(context.Background(), snap))
	require.NoError(t, store.Close())

	a, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
		w := httptest.NewRecorder()
		a.Router.ServeHTTP(w, req)
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if json.Unmarshal(w.Body.Bytes(), &body) != nil {
			return false
		}
		stats, ok := body.Data["stats"].(map[string]interface{})
		return ok && stats["conversation_count"] == float64(3)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	_, err = os.Stat(filepath.Join(cfg.DataDir, "saves", "default.json"))
	require.NoError(t, err)
}
