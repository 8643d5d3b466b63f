// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/TomatoTown/internal/api"
	"github.com/Corphon/TomatoTown/internal/config"
	"github.com/Corphon/TomatoTown/internal/gamedata"
	"github.com/Corphon/TomatoTown/internal/llm"
	"github.com/Corphon/TomatoTown/internal/llm/providers/openrouter"
	"github.com/Corphon/TomatoTown/internal/services"
	"github.com/Corphon/TomatoTown/internal/storage"
	"github.com/Corphon/TomatoTown/internal/utils"
)

const (
	shutdownTimeout       = 30 * time.Second
	metricsReportInterval = 5 * time.Minute
	limiterCleanup        = time.Minute
	hubSubscriberBuffer   = 128
)

// App 持有全部服务实例与 HTTP 服务器
type App struct {
	Config       *config.Config
	World        *gamedata.World
	Store        storage.Store
	Events       *services.EventBus
	Achievements *services.AchievementService
	State        *services.GameState
	Metrics      *utils.GameMetrics
	Generator    *services.ResponseGenerator
	Serializer   *services.RequestSerializer
	Session      *services.ConversationSession
	WorldService *services.WorldService
	Hub          *api.EventHub
	Limiter      *api.RateLimiter
	Router       *gin.Engine

	logger       *utils.Logger
	server       *http.Server
	shutdownOnce sync.Once
	shutdownErr  error
}

// New 按配置装配所有服务
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	if err := utils.InitLogger(cfg.LogFile(), utils.LogOptions{Mirror: cfg.DebugMode}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger := utils.GetLogger()
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))

	if cfg.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	world, err := loadWorld(cfg.WorldFile)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.StorageDriver, cfg.DataDir, cfg.SQLitePath(), cfg.SaveSlot)
	if err != nil {
		return nil, fmt.Errorf("打开存档失败: %w", err)
	}

	a := &App{
		Config: cfg,
		World:  world,
		Store:  store,
		logger: logger,
	}

	a.Metrics = utils.NewGameMetrics(utils.GetMetricsCollector())
	a.Events = services.NewEventBus()
	a.Achievements = services.NewAchievementService(world.Achievements())
	a.State = services.NewGameState(world, a.Achievements, store, a.Events, cfg.HistoryLimit)

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		// 远程接口配置有误时退回本地回复，游戏仍可运行
		logger.Warn("Chat provider unavailable, using fallback replies", map[string]interface{}{
			"provider": cfg.LLM.Provider,
			"error":    err.Error(),
		})
		provider = nil
	}

	a.Generator = services.NewResponseGenerator(provider, world, services.NewFallbackTable(time.Now().UnixNano()), services.GeneratorSettings{
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		TopP:         cfg.LLM.TopP,
		ContextTurns: cfg.ContextTurns,
	}, a.Metrics)
	a.Serializer = services.NewRequestSerializer(a.Generator, cfg.LLM.RequestDelay, cfg.LLM.RequestTimeout, a.Metrics)
	a.Session = services.NewConversationSession(world, a.Serializer, services.NewDialogueExtractor(), a.Achievements, a.State, a.Events, a.Metrics, services.SessionOptions{
		DismissDelay: cfg.DismissDelay,
		ContextTurns: cfg.ContextTurns,
	})
	a.WorldService = services.NewWorldService(world, a.State, a.Session, a.Events)

	a.Hub = api.NewEventHub()
	a.Limiter = api.NewRateLimiter()

	handler := api.NewHandler(api.Handler{
		World:        world,
		Session:      a.Session,
		Achievements: a.Achievements,
		State:        a.State,
		WorldService: a.WorldService,
		Generator:    a.Generator,
		Serializer:   a.Serializer,
		Metrics:      a.Metrics,
		Proxy:        newChatForwarder(cfg),
		Hub:          a.Hub,
	})
	a.Router = api.SetupRouter(handler, api.RouterOptions{
		ChatRateLimit: cfg.ChatRateLimit,
		RateLimiter:   a.Limiter,
	})

	a.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: a.Router,
	}

	logger.Info("Application initialized", map[string]interface{}{
		"storage":    cfg.StorageDriver,
		"slot":       cfg.SaveSlot,
		"characters": len(world.Characters()),
		"remote":     a.Generator.Available(),
	})
	return a, nil
}

func loadWorld(path string) (*gamedata.World, error) {
	if path == "" {
		return gamedata.Default(), nil
	}
	world, err := gamedata.Load(path)
	if err != nil {
		return nil, fmt.Errorf("加载世界数据失败: %w", err)
	}
	return world, nil
}

// newProvider 只在配置了远程接口时创建提供者
func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	if !cfg.RemoteConfigured() {
		return nil, nil
	}
	return llm.GetProvider(cfg.Provider, cfg.ProviderConfig())
}

// newChatForwarder 没有服务端密钥时不开放 /api/chat 的转发
func newChatForwarder(cfg *config.Config) api.ChatForwarder {
	if cfg.ProxyAPIKey == "" {
		return nil
	}
	proxy, err := openrouter.New(map[string]string{
		"api_key":      cfg.ProxyAPIKey,
		"endpoint_url": cfg.ProxyUpstreamURL,
		"http_referer": cfg.LLM.SiteURL,
		"app_name":     cfg.LLM.SiteTitle,
		"timeout":      cfg.LLM.RequestTimeout.String(),
	})
	if err != nil {
		utils.GetLogger().Warn("Chat proxy disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return proxy
}

// Run 加载存档、启动后台任务并监听端口，直到 ctx 结束后优雅关闭
func (a *App) Run(ctx context.Context) error {
	restored, err := a.State.Load(ctx)
	if err != nil {
		a.logger.Warn("Failed to load saved game, starting fresh", map[string]interface{}{"error": err.Error()})
	} else if restored {
		a.logger.Info("Saved game restored", map[string]interface{}{"slot": a.Config.SaveSlot})
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go a.Hub.Run(bgCtx)
	events, unsubscribe := a.Events.Subscribe(hubSubscriberBuffer)
	defer unsubscribe()
	go a.Hub.Forward(bgCtx, events)

	a.State.StartAutoSave(bgCtx, a.Config.AutoSaveInterval)
	a.Limiter.StartCleanup(bgCtx, limiterCleanup)
	a.Metrics.StartMetricsReport(bgCtx, metricsReportInterval)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Infof("🚀 服务器启动于 http://localhost:%s", a.Config.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		cancel()
		a.Shutdown(context.Background())
		return fmt.Errorf("启动服务器失败: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("🛑 正在关闭服务器...", nil)
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()

	err = a.Shutdown(shutdownCtx)
	cancel()
	<-serveErr
	return err
}

// Shutdown 关闭会话与队列、写入最终存档并释放资源；可重复调用
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}

		a.Session.Close()
		if err := a.Session.WaitIdle(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session close: %w", err))
		}
		a.Serializer.Stop()

		if err := a.State.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("final save: %w", err))
		}
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
		a.Events.Close()

		a.shutdownErr = errors.Join(errs...)
		if a.shutdownErr != nil {
			a.logger.Error("Shutdown finished with errors", map[string]interface{}{"error": a.shutdownErr.Error()})
		} else {
			a.logger.Info("✅ 服务器优雅关闭完成", nil)
		}
		_ = utils.CloseLogger()
	})
	return a.shutdownErr
}
