// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config 存储应用配置
type Config struct {
	// 基础配置
	Port      string `env:"PORT" envDefault:"8080"`
	DataDir   string `env:"DATA_DIR" envDefault:"data"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"true"`

	// 世界数据，留空则使用内置数据
	WorldFile string `env:"WORLD_FILE"`

	// 存档
	StorageDriver    string        `env:"STORAGE_DRIVER" envDefault:"file"`
	SaveSlot         string        `env:"SAVE_SLOT" envDefault:"default"`
	AutoSaveInterval time.Duration `env:"AUTOSAVE_INTERVAL" envDefault:"30s"`

	// 对话
	HistoryLimit int           `env:"HISTORY_LIMIT" envDefault:"20"`
	ContextTurns int           `env:"CONTEXT_TURNS" envDefault:"6"`
	DismissDelay time.Duration `env:"DISMISS_DELAY" envDefault:"300ms"`

	// 同源代理 /api/chat
	ProxyUpstreamURL string `env:"PROXY_UPSTREAM_URL" envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	ProxyAPIKey      string `env:"OPENROUTER_API_KEY"`
	ChatRateLimit    int    `env:"CHAT_RATE_LIMIT" envDefault:"30"`

	LLM LLMConfig `envPrefix:"LLM_"`
}

// LLMConfig 远程对话接口配置
type LLMConfig struct {
	Provider       string        `env:"PROVIDER" envDefault:"openrouter"`
	APIURL         string        `env:"API_URL" envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	APIKey         string        `env:"API_KEY"`
	UseProxy       bool          `env:"USE_PROXY" envDefault:"false"`
	ProxyURL       string        `env:"PROXY_URL"`
	Model          string        `env:"MODEL" envDefault:"deepseek/deepseek-r1-0528-qwen3-8b:free"`
	MaxTokens      int           `env:"MAX_TOKENS" envDefault:"10000"`
	Temperature    float32       `env:"TEMPERATURE" envDefault:"0.8"`
	TopP           float32       `env:"TOP_P" envDefault:"0.9"`
	SiteURL        string        `env:"SITE_URL" envDefault:"http://localhost:8080"`
	SiteTitle      string        `env:"SITE_TITLE" envDefault:"Albino Tomato Town"`
	RequestDelay   time.Duration `env:"REQUEST_DELAY" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
}

// Load 从 .env 与环境变量加载配置
func Load() (*Config, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	if c.ContextTurns < 0 || c.ContextTurns > c.HistoryLimit {
		return fmt.Errorf("CONTEXT_TURNS must be between 0 and HISTORY_LIMIT")
	}
	if c.LLM.UseProxy && c.LLM.ProxyURL == "" {
		c.LLM.ProxyURL = strings.TrimRight(c.LLM.SiteURL, "/") + "/api/chat"
	}
	if c.LLM.RequestDelay < 0 {
		return fmt.Errorf("LLM_REQUEST_DELAY must not be negative")
	}
	return nil
}

// EnsureDirectories 创建数据与日志目录
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// LogFile 日志文件路径
func (c *Config) LogFile() string {
	return filepath.Join(c.LogDir, "tomatotown.log")
}

// SQLitePath 存档数据库路径
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "tomatotown.db")
}

// RemoteConfigured 是否配置了远程接口（直连需要密钥，代理不需要）
func (l LLMConfig) RemoteConfigured() bool {
	if l.UseProxy {
		return l.ProxyURL != ""
	}
	return l.APIKey != "" && l.APIURL != ""
}

// ProviderConfig 转换为 llm.Provider.Initialize 所需的键值对
func (l LLMConfig) ProviderConfig() map[string]string {
	endpoint := l.APIURL
	if l.UseProxy {
		endpoint = l.ProxyURL
	}
	return map[string]string{
		"api_key":       l.APIKey,
		"endpoint_url":  endpoint,
		"use_proxy":     strconv.FormatBool(l.UseProxy),
		"default_model": l.Model,
		"http_referer":  l.SiteURL,
		"app_name":      l.SiteTitle,
		"timeout":       l.RequestTimeout.String(),
	}
}
