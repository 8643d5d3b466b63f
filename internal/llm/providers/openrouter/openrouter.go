// internal/llm/providers/openrouter/openrouter.go
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/Corphon/TomatoTown/internal/errors"
	"github.com/Corphon/TomatoTown/internal/llm"
)

const (
	// ProviderName 注册名
	ProviderName = "openrouter"

	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "deepseek/deepseek-r1-0528-qwen3-8b:free"
	defaultTimeout  = 60 * time.Second
	maxErrorBody    = 4096
)

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return &Provider{endpoint: DefaultEndpoint}
	})
}

// Provider 调用 OpenAI 兼容的 chat/completions 接口。
// 直连模式携带密钥与标识头；代理模式什么都不带，由代理注入凭据。
type Provider struct {
	apiKey       string
	endpoint     string
	client       *http.Client
	defaultModel string
	useProxy     bool
	httpReferer  string // 请求来源
	appName      string // 应用名称
}

// New 直接构造一个已初始化的提供者
func New(config map[string]string) (*Provider, error) {
	p := &Provider{endpoint: DefaultEndpoint}
	if err := p.Initialize(config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Initialize(config map[string]string) error {
	p.useProxy, _ = strconv.ParseBool(config["use_proxy"])
	p.apiKey = config["api_key"]
	if !p.useProxy && p.apiKey == "" {
		return apperrors.NewValidationError("OpenRouter API key is required outside proxy mode", nil)
	}

	if endpoint := config["endpoint_url"]; endpoint != "" {
		p.endpoint = endpoint
	}
	if p.endpoint == "" {
		return apperrors.NewValidationError("chat completion endpoint is empty", nil)
	}

	p.defaultModel = DefaultModel
	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	}

	p.appName = config["app_name"]
	p.httpReferer = config["http_referer"]

	timeout := defaultTimeout
	if raw := config["timeout"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	p.client = &http.Client{Timeout: timeout}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenRouter"
}

// UsesProxy 是否走同源代理
func (p *Provider) UsesProxy() bool {
	return p.useProxy
}

// HasAPIKey 是否持有客户端密钥
func (p *Provider) HasAPIKey() bool {
	return p.apiKey != ""
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.useProxy {
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.httpReferer != "" {
		req.Header.Set("HTTP-Referer", p.httpReferer)
	}
	if p.appName != "" {
		req.Header.Set("X-Title", p.appName)
	}
}

// Forward 原样转发请求体，返回上游状态码与响应体。代理处理器使用。
func (p *Provider) Forward(ctx context.Context, body []byte) (int, []byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	p.setHeaders(httpReq)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return 0, nil, apperrors.NewTransportError("chat endpoint unreachable", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return httpResp.StatusCode, nil, apperrors.NewTransportError("read chat endpoint response", err)
	}
	return httpResp.StatusCode, respBody, nil
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Model string          `json:"model"`
	Error json.RawMessage `json:"error,omitempty"`
}

func (p *Provider) CompleteChat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == "" {
		req.Model = p.defaultModel
	}
	if len(req.Messages) == 0 {
		return nil, apperrors.NewValidationError("chat request has no messages", nil)
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	status, body, err := p.Forward(ctx, jsonData)
	if err != nil {
		return nil, err
	}

	if status < 200 || status > 299 {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("chat endpoint returned %d: %s", status, upstreamMessage(body)), nil)
	}

	var response completionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, apperrors.NewMalformedOutputError("decode chat completion", err)
	}
	if len(response.Error) > 0 && string(response.Error) != "null" {
		return nil, apperrors.NewTransportError("chat endpoint error: "+upstreamMessage(body), nil)
	}
	if len(response.Choices) == 0 {
		return nil, apperrors.NewMalformedOutputError("chat completion has no choices", nil)
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return nil, apperrors.NewMalformedOutputError("chat completion content is empty", nil)
	}

	model := response.Model
	if model == "" {
		model = req.Model
	}

	return &llm.ChatResponse{
		Content:      content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		ModelName:    model,
		ProviderName: p.GetName(),
	}, nil
}

// upstreamMessage 从错误响应体中提取可读信息
func upstreamMessage(body []byte) string {
	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && len(payload.Error) > 0 {
		var text string
		if json.Unmarshal(payload.Error, &text) == nil {
			return text
		}
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(payload.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
