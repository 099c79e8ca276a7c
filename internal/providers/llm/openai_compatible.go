package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/tokens"
)

// OpenAICompatible talks to any /v1/chat/completions endpoint.
type OpenAICompatible struct {
	baseProvider
	authHeader   string
	authPrefix   string
	extraHeaders map[string]string
	counter      *tokens.Counter
}

type OpenAICompatibleConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	Model        string
	AuthHeader   string // e.g., "Authorization"
	AuthPrefix   string // e.g., "Bearer "
	ExtraHeaders map[string]string
}

func NewOpenAICompatible(cfg OpenAICompatibleConfig) *OpenAICompatible {
	name := cfg.Name
	if name == "" {
		name = "openai-compatible"
	}
	return &OpenAICompatible{
		baseProvider: newBaseProvider(name, cfg.BaseURL, cfg.APIKey, cfg.Model),
		authHeader:   cfg.AuthHeader,
		authPrefix:   cfg.AuthPrefix,
		extraHeaders: cfg.ExtraHeaders,
		counter:      tokens.NewCounter(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAICompatible) payload(req core.LLMRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = o.model
	}
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: core.RoleSystem, Content: req.System})
	}
	messages = append(messages, chatMessage{Role: core.RoleUser, Content: req.Prompt})

	p := map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxOutputTokens,
	}
	if stream {
		p["stream"] = true
	}
	return p
}

func (o *OpenAICompatible) headers() map[string]string {
	headers := make(map[string]string)
	if o.authHeader != "" && o.apiKey != "" {
		headers[o.authHeader] = o.authPrefix + o.apiKey
	}
	for k, v := range o.extraHeaders {
		headers[k] = v
	}
	return headers
}

func (o *OpenAICompatible) Generate(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", o.payload(req, false), o.headers())
	if err != nil {
		return core.LLMResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return core.LLMResponse{}, o.statusError(resp.StatusCode, data)
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return core.LLMResponse{}, fmt.Errorf("decode: %w", err)
	}
	if len(result.Choices) == 0 {
		return core.LLMResponse{}, fmt.Errorf("empty choices: %s", core.LogPrefix(string(data)))
	}

	model := result.Model
	if model == "" {
		model = o.model
	}
	return core.LLMResponse{
		Text:         result.Choices[0].Message.Content,
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		Model:        model,
	}, nil
}

func (o *OpenAICompatible) Stream(ctx context.Context, req core.LLMRequest) (core.TokenStream, error) {
	resp, err := o.doRequest(ctx, http.MethodPost, "/v1/chat/completions", o.payload(req, true), o.headers())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, o.statusError(resp.StatusCode, data)
	}
	return newSSEStream(resp, parseOpenAIStreamData), nil
}

func (o *OpenAICompatible) CountTokens(text string) int {
	n, _ := o.counter.Count(text, o.model)
	return n
}
