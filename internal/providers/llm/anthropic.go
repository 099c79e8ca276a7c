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

const anthropicVersion = "2023-06-01"

type Anthropic struct {
	baseProvider
	counter *tokens.Counter
}

func NewAnthropic(apiKey, model string) *Anthropic {
	return &Anthropic{
		baseProvider: newBaseProvider("anthropic", "https://api.anthropic.com", apiKey, model),
		counter:      tokens.NewCounter(),
	}
}

func (a *Anthropic) headers() map[string]string {
	return map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicVersion,
	}
}

func (a *Anthropic) payload(req core.LLMRequest, stream bool) map[string]any {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	p := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": req.Temperature,
		"messages": []map[string]string{
			{"role": core.RoleUser, "content": req.Prompt},
		},
	}
	if req.System != "" {
		p["system"] = req.System
	}
	if stream {
		p["stream"] = true
	}
	return p
}

func (a *Anthropic) Generate(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	resp, err := a.doRequest(ctx, http.MethodPost, "/v1/messages", a.payload(req, false), a.headers())
	if err != nil {
		return core.LLMResponse{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return core.LLMResponse{}, a.statusError(resp.StatusCode, data)
	}

	var result struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return core.LLMResponse{}, fmt.Errorf("decode: %w", err)
	}

	var text string
	for _, c := range result.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}

	model := result.Model
	if model == "" {
		model = a.model
	}
	return core.LLMResponse{
		Text:         text,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Model:        model,
	}, nil
}

func (a *Anthropic) Stream(ctx context.Context, req core.LLMRequest) (core.TokenStream, error) {
	resp, err := a.doRequest(ctx, http.MethodPost, "/v1/messages", a.payload(req, true), a.headers())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.statusError(resp.StatusCode, data)
	}
	return newSSEStream(resp, parseAnthropicStreamData), nil
}

// CountTokens approximates with the cl100k family; Anthropic does not ship
// an offline tokenizer, so budget math treats these counts as approximate.
func (a *Anthropic) CountTokens(text string) int {
	n, _ := a.counter.Count(text, "gpt-4")
	return n
}
