package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/askmill/askmill/internal/core"
)

type baseProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	name    string
}

func newBaseProvider(name, baseURL, apiKey, model string) baseProvider {
	return baseProvider{
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		name:    name,
	}
}

func (b *baseProvider) doRequest(ctx context.Context, method, path string, body any, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", core.AskmillUserAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		// Network-level failures are worth another attempt.
		return nil, &core.ProviderError{Provider: b.name, Transient: true, Err: err}
	}
	return resp, nil
}

// statusError turns a non-200 response into a classified provider error.
// Rate limits and server-side failures are transient; auth and malformed
// requests are fatal.
func (b *baseProvider) statusError(status int, body []byte) error {
	transient := status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
	return &core.ProviderError{
		Provider:  b.name,
		Status:    status,
		Transient: transient,
		Err:       fmt.Errorf("http %d: %s", status, core.LogPrefix(string(body))),
	}
}

func (b *baseProvider) ModelName() string {
	return b.model
}
