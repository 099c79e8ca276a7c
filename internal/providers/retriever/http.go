// Package retriever is the client side of the external retrieval
// collaborator. The engine never embeds or indexes text; it only consumes
// ranked fragments from this service.
package retriever

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

type HTTPRetriever struct {
	client  *http.Client
	baseURL string
}

func NewHTTPRetriever(baseURL string) *HTTPRetriever {
	return &HTTPRetriever{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: baseURL,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchHit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata core.SourceRef `json:"metadata"`
}

// Search returns fragments ranked by descending relevance. An empty result
// is legitimate; every failure is wrapped as a retrieval error.
func (r *HTTPRetriever) Search(ctx context.Context, query string, topK int) ([]core.ContextFragment, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", core.ErrRetrieval, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", core.ErrRetrieval, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", core.AskmillUserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrRetrieval, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", core.ErrRetrieval, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", core.ErrRetrieval, resp.StatusCode, core.LogPrefix(string(data)))
	}

	var result struct {
		Hits []searchHit `json:"hits"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", core.ErrRetrieval, err)
	}

	fragments := make([]core.ContextFragment, 0, len(result.Hits))
	for _, hit := range result.Hits {
		fragments = append(fragments, core.ContextFragment{
			ID:             hit.ID,
			Text:           hit.Text,
			RelevanceScore: hit.Score,
			Source:         hit.Metadata,
		})
	}
	return fragments, nil
}
