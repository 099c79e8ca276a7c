package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmill/askmill/internal/core"
)

func TestHTTPRetriever_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is go", req.Query)
		assert.Equal(t, 3, req.TopK)

		json.NewEncoder(w).Encode(map[string]any{
			"hits": []map[string]any{
				{"id": "f1", "text": "Go is a language", "score": 0.92},
				{"id": "f2", "text": "Go has goroutines", "score": 0.81},
			},
		})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL)
	fragments, err := r.Search(context.Background(), "what is go", 3)
	require.NoError(t, err)
	require.Len(t, fragments, 2)
	assert.Equal(t, "f1", fragments[0].ID)
	assert.InDelta(t, 0.92, fragments[0].RelevanceScore, 1e-9)
}

func TestHTTPRetriever_EmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"hits": []any{}})
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL)
	fragments, err := r.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestHTTPRetriever_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewHTTPRetriever(srv.URL)
	_, err := r.Search(context.Background(), "anything", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRetrieval))
}
