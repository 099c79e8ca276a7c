package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/service/cache"
	"github.com/askmill/askmill/internal/service/memory"
	"github.com/askmill/askmill/internal/service/rag"
)

type stubRetriever struct {
	fragments []core.ContextFragment
}

func (r *stubRetriever) Search(ctx context.Context, query string, topK int) ([]core.ContextFragment, error) {
	out := make([]core.ContextFragment, len(r.fragments))
	copy(out, r.fragments)
	return out, nil
}

type stubProvider struct {
	answer string
}

func (p *stubProvider) Generate(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	return core.LLMResponse{Text: p.answer, Model: p.ModelName(), InputTokens: 10, OutputTokens: 5}, nil
}

func (p *stubProvider) Stream(ctx context.Context, req core.LLMRequest) (core.TokenStream, error) {
	half := len(p.answer) / 2
	return &sliceStream{chunks: []string{p.answer[:half], p.answer[half:]}}, nil
}

func (p *stubProvider) CountTokens(text string) int { return len(text) / 4 }
func (p *stubProvider) ModelName() string           { return "unit-test-model" }

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Recv() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	chunk := s.chunks[s.pos]
	s.pos++
	return chunk, nil
}

func (s *sliceStream) Close() error { return nil }

func newTestServer(answer string) *Server {
	responseCache := cache.New(time.Minute)
	orchestrator := rag.NewOrchestrator(
		rag.Options{},
		&stubRetriever{fragments: []core.ContextFragment{
			{ID: "frag-1", Text: "Go is a compiled language.", RelevanceScore: 0.9},
		}},
		&stubProvider{answer: answer},
		responseCache,
		memory.NewStore(10),
	)
	return NewServer(orchestrator, responseCache, ":0")
}

func TestHandleAsk_ReturnsAnswerAndHTML(t *testing.T) {
	s := newTestServer("Go is **compiled** [Source 1].")

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"what is go?"}`))
	rec := httptest.NewRecorder()
	s.handleAsk(context.Background())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Answer     string          `json:"answer"`
		AnswerHTML string          `json:"answer_html"`
		Citations  []core.Citation `json:"citations"`
		Confidence float64         `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Go is **compiled** [Source 1].", body.Answer)
	assert.Contains(t, body.AnswerHTML, "<strong>compiled</strong>")
	require.Len(t, body.Citations, 1)
	assert.True(t, body.Citations[0].Valid)
	assert.Greater(t, body.Confidence, 0.6)
}

func TestHandleAsk_EmptyQuestionIsBadRequest(t *testing.T) {
	s := newTestServer("unused")

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{"question":"   "}`))
	rec := httptest.NewRecorder()
	s.handleAsk(context.Background())(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "validation", body["kind"])
}

func TestHandleAsk_MalformedJSON(t *testing.T) {
	s := newTestServer("unused")

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	s.handleAsk(context.Background())(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAskStream_EmitsChunksAndResult(t *testing.T) {
	s := newTestServer("Streaming answer [Source 1].")

	req := httptest.NewRequest(http.MethodPost, "/api/ask/stream", strings.NewReader(`{"question":"what is go?"}`))
	rec := httptest.NewRecorder()
	s.handleAskStream(context.Background())(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	raw := rec.Body.String()
	assert.Contains(t, raw, `"chunk":"Streaming`)
	assert.Contains(t, raw, "event: result")
	assert.Contains(t, raw, `"confidence"`)
	assert.NotContains(t, raw, "event: error")
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer("unused")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status string      `json:"status"`
		Cache  cache.Stats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}
