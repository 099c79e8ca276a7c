// Package httpapi is a thin pass-through HTTP surface over the
// orchestrator. No auth, no routing framework; policy lives below.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/service/cache"
	"github.com/askmill/askmill/internal/service/rag"
	"github.com/askmill/askmill/pkg/conv"
	"github.com/askmill/askmill/pkg/log"
)

type Server struct {
	orchestrator *rag.Orchestrator
	cache        *cache.ResponseCache
	addr         string
	httpServer   *http.Server
}

func NewServer(orchestrator *rag.Orchestrator, responseCache *cache.ResponseCache, addr string) *Server {
	return &Server{
		orchestrator: orchestrator,
		cache:        responseCache,
		addr:         addr,
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/ask", s.handleAsk(ctx))
	mux.HandleFunc("POST /api/ask/stream", s.handleAskStream(ctx))
	mux.HandleFunc("GET /api/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 300 * time.Second, // long enough for streaming
	}

	log.FromCtx(ctx).Info().Str("addr", s.addr).Msg("http api listening")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

type askPayload struct {
	Question       string `json:"question"`
	TopK           int    `json:"top_k"`
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
}

type askResponse struct {
	core.RAGResult
	AnswerHTML string `json:"answer_html"`
}

func (s *Server) handleAsk(appCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodeAsk(w, r)
		if !ok {
			return
		}

		ctx := log.FromCtx(appCtx).WithContext(r.Context())
		result, err := s.orchestrator.Ask(ctx, rag.AskRequest{
			Text:           payload.Question,
			TopK:           payload.TopK,
			ConversationID: payload.ConversationID,
			ModelOverride:  payload.Model,
		})
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, askResponse{
			RAGResult:  result,
			AnswerHTML: conv.MarkdownToHTML([]byte(result.Answer)),
		})
	}
}

func (s *Server) handleAskStream(appCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, ok := decodeAsk(w, r)
		if !ok {
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		ctx := log.FromCtx(appCtx).WithContext(r.Context())
		stream, err := s.orchestrator.AskStream(ctx, rag.AskRequest{
			Text:           payload.Question,
			TopK:           payload.TopK,
			ConversationID: payload.ConversationID,
			ModelOverride:  payload.Model,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		defer stream.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)

		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonString(errorBody(err)))
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", jsonString(map[string]string{"chunk": chunk}))
			flusher.Flush()
		}

		// Citations and confidence only exist after the final chunk.
		result, err := stream.Result()
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", jsonString(errorBody(err)))
			flusher.Flush()
			return
		}
		fmt.Fprintf(w, "event: result\ndata: %s\n\n", jsonString(result))
		flusher.Flush()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": core.AskmillVersion,
		"cache":   s.cache.Stats(),
	})
}

func decodeAsk(w http.ResponseWriter, r *http.Request) (askPayload, bool) {
	var payload askPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(fmt.Errorf("%w: invalid JSON body", core.ErrValidation)))
		return askPayload{}, false
	}
	return payload, true
}

// writeError maps the error taxonomy onto HTTP statuses without leaking
// internals.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, core.ErrRetrieval):
		status = http.StatusBadGateway
	default:
		var pe *core.ProviderError
		if errors.As(err, &pe) {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, errorBody(err))
}

func errorBody(err error) map[string]string {
	kind := "internal"
	switch {
	case errors.Is(err, core.ErrValidation):
		kind = "validation"
	case errors.Is(err, core.ErrTimeout):
		kind = "timeout"
	case errors.Is(err, core.ErrRetrieval):
		kind = "retrieval"
	case errors.Is(err, core.ErrTemplate):
		kind = "template"
	default:
		var pe *core.ProviderError
		if errors.As(err, &pe) {
			kind = "provider"
		}
	}
	return map[string]string{"error": err.Error(), "kind": kind}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func jsonString(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"encode failure"}`
	}
	return string(data)
}
