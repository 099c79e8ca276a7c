package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/service/cache"
	"github.com/askmill/askmill/internal/service/memory"
)

type fakeRetriever struct {
	mu        sync.Mutex
	fragments []core.ContextFragment
	err       error
	lastQuery string
	calls     int
}

func (r *fakeRetriever) Search(ctx context.Context, query string, topK int) ([]core.ContextFragment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastQuery = query
	if r.err != nil {
		return nil, r.err
	}
	out := make([]core.ContextFragment, len(r.fragments))
	copy(out, r.fragments)
	return out, nil
}

type fakeProvider struct {
	answer   string
	err      error
	errTimes int
	gate     chan struct{}
	genCalls atomic.Int64
}

func (p *fakeProvider) Generate(ctx context.Context, req core.LLMRequest) (core.LLMResponse, error) {
	n := p.genCalls.Add(1)
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return core.LLMResponse{}, ctx.Err()
		}
	}
	if p.err != nil && (p.errTimes == 0 || int(n) <= p.errTimes) {
		return core.LLMResponse{}, p.err
	}
	return core.LLMResponse{
		Text:         p.answer,
		InputTokens:  100,
		OutputTokens: 20,
		Model:        p.ModelName(),
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req core.LLMRequest) (core.TokenStream, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.genCalls.Add(1)
	half := len(p.answer) / 2
	return &sliceStream{chunks: []string{p.answer[:half], p.answer[half:]}}, nil
}

func (p *fakeProvider) CountTokens(text string) int { return len(text) / 4 }
func (p *fakeProvider) ModelName() string           { return "fake-model" }

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

func definitionFragment() core.ContextFragment {
	return core.ContextFragment{
		ID:             "py-def",
		Text:           "Python is a high-level, general-purpose programming language.",
		RelevanceScore: 0.95,
	}
}

func newTestOrchestrator(retriever core.Retriever, provider core.LLMProvider) *Orchestrator {
	return NewOrchestrator(
		Options{RequestTimeout: 5 * time.Second},
		retriever,
		provider,
		cache.New(time.Minute),
		memory.NewStore(10),
	)
}

func TestAsk_GroundedAnswerWithCitation(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Python is a programming language [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	result, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)

	assert.Contains(t, result.Answer, "[Source 1]")
	require.NotEmpty(t, result.Citations)
	assert.True(t, result.Citations[0].Valid)
	assert.Equal(t, "py-def", result.Citations[0].FragmentID)
	assert.Greater(t, result.Confidence, 0.6)
	assert.Equal(t, []string{"py-def"}, result.SourcesUsed)
	assert.Equal(t, "fake-model", result.ModelUsed)
}

func TestAsk_EmptyQueryRejected(t *testing.T) {
	o := newTestOrchestrator(&fakeRetriever{}, &fakeProvider{})

	_, err := o.Ask(context.Background(), AskRequest{Text: "   \n\t "})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestAsk_NoUsefulContextSkipsLLM(t *testing.T) {
	tests := []struct {
		name      string
		fragments []core.ContextFragment
	}{
		{"empty_retrieval", nil},
		{"all_below_threshold", []core.ContextFragment{
			{ID: "x", Text: "unrelated text about cooking", RelevanceScore: 0.05},
			{ID: "y", Text: "unrelated text about gardening", RelevanceScore: 0.1},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retriever := &fakeRetriever{fragments: tt.fragments}
			provider := &fakeProvider{answer: "should never be called"}
			o := newTestOrchestrator(retriever, provider)

			result, err := o.Ask(context.Background(), AskRequest{Text: "How do I install Django?"})
			require.NoError(t, err)

			assert.Equal(t, int64(0), provider.genCalls.Load(), "no LLM call may be made")
			assert.Equal(t, 0.0, result.Confidence)
			assert.Empty(t, result.Citations)
			assert.Equal(t, InsufficientAnswer, result.Answer)
		})
	}
}

func TestAsk_ConcurrentIdenticalRequestsCoalesce(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{
		answer: "Python is a language [Source 1].",
		gate:   make(chan struct{}),
	}
	o := newTestOrchestrator(retriever, provider)

	const callers = 4
	var wg sync.WaitGroup
	results := make([]core.RAGResult, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
		}(i)
	}

	// Let the callers pile up on the same key, then release generation.
	time.Sleep(50 * time.Millisecond)
	close(provider.gate)
	wg.Wait()

	assert.Equal(t, int64(1), provider.genCalls.Load(), "exactly one generation for identical concurrent asks")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Answer, results[i].Answer)
	}
}

func TestAsk_SecondCallHitsCache(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Python is a language [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	first, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := o.Ask(context.Background(), AskRequest{Text: "  what IS python?  "})
	require.NoError(t, err)
	assert.True(t, second.CacheHit, "normalized identical query must hit the cache")
	assert.Equal(t, int64(1), provider.genCalls.Load())
	assert.Equal(t, first.Answer, second.Answer)
}

func TestAsk_OverlongQueryTruncatedNotRejected(t *testing.T) {
	long := make([]rune, 5000)
	for i := range long {
		long[i] = 'q'
	}
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Answer [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	_, err := o.Ask(context.Background(), AskRequest{Text: string(long)})
	require.NoError(t, err, "over-long queries are truncated, not rejected")
	assert.Len(t, retriever.lastQuery, 1000)
}

func TestAsk_ConversationHistoryBounded(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Turn answer [Source 1]."}
	store := memory.NewStore(10)
	o := NewOrchestrator(Options{}, retriever, provider, cache.New(time.Minute), store)

	for i := 0; i < 11; i++ {
		_, err := o.Ask(context.Background(), AskRequest{
			Text:           fmt.Sprintf("question number %d about python", i),
			ConversationID: "abc",
		})
		require.NoError(t, err)
	}

	turns, err := store.History(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, turns, 10)
	assert.Equal(t, "question number 1 about python", turns[0].Question, "oldest turn evicted")
}

func TestAsk_RetrievalErrorIsFatal(t *testing.T) {
	retriever := &fakeRetriever{err: fmt.Errorf("%w: index offline", core.ErrRetrieval)}
	provider := &fakeProvider{answer: "never"}
	o := newTestOrchestrator(retriever, provider)

	_, err := o.Ask(context.Background(), AskRequest{Text: "anything"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRetrieval)
	assert.Equal(t, int64(0), provider.genCalls.Load())
}

func TestAsk_TransientProviderErrorRetried(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{
		answer:   "Recovered [Source 1].",
		err:      &core.ProviderError{Provider: "fake", Status: 429, Transient: true, Err: errors.New("rate limited")},
		errTimes: 2,
	}
	o := newTestOrchestrator(retriever, provider)

	result, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)
	assert.Equal(t, "Recovered [Source 1].", result.Answer)
	assert.Equal(t, int64(3), provider.genCalls.Load())
}

func TestAsk_FatalProviderErrorNotRetried(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{
		err: &core.ProviderError{Provider: "fake", Status: 401, Transient: false, Err: errors.New("bad key")},
	}
	o := newTestOrchestrator(retriever, provider)

	_, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.Error(t, err)
	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.False(t, pe.Transient)
	assert.Equal(t, int64(1), provider.genCalls.Load(), "fatal errors surface immediately")
}

func TestAsk_TimeoutSurfacesAsTimeoutError(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{
		answer: "too slow",
		gate:   make(chan struct{}), // never released
	}
	o := NewOrchestrator(
		Options{RequestTimeout: 50 * time.Millisecond},
		retriever, provider, cache.New(time.Minute), memory.NewStore(10),
	)

	_, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTimeout)

	// The key must be released for the next caller.
	close(provider.gate)
	result, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)
	assert.Equal(t, "too slow", result.Answer)
}

func TestAskStream_ChunksThenResult(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Python is a language [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	stream, err := o.AskStream(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)

	var assembled string
	var chunks int
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assembled += chunk
		chunks++
	}
	assert.GreaterOrEqual(t, chunks, 2)
	assert.Equal(t, "Python is a language [Source 1].", assembled)

	result, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, assembled, result.Answer)
	require.NotEmpty(t, result.Citations)
	assert.True(t, result.Citations[0].Valid)
	assert.Greater(t, result.Confidence, 0.6)

	// The streamed result must be visible to the non-streaming path.
	again, err := o.Ask(context.Background(), AskRequest{Text: "What is Python?"})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
}

func drainStream(t *testing.T, stream *AnswerStream) string {
	t.Helper()
	var assembled string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			return assembled
		}
		require.NoError(t, err)
		assembled += chunk
	}
}

func TestAskStream_ConversationDrainThenClose(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "Python is a language [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	stream, err := o.AskStream(context.Background(), AskRequest{
		Text:           "What is Python?",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	drainStream(t, stream)
	// Close after EOF is the documented caller pattern; the conversation
	// lock must be released exactly once.
	require.NoError(t, stream.Close())

	o.convMu.Lock()
	empty := len(o.convLocks) == 0
	o.convMu.Unlock()
	assert.True(t, empty, "released conversation locks must be pruned")

	// A follow-up on the same conversation must proceed immediately.
	_, err = o.Ask(context.Background(), AskRequest{
		Text:           "And what is it used for?",
		ConversationID: "conv-1",
	})
	require.NoError(t, err)

	turns, err := o.conversations.History(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestAskStream_SerializesSameConversation(t *testing.T) {
	retriever := &fakeRetriever{fragments: []core.ContextFragment{definitionFragment()}}
	provider := &fakeProvider{answer: "An answer [Source 1]."}
	o := newTestOrchestrator(retriever, provider)

	first, err := o.AskStream(context.Background(), AskRequest{
		Text:           "first question about python",
		ConversationID: "conv-serial",
	})
	require.NoError(t, err)

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		second, err := o.AskStream(context.Background(), AskRequest{
			Text:           "second question about python",
			ConversationID: "conv-serial",
		})
		if err != nil {
			return
		}
		defer second.Close()
		for {
			if _, err := second.Recv(); err != nil {
				return
			}
		}
	}()

	select {
	case <-secondDone:
		t.Fatal("second stream must wait until the first releases the conversation")
	case <-time.After(50 * time.Millisecond):
	}

	drainStream(t, first)
	require.NoError(t, first.Close())

	select {
	case <-secondDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second stream never proceeded after the first finished")
	}

	turns, err := o.conversations.History(context.Background(), "conv-serial")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestAskStream_InsufficientContextReplaysDeterministicAnswer(t *testing.T) {
	retriever := &fakeRetriever{}
	provider := &fakeProvider{answer: "never"}
	o := newTestOrchestrator(retriever, provider)

	stream, err := o.AskStream(context.Background(), AskRequest{Text: "Unknown topic?"})
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, InsufficientAnswer, chunk)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err)

	result, err := stream.Result()
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Confidence)
	assert.Equal(t, int64(0), provider.genCalls.Load())
}
