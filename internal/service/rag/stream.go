package rag

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/pkg/log"
)

// AnswerStream delivers the answer chunk by chunk. It is finite and not
// restartable; Close aborts the underlying provider call. Citations and
// confidence are only available from Result after Recv has returned io.EOF.
type AnswerStream struct {
	recv   func() (string, error)
	close  func() error
	result core.RAGResult
	err    error
	done   bool
}

func (s *AnswerStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	chunk, err := s.recv()
	if err != nil {
		s.done = true
		if err != io.EOF {
			s.err = err
		}
		return "", err
	}
	return chunk, nil
}

func (s *AnswerStream) Close() error {
	s.done = true
	if s.close != nil {
		return s.close()
	}
	return nil
}

// Result returns the assembled RAGResult once the stream is exhausted.
func (s *AnswerStream) Result() (core.RAGResult, error) {
	if s.err != nil {
		return core.RAGResult{}, s.err
	}
	return s.result, nil
}

// AskStream is the token-by-token variant of Ask. A cache hit replays the
// stored answer as a single chunk. Streamed generations are not coalesced
// across callers; the finished result is still stored for later hits.
func (o *Orchestrator) AskStream(ctx context.Context, req AskRequest) (*AnswerStream, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	ctx = o.requestLogger(ctx, req)

	if req.ConversationID != "" {
		// cancel runs both at EOF and from Close on the normal caller
		// pattern; the conversation lock must be released exactly once.
		unlock := o.lockConversation(req.ConversationID)
		var once sync.Once
		origCancel := cancel
		cancel = func() {
			once.Do(unlock)
			origCancel()
		}
	}

	p, err := o.prepare(ctx, req)
	if err != nil {
		cancel()
		return nil, o.mapErr(ctx, err)
	}

	if p.short != nil {
		result := *p.short
		o.recordTurn(ctx, req.ConversationID, p.query.Text, result.Answer)
		cancel()
		return replayStream(result), nil
	}

	if cached, ok := o.cache.Get(p.key); ok {
		cached.CacheHit = true
		o.recordTurn(ctx, req.ConversationID, p.query.Text, cached.Answer)
		cancel()
		return replayStream(cached), nil
	}

	llmReq := core.LLMRequest{
		System:          systemPrompt,
		Prompt:          p.prompt,
		Model:           p.model,
		Temperature:     o.opts.Temperature,
		MaxOutputTokens: o.opts.MaxOutputTokens,
	}

	// Retry covers opening the stream only; a stream that fails mid-way is
	// not restartable.
	var upstream core.TokenStream
	err = o.retrier.Do(ctx, func() error {
		var openErr error
		upstream, openErr = o.provider.Stream(ctx, llmReq)
		return openErr
	}, core.IsTransient)
	if err != nil {
		cancel()
		return nil, o.mapErr(ctx, err)
	}

	var sb strings.Builder
	stream := &AnswerStream{}
	stream.recv = func() (string, error) {
		chunk, err := upstream.Recv()
		if err == io.EOF {
			o.finishStream(ctx, p, req.ConversationID, sb.String(), stream)
			cancel()
			return "", io.EOF
		}
		if err != nil {
			cancel()
			return "", o.mapErr(ctx, err)
		}
		sb.WriteString(chunk)
		return chunk, nil
	}
	stream.close = func() error {
		err := upstream.Close()
		cancel()
		return err
	}
	return stream, nil
}

// finishStream runs post-processing over the accumulated answer and stores
// it for future cache hits.
func (o *Orchestrator) finishStream(ctx context.Context, p *plan, conversationID, answer string, stream *AnswerStream) {
	resp := core.LLMResponse{
		Text:         answer,
		InputTokens:  o.provider.CountTokens(p.prompt),
		OutputTokens: o.provider.CountTokens(answer),
		Model:        p.model,
	}
	result := o.assemble(p, resp)
	o.cache.Put(p.key, result)
	o.recordTurn(ctx, conversationID, p.query.Text, result.Answer)
	stream.result = result
	log.FromCtx(ctx).Debug().
		Int("citations", len(result.Citations)).
		Float64("confidence", result.Confidence).
		Msg("stream finished")
}

// replayStream yields an already-known answer as one chunk.
func replayStream(result core.RAGResult) *AnswerStream {
	delivered := false
	s := &AnswerStream{result: result}
	s.recv = func() (string, error) {
		if delivered {
			return "", io.EOF
		}
		delivered = true
		return result.Answer, nil
	}
	return s
}
