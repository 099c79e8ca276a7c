// Package rag is the orchestration engine: it turns a raw question plus
// retrieved context fragments into a grounded, cited, budget-respecting
// answer.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/tokens"
	"github.com/askmill/askmill/pkg/conv"
	"github.com/askmill/askmill/pkg/log"
	"github.com/askmill/askmill/pkg/retry"
)

const systemPrompt = "You are a careful assistant that answers strictly from the provided context and cites sources."

// InsufficientAnswer is the deterministic reply when retrieval produced
// nothing usable. No model call is made for it.
const InsufficientAnswer = "I don't have enough information in the knowledge base to answer that question."

// Options carries the orchestration knobs; zero values fall back to the
// documented defaults.
type Options struct {
	MaxContextTokens  int
	ReservedTokens    int
	MinFragmentTokens int
	MaxQueryLength    int
	DefaultTopK       int
	MinRelevance      float64
	MaxTurns          int

	Temperature     float64
	MaxOutputTokens int

	RequestTimeout time.Duration
	MaxRetries     int

	Weights ConfidenceWeights
}

func (o *Options) applyDefaults() {
	if o.MaxContextTokens <= 0 {
		o.MaxContextTokens = 3500
	}
	if o.ReservedTokens <= 0 {
		o.ReservedTokens = 600
	}
	if o.MinFragmentTokens <= 0 {
		o.MinFragmentTokens = 100
	}
	if o.MaxQueryLength <= 0 {
		o.MaxQueryLength = 1000
	}
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = 5
	}
	if o.MinRelevance <= 0 {
		o.MinRelevance = 0.3
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 1024
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 2 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.Weights == (ConfidenceWeights{}) {
		o.Weights = DefaultConfidenceWeights()
	}
}

// AskRequest is the caller-facing input of one ask.
type AskRequest struct {
	Text           string
	TopK           int
	ConversationID string
	ModelOverride  string
}

type Orchestrator struct {
	opts          Options
	retriever     core.Retriever
	provider      core.LLMProvider
	cache         core.ResponseCache
	conversations core.ConversationStore
	catalog       *TemplateCatalog
	budget        *BudgetSelector
	scorer        *ConfidenceScorer
	retrier       *retry.Retrier

	// Per-conversation serialization: at most one in-flight request may
	// mutate a conversation's history. Entries are refcounted and removed
	// once the last holder releases, so the map stays bounded by the
	// number of in-flight conversations.
	convMu    sync.Mutex
	convLocks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestrator(
	opts Options,
	retriever core.Retriever,
	provider core.LLMProvider,
	responseCache core.ResponseCache,
	conversations core.ConversationStore,
) *Orchestrator {
	opts.applyDefaults()

	counter := tokens.NewCounter()
	retryCfg := retry.NewDefaultConfig()
	retryCfg.MaxAttempts = opts.MaxRetries

	return &Orchestrator{
		opts:          opts,
		retriever:     retriever,
		provider:      provider,
		cache:         responseCache,
		conversations: conversations,
		catalog:       NewTemplateCatalog(),
		budget:        NewBudgetSelector(counter, opts.MinFragmentTokens),
		scorer:        NewConfidenceScorer(opts.Weights),
		retrier:       retry.NewRetrier(retryCfg),
		convLocks:     make(map[string]*convLock),
	}
}

// plan is everything prepared before generation. When short is set the
// request bypasses the model entirely.
type plan struct {
	query    core.Query
	history  []core.ConversationTurn
	selected core.SelectedContext
	template Template
	prompt   string
	model    string
	key      string
	short    *core.RAGResult
}

// Ask answers one question. Steps run strictly in order: validate,
// retrieve, budget, generate (through the cache), post-process.
func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (core.RAGResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	ctx = o.requestLogger(ctx, req)

	if req.ConversationID != "" {
		unlock := o.lockConversation(req.ConversationID)
		defer unlock()
	}

	p, err := o.prepare(ctx, req)
	if err != nil {
		return core.RAGResult{}, o.mapErr(ctx, err)
	}

	if p.short != nil {
		result := *p.short
		o.recordTurn(ctx, req.ConversationID, p.query.Text, result.Answer)
		return result, nil
	}

	result, hit, err := o.cache.GetOrGenerate(ctx, p.key, func(ctx context.Context) (core.RAGResult, error) {
		return o.generate(ctx, p)
	})
	if err != nil {
		if errors.Is(err, core.ErrCache) {
			// Cache trouble never fails the request; generate directly.
			log.FromCtx(ctx).Warn().Err(err).Msg("cache failure, generating directly")
			result, err = o.generate(ctx, p)
			if err != nil {
				return core.RAGResult{}, o.mapErr(ctx, err)
			}
			hit = false
		} else {
			return core.RAGResult{}, o.mapErr(ctx, err)
		}
	}
	result.CacheHit = hit

	o.recordTurn(ctx, req.ConversationID, p.query.Text, result.Answer)
	return result, nil
}

// prepare runs validation, retrieval, budgeting and template rendering.
func (o *Orchestrator) prepare(ctx context.Context, req AskRequest) (*plan, error) {
	logger := log.FromCtx(ctx)

	query, err := o.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	fragments, err := o.retriever.Search(ctx, query.Text, query.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve step: %w", err)
	}
	logger.Debug().Int("fragments", len(fragments)).Msg("retrieval done")

	fragments = sanitizeFragments(fragments)
	fragments = o.filterRelevant(fragments)

	p := &plan{query: query}
	if len(fragments) == 0 {
		p.short = o.insufficientResult()
		return p, nil
	}

	p.selected = o.budget.Select(fragments, o.modelFor(query), o.opts.MaxContextTokens, o.opts.ReservedTokens)
	if p.selected.Empty() {
		// Even the best fragment did not fit the budget. Valid outcome,
		// same deterministic answer as the empty retrieval case.
		p.short = o.insufficientResult()
		return p, nil
	}

	if query.ConversationID != "" {
		p.history, err = o.conversations.History(ctx, query.ConversationID)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load history, continuing without")
			p.history = nil
		}
	}

	p.template = o.catalog.SelectTemplate(query.Text, len(p.history) > 0)
	values := map[string]string{
		PlaceholderQuery:   query.Text,
		PlaceholderContext: FormatContext(p.selected),
	}
	if p.template.ID == TemplateConversational {
		values[PlaceholderHistory] = FormatHistory(p.history)
	}
	p.prompt, err = o.catalog.Render(p.template, values)
	if err != nil {
		return nil, err
	}

	p.model = o.modelFor(query)
	p.key = cacheKey(query.Text, p.selected.FragmentIDs(), p.model, p.template.ID)
	return p, nil
}

func (o *Orchestrator) validate(ctx context.Context, req AskRequest) (core.Query, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return core.Query{}, fmt.Errorf("%w: query text is empty", core.ErrValidation)
	}

	truncated := false
	if runes := []rune(text); len(runes) > o.opts.MaxQueryLength {
		// Policy: over-long queries are truncated, not rejected.
		text = string(runes[:o.opts.MaxQueryLength])
		truncated = true
		log.FromCtx(ctx).Warn().
			Int("max_length", o.opts.MaxQueryLength).
			Str("prefix", core.LogPrefix(text)).
			Msg("query truncated to maximum length")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = o.opts.DefaultTopK
	}
	if topK > core.MaxTopK {
		topK = core.MaxTopK
	}

	return core.Query{
		Text:           text,
		TopK:           topK,
		ConversationID: req.ConversationID,
		ModelOverride:  req.ModelOverride,
		Truncated:      truncated,
	}, nil
}

// generate calls the provider with bounded retries on transient failures,
// then runs citation extraction and confidence scoring.
func (o *Orchestrator) generate(ctx context.Context, p *plan) (core.RAGResult, error) {
	llmReq := core.LLMRequest{
		System:          systemPrompt,
		Prompt:          p.prompt,
		Model:           p.model,
		Temperature:     o.opts.Temperature,
		MaxOutputTokens: o.opts.MaxOutputTokens,
	}

	var resp core.LLMResponse
	err := o.retrier.Do(ctx, func() error {
		var genErr error
		resp, genErr = o.provider.Generate(ctx, llmReq)
		return genErr
	}, core.IsTransient)
	if err != nil {
		return core.RAGResult{}, fmt.Errorf("generate step: %w", err)
	}

	return o.assemble(p, resp), nil
}

// assemble is the POST_PROCESSING step: citations, confidence, result.
func (o *Orchestrator) assemble(p *plan, resp core.LLMResponse) core.RAGResult {
	citations := ExtractCitations(resp.Text, p.selected)
	confidence := o.scorer.Score(resp.Text, p.selected, citations)

	return core.RAGResult{
		Answer:      resp.Text,
		Citations:   citations,
		Confidence:  confidence,
		SourcesUsed: p.selected.FragmentIDs(),
		ModelUsed:   resp.Model,
		TokenUsage: core.TokenUsage{
			Input:  resp.InputTokens,
			Output: resp.OutputTokens,
		},
	}
}

func (o *Orchestrator) insufficientResult() *core.RAGResult {
	return &core.RAGResult{
		Answer:     InsufficientAnswer,
		Citations:  []core.Citation{},
		Confidence: 0,
		ModelUsed:  o.provider.ModelName(),
	}
}

func (o *Orchestrator) recordTurn(ctx context.Context, conversationID, question, answer string) {
	if conversationID == "" {
		return
	}
	err := o.conversations.Append(ctx, conversationID, core.ConversationTurn{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.FromCtx(ctx).Error().Err(err).Str("conversation_id", conversationID).Msg("failed to record turn")
	}
}

func (o *Orchestrator) modelFor(q core.Query) string {
	if q.ModelOverride != "" {
		return q.ModelOverride
	}
	return o.provider.ModelName()
}

func (o *Orchestrator) filterRelevant(fragments []core.ContextFragment) []core.ContextFragment {
	kept := fragments[:0]
	for _, f := range fragments {
		if f.RelevanceScore >= o.opts.MinRelevance {
			kept = append(kept, f)
		}
	}
	return kept
}

func (o *Orchestrator) lockConversation(id string) func() {
	o.convMu.Lock()
	l, ok := o.convLocks[id]
	if !ok {
		l = &convLock{}
		o.convLocks[id] = l
	}
	l.refs++
	o.convMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.convMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.convLocks, id)
		}
		o.convMu.Unlock()
	}
}

func (o *Orchestrator) requestLogger(ctx context.Context, req AskRequest) context.Context {
	logger := log.FromCtx(ctx).With().
		Str("request_id", uuid.NewString()).
		Str("query_prefix", core.LogPrefix(req.Text)).
		Logger()
	return logger.WithContext(ctx)
}

// mapErr converts a deadline hit into the timeout kind; everything else
// passes through already classified.
func (o *Orchestrator) mapErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	return err
}

// sanitizeFragments flattens markup in retrieved text so token counting
// and prompting see plain text.
func sanitizeFragments(fragments []core.ContextFragment) []core.ContextFragment {
	for i, f := range fragments {
		if strings.Contains(f.Text, "<") && strings.Contains(f.Text, ">") {
			fragments[i].Text = conv.StripHTML(f.Text)
		}
	}
	return fragments
}

// cacheKey is a deterministic hash of the normalized query, the exact
// fragment set sent to the model, the model and the template.
func cacheKey(queryText string, fragmentIDs []string, model, templateID string) string {
	ids := make([]string, len(fragmentIDs))
	copy(ids, fragmentIDs)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(normalizeQuery(queryText)))
	h.Write([]byte{0})
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(templateID))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
