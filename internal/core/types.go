package core

import "time"

const (
	AskmillName      = "askmill"
	AskmillUserAgent = "askmill/0.1"
	AskmillVersion   = "0.1.0"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxTopK bounds how many fragments a caller may request from retrieval.
const MaxTopK = 20

// Query is one validated ask request. Built per call, never mutated after
// validation.
type Query struct {
	Text           string
	TopK           int
	ConversationID string
	ModelOverride  string
	// Truncated is set when the original text exceeded the configured
	// maximum length and was cut rather than rejected.
	Truncated bool
}

// SourceRef carries opaque provenance metadata attached to a fragment by
// the retriever.
type SourceRef struct {
	Author         string `json:"author,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
	Title          string `json:"title,omitempty"`
}

// ContextFragment is one retrieved unit of source text, ranked by the
// external retriever. Read-only for the duration of a request.
type ContextFragment struct {
	ID             string
	Text           string
	RelevanceScore float64
	Source         SourceRef
}

// SelectedContext is the ordered subset of fragments that fits the token
// budget. Order follows the retriever's relevance ranking; the last
// fragment may carry truncated text.
type SelectedContext struct {
	Fragments []ContextFragment
	// TotalTokens includes the reserved overhead accounted during selection.
	TotalTokens int
}

func (s SelectedContext) Empty() bool {
	return len(s.Fragments) == 0
}

func (s SelectedContext) FragmentIDs() []string {
	ids := make([]string, len(s.Fragments))
	for i, f := range s.Fragments {
		ids[i] = f.ID
	}
	return ids
}

// LLMRequest is the rendered, model-ready generation request.
type LLMRequest struct {
	System          string
	Prompt          string
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

// LLMResponse is what a provider adapter returns. Immutable.
type LLMResponse struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Citation ties a marker in the generated answer to a fragment that was
// actually sent to the model. Invalid markers are reported, not removed.
type Citation struct {
	Marker     string `json:"marker"`
	FragmentID string `json:"fragment_id"`
	Valid      bool   `json:"valid"`
}

// ConversationTurn is one question/answer exchange.
type ConversationTurn struct {
	Question  string
	Answer    string
	Timestamp time.Time
}

// TokenUsage reports prompt and completion token counts for one generation.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// RAGResult is the terminal product of one ask: the answer plus everything
// a caller needs to judge it.
type RAGResult struct {
	Answer      string     `json:"answer"`
	Citations   []Citation `json:"citations"`
	Confidence  float64    `json:"confidence"`
	SourcesUsed []string   `json:"sources_used"`
	ModelUsed   string     `json:"model_used"`
	TokenUsage  TokenUsage `json:"token_usage"`
	CacheHit    bool       `json:"cache_hit"`
}
