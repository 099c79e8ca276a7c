package core

import "context"

// LLMProvider is the port every vendor adapter satisfies. Adapters hold no
// mutable state beyond their configuration and are safe for concurrent use.
type LLMProvider interface {
	Generate(ctx context.Context, req LLMRequest) (LLMResponse, error)
	// Stream returns a finite, non-restartable chunk stream. Closing the
	// stream aborts the underlying provider call.
	Stream(ctx context.Context, req LLMRequest) (TokenStream, error)
	CountTokens(text string) int
	ModelName() string
}

// TokenStream delivers generated text chunk by chunk. Recv returns io.EOF
// when the stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Retriever is the external search collaborator. The engine never embeds
// or indexes text itself; it only consumes ranked fragments.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]ContextFragment, error)
}

// ResponseCache coalesces identical in-flight generations and stores
// finished results until their TTL lapses.
type ResponseCache interface {
	// GetOrGenerate returns the cached result for key, or runs generate
	// exactly once across all concurrent callers of the same key and
	// shares its result (or error) with every waiter.
	GetOrGenerate(ctx context.Context, key string, generate func(ctx context.Context) (RAGResult, error)) (RAGResult, bool, error)
	// Get is a plain lookup used by the streaming path.
	Get(key string) (RAGResult, bool)
	// Put stores a result produced outside GetOrGenerate.
	Put(key string, result RAGResult)
}

// ConversationStore keeps bounded per-conversation turn history. Oldest
// turns are evicted first once the configured limit is exceeded.
type ConversationStore interface {
	Append(ctx context.Context, conversationID string, turn ConversationTurn) error
	History(ctx context.Context, conversationID string) ([]ConversationTurn, error)
}
