// Package tokens converts text to model token counts, falling back to a
// character approximation when no tokenizer is available for the model.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// approxCharsPerToken is the rough ratio used when no exact tokenizer
// exists for the model.
const approxCharsPerToken = 4

// ApproxMargin is the safety factor budget arithmetic applies on top of
// approximate counts so an undercount cannot silently overflow the
// context window.
const ApproxMargin = 1.10

type Counter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
	missing  map[string]bool
}

func NewCounter() *Counter {
	return &Counter{
		encoders: make(map[string]*tiktoken.Tiktoken),
		missing:  make(map[string]bool),
	}
}

// Count returns the token count of text for model. exact is false when the
// result came from the character approximation; callers doing budget math
// must then apply ApproxMargin.
func (c *Counter) Count(text, model string) (n int, exact bool) {
	if enc := c.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil)), true
	}
	return Approximate(text), false
}

// CountBudget returns a count already inflated by ApproxMargin when the
// tokenizer was approximate. Deterministic and monotonic for a fixed model.
func (c *Counter) CountBudget(text, model string) int {
	n, exact := c.Count(text, model)
	if exact {
		return n
	}
	return int(float64(n) * ApproxMargin)
}

func (c *Counter) encoder(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[model]; ok {
		return enc
	}
	if c.missing[model] {
		return nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model family. Remember the miss so we do not retry the
		// lookup on every call.
		c.missing[model] = true
		return nil
	}
	c.encoders[model] = enc
	return enc
}

// Approximate estimates tokens as len/4, never returning zero for
// non-empty text.
func Approximate(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / approxCharsPerToken
	if n == 0 {
		n = 1
	}
	return n
}
