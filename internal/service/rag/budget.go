package rag

import (
	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/internal/tokens"
)

// BudgetSelector packs ranked fragments into a hard token ceiling. It never
// reorders fragments; at most the last included fragment is truncated.
type BudgetSelector struct {
	counter           *tokens.Counter
	minFragmentTokens int
}

func NewBudgetSelector(counter *tokens.Counter, minFragmentTokens int) *BudgetSelector {
	if minFragmentTokens <= 0 {
		minFragmentTokens = 100
	}
	return &BudgetSelector{
		counter:           counter,
		minFragmentTokens: minFragmentTokens,
	}
}

// Select walks fragments in the given (descending relevance) order and
// includes each one that fits the remaining budget. When a fragment does
// not fit whole and at least minFragmentTokens remain, a truncated prefix
// is included and selection stops. An empty selection is a valid outcome,
// not an error.
func (s *BudgetSelector) Select(fragments []core.ContextFragment, model string, maxTokens, reservedTokens int) core.SelectedContext {
	selected := core.SelectedContext{TotalTokens: reservedTokens}
	remaining := maxTokens - reservedTokens
	if remaining <= 0 {
		return selected
	}

	for _, frag := range fragments {
		cost := s.counter.CountBudget(frag.Text, model)
		if cost <= remaining {
			selected.Fragments = append(selected.Fragments, frag)
			selected.TotalTokens += cost
			remaining -= cost
			continue
		}

		if remaining >= s.minFragmentTokens {
			truncated := frag
			truncated.Text = s.truncate(frag.Text, model, remaining)
			cost = s.counter.CountBudget(truncated.Text, model)
			if cost <= remaining && truncated.Text != "" {
				selected.Fragments = append(selected.Fragments, truncated)
				selected.TotalTokens += cost
			}
		}
		break
	}
	return selected
}

// truncate cuts text to a prefix costing at most budget tokens. It starts
// from a proportional estimate and shrinks until the count fits, always
// cutting on rune boundaries.
func (s *BudgetSelector) truncate(text, model string, budget int) string {
	runes := []rune(text)
	total := s.counter.CountBudget(text, model)
	if total <= budget {
		return text
	}

	guess := len(runes) * budget / total
	if guess > len(runes) {
		guess = len(runes)
	}
	for guess > 0 {
		candidate := string(runes[:guess])
		if s.counter.CountBudget(candidate, model) <= budget {
			return candidate
		}
		// Shrink by 10% per round; converges quickly and stays monotonic.
		next := guess * 9 / 10
		if next == guess {
			next = guess - 1
		}
		guess = next
	}
	return ""
}
