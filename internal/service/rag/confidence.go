package rag

import (
	"strings"

	"github.com/askmill/askmill/internal/core"
)

// ConfidenceWeights tune the heuristic score. The result is not a
// calibrated probability and callers must not treat it as one.
type ConfidenceWeights struct {
	Base           float64
	CitationBonus  float64
	RelevanceScale float64
	HedgePenalty   float64
}

func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{
		Base:           0.5,
		CitationBonus:  0.2,
		RelevanceScale: 0.2,
		HedgePenalty:   0.3,
	}
}

var hedgeMarkers = []string{
	"i don't have enough information",
	"i do not have enough information",
	"not in the context",
	"cannot be determined from the context",
	"the context does not",
}

type ConfidenceScorer struct {
	weights ConfidenceWeights
}

func NewConfidenceScorer(weights ConfidenceWeights) *ConfidenceScorer {
	return &ConfidenceScorer{weights: weights}
}

// Score combines citation presence, cited fragment relevance and hedging
// phrasing into a single [0,1] number.
func (s *ConfidenceScorer) Score(answer string, selected core.SelectedContext, citations []core.Citation) float64 {
	score := s.weights.Base

	validByID := make(map[string]bool)
	for _, c := range citations {
		if c.Valid {
			validByID[c.FragmentID] = true
		}
	}

	if len(validByID) > 0 {
		score += s.weights.CitationBonus

		var sum float64
		var n int
		for _, frag := range selected.Fragments {
			if validByID[frag.ID] {
				sum += frag.RelevanceScore
				n++
			}
		}
		if n > 0 {
			score += (sum / float64(n)) * s.weights.RelevanceScale
		}
	}

	lower := strings.ToLower(answer)
	for _, marker := range hedgeMarkers {
		if strings.Contains(lower, marker) {
			score -= s.weights.HedgePenalty
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
