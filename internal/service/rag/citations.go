package rag

import (
	"regexp"
	"strconv"

	"github.com/askmill/askmill/internal/core"
)

var citationPattern = regexp.MustCompile(`\[Source\s+(\d+)\]`)

// ExtractCitations parses [Source N] markers out of an answer and validates
// each against the context actually sent to the model. N is 1-based in
// presentation order. Invalid markers are reported with Valid=false; the
// answer text is never rewritten.
func ExtractCitations(answer string, selected core.SelectedContext) []core.Citation {
	matches := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(matches) == 0 {
		return []core.Citation{}
	}

	citations := make([]core.Citation, 0, len(matches))
	seen := make(map[string]bool)
	for _, m := range matches {
		marker := m[0]
		if seen[marker] {
			continue
		}
		seen[marker] = true

		idx, err := strconv.Atoi(m[1])
		citation := core.Citation{Marker: marker}
		if err == nil && idx >= 1 && idx <= len(selected.Fragments) {
			citation.FragmentID = selected.Fragments[idx-1].ID
			citation.Valid = true
		}
		citations = append(citations, citation)
	}
	return citations
}
