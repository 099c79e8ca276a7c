package rag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmill/askmill/internal/core"
)

func TestSelectTemplate(t *testing.T) {
	catalog := NewTemplateCatalog()

	tests := []struct {
		name       string
		query      string
		hasHistory bool
		want       string
	}{
		{"history_wins", "compare A and B", true, TemplateConversational},
		{"comparison", "what is the difference between redis and memcached?", false, TemplateComparative},
		{"versus", "postgres vs mysql for OLTP", false, TemplateComparative},
		{"summarization", "summarize the deployment guide", false, TemplateSummarization},
		{"overview", "give me an overview of the auth flow", false, TemplateSummarization},
		{"default", "how do I configure logging?", false, TemplateGeneralQA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := catalog.SelectTemplate(tt.query, tt.hasHistory)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestRender_SubstitutesPlaceholders(t *testing.T) {
	catalog := NewTemplateCatalog()
	tmpl, ok := catalog.Get(TemplateGeneralQA)
	require.True(t, ok)

	rendered, err := catalog.Render(tmpl, map[string]string{
		PlaceholderQuery:   "what is go?",
		PlaceholderContext: "[Source 1] Go is a language.",
	})
	require.NoError(t, err)
	assert.Contains(t, rendered, "what is go?")
	assert.Contains(t, rendered, "[Source 1] Go is a language.")
	assert.NotContains(t, rendered, "{{query}}")
	assert.NotContains(t, rendered, "{{context}}")
}

func TestRender_MissingRequiredPlaceholder(t *testing.T) {
	catalog := NewTemplateCatalog()
	tmpl, ok := catalog.Get(TemplateConversational)
	require.True(t, ok)

	_, err := catalog.Render(tmpl, map[string]string{
		PlaceholderQuery:   "what about it?",
		PlaceholderContext: "some context",
		// history missing
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrTemplate))
	assert.Contains(t, err.Error(), "history")
}

func TestFormatContext_NumbersFragments(t *testing.T) {
	selected := core.SelectedContext{Fragments: []core.ContextFragment{
		{ID: "a", Text: "first fragment"},
		{ID: "b", Text: "second fragment"},
	}}
	got := FormatContext(selected)
	assert.Contains(t, got, "[Source 1] first fragment")
	assert.Contains(t, got, "[Source 2] second fragment")
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]core.ConversationTurn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
	})
	assert.Contains(t, got, "User: q1")
	assert.Contains(t, got, "Assistant: a2")

	assert.Equal(t, "(no previous turns)", FormatHistory(nil))
}
