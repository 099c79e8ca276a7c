package rag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/askmill/askmill/internal/core"
)

// Template ids. The catalog is built once at startup and immutable after.
const (
	TemplateGeneralQA      = "general_qa"
	TemplateConversational = "conversational"
	TemplateComparative    = "comparative"
	TemplateSummarization  = "summarization"
)

const (
	PlaceholderQuery   = "query"
	PlaceholderContext = "context"
	PlaceholderHistory = "history"
)

// Template is a prompt body with {{name}} placeholders. Rendering fails if
// a required placeholder has no supplied value.
type Template struct {
	ID       string
	Body     string
	Required []string
}

type TemplateCatalog struct {
	templates map[string]Template
}

var placeholderPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

const citationRules = `Cite the context fragments you use with markers like [Source 1], [Source 2].
If the context does not contain the answer, say that you don't have enough information.`

func NewTemplateCatalog() *TemplateCatalog {
	c := &TemplateCatalog{templates: make(map[string]Template)}
	c.add(Template{
		ID: TemplateGeneralQA,
		Body: `Answer the question using only the context below.
` + citationRules + `

Context:
{{context}}

Question: {{query}}

Answer:`,
		Required: []string{PlaceholderQuery, PlaceholderContext},
	})
	c.add(Template{
		ID: TemplateConversational,
		Body: `You are continuing a conversation. Use the history for coreference only;
ground every claim in the context below.
` + citationRules + `

Conversation so far:
{{history}}

Context:
{{context}}

Question: {{query}}

Answer:`,
		Required: []string{PlaceholderQuery, PlaceholderContext, PlaceholderHistory},
	})
	c.add(Template{
		ID: TemplateComparative,
		Body: `Compare the subjects of the question point by point, using only the
context below. Present differences and similarities explicitly.
` + citationRules + `

Context:
{{context}}

Question: {{query}}

Comparison:`,
		Required: []string{PlaceholderQuery, PlaceholderContext},
	})
	c.add(Template{
		ID: TemplateSummarization,
		Body: `Summarize what the context below says about the question. Be concise and
keep every statement grounded.
` + citationRules + `

Context:
{{context}}

Question: {{query}}

Summary:`,
		Required: []string{PlaceholderQuery, PlaceholderContext},
	})
	return c
}

func (c *TemplateCatalog) add(t Template) {
	c.templates[t.ID] = t
}

func (c *TemplateCatalog) Get(id string) (Template, bool) {
	t, ok := c.templates[id]
	return t, ok
}

var (
	comparisonKeywords    = []string{"compare", "comparison", "versus", " vs ", " vs.", "difference between", "differences between", "better than"}
	summarizationKeywords = []string{"summarize", "summarise", "summary", "overview of", "tl;dr", "tldr"}
)

// SelectTemplate picks a template by priority: conversation history first,
// then comparison phrasing, then summarization phrasing, then general QA.
func (c *TemplateCatalog) SelectTemplate(queryText string, hasHistory bool) Template {
	if hasHistory {
		return c.templates[TemplateConversational]
	}
	lower := strings.ToLower(queryText)
	for _, kw := range comparisonKeywords {
		if strings.Contains(lower, kw) {
			return c.templates[TemplateComparative]
		}
	}
	for _, kw := range summarizationKeywords {
		if strings.Contains(lower, kw) {
			return c.templates[TemplateSummarization]
		}
	}
	return c.templates[TemplateGeneralQA]
}

// Render substitutes placeholder values into the template body. Every
// required placeholder must have a value; optional placeholders without a
// supplied value are left as written.
func (c *TemplateCatalog) Render(t Template, values map[string]string) (string, error) {
	for _, name := range t.Required {
		if _, ok := values[name]; !ok {
			return "", fmt.Errorf("%w: template %q missing required placeholder %q", core.ErrTemplate, t.ID, name)
		}
	}
	rendered := placeholderPattern.ReplaceAllStringFunc(t.Body, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return m
	})
	return rendered, nil
}

// FormatContext numbers fragments the way citation markers reference them:
// [Source N] is 1-based in presentation order.
func FormatContext(selected core.SelectedContext) string {
	if selected.Empty() {
		return "(no context)"
	}
	var sb strings.Builder
	for i, frag := range selected.Fragments {
		fmt.Fprintf(&sb, "[Source %d] %s\n\n", i+1, strings.TrimSpace(frag.Text))
	}
	return strings.TrimSpace(sb.String())
}

// FormatHistory flattens turns for the conversational template.
func FormatHistory(turns []core.ConversationTurn) string {
	if len(turns) == 0 {
		return "(no previous turns)"
	}
	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", turn.Question, turn.Answer)
	}
	return strings.TrimSpace(sb.String())
}
