package enrich

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/enrich-cli/internal/model"
)

// fakeGen scripts backend responses for pipeline tests.
type fakeGen struct {
	name    model.Backend
	mode    Mode
	pingErr error
	respond func(prompt string, opts GenOptions) (string, error)
	prompts []string
}

func (g *fakeGen) Name() model.Backend          { return g.name }
func (g *fakeGen) Mode() Mode                   { return g.mode }
func (g *fakeGen) Ping(context.Context) error   { return g.pingErr }
func (g *fakeGen) Generate(_ context.Context, prompt string, opts GenOptions) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.respond(prompt, opts)
}

// scriptedFields answers every field-unit prompt with plausible output.
func scriptedFields(prompt string, _ GenOptions) (string, error) {
	switch {
	case strings.Contains(prompt, "alternative ways"):
		return "1. How does CSS work?\n2. Explain CSS basics\n3. What does CSS do?\n4. CSS overview please\n5. Walk me through CSS", nil
	case strings.Contains(prompt, "key points that describe"):
		return "- Styles web pages\n- Cascading rules\n- Selector based\n- Separates presentation", nil
	case strings.Contains(prompt, "one-sentence summary"):
		return "CSS styles web documents.", nil
	case strings.Contains(prompt, "detailed explanation"):
		return "CSS is a stylesheet language used to describe presentation.", nil
	case strings.Contains(prompt, `Complete: "Use this when`):
		return "styling any web page", nil
	case strings.Contains(prompt, "real-world context"):
		return "Every production site ships CSS.", nil
	case strings.Contains(prompt, "Classify this interview question"):
		return `{"category": "CSS", "subcategory": "Styling", "difficulty": "Beginner"}`, nil
	case strings.Contains(prompt, "technical tags"):
		return "css\nstyling\nselectors\ncascade", nil
	case strings.Contains(prompt, "key concepts or triggers"):
		return "cascade\nspecificity\ninheritance\nbox model", nil
	case strings.Contains(prompt, "follow-up questions"):
		return "What is specificity?\nHow does the cascade work?", nil
	case strings.Contains(prompt, "related questions"):
		return "What is SCSS?\nWhat is a CSS reset?", nil
	case strings.Contains(prompt, "common mistakes"):
		return "Overusing !important|It breaks the cascade\nDeep selectors: hard to override", nil
	default:
		return "", assert.AnError
	}
}

func TestExtractorProducesAllFields(t *testing.T) {
	gen := &fakeGen{name: model.BackendOllama, mode: ModeMultiStep, respond: scriptedFields}
	ex := NewExtractor(gen, 1, nil)

	f, err := ex.Extract(context.Background(), "What is CSS?", "CSS styles pages")
	require.NoError(t, err)

	assert.Equal(t, "What is CSS?", f.PrimaryQuestion)
	assert.Len(t, f.AlternativeQuestions, 5)
	assert.Equal(t, "How does CSS work?", f.AlternativeQuestions[0], "enumeration markers stripped")
	assert.Len(t, f.AnswerDescriptions, 4)
	assert.Equal(t, "CSS styles web documents.", f.Summary)
	assert.Equal(t, "Use styling any web page", f.WhenToUse)
	assert.Equal(t, "CSS", f.Category)
	assert.Equal(t, "Styling", f.Subcategory)
	assert.Equal(t, "Beginner", f.Difficulty)
	require.Len(t, f.CommonMistakes, 2)
	assert.Equal(t, "Overusing !important", f.CommonMistakes[0].Mistake)
	assert.Equal(t, "It breaks the cascade", f.CommonMistakes[0].Description)
	assert.Equal(t, "Deep selectors", f.CommonMistakes[1].Mistake)
	assert.Empty(t, f.Failures)
}

func TestExtractorRetriesWithRepairPrompt(t *testing.T) {
	failedOnce := false
	gen := &fakeGen{
		name: model.BackendOllama,
		mode: ModeMultiStep,
		respond: func(prompt string, opts GenOptions) (string, error) {
			if strings.Contains(prompt, "one-sentence summary") && !failedOnce {
				failedOnce = true
				return "", nil // empty text fails validation
			}
			return scriptedFields(prompt, opts)
		},
	}
	ex := NewExtractor(gen, 3, nil)

	f, err := ex.Extract(context.Background(), "What is CSS?", "")
	require.NoError(t, err)
	assert.Equal(t, "CSS styles web documents.", f.Summary)

	var retried bool
	for _, p := range gen.prompts {
		if strings.HasPrefix(p, "The previous attempt failed. Please try again:") {
			retried = true
		}
	}
	assert.True(t, retried, "second attempt should carry the repair wrapper")
}

func TestExtractorOptionalFailureIsRecorded(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOllama,
		mode: ModeMultiStep,
		respond: func(prompt string, opts GenOptions) (string, error) {
			if strings.Contains(prompt, "technical tags") {
				return "", assert.AnError
			}
			return scriptedFields(prompt, opts)
		},
	}
	ex := NewExtractor(gen, 2, nil)

	f, err := ex.Extract(context.Background(), "What is CSS?", "")
	require.NoError(t, err, "optional field failures never fail the extraction")
	assert.Empty(t, f.Tags)
	assert.Contains(t, f.Failures, "tags")

	// The record still assembles: tags are optional.
	_, _, err = Assemble("What is CSS?", f)
	require.NoError(t, err)
}

func TestExtractorCategoryFallback(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOllama,
		mode: ModeMultiStep,
		respond: func(prompt string, opts GenOptions) (string, error) {
			if strings.Contains(prompt, "Classify this interview question") {
				return "no json here, sorry", nil
			}
			return scriptedFields(prompt, opts)
		},
	}
	ex := NewExtractor(gen, 1, nil)

	f, err := ex.Extract(context.Background(), "How do Angular directives work?", "")
	require.NoError(t, err)
	assert.Equal(t, "Frameworks", f.Category)
	assert.Equal(t, "Angular", f.Subcategory)
	assert.Equal(t, "Intermediate", f.Difficulty)
	assert.Contains(t, f.Failures, "categoryTriple")
}

func TestCleanList(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		count int
		want  []string
	}{
		{
			name:  "strips_markers",
			raw:   "1. first item\n2) second item\n- third item\n* fourth item\n\"quoted item\"",
			count: 10,
			want:  []string{"first item", "second item", "third item", "fourth item", "quoted item"},
		},
		{
			name:  "drops_short_items",
			raw:   "ok\nna\na real item\n-\n",
			count: 10,
			want:  []string{"a real item"},
		},
		{
			name:  "truncates_to_target",
			raw:   "item one\nitem two\nitem three",
			count: 2,
			want:  []string{"item one", "item two"},
		},
		{
			name:  "accepts_shorter_never_pads",
			raw:   "only item",
			count: 10,
			want:  []string{"only item"},
		},
		{
			name:  "empty_input",
			raw:   "",
			count: 5,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanList(tt.raw, tt.count))
		})
	}
}

func TestParseMistakes(t *testing.T) {
	raw := "Forgetting units|Lengths need units\nMisusing floats: layout breaks\nShort one with no delimiter at all"
	got := ParseMistakes(raw, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "Forgetting units", got[0].Mistake)
	assert.Equal(t, "Lengths need units", got[0].Description)
	assert.Equal(t, "Misusing floats", got[1].Mistake)
	assert.Equal(t, "layout breaks", got[1].Description)
	assert.Equal(t, "Short one with no delimiter at all", got[2].Mistake)
	assert.Equal(t, "Be careful with this aspect.", got[2].Description)
}

func TestParseMistakesTruncates(t *testing.T) {
	raw := "first one|a\nsecond one|b\nthird one|c\nfourth one|d"
	assert.Len(t, ParseMistakes(raw, 3), 3)
}

func TestClassifyQuestion(t *testing.T) {
	tests := []struct {
		question string
		category string
		sub      string
	}{
		{"How do Angular directives work?", "Frameworks", "Angular"},
		{"What are React hooks?", "Frameworks", "React"},
		{"How do HTML forms submit?", "HTML", "Forms"},
		{"What are HTML tags?", "HTML", "Tags"},
		{"How does CSS specificity work?", "CSS", "Styling"},
		{"What is JavaScript hoisting?", "JavaScript", "General"},
		{"What is a REST API?", "Web Development", "General"},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			cat, sub, diff := classifyQuestion(tt.question)
			assert.Equal(t, tt.category, cat)
			assert.Equal(t, tt.sub, sub)
			assert.Equal(t, "Intermediate", diff)
		})
	}
}
