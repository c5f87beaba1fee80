package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/enrich-cli/internal/model"
)

func fullRecordJSON(t *testing.T) string {
	t.Helper()
	rec := map[string]any{
		"primaryQuestion":      "What is CSS?",
		"alternativeQuestions": []string{"How does CSS work?", "Explain CSS"},
		"answerDescriptions":   []string{"Styles pages", "Cascading rules"},
		"answer": map[string]string{
			"summary":          "CSS styles web documents.",
			"detailed":         "CSS is a stylesheet language.",
			"whenToUse":        "Use when styling pages",
			"realWorldContext": "Every site ships CSS.",
		},
		"category":         "CSS",
		"subcategory":      "Styling",
		"difficulty":       "Beginner",
		"tags":             []string{"css", "styling"},
		"conceptTriggers":  []string{"cascade"},
		"naturalFollowups": []string{"What is specificity?"},
		"relatedQuestions": []string{"What is SCSS?"},
		"commonMistakes": []map[string]string{
			{"mistake": "Overusing !important", "description": "Breaks the cascade"},
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(data)
}

func TestSingleShot(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOpenAI,
		mode: ModeSingle,
		respond: func(prompt string, opts GenOptions) (string, error) {
			assert.InDelta(t, 0.3, opts.Temperature, 0.001)
			assert.Equal(t, 4000, opts.MaxTokens)
			assert.NotEmpty(t, opts.System)
			return "Here is the data:\n```json\n" + fullRecordJSON(t) + "\n```", nil
		},
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "CSS styles pages")
	require.NoError(t, err)

	assert.Equal(t, "What is CSS?", f.PrimaryQuestion)
	assert.Equal(t, []string{"How does CSS work?", "Explain CSS"}, f.AlternativeQuestions)
	assert.Equal(t, "CSS styles web documents.", f.Summary)
	assert.Equal(t, "CSS", f.Category)
	require.Len(t, f.CommonMistakes, 1)
	assert.Equal(t, "Overusing !important", f.CommonMistakes[0].Mistake)
	assert.Empty(t, f.Failures)

	_, rec, err := Assemble("What is CSS?", f)
	require.NoError(t, err)
	assert.Equal(t, "Use when styling pages", rec.Answer.WhenToUse)
}

func TestSingleShotWrappedRecord(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendAnthropic,
		mode: ModeSingle,
		respond: func(string, GenOptions) (string, error) {
			return `{"question-what-is-css-abc123": ` + fullRecordJSON(t) + `}`, nil
		},
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "")
	require.NoError(t, err)
	assert.Equal(t, "CSS styles web documents.", f.Summary)
}

func TestSingleShotMissingFieldsBecomeFailures(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOpenAI,
		mode: ModeSingle,
		respond: func(string, GenOptions) (string, error) {
			return `{"primaryQuestion": "What is CSS?", "answer": {"summary": "short"}}`, nil
		},
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "")
	require.NoError(t, err)
	assert.Contains(t, f.Failures, "answer.detailed")
	assert.Contains(t, f.Failures, "tags")

	// Required fields stay enforced at assembly.
	_, _, err = Assemble("What is CSS?", f)
	var incomplete *IncompleteRecordError
	require.ErrorAs(t, err, &incomplete)
}

func TestSingleShotFlattenedAnswer(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOpenAI,
		mode: ModeSingle,
		respond: func(string, GenOptions) (string, error) {
			return `{"primaryQuestion": "What is CSS?", "answer": "one flat string"}`, nil
		},
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "")
	require.NoError(t, err)
	assert.Equal(t, "one flat string", f.Detailed)
	assert.Contains(t, f.Failures, "answer.summary")
}

func TestSingleShotWhenToUsePrefix(t *testing.T) {
	body := strings.Replace(fullRecordJSON(t), `"Use when styling pages"`, `"styling pages"`, 1)
	gen := &fakeGen{
		name:    model.BackendOpenAI,
		mode:    ModeSingle,
		respond: func(string, GenOptions) (string, error) { return body, nil },
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "")
	require.NoError(t, err)
	assert.Equal(t, "Use styling pages", f.WhenToUse)
}

func TestSingleShotCategoryFallback(t *testing.T) {
	gen := &fakeGen{
		name: model.BackendOpenAI,
		mode: ModeSingle,
		respond: func(string, GenOptions) (string, error) {
			return `{"primaryQuestion": "What are React hooks?"}`, nil
		},
	}

	f, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What are React hooks?", "")
	require.NoError(t, err)
	assert.Equal(t, "Frameworks", f.Category)
	assert.Equal(t, "React", f.Subcategory)
}

func TestSingleShotNoJSON(t *testing.T) {
	gen := &fakeGen{
		name:    model.BackendOpenAI,
		mode:    ModeSingle,
		respond: func(string, GenOptions) (string, error) { return "I refuse to answer.", nil },
	}

	_, err := singleShot(context.Background(), gen, defaultPromptTemplate, "What is CSS?", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON")
}

func TestBuildFullPrompt(t *testing.T) {
	withAnswer := buildFullPrompt("TEMPLATE", "Q1", "A1")
	assert.Contains(t, withAnswer, "TEMPLATE")
	assert.Contains(t, withAnswer, "Question: Q1")
	assert.Contains(t, withAnswer, "Answer: A1")

	withoutAnswer := buildFullPrompt("TEMPLATE", "Q1", "")
	assert.Contains(t, withoutAnswer, "Generate a comprehensive answer")
	assert.NotContains(t, withoutAnswer, "Answer:")
}
