package enrich

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prepstack/enrich-cli/internal/jsonx"
	"github.com/prepstack/enrich-cli/internal/model"
)

// minItemLen is the shortest list item kept after cleanup.
const minItemLen = 3

// fieldKind is the expected shape of a field unit's value.
type fieldKind int

const (
	kindText fieldKind = iota
	kindList
	kindMistakes
	kindTriple
)

// fieldUnit is one independently-generatable portion of the record schema.
type fieldUnit struct {
	name   string
	kind   fieldKind
	count  int
	temp   float64
	tokens int
	prompt func(question, answer string) string
}

// answerSnippet bounds how much answer context travels in a field prompt.
func answerSnippet(answer string, n int) string {
	if len(answer) <= n {
		return answer
	}
	return answer[:n]
}

// fieldUnits decomposes the record schema into the units driven one backend
// call at a time on the multi-step path. The primary question is a
// passthrough and has no unit.
var fieldUnits = []fieldUnit{
	{
		name: "alternativeQuestions", kind: kindList, count: 10, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return `Generate 10 alternative ways to ask this question: "` + q + `"` +
				"\nAnswer context: " + answerSnippet(a, 200) +
				"\nReturn only the questions, one per line, no numbering."
		},
	},
	{
		name: "answerDescriptions", kind: kindList, count: 4, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return `List 4 key points that describe the answer to: "` + q + `"` +
				"\nAnswer context: " + answerSnippet(a, 200) +
				"\nReturn only the points, one per line."
		},
	},
	{
		name: "answer.summary", kind: kindText, temp: 0.3, tokens: 300,
		prompt: func(q, a string) string {
			return `Write a concise one-sentence summary for: "` + q + `"` +
				"\nBased on: " + answerSnippet(a, 300) +
				"\nReturn only the summary text."
		},
	},
	{
		name: "answer.detailed", kind: kindText, temp: 0.3, tokens: 2048,
		prompt: func(q, a string) string {
			return `Write a detailed explanation for: "` + q + `"` +
				"\nExpand on: " + a +
				"\nInclude examples and technical details."
		},
	},
	{
		name: "answer.whenToUse", kind: kindText, temp: 0.3, tokens: 300,
		prompt: func(q, a string) string {
			return `Based on this Q&A: "` + q + `" -> "` + answerSnippet(a, 200) + `"` +
				"\nComplete: \"Use this when...\"\nReturn only the completion text."
		},
	},
	{
		name: "answer.realWorldContext", kind: kindText, temp: 0.3, tokens: 300,
		prompt: func(q, a string) string {
			return `Based on this Q&A: "` + q + `" -> "` + answerSnippet(a, 200) + `"` +
				"\nGive a real-world context or example where this applies.\nReturn only the context description."
		},
	},
	{
		name: "categoryTriple", kind: kindTriple, temp: 0.2, tokens: 200,
		prompt: func(q, _ string) string {
			return `Classify this interview question: "` + q + `"` +
				"\nReturn a JSON object with exactly these string keys: category, subcategory, difficulty." +
				"\nDifficulty is one of Beginner, Intermediate, Advanced. Return only the JSON object."
		},
	},
	{
		name: "tags", kind: kindList, count: 8, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return "Generate 8 relevant technical tags based on this Q&A:\nQ: \"" + q + "\"\nA: \"" + answerSnippet(a, 200) + "\"" +
				"\nReturn only the tags, one per line."
		},
	},
	{
		name: "conceptTriggers", kind: kindList, count: 10, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return "List 10 key concepts or triggers based on this Q&A:\nQ: \"" + q + "\"\nA: \"" + answerSnippet(a, 200) + "\"" +
				"\nReturn only the concepts, one per line."
		},
	},
	{
		name: "naturalFollowups", kind: kindList, count: 10, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return "Generate 10 natural follow-up questions based on this Q&A:\nQ: \"" + q + "\"\nA: \"" + answerSnippet(a, 200) + "\"" +
				"\nReturn only the questions, one per line."
		},
	},
	{
		name: "relatedQuestions", kind: kindList, count: 10, temp: 0.5, tokens: 800,
		prompt: func(q, a string) string {
			return "List 10 related questions based on this Q&A:\nQ: \"" + q + "\"\nA: \"" + answerSnippet(a, 200) + "\"" +
				"\nReturn only the questions, one per line."
		},
	},
	{
		name: "commonMistakes", kind: kindMistakes, count: 3, temp: 0.5, tokens: 600,
		prompt: func(q, a string) string {
			return "List 3 common mistakes based on this Q&A:\nQ: \"" + q + "\"\nA: \"" + answerSnippet(a, 200) + "\"" +
				"\nFormat: mistake|description (separated by pipe), one per line."
		},
	},
}

// requiredUnits are the units whose failure makes the record unsuccessful.
// The category triple falls back to a keyword classifier before failing.
var requiredUnits = map[string]bool{
	"answer.summary":          true,
	"answer.detailed":         true,
	"answer.whenToUse":        true,
	"answer.realWorldContext": true,
}

// Extractor drives one backend call per field unit with bounded
// validation-and-repair retries.
type Extractor struct {
	gen      Generator
	attempts int
	emit     func(field string, err error)
}

// NewExtractor creates a multi-step extractor. attempts bounds the per-unit
// retry ceiling; emit, if non-nil, is called after every unit (advisory
// progress reporting, never alters the outcome).
func NewExtractor(gen Generator, attempts int, emit func(field string, err error)) *Extractor {
	if attempts <= 0 {
		attempts = 3
	}
	return &Extractor{gen: gen, attempts: attempts, emit: emit}
}

// Extract runs every field unit for the request and collects the results.
// Optional-unit failures are recorded and absorbed; required-unit failures
// surface later as an IncompleteRecordError at assembly.
func (e *Extractor) Extract(ctx context.Context, question, answer string) (FieldResults, error) {
	f := FieldResults{
		PrimaryQuestion: question,
		Failures:        make(map[string]string),
	}

	for _, unit := range fieldUnits {
		if err := ctx.Err(); err != nil {
			return f, eris.Wrap(err, "enrich: extraction canceled")
		}

		err := e.extractUnit(ctx, unit, question, answer, &f)
		if err != nil {
			f.Failures[unit.name] = err.Error()
			logFn := zap.L().Warn
			if requiredUnits[unit.name] {
				logFn = zap.L().Error
			}
			logFn("field extraction failed",
				zap.String("field", unit.name),
				zap.String("question", truncate(question, 60)),
				zap.Error(err),
			)
		}
		if e.emit != nil {
			e.emit(unit.name, err)
		}
	}

	// The category triple must not block a record: fall back to keyword
	// classification when the backend never produced a usable triple.
	if f.Category == "" || f.Subcategory == "" || f.Difficulty == "" {
		cat, sub, diff := classifyQuestion(question)
		if f.Category == "" {
			f.Category = cat
		}
		if f.Subcategory == "" {
			f.Subcategory = sub
		}
		if f.Difficulty == "" {
			f.Difficulty = diff
		}
	}

	return f, nil
}

// extractUnit performs the call-validate-retry loop for one unit. A shape
// mismatch triggers a retry wrapped in an explicit repair prompt, up to the
// attempt ceiling.
func (e *Extractor) extractUnit(ctx context.Context, unit fieldUnit, question, answer string, f *FieldResults) error {
	basePrompt := unit.prompt(question, answer)
	prompt := basePrompt

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		raw, err := e.gen.Generate(ctx, prompt, GenOptions{
			Temperature: unit.temp,
			MaxTokens:   unit.tokens,
			TopP:        0.8,
		})
		if err != nil {
			lastErr = err
		} else if err := e.applyValue(unit, raw, f); err != nil {
			lastErr = err
		} else {
			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}
		prompt = "The previous attempt failed. Please try again:\n" + basePrompt
	}

	return eris.Wrapf(lastErr, "enrich: field %s failed after %d attempts", unit.name, e.attempts)
}

// applyValue validates the raw output against the unit's expected shape and
// stores it in f. An unusable value returns an error so the caller retries.
func (e *Extractor) applyValue(unit fieldUnit, raw string, f *FieldResults) error {
	switch unit.kind {
	case kindText:
		text := cleanText(raw)
		if text == "" {
			return eris.Errorf("enrich: %s: empty text response", unit.name)
		}
		if unit.name == "answer.whenToUse" && !strings.HasPrefix(text, "Use") {
			text = "Use " + text
		}
		f.setText(unit.name, text)
		return nil

	case kindList:
		items := CleanList(raw, unit.count)
		if len(items) == 0 {
			return eris.Errorf("enrich: %s: no usable list items", unit.name)
		}
		// Shorter lists are accepted as-is: truthful partial results beat
		// fabricated padding.
		f.setList(unit.name, items)
		return nil

	case kindMistakes:
		mistakes := ParseMistakes(raw, unit.count)
		if len(mistakes) == 0 {
			return eris.Errorf("enrich: %s: no usable mistakes", unit.name)
		}
		f.CommonMistakes = mistakes
		return nil

	case kindTriple:
		var triple struct {
			Category    string `json:"category"`
			Subcategory string `json:"subcategory"`
			Difficulty  string `json:"difficulty"`
		}
		if err := jsonx.ExtractInto(raw, &triple); err != nil {
			return eris.Wrapf(err, "enrich: %s", unit.name)
		}
		if triple.Category == "" || triple.Subcategory == "" || triple.Difficulty == "" {
			return eris.Errorf("enrich: %s: missing keys in triple", unit.name)
		}
		f.Category = triple.Category
		f.Subcategory = triple.Subcategory
		f.Difficulty = triple.Difficulty
		return nil

	default:
		return eris.Errorf("enrich: unknown field kind %d", unit.kind)
	}
}

func (f *FieldResults) setText(name, value string) {
	switch name {
	case "answer.summary":
		f.Summary = value
	case "answer.detailed":
		f.Detailed = value
	case "answer.whenToUse":
		f.WhenToUse = value
	case "answer.realWorldContext":
		f.RealWorldContext = value
	}
}

func (f *FieldResults) setList(name string, items []string) {
	switch name {
	case "alternativeQuestions":
		f.AlternativeQuestions = items
	case "answerDescriptions":
		f.AnswerDescriptions = items
	case "tags":
		f.Tags = items
	case "conceptTriggers":
		f.ConceptTriggers = items
	case "naturalFollowups":
		f.NaturalFollowups = items
	case "relatedQuestions":
		f.RelatedQuestions = items
	}
}

var (
	leadingEnum   = regexp.MustCompile(`^\d+[.)]\s*`)
	leadingBullet = regexp.MustCompile(`^[-*]\s*`)
)

// cleanText strips code fences and surrounding whitespace from a plain-text
// response.
func cleanText(raw string) string {
	text := strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(text)
}

// cleanItem strips enumeration markers, bullets and wrapping quotes from one
// list line.
func cleanItem(line string) string {
	line = strings.TrimSpace(line)
	line = leadingEnum.ReplaceAllString(line, "")
	line = leadingBullet.ReplaceAllString(line, "")
	return strings.Trim(line, `"'`)
}

// CleanList splits a raw response into list items, strips enumeration
// markers and quotes, drops items at or below the minimum length, and
// truncates to count. Fewer items than requested are returned as-is, never
// padded.
func CleanList(raw string, count int) []string {
	var items []string
	for _, line := range strings.Split(raw, "\n") {
		item := cleanItem(line)
		if len(item) > minItemLen {
			items = append(items, item)
		}
	}
	if count > 0 && len(items) > count {
		items = items[:count]
	}
	return items
}

// ParseMistakes splits each line on the first `|` or `:` into a
// (mistake, description) pair. A line without a delimiter becomes the
// mistake text with a generic description, as a last resort only.
func ParseMistakes(raw string, count int) []model.CommonMistake {
	var mistakes []model.CommonMistake
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var mistake, desc string
		if i := strings.IndexAny(line, "|:"); i >= 0 {
			mistake = strings.TrimSpace(line[:i])
			desc = strings.TrimSpace(line[i+1:])
		} else {
			mistake = line
			desc = "Be careful with this aspect."
		}

		mistake = cleanItem(mistake)
		if len(mistake) <= minItemLen {
			continue
		}
		if desc == "" {
			desc = "Common error"
		}

		mistakes = append(mistakes, model.CommonMistake{Mistake: mistake, Description: desc})
		if count > 0 && len(mistakes) == count {
			break
		}
	}
	return mistakes
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
