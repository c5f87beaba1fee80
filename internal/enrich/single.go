package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/prepstack/enrich-cli/internal/jsonx"
	"github.com/prepstack/enrich-cli/internal/model"
)

// singleShot runs the hosted one-prompt path: build the full structuring
// prompt, generate, extract the JSON object and harvest it into field
// results. The harvest is tolerant: missing or mistyped fields become field
// failures rather than hard errors, so required-field enforcement stays in
// one place at assembly.
func singleShot(ctx context.Context, gen Generator, template, question, answer string) (FieldResults, error) {
	prompt := buildFullPrompt(template, question, answer)

	raw, err := gen.Generate(ctx, prompt, GenOptions{
		Temperature: 0.3,
		MaxTokens:   4000,
		System:      systemPrompt,
	})
	if err != nil {
		return FieldResults{}, eris.Wrap(err, "enrich: generation failed")
	}

	var payload map[string]any
	if err := jsonx.ExtractInto(raw, &payload); err != nil {
		return FieldResults{}, eris.Wrap(err, "enrich: response contained no usable JSON object")
	}

	return harvest(question, unwrapRecord(payload)), nil
}

// unwrapRecord accepts either a record-shaped object or a single-key wrapper
// of the form {"question-...": {record}} and returns the record object.
func unwrapRecord(payload map[string]any) map[string]any {
	if _, ok := payload["primaryQuestion"]; ok {
		return payload
	}
	if _, ok := payload["answer"]; ok {
		return payload
	}
	if len(payload) == 1 {
		for _, v := range payload {
			if inner, ok := v.(map[string]any); ok {
				return inner
			}
		}
	}
	return payload
}

// harvest coerces a decoded record object into FieldResults, recording every
// field the model omitted or mistyped as a failure.
func harvest(question string, obj map[string]any) FieldResults {
	f := FieldResults{
		PrimaryQuestion: question,
		Failures:        make(map[string]string),
	}

	if s := toString(obj["primaryQuestion"]); s != "" {
		f.PrimaryQuestion = s
	}

	f.AlternativeQuestions = harvestList(&f, obj, "alternativeQuestions")
	f.AnswerDescriptions = harvestList(&f, obj, "answerDescriptions")
	f.Tags = harvestList(&f, obj, "tags")
	f.ConceptTriggers = harvestList(&f, obj, "conceptTriggers")
	f.NaturalFollowups = harvestList(&f, obj, "naturalFollowups")
	f.RelatedQuestions = harvestList(&f, obj, "relatedQuestions")

	if ans, ok := obj["answer"].(map[string]any); ok {
		f.Summary = toString(ans["summary"])
		f.Detailed = toString(ans["detailed"])
		f.WhenToUse = toString(ans["whenToUse"])
		f.RealWorldContext = toString(ans["realWorldContext"])
	} else if s := toString(obj["answer"]); s != "" {
		// Some models flatten the answer into one string; treat it as the
		// detailed body and leave the rest for validation to flag.
		f.Detailed = s
	}
	for _, req := range []struct{ name, val string }{
		{"answer.summary", f.Summary},
		{"answer.detailed", f.Detailed},
		{"answer.whenToUse", f.WhenToUse},
		{"answer.realWorldContext", f.RealWorldContext},
	} {
		if req.val == "" {
			f.Failures[req.name] = "missing or empty in response"
		}
	}
	if f.WhenToUse != "" && !strings.HasPrefix(f.WhenToUse, "Use") {
		f.WhenToUse = "Use " + f.WhenToUse
	}

	f.Category = toString(obj["category"])
	f.Subcategory = toString(obj["subcategory"])
	f.Difficulty = toString(obj["difficulty"])
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

	f.CommonMistakes = toMistakes(obj["commonMistakes"])
	if len(f.CommonMistakes) == 0 {
		f.Failures["commonMistakes"] = "missing or empty in response"
	}

	return f
}

func harvestList(f *FieldResults, obj map[string]any, key string) []string {
	items := toStringList(obj[key])
	if len(items) == 0 {
		f.Failures[key] = "missing or empty in response"
	}
	return items
}

func toString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func toStringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	items := make([]string, 0, len(raw))
	for _, item := range raw {
		if s := toString(item); s != "" {
			items = append(items, s)
		}
	}
	return items
}

func toMistakes(v any) []model.CommonMistake {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	mistakes := make([]model.CommonMistake, 0, len(raw))
	for _, item := range raw {
		switch m := item.(type) {
		case map[string]any:
			cm := model.CommonMistake{
				Mistake:     toString(m["mistake"]),
				Description: toString(m["description"]),
			}
			if cm.Mistake != "" {
				if cm.Description == "" {
					cm.Description = "Common error"
				}
				mistakes = append(mistakes, cm)
			}
		case string:
			if s := strings.TrimSpace(m); s != "" {
				mistakes = append(mistakes, model.CommonMistake{Mistake: s, Description: "Common error"})
			}
		}
	}
	return mistakes
}
