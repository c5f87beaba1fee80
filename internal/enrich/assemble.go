package enrich

import (
	"fmt"
	"strings"
	"time"

	"github.com/prepstack/enrich-cli/internal/model"
)

// FieldResults collects the per-unit outputs before assembly. Optional list
// fields may be shorter than their target counts or empty; the four answer
// sub-fields and the category triple are required.
type FieldResults struct {
	PrimaryQuestion      string
	AlternativeQuestions []string
	AnswerDescriptions   []string
	Summary              string
	Detailed             string
	WhenToUse            string
	RealWorldContext     string
	Category             string
	Subcategory          string
	Difficulty           string
	Tags                 []string
	ConceptTriggers      []string
	NaturalFollowups     []string
	RelatedQuestions     []string
	CommonMistakes       []model.CommonMistake

	// Failures records field units that never produced a usable value,
	// keyed by unit name. Informational; optional-field failures do not
	// block assembly.
	Failures map[string]string
}

// IncompleteRecordError reports assembly failure due to missing required
// fields.
type IncompleteRecordError struct {
	Missing []string
}

func (e *IncompleteRecordError) Error() string {
	return fmt.Sprintf("incomplete record: missing required field(s) %s", strings.Join(e.Missing, ", "))
}

// Assemble merges field results into the final record shape, generates the
// record ID and stamps bookkeeping metadata. It performs no I/O and fails
// only when required fields are absent. Identical inputs yield identical
// output except for the lastUpdated date.
func Assemble(question string, f FieldResults) (string, model.EnrichedRecord, error) {
	var missing []string
	for _, req := range []struct{ name, val string }{
		{"answer.summary", f.Summary},
		{"answer.detailed", f.Detailed},
		{"answer.whenToUse", f.WhenToUse},
		{"answer.realWorldContext", f.RealWorldContext},
		{"category", f.Category},
		{"subcategory", f.Subcategory},
		{"difficulty", f.Difficulty},
	} {
		if strings.TrimSpace(req.val) == "" {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return "", model.EnrichedRecord{}, &IncompleteRecordError{Missing: missing}
	}

	primary := f.PrimaryQuestion
	if primary == "" {
		primary = question
	}

	id := model.RecordID(question)
	rec := model.EnrichedRecord{
		PrimaryQuestion:      primary,
		AlternativeQuestions: emptyIfNil(f.AlternativeQuestions),
		AnswerDescriptions:   emptyIfNil(f.AnswerDescriptions),
		Answer: model.AnswerBody{
			Summary:          f.Summary,
			Detailed:         f.Detailed,
			WhenToUse:        f.WhenToUse,
			RealWorldContext: f.RealWorldContext,
		},
		Category:         f.Category,
		Subcategory:      f.Subcategory,
		Difficulty:       f.Difficulty,
		Tags:             emptyIfNil(f.Tags),
		ConceptTriggers:  emptyIfNil(f.ConceptTriggers),
		NaturalFollowups: emptyIfNil(f.NaturalFollowups),
		RelatedQuestions: emptyIfNil(f.RelatedQuestions),
		CommonMistakes:   f.CommonMistakes,
		Confidence:       "high",
		LastUpdated:      time.Now().Format("2006-01-02"),
		Verified:         false,
	}
	if rec.CommonMistakes == nil {
		rec.CommonMistakes = []model.CommonMistake{}
	}
	return id, rec, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
