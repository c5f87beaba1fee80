package model

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// Backend identifies an AI backend family.
type Backend string

const (
	BackendOpenAI    Backend = "openai"
	BackendAnthropic Backend = "anthropic"
	BackendOllama    Backend = "ollama"
)

// ParseBackend validates a backend name from config or API input.
func ParseBackend(s string) (Backend, bool) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendOpenAI:
		return BackendOpenAI, true
	case BackendAnthropic:
		return BackendAnthropic, true
	case BackendOllama:
		return BackendOllama, true
	default:
		return "", false
	}
}

// EnrichmentRequest is one unit of work for the enrichment pipeline.
// Created per item by the orchestrator; never mutated afterwards.
type EnrichmentRequest struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer,omitempty"`
	Backend  Backend `json:"backend"`
	Model    string  `json:"model"`
}

// AnswerBody holds the four free-text answer sub-fields. All four are
// required for a record to be considered successfully enriched.
type AnswerBody struct {
	Summary          string `json:"summary"`
	Detailed         string `json:"detailed"`
	WhenToUse        string `json:"whenToUse"`
	RealWorldContext string `json:"realWorldContext"`
}

// CommonMistake pairs a mistake with its description.
type CommonMistake struct {
	Mistake     string `json:"mistake"`
	Description string `json:"description"`
}

// EnrichedRecord is the schema-conformant output for one question.
// JSON field names match the persisted knowledge-base format.
type EnrichedRecord struct {
	PrimaryQuestion      string          `json:"primaryQuestion"`
	AlternativeQuestions []string        `json:"alternativeQuestions"`
	AnswerDescriptions   []string        `json:"answerDescriptions"`
	Answer               AnswerBody      `json:"answer"`
	Category             string          `json:"category"`
	Subcategory          string          `json:"subcategory"`
	Difficulty           string          `json:"difficulty"`
	Tags                 []string        `json:"tags"`
	ConceptTriggers      []string        `json:"conceptTriggers"`
	NaturalFollowups     []string        `json:"naturalFollowups"`
	RelatedQuestions     []string        `json:"relatedQuestions"`
	CommonMistakes       []CommonMistake `json:"commonMistakes"`
	Confidence           string          `json:"confidence"`
	LastUpdated          string          `json:"lastUpdated"`
	Verified             bool            `json:"verified"`
}

// KnowledgeBase maps record IDs to enriched records. This is the shape of
// both a batch output and a persisted master file.
type KnowledgeBase map[string]EnrichedRecord

// Merge overlays other onto kb. Entries in other win on ID collisions:
// new results are primary, pre-existing entries only fill gaps.
func (kb KnowledgeBase) Merge(other KnowledgeBase) {
	for id, rec := range other {
		kb[id] = rec
	}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases text and collapses every non-alphanumeric run into a
// single hyphen.
func Slugify(text string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(text), "-")
	return strings.Trim(s, "-")
}

// RecordID derives a stable identifier for a question: a slug of the first
// 30 characters plus a short content hash of the full text, so near-duplicate
// questions with identical truncated slugs still get distinct IDs.
func RecordID(question string) string {
	slug := Slugify(question)
	if len(slug) > 30 {
		slug = strings.Trim(slug[:30], "-")
	}
	sum := md5.Sum([]byte(question))
	return "question-" + slug + "-" + hex.EncodeToString(sum[:])[:6]
}
