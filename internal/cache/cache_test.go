package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/enrich-cli/internal/model"
)

func testRecord(question string) model.EnrichedRecord {
	return model.EnrichedRecord{
		PrimaryQuestion: question,
		Answer: model.AnswerBody{
			Summary:          "summary",
			Detailed:         "detailed",
			WhenToUse:        "Use when testing",
			RealWorldContext: "tests",
		},
		Category:    "CSS",
		Subcategory: "Styling",
		Difficulty:  "Intermediate",
	}
}

func newTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	return New(opts)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trims_and_lowercases", "  What Is CSS?  ", "what is css"},
		{"strips_trailing_punctuation", "what is css?!.", "what is css"},
		{"collapses_whitespace", "what   is\tcss", "what is css"},
		{"tell_me_about_synonym", "Tell me about flexbox", "explain flexbox"},
		{"describe_synonym", "Describe flexbox", "explain flexbox"},
		{"explain_untouched", "explain flexbox", "explain flexbox"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestKeyStableAcrossPhrasings(t *testing.T) {
	k1 := Key("What is CSS?", model.BackendOllama, "qwen:7b")
	k2 := Key("  what is css ", model.BackendOllama, "qwen:7b")
	assert.Equal(t, k1, k2)

	// Backend and model are part of the key identity.
	assert.NotEqual(t, k1, Key("What is CSS?", model.BackendOpenAI, "qwen:7b"))
	assert.NotEqual(t, k1, Key("What is CSS?", model.BackendOllama, "llama3"))
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("what is css", "What is CSS?"), 0.001)
	assert.InDelta(t, 0.8, Similarity("explain css grid layout", "explain css grid layout today"), 0.001)
	assert.Less(t, Similarity("explain css grid", "what is a goroutine"), 0.2)
	assert.Zero(t, Similarity("", "what is css"))
}

func TestLookupExactHit(t *testing.T) {
	c := newTestCache(t, Options{})
	rec := testRecord("What is CSS?")
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", rec, 0)

	got, ok := c.Lookup("what is css", model.BackendOllama, "qwen:7b")
	require.True(t, ok)
	assert.Equal(t, rec.PrimaryQuestion, got.PrimaryQuestion)
}

func TestLookupSimilarityFallback(t *testing.T) {
	c := newTestCache(t, Options{SimilarityThreshold: 0.8})
	rec := testRecord("explain css grid layout")
	c.Store("explain css grid layout", model.BackendOllama, "qwen:7b", rec, 0)

	// Jaccard 4/5 = 0.8, exactly at the threshold.
	got, ok := c.Lookup("explain css grid layout today", model.BackendOllama, "qwen:7b")
	require.True(t, ok)
	assert.Equal(t, rec.PrimaryQuestion, got.PrimaryQuestion)

	_, ok = c.Lookup("what is a goroutine", model.BackendOllama, "qwen:7b")
	assert.False(t, ok)
}

func TestLookupSimilarityRequiresSameModel(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Store("explain css grid layout", model.BackendOllama, "qwen:7b", testRecord("explain css grid layout"), 0)

	_, ok := c.Lookup("explain css grid layout today", model.BackendOllama, "llama3")
	assert.False(t, ok)
}

func TestLookupMissAcrossBackends(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", testRecord("What is CSS?"), 0)

	_, ok := c.Lookup("What is CSS?", model.BackendOpenAI, "qwen:7b")
	assert.False(t, ok)
}

func TestStoreWriteThrough(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, Options{Dir: dir})
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", testRecord("What is CSS?"), 42)

	// The file exists immediately, without any explicit flush.
	path := filepath.Join(dir, "ollama_cache.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	// A fresh cache over the same dir sees the entry.
	c2 := newTestCache(t, Options{Dir: dir})
	got, ok := c2.Lookup("What is CSS?", model.BackendOllama, "qwen:7b")
	require.True(t, ok)
	assert.Equal(t, "What is CSS?", got.PrimaryQuestion)
}

func TestCorruptFileLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ollama_cache.json"), []byte("{not json"), 0o644))

	c := newTestCache(t, Options{Dir: dir})
	_, ok := c.Lookup("anything", model.BackendOllama, "qwen:7b")
	assert.False(t, ok)

	// The cache stays usable after discarding the corrupt file.
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", testRecord("What is CSS?"), 0)
	_, ok = c.Lookup("What is CSS?", model.BackendOllama, "qwen:7b")
	assert.True(t, ok)
}

func TestExpiredEntriesAreMisses(t *testing.T) {
	c := newTestCache(t, Options{MaxAge: time.Nanosecond})
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", testRecord("What is CSS?"), 0)

	time.Sleep(time.Millisecond)
	_, ok := c.Lookup("What is CSS?", model.BackendOllama, "qwen:7b")
	assert.False(t, ok)
}

func TestEvictionDropsOldestFirst(t *testing.T) {
	c := newTestCache(t, Options{MaxEntries: 2})

	c.Store("question one about html", model.BackendOllama, "qwen:7b", testRecord("one"), 0)
	time.Sleep(2 * time.Millisecond)
	c.Store("question two about css", model.BackendOllama, "qwen:7b", testRecord("two"), 0)
	time.Sleep(2 * time.Millisecond)
	c.Store("question three about javascript", model.BackendOllama, "qwen:7b", testRecord("three"), 0)

	_, ok := c.Lookup("question one about html", model.BackendOllama, "qwen:7b")
	assert.False(t, ok, "oldest entry should be evicted")

	_, ok = c.Lookup("question two about css", model.BackendOllama, "qwen:7b")
	assert.True(t, ok)
	_, ok = c.Lookup("question three about javascript", model.BackendOllama, "qwen:7b")
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Store("q1 about html", model.BackendOllama, "qwen:7b", testRecord("q1"), 0)
	c.Store("q2 about css", model.BackendOpenAI, "gpt-4o-mini", testRecord("q2"), 0)

	c.Clear(model.BackendOllama)
	_, ok := c.Lookup("q1 about html", model.BackendOllama, "qwen:7b")
	assert.False(t, ok)
	_, ok = c.Lookup("q2 about css", model.BackendOpenAI, "gpt-4o-mini")
	assert.True(t, ok)

	c.Clear("")
	_, ok = c.Lookup("q2 about css", model.BackendOpenAI, "gpt-4o-mini")
	assert.False(t, ok)
}

func TestStats(t *testing.T) {
	c := newTestCache(t, Options{})
	c.Store("What is CSS?", model.BackendOllama, "qwen:7b", testRecord("What is CSS?"), 0)

	c.Lookup("What is CSS?", model.BackendOllama, "qwen:7b") // hit
	c.Lookup("unrelated question", model.BackendOllama, "qwen:7b")

	stats := c.Stats()
	assert.Equal(t, 1, stats.Hits)
	// Clear and Stats themselves never count; only lookups do.
	assert.GreaterOrEqual(t, stats.Misses, 1)
	assert.Equal(t, 1, stats.Sizes["ollama"])
	assert.InDelta(t, 50.0, stats.HitRate, 0.1)
}
