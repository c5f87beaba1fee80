// Package cache memoizes enriched records per (question, backend, model) so
// repeated or near-duplicate questions never cost a second backend call. The
// cache is a performance optimization, never a correctness dependency: a
// corrupt persisted file loads as an empty cache.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prepstack/enrich-cli/internal/model"
)

// Entry is one persisted cache record. Field names match the on-disk format.
type Entry struct {
	OriginalQuestion string               `json:"original_question"`
	Backend          model.Backend        `json:"backend"`
	Model            string               `json:"model"`
	Response         model.EnrichedRecord `json:"response"`
	Timestamp        time.Time            `json:"timestamp"`
	TokensUsed       int                  `json:"tokens_used"`
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits     int            `json:"cache_hits"`
	Misses   int            `json:"cache_misses"`
	HitRate  float64        `json:"hit_rate_percent"`
	Sizes    map[string]int `json:"sizes"`
	Requests int            `json:"total_requests"`
}

// Options configures the cache.
type Options struct {
	Dir                 string
	MaxAge              time.Duration
	MaxEntries          int
	SimilarityThreshold float64
}

type shard struct {
	entries map[string]Entry
	order   []string // insertion order; similarity ties resolve to the earliest entry
}

// Cache is a file-backed response cache, one JSON document per backend
// family, write-through on every store.
type Cache struct {
	mu     sync.Mutex
	opts   Options
	shards map[model.Backend]*shard
	hits   int
	misses int
}

// New loads the persisted caches from opts.Dir, dropping expired entries.
// Loading never fails: unreadable or corrupt files yield empty shards.
func New(opts Options) *Cache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1000
	}
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.8
	}

	c := &Cache{
		opts:   opts,
		shards: make(map[model.Backend]*shard),
	}
	for _, b := range []model.Backend{model.BackendOpenAI, model.BackendAnthropic, model.BackendOllama} {
		c.shards[b] = c.load(b)
	}
	return c
}

// Key derives the deterministic cache key for a (question, backend, model)
// triple: the md5 hex digest of the normalized question joined with the
// backend and model identities.
func Key(question string, backend model.Backend, mdl string) string {
	content := Normalize(question) + ":" + string(backend) + ":" + mdl
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// openerSynonyms canonicalizes question openers so phrasing variants share a
// key. Longer prefixes are checked first.
var openerSynonyms = []struct{ from, to string }{
	{"tell me about", "explain"},
	{"describe", "explain"},
}

// Normalize prepares question text for keying and similarity comparison:
// trim, lowercase, strip trailing punctuation, collapse whitespace,
// canonicalize opener synonyms.
func Normalize(question string) string {
	s := strings.ToLower(strings.TrimSpace(question))
	s = strings.TrimRight(s, "?!.")
	s = strings.Join(strings.Fields(s), " ")
	for _, syn := range openerSynonyms {
		if strings.HasPrefix(s, syn.from) {
			s = syn.to + s[len(syn.from):]
			break
		}
	}
	return s
}

// Similarity computes word-set Jaccard similarity between two normalized
// questions.
func Similarity(q1, q2 string) float64 {
	w1 := wordSet(Normalize(q1))
	w2 := wordSet(Normalize(q2))
	if len(w1) == 0 || len(w2) == 0 {
		return 0
	}
	inter := 0
	for w := range w1 {
		if _, ok := w2[w]; ok {
			inter++
		}
	}
	union := len(w1) + len(w2) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// Lookup returns the cached record for the question, or ok=false on a miss.
// An exact key match is tried first; failing that, the best entry for the
// same backend and model with similarity at or above the threshold is
// returned.
// Exact ties at the threshold resolve to the earliest stored entry.
func (c *Cache) Lookup(question string, backend model.Backend, mdl string) (model.EnrichedRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh := c.shards[backend]
	if sh == nil {
		c.misses++
		return model.EnrichedRecord{}, false
	}

	key := Key(question, backend, mdl)
	if e, ok := sh.entries[key]; ok && !c.expired(e) {
		c.hits++
		zap.L().Debug("cache hit (exact)", zap.String("question", truncate(question, 50)))
		return e.Response, true
	}

	// Similarity fallback over entries for the same backend/model, scanned
	// in insertion order.
	bestKey := ""
	bestSim := 0.0
	for _, k := range sh.order {
		e, ok := sh.entries[k]
		if !ok || e.Model != mdl || c.expired(e) {
			continue
		}
		sim := Similarity(question, e.OriginalQuestion)
		if sim >= c.opts.SimilarityThreshold && sim > bestSim {
			bestSim = sim
			bestKey = k
		}
	}
	if bestKey != "" {
		c.hits++
		zap.L().Debug("cache hit (similar)",
			zap.String("question", truncate(question, 50)),
			zap.Float64("similarity", bestSim),
		)
		return sh.entries[bestKey].Response, true
	}

	c.misses++
	return model.EnrichedRecord{}, false
}

// Store writes the record under the exact key, overwriting unconditionally,
// and persists the shard. Eviction drops oldest-by-timestamp entries once
// the shard exceeds the entry limit.
func (c *Cache) Store(question string, backend model.Backend, mdl string, record model.EnrichedRecord, tokensUsed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sh := c.shards[backend]
	if sh == nil {
		sh = &shard{entries: make(map[string]Entry)}
		c.shards[backend] = sh
	}

	key := Key(question, backend, mdl)
	if _, exists := sh.entries[key]; !exists {
		sh.order = append(sh.order, key)
	}
	sh.entries[key] = Entry{
		OriginalQuestion: question,
		Backend:          backend,
		Model:            mdl,
		Response:         record,
		Timestamp:        time.Now().UTC(),
		TokensUsed:       tokensUsed,
	}

	c.evict(sh)
	c.persist(backend, sh)
}

// Clear removes all entries for the backend, or for every backend when the
// argument is empty, and persists the emptied shards.
func (c *Cache) Clear(backend model.Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for b, sh := range c.shards {
		if backend != "" && b != backend {
			continue
		}
		sh.entries = make(map[string]Entry)
		sh.order = nil
		c.persist(b, sh)
	}
}

// Stats returns hit/miss counters and per-backend sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	sizes := make(map[string]int, len(c.shards))
	for b, sh := range c.shards {
		sizes[string(b)] = len(sh.entries)
	}
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  rate,
		Sizes:    sizes,
		Requests: total,
	}
}

func (c *Cache) expired(e Entry) bool {
	return time.Since(e.Timestamp) >= c.opts.MaxAge
}

func (c *Cache) evict(sh *shard) {
	if len(sh.entries) <= c.opts.MaxEntries {
		return
	}
	type aged struct {
		key string
		ts  time.Time
	}
	all := make([]aged, 0, len(sh.entries))
	for k, e := range sh.entries {
		all = append(all, aged{k, e.Timestamp})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })

	for _, a := range all[:len(all)-c.opts.MaxEntries] {
		delete(sh.entries, a.key)
	}
	kept := sh.order[:0]
	for _, k := range sh.order {
		if _, ok := sh.entries[k]; ok {
			kept = append(kept, k)
		}
	}
	sh.order = kept
}

func (c *Cache) cacheFile(backend model.Backend) string {
	return filepath.Join(c.opts.Dir, string(backend)+"_cache.json")
}

// load reads one backend's persisted cache, dropping expired and malformed
// entries. Any read or decode failure yields an empty shard.
func (c *Cache) load(backend model.Backend) *shard {
	sh := &shard{entries: make(map[string]Entry)}

	data, err := os.ReadFile(c.cacheFile(backend))
	if err != nil {
		return sh
	}

	var raw map[string]Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		zap.L().Warn("cache: discarding corrupt cache file",
			zap.String("backend", string(backend)),
			zap.Error(err),
		)
		return sh
	}

	type aged struct {
		key string
		ts  time.Time
	}
	var keys []aged
	for k, e := range raw {
		if c.expired(e) {
			continue
		}
		sh.entries[k] = e
		keys = append(keys, aged{k, e.Timestamp})
	}
	// Reconstruct insertion order from timestamps; the map itself is
	// unordered once round-tripped through JSON.
	sort.Slice(keys, func(i, j int) bool { return keys[i].ts.Before(keys[j].ts) })
	for _, a := range keys {
		sh.order = append(sh.order, a.key)
	}
	return sh
}

func (c *Cache) persist(backend model.Backend, sh *shard) {
	if err := os.MkdirAll(c.opts.Dir, 0o755); err != nil {
		zap.L().Warn("cache: create dir", zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(sh.entries, "", "  ")
	if err != nil {
		zap.L().Warn("cache: marshal", zap.Error(err))
		return
	}
	if err := os.WriteFile(c.cacheFile(backend), data, 0o644); err != nil {
		zap.L().Warn("cache: write file", zap.Error(eris.Wrap(err, "cache: write file")))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
