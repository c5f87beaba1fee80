package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prepstack/enrich-cli/internal/model"
)

// MasterStore manages per-topic master knowledge-base files. Each topic is
// one JSON document mapping record IDs to enriched records.
type MasterStore struct {
	mu        sync.Mutex
	dir       string
	backupDir string
}

// NewMasterStore creates a master store rooted at dir. Backups of replaced
// files go to backupDir.
func NewMasterStore(dir, backupDir string) *MasterStore {
	return &MasterStore{dir: dir, backupDir: backupDir}
}

// MasterStats summarizes one topic's master file.
type MasterStats struct {
	Topic      string         `json:"topic"`
	Records    int            `json:"records"`
	Categories map[string]int `json:"categories"`
	Verified   int            `json:"verified"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (s *MasterStore) masterFile(topic string) string {
	return filepath.Join(s.dir, "qa_master_"+model.Slugify(topic)+".json")
}

// Load reads the master knowledge base for a topic. A missing file is an
// empty knowledge base, not an error.
func (s *MasterStore) Load(topic string) (model.KnowledgeBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadFile(s.masterFile(topic))
}

func (s *MasterStore) loadFile(path string) (model.KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(model.KnowledgeBase), nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: read master %s", path)
	}

	kb := make(model.KnowledgeBase)
	if err := json.Unmarshal(data, &kb); err != nil {
		return nil, eris.Wrapf(err, "store: decode master %s", path)
	}
	return kb, nil
}

// SaveBatch merges new records into the topic's master file. New records win
// ID collisions. The previous file, if any, is backed up with a timestamped
// name before the replacement is written.
func (s *MasterStore) SaveBatch(topic string, records model.KnowledgeBase) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.masterFile(topic)
	existing, err := s.loadFile(path)
	if err != nil {
		return 0, err
	}

	if len(existing) > 0 {
		if err := s.backup(topic, path); err != nil {
			// A failed backup never blocks the save; the merge is the
			// operation the caller asked for.
			zap.L().Warn("store: master backup failed",
				zap.String("topic", topic),
				zap.Error(err),
			)
		}
	}

	existing.Merge(records)

	if err := s.writeFile(path, existing); err != nil {
		return 0, err
	}
	zap.L().Info("master file updated",
		zap.String("topic", topic),
		zap.Int("added", len(records)),
		zap.Int("total", len(existing)),
	)
	return len(existing), nil
}

func (s *MasterStore) backup(topic, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "store: read for backup")
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return eris.Wrap(err, "store: create backup dir")
	}
	name := "qa_backup_" + model.Slugify(topic) + "_" + time.Now().Format("20060102_150405") + ".json"
	if err := os.WriteFile(filepath.Join(s.backupDir, name), data, 0o644); err != nil {
		return eris.Wrap(err, "store: write backup")
	}
	return nil
}

func (s *MasterStore) writeFile(path string, kb model.KnowledgeBase) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "store: create data dir")
	}
	data, err := json.MarshalIndent(kb, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: encode master")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "store: write master %s", path)
	}
	return nil
}

// Stats computes summary statistics for a topic's master file.
func (s *MasterStore) Stats(topic string) (*MasterStats, error) {
	s.mu.Lock()
	path := s.masterFile(topic)
	kb, err := s.loadFile(path)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	stats := &MasterStats{
		Topic:      topic,
		Records:    len(kb),
		Categories: make(map[string]int),
	}
	for _, rec := range kb {
		stats.Categories[rec.Category]++
		if rec.Verified {
			stats.Verified++
		}
	}
	if info, err := os.Stat(path); err == nil {
		stats.UpdatedAt = info.ModTime().UTC()
	}
	return stats, nil
}

// Topics lists the topics that have a master file on disk.
func (s *MasterStore) Topics() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: read data dir")
	}

	var topics []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, "qa_master_") && strings.HasSuffix(name, ".json") {
			topics = append(topics, strings.TrimSuffix(strings.TrimPrefix(name, "qa_master_"), ".json"))
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// MergeFiles loads several knowledge-base files concurrently and merges them
// into the target topic's master file. Later paths win ID collisions against
// earlier paths; all of them win against the existing master content.
func (s *MasterStore) MergeFiles(topic string, paths []string) (int, error) {
	loaded := make([]model.KnowledgeBase, len(paths))

	var g errgroup.Group
	g.SetLimit(4)
	for i, path := range paths {
		g.Go(func() error {
			kb, err := s.loadFile(path)
			if err != nil {
				return err
			}
			loaded[i] = kb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	merged := make(model.KnowledgeBase)
	for _, kb := range loaded {
		merged.Merge(kb)
	}
	return s.SaveBatch(topic, merged)
}
