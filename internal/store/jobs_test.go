package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prepstack/enrich-cli/internal/model"
)

func newTestJobStore(t *testing.T) *JobStore {
	t.Helper()
	s, err := NewJobStore(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestBatch() *model.Batch {
	now := time.Now().UTC()
	return &model.Batch{
		ID:        uuid.NewString(),
		Topic:     "css",
		Backend:   model.BackendOllama,
		Model:     "qwen:7b",
		Status:    model.BatchStatusStarting,
		Total:     3,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateAndGetBatch(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	b := newTestBatch()
	require.NoError(t, s.CreateBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, "css", got.Topic)
	assert.Equal(t, model.BackendOllama, got.Backend)
	assert.Equal(t, model.BatchStatusStarting, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.Nil(t, got.Result)
}

func TestUpdateBatch(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	b := newTestBatch()
	require.NoError(t, s.CreateBatch(ctx, b))

	b.Status = model.BatchStatusProcessing
	b.Processed = 2
	require.NoError(t, s.UpdateBatch(ctx, b))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusProcessing, got.Status)
	assert.Equal(t, 2, got.Processed)
}

func TestUpdateUnknownBatch(t *testing.T) {
	s := newTestJobStore(t)
	b := newTestBatch()
	err := s.UpdateBatch(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSaveAndLoadResult(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	b := newTestBatch()
	require.NoError(t, s.CreateBatch(ctx, b))

	result := &model.BatchResult{
		Records: model.KnowledgeBase{
			"question-what-is-css-abc123": {PrimaryQuestion: "What is CSS?"},
		},
		Items: []model.ItemResult{
			{Question: "What is CSS?", RecordID: "question-what-is-css-abc123", Duration: 1200},
			{Question: "broken", Error: "incomplete record"},
		},
		Errors:    []string{"broken: incomplete record"},
		Processed: 2,
		Total:     3,
	}
	require.NoError(t, s.SaveResult(ctx, b.ID, result))

	got, err := s.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Len(t, got.Result.Records, 1)
	assert.Len(t, got.Result.Items, 2)
	assert.Equal(t, 2, got.Result.Processed)
}

func TestGetUnknownBatch(t *testing.T) {
	s := newTestJobStore(t)
	_, err := s.GetBatch(context.Background(), "missing")
	require.Error(t, err)
}

func TestListBatches(t *testing.T) {
	s := newTestJobStore(t)
	ctx := context.Background()

	b1 := newTestBatch()
	require.NoError(t, s.CreateBatch(ctx, b1))

	b2 := newTestBatch()
	b2.Topic = "angular"
	b2.Status = model.BatchStatusCompleted
	require.NoError(t, s.CreateBatch(ctx, b2))

	all, err := s.ListBatches(ctx, BatchFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	completed, err := s.ListBatches(ctx, BatchFilter{Status: model.BatchStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, b2.ID, completed[0].ID)

	byTopic, err := s.ListBatches(ctx, BatchFilter{Topic: "css"})
	require.NoError(t, err)
	require.Len(t, byTopic, 1)
	assert.Equal(t, b1.ID, byTopic[0].ID)

	limited, err := s.ListBatches(ctx, BatchFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
