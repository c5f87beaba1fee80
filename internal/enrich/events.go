package enrich

import (
	"go.uber.org/zap"

	"github.com/prepstack/enrich-cli/internal/model"
)

// Emitter receives progress notifications during a batch run. Notifications
// are advisory; an emitter must never block or influence the outcome.
type Emitter interface {
	BatchUpdate(batch model.Batch)
	ItemStart(batchID, question string, index, total int)
	ItemDone(batchID string, result model.ItemResult)
	FieldStep(batchID, question, field string, err error)
}

// NopEmitter discards all notifications.
type NopEmitter struct{}

func (NopEmitter) BatchUpdate(model.Batch)                 {}
func (NopEmitter) ItemStart(string, string, int, int)      {}
func (NopEmitter) ItemDone(string, model.ItemResult)       {}
func (NopEmitter) FieldStep(string, string, string, error) {}

// LogEmitter reports progress through the global logger.
type LogEmitter struct{}

func (LogEmitter) BatchUpdate(b model.Batch) {
	zap.L().Info("batch update",
		zap.String("batch_id", b.ID),
		zap.String("status", string(b.Status)),
		zap.Int("processed", b.Processed),
		zap.Int("total", b.Total),
	)
}

func (LogEmitter) ItemStart(batchID, question string, index, total int) {
	zap.L().Info("enriching question",
		zap.String("batch_id", batchID),
		zap.String("question", truncate(question, 60)),
		zap.Int("index", index+1),
		zap.Int("total", total),
	)
}

func (LogEmitter) ItemDone(batchID string, r model.ItemResult) {
	if r.Succeeded() {
		zap.L().Info("question enriched",
			zap.String("batch_id", batchID),
			zap.String("record_id", r.RecordID),
			zap.Bool("cached", r.Cached),
			zap.Int64("duration_ms", r.Duration),
		)
		return
	}
	zap.L().Warn("question failed",
		zap.String("batch_id", batchID),
		zap.String("question", truncate(r.Question, 60)),
		zap.String("error", r.Error),
	)
}

func (LogEmitter) FieldStep(batchID, question, field string, err error) {
	if err == nil {
		zap.L().Debug("field generated",
			zap.String("batch_id", batchID),
			zap.String("field", field),
		)
		return
	}
	zap.L().Warn("field failed",
		zap.String("batch_id", batchID),
		zap.String("question", truncate(question, 60)),
		zap.String("field", field),
		zap.Error(err),
	)
}
