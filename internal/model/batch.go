package model

import "time"

// BatchStatus tracks a batch through its lifecycle.
type BatchStatus string

const (
	BatchStatusStarting        BatchStatus = "starting"
	BatchStatusCheckingBackend BatchStatus = "checking_backend"
	BatchStatusProcessing      BatchStatus = "processing"
	BatchStatusCompleted       BatchStatus = "completed"
	BatchStatusFailed          BatchStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// Batch is one orchestrated enrichment run over a list of questions.
type Batch struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	Backend   Backend     `json:"backend"`
	Model     string      `json:"model"`
	Status    BatchStatus `json:"status"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ItemResult records the outcome of a single question within a batch.
type ItemResult struct {
	Question string `json:"question"`
	RecordID string `json:"record_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
	Duration int64  `json:"duration_ms"`
}

// Succeeded reports whether the item produced a record.
func (r ItemResult) Succeeded() bool {
	return r.Error == ""
}

// BatchResult aggregates a finished batch: every successful record plus an
// explicit list of per-item failure messages. A batch with item failures is
// still Completed; Failed is reserved for backend-unreachable and
// unclassified errors.
type BatchResult struct {
	Records   KnowledgeBase `json:"records"`
	Items     []ItemResult  `json:"items"`
	Errors    []string      `json:"errors"`
	Processed int           `json:"processed"`
	Total     int           `json:"total"`
}
