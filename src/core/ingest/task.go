package ingest

import (
	"math"
	"time"
)

// Status defines the lifecycle state of an ingestion task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// HeaderOffset maps a zero-based record position to the row number the user
// sees in the workbook: row 1 is the header, data starts at row 2.
const HeaderOffset = 2

const (
	// liveErrorCap bounds the error tail kept while a task is running.
	liveErrorCap = 10
	// snapshotErrorCap bounds the errors returned in a polled snapshot.
	snapshotErrorCap = 100
)

// Row is one record from an uploaded workbook, keyed by column name.
type Row map[string]string

// ErrorRecord describes a single failed record. Immutable once appended.
type ErrorRecord struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"error"`
	Data    Row    `json:"data,omitempty"`
}

// Result is the final payload of a finished ingestion run. FailedRecords
// holds the full working set; snapshots cap what they expose.
type Result struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	SuccessCount  int           `json:"success_count"`
	FailedCount   int           `json:"failed_count"`
	FailedRecords []ErrorRecord `json:"failed_records"`
}

// Task is the mutable progress state of one ingestion job. All access goes
// through the Registry lock; a Task is never handed out directly.
type Task struct {
	ID           string
	Status       Status
	Total        int
	Processed    int
	SuccessCount int
	FailedCount  int
	Errors       []ErrorRecord
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Result       *Result
	ErrorMessage string
}

// Snapshot is the read-only view of a task returned to pollers.
type Snapshot struct {
	TaskID             string        `json:"task_id"`
	Status             Status        `json:"status"`
	Total              int           `json:"total"`
	Processed          int           `json:"processed"`
	SuccessCount       int           `json:"success_count"`
	FailedCount        int           `json:"failed_count"`
	Errors             []ErrorRecord `json:"errors"`
	StartedAt          *time.Time    `json:"started_at"`
	CompletedAt        *time.Time    `json:"completed_at"`
	Result             *Result       `json:"result"`
	ErrorMessage       string        `json:"error_message,omitempty"`
	ProgressPercentage float64       `json:"progress_percentage"`
}

func (t *Task) snapshot() Snapshot {
	errs := t.Errors
	if len(errs) > snapshotErrorCap {
		errs = errs[:snapshotErrorCap]
	}
	out := make([]ErrorRecord, len(errs))
	copy(out, errs)

	var pct float64
	if t.Total > 0 {
		pct = math.Round(float64(t.Processed)/float64(t.Total)*100*100) / 100
	}

	return Snapshot{
		TaskID:             t.ID,
		Status:             t.Status,
		Total:              t.Total,
		Processed:          t.Processed,
		SuccessCount:       t.SuccessCount,
		FailedCount:        t.FailedCount,
		Errors:             out,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
		Result:             t.Result,
		ErrorMessage:       t.ErrorMessage,
		ProgressPercentage: pct,
	}
}

func (t *Task) terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}
