package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"crmhub/src/infrastructure/log"
)

const (
	// DefaultRetention is how long finished tasks remain pollable.
	DefaultRetention = time.Hour
	// DefaultSweepInterval is how often the sweeper looks for expired tasks.
	DefaultSweepInterval = 5 * time.Minute
)

// Registry tracks every in-flight and recently finished ingestion task.
// It is the single shared resource between job workers and API pollers;
// all access is serialized by one mutex and critical sections never span I/O.
type Registry struct {
	mu            sync.Mutex
	tasks         map[string]*Task
	retention     time.Duration
	sweepInterval time.Duration
}

func NewRegistry(retention, sweepInterval time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Registry{
		tasks:         make(map[string]*Task),
		retention:     retention,
		sweepInterval: sweepInterval,
	}
}

// Create registers a new pending task and returns its identifier.
func (r *Registry) Create(total int) string {
	id := uuid.New().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[id] = &Task{ID: id, Status: StatusPending, Total: total}
	return id
}

// Get returns a snapshot of the task, or false if it is unknown or has been
// evicted. Callers must treat false as "not found", not as an error.
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

// Start moves a pending task to processing and stamps its start time.
func (r *Registry) Start(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != StatusPending {
		return
	}
	now := time.Now().UTC()
	t.Status = StatusProcessing
	t.StartedAt = &now
}

// Update overwrites the cumulative counters and appends the batch's new
// errors, keeping only the most recent ones for live polling. Processed
// never goes backwards.
func (r *Registry) Update(id string, processed, success, failed int, newErrs []ErrorRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.terminal() {
		return
	}
	if processed > t.Processed {
		t.Processed = processed
	}
	t.SuccessCount = success
	t.FailedCount = failed
	if len(newErrs) > 0 {
		t.Errors = append(t.Errors, newErrs...)
		if len(t.Errors) > liveErrorCap {
			t.Errors = t.Errors[len(t.Errors)-liveErrorCap:]
		}
	}
}

// Complete freezes the task in its terminal completed state. The result's
// failed records replace the live error tail so pollers see the full
// (snapshot-capped) list.
func (r *Registry) Complete(id string, result *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.terminal() {
		return
	}
	now := time.Now().UTC()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	if result != nil {
		t.SuccessCount = result.SuccessCount
		t.FailedCount = result.FailedCount
		t.Processed = result.SuccessCount + result.FailedCount
		t.Errors = result.FailedRecords
	}
	t.Result = result
}

// Fail moves the task to its terminal failed state with the given message.
// Valid from pending (setup errors before any row is attempted) and from
// processing; a no-op on tasks already terminal.
func (r *Registry) Fail(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.terminal() {
		return
	}
	now := time.Now().UTC()
	t.Status = StatusFailed
	t.CompletedAt = &now
	t.ErrorMessage = message
}

// Sweep evicts tasks whose completion time is older than the retention
// window and reports how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, t := range r.tasks {
		if t.CompletedAt != nil && now.Sub(*t.CompletedAt) > r.retention {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// RunSweeper periodically evicts expired tasks until the context is
// cancelled. Run it in its own goroutine, owned by the server lifecycle.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(time.Now().UTC()); n > 0 {
				log.Debug("evicted expired tasks", "count", n)
			}
		}
	}
}
