package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"

	"crmhub/src/infrastructure/log"
)

// Loader adapts one entity type to the generic ingestion pipeline. A Loader
// is bound to its own storage session; the pipeline owns exactly one per run
// and recreates it when a bulk insert keeps failing on connection errors.
type Loader[T any] interface {
	// Convert validates a raw row and builds a typed record. A
	// ValidationError excludes the row from the insert set without
	// affecting its batch.
	Convert(row Row) (T, error)
	// Key returns the record's normalized natural key, or "" when the
	// entity has none. Used for duplicate rejection.
	Key(rec T) string
	// Describe returns an identifying field value for error reports.
	Describe(rec T) string
	// ExistingKeys reports which of the given keys are already present in
	// storage.
	ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error)
	// BulkInsert writes the whole batch in one statement, rolling back all
	// of it on failure.
	BulkInsert(ctx context.Context, recs []T) error
	// InsertOne writes a single record, rolling back only that record on
	// failure.
	InsertOne(ctx context.Context, rec T) error
	Close() error
}

// LoaderFactory opens a fresh storage session, using the currently valid
// credential, and returns a Loader bound to it.
type LoaderFactory[T any] func(ctx context.Context) (Loader[T], error)

// Credentials supplies a valid, possibly expiring write credential.
type Credentials interface {
	Ensure(ctx context.Context, force bool) (string, error)
}

// Config tunes the partitioning and retry behavior of a pipeline run.
// Chunk and batch sizes trade throughput against progress granularity and
// failure blast radius; they carry no further meaning.
type Config struct {
	ChunkSize         int
	BatchSize         int
	MaxInsertAttempts uint
	RetryBaseDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 5000
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MaxInsertAttempts == 0 {
		c.MaxInsertAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	return c
}

// Pipeline drives one ingestion run for a single entity type: partitioning,
// credential upkeep, duplicate rejection, batched writes with per-record
// fallback, and progress reporting.
type Pipeline[T any] struct {
	cfg       Config
	newLoader LoaderFactory[T]
	creds     Credentials
	registry  *Registry
	events    *Events
}

func NewPipeline[T any](cfg Config, f LoaderFactory[T], creds Credentials, registry *Registry, events *Events) *Pipeline[T] {
	return &Pipeline[T]{
		cfg:       cfg.withDefaults(),
		newLoader: f,
		creds:     creds,
		registry:  registry,
		events:    events,
	}
}

type staged[T any] struct {
	rec T
	row int // absolute zero-based input position
	raw Row
}

// Run processes rows from start to finish and returns the aggregate result.
// Row- and batch-level failures are folded into the result; only credential
// failure at startup, session setup failure, or context cancellation surface
// as an error, which the caller must turn into a failed task.
func (p *Pipeline[T]) Run(ctx context.Context, taskID string, rows []Row) (*Result, error) {
	if p.creds != nil {
		if _, err := p.creds.Ensure(ctx, false); err != nil {
			return nil, &AuthError{Err: err}
		}
	}

	loader, err := p.newLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage session: %w", err)
	}
	defer func() {
		if cerr := loader.Close(); cerr != nil {
			log.Error(cerr, "failed to close storage session", "task_id", taskID)
		}
	}()

	var (
		successCount int
		failedCount  int
		failed       []ErrorRecord
		// Natural keys accepted during this run, so duplicates inside the
		// same upload are caught before they reach storage.
		seen = make(map[string]struct{})
		// Index into failed up to which errors were already reported.
		reported int
	)

	for ci, chunk := range Chunks(len(rows), p.cfg.ChunkSize) {
		// Long uploads outlive the credential; re-validate it at every
		// chunk boundary after the first. Failure is non-fatal since the
		// cached credential may still be good.
		if p.creds != nil && ci > 0 {
			if _, err := p.creds.Ensure(ctx, false); err != nil {
				log.Error(err, "credential refresh failed, continuing with existing credential", "task_id", taskID)
			}
		}

		for _, batch := range Batches(chunk, p.cfg.BatchSize) {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("ingestion aborted at record %d: %w", batch.Start, err)
			}

			pending := make([]staged[T], 0, batch.Len())
			for i, row := range rows[batch.Start:batch.End] {
				abs := batch.Start + i
				rec, err := loader.Convert(row)
				if err != nil {
					failedCount++
					failed = append(failed, ErrorRecord{
						Row:     abs + HeaderOffset,
						Field:   identify(row),
						Message: err.Error(),
						Data:    row,
					})
					continue
				}
				pending = append(pending, staged[T]{rec: rec, row: abs, raw: row})
			}

			toInsert := p.rejectDuplicates(ctx, loader, pending, seen, &failedCount, &failed)

			if len(toInsert) > 0 {
				recs := make([]T, len(toInsert))
				for i, s := range toInsert {
					recs[i] = s.rec
				}
				if err := p.bulkInsert(ctx, &loader, taskID, recs); err != nil {
					log.Error(err, "bulk insert failed, falling back to per-record inserts",
						"task_id", taskID, "batch_start", batch.Start, "batch_size", len(recs))
					s, f := p.insertIndividually(ctx, loader, toInsert, &failed)
					successCount += s
					failedCount += f
				} else {
					successCount += len(toInsert)
				}
			}

			p.registry.Update(taskID, batch.End, successCount, failedCount, failed[reported:])
			reported = len(failed)
			p.events.Progress(taskID, batch.End, len(rows))
		}
	}

	return &Result{
		Success:       true,
		Message:       fmt.Sprintf("Processed %d records", len(rows)),
		SuccessCount:  successCount,
		FailedCount:   failedCount,
		FailedRecords: failed,
	}, nil
}

// rejectDuplicates filters out records whose natural key already exists in
// storage or earlier in this run. One storage lookup per batch; a failed
// lookup degrades to constraint-based detection at insert time.
func (p *Pipeline[T]) rejectDuplicates(ctx context.Context, loader Loader[T], pending []staged[T], seen map[string]struct{}, failedCount *int, failed *[]ErrorRecord) []staged[T] {
	keys := make([]string, 0, len(pending))
	for _, s := range pending {
		if k := loader.Key(s.rec); k != "" {
			keys = append(keys, k)
		}
	}

	var existing map[string]struct{}
	if len(keys) > 0 {
		var err error
		existing, err = loader.ExistingKeys(ctx, keys)
		if err != nil {
			log.Error(err, "duplicate precheck failed, relying on storage constraints")
			existing = nil
		}
	}

	toInsert := pending[:0]
	for _, s := range pending {
		k := loader.Key(s.rec)
		if k == "" {
			toInsert = append(toInsert, s)
			continue
		}
		_, inStorage := existing[k]
		_, inRun := seen[k]
		if inStorage || inRun {
			dup := &DuplicateError{Key: k}
			*failedCount++
			*failed = append(*failed, ErrorRecord{
				Row:     s.row + HeaderOffset,
				Field:   loader.Describe(s.rec),
				Message: dup.Error(),
				Data:    s.raw,
			})
			continue
		}
		seen[k] = struct{}{}
		toInsert = append(toInsert, s)
	}
	return toInsert
}

// bulkInsert attempts the throughput-optimal whole-batch write, retrying
// transient connection failures with exponential backoff and a recreated
// session. Non-transient errors return immediately so the caller can fall
// back to per-record inserts.
func (p *Pipeline[T]) bulkInsert(ctx context.Context, loader *Loader[T], taskID string, recs []T) error {
	return retry.Do(
		func() error {
			return (*loader).BulkInsert(ctx, recs)
		},
		retry.Attempts(p.cfg.MaxInsertAttempts),
		retry.Delay(p.cfg.RetryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			log.Error(err, "transient bulk insert failure, recreating session",
				"task_id", taskID, "attempt", n+1)
			if p.creds != nil {
				if _, cerr := p.creds.Ensure(ctx, true); cerr != nil {
					log.Error(cerr, "forced credential refresh failed", "task_id", taskID)
				}
			}
			fresh, lerr := p.newLoader(ctx)
			if lerr != nil {
				log.Error(lerr, "failed to recreate storage session", "task_id", taskID)
				return
			}
			if cerr := (*loader).Close(); cerr != nil {
				log.Error(cerr, "failed to close stale session", "task_id", taskID)
			}
			*loader = fresh
		}),
	)
}

// insertIndividually is the fallback path: each record gets its own insert
// and its own rollback, so one bad record cannot sink its siblings.
func (p *Pipeline[T]) insertIndividually(ctx context.Context, loader Loader[T], recs []staged[T], failed *[]ErrorRecord) (success, failures int) {
	for _, s := range recs {
		if err := loader.InsertOne(ctx, s.rec); err != nil {
			failures++
			*failed = append(*failed, ErrorRecord{
				Row:     s.row + HeaderOffset,
				Field:   loader.Describe(s.rec),
				Message: err.Error(),
				Data:    s.raw,
			})
			continue
		}
		success++
	}
	return success, failures
}

// identify picks a human-recognizable field from a raw row for error
// reports on records that never became typed.
func identify(row Row) string {
	for _, field := range []string{"email", "name", "title"} {
		if v := row[field]; v != "" {
			return v
		}
	}
	return "N/A"
}
