package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmhub/src/core/ingest"
)

type fakeRec struct {
	email string
	name  string
}

// fakeLoader is an in-memory Loader with scriptable failures. Safe for the
// session-recreate path: every factory invocation shares the same store.
type fakeLoader struct {
	store *fakeStore
}

type fakeStore struct {
	mu        sync.Mutex
	existing  map[string]struct{}
	inserted  []fakeRec
	bulkErrs  []error          // popped one per BulkInsert call
	insertErr map[string]error // per-record failures on InsertOne
	lookupErr error
	opened    int
	closed    int
}

func newFakeStore(existing ...string) *fakeStore {
	s := &fakeStore{existing: make(map[string]struct{}), insertErr: make(map[string]error)}
	for _, k := range existing {
		s.existing[k] = struct{}{}
	}
	return s
}

func (s *fakeStore) factory() ingest.LoaderFactory[fakeRec] {
	return func(ctx context.Context) (ingest.Loader[fakeRec], error) {
		s.mu.Lock()
		s.opened++
		s.mu.Unlock()
		return &fakeLoader{store: s}, nil
	}
}

func (l *fakeLoader) Convert(row ingest.Row) (fakeRec, error) {
	email := strings.ToLower(strings.TrimSpace(row["email"]))
	if email == "" {
		return fakeRec{}, &ingest.ValidationError{Field: "email", Reason: "required"}
	}
	if !strings.Contains(email, "@") {
		return fakeRec{}, &ingest.ValidationError{Field: "email", Reason: "invalid format"}
	}
	return fakeRec{email: email, name: row["name"]}, nil
}

func (l *fakeLoader) Key(rec fakeRec) string      { return rec.email }
func (l *fakeLoader) Describe(rec fakeRec) string { return rec.email }

func (l *fakeLoader) ExistingKeys(ctx context.Context, keys []string) (map[string]struct{}, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.lookupErr != nil {
		return nil, l.store.lookupErr
	}
	found := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := l.store.existing[k]; ok {
			found[k] = struct{}{}
		}
	}
	return found, nil
}

func (l *fakeLoader) BulkInsert(ctx context.Context, recs []fakeRec) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if len(l.store.bulkErrs) > 0 {
		err := l.store.bulkErrs[0]
		l.store.bulkErrs = l.store.bulkErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, r := range recs {
		l.store.inserted = append(l.store.inserted, r)
		l.store.existing[r.email] = struct{}{}
	}
	return nil
}

func (l *fakeLoader) InsertOne(ctx context.Context, rec fakeRec) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if err := l.store.insertErr[rec.email]; err != nil {
		return err
	}
	l.store.inserted = append(l.store.inserted, rec)
	l.store.existing[rec.email] = struct{}{}
	return nil
}

func (l *fakeLoader) Close() error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.closed++
	return nil
}

type fakeCreds struct {
	mu     sync.Mutex
	calls  int
	forced int
	err    error
}

func (c *fakeCreds) Ensure(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if force {
		c.forced++
	}
	if c.err != nil {
		return "", c.err
	}
	return "secret", nil
}

func makeRows(n int) []ingest.Row {
	rows := make([]ingest.Row, n)
	for i := range rows {
		rows[i] = ingest.Row{
			"email": fmt.Sprintf("user%d@example.com", i),
			"name":  fmt.Sprintf("User %d", i),
		}
	}
	return rows
}

func testConfig() ingest.Config {
	return ingest.Config{ChunkSize: 10, BatchSize: 4, MaxInsertAttempts: 3, RetryBaseDelay: time.Millisecond}
}

func TestPipelineRunAllValid(t *testing.T) {
	store := newFakeStore()
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{}, registry, nil)

	id := registry.Create(25)
	registry.Start(id)
	result, err := pipe.Run(context.Background(), id, makeRows(25))

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "Processed 25 records", result.Message)
	assert.Equal(t, 25, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.Empty(t, result.FailedRecords)
	assert.Len(t, store.inserted, 25)
	assert.Equal(t, store.closed, store.opened)

	snap, _ := registry.Get(id)
	assert.Equal(t, 25, snap.Processed)
	assert.Equal(t, 25, snap.SuccessCount)
}

func TestPipelineMixedOutcome(t *testing.T) {
	rows := makeRows(12)
	rows[7]["email"] = "not-an-email" // workbook row 9
	rows[10]["email"] = ""            // workbook row 12
	rows[10]["name"] = "No Email"

	store := newFakeStore()
	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{},
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", rows)

	require.NoError(t, err)
	assert.Equal(t, 10, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)
	require.Len(t, result.FailedRecords, 2)

	assert.Equal(t, 9, result.FailedRecords[0].Row)
	assert.Equal(t, "not-an-email", result.FailedRecords[0].Field)
	assert.Contains(t, result.FailedRecords[0].Message, "invalid format")

	assert.Equal(t, 12, result.FailedRecords[1].Row)
	assert.Equal(t, "No Email", result.FailedRecords[1].Field)
	assert.Contains(t, result.FailedRecords[1].Message, "required")

	assert.Equal(t, len(rows), result.SuccessCount+result.FailedCount)
}

func TestPipelineRejectsDuplicates(t *testing.T) {
	rows := makeRows(5)
	rows[3]["email"] = "user1@example.com" // repeats row index 1 within the run

	store := newFakeStore("user4@example.com") // already in storage
	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{},
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", rows)

	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 2, result.FailedCount)
	require.Len(t, result.FailedRecords, 2)
	assert.Equal(t, 5, result.FailedRecords[0].Row)
	assert.Contains(t, result.FailedRecords[0].Message, "already exists")
	assert.Equal(t, 6, result.FailedRecords[1].Row)
	assert.Len(t, store.inserted, 3)
}

func TestPipelinePrecheckFailureDegradesToConstraints(t *testing.T) {
	rows := makeRows(4)
	store := newFakeStore()
	store.lookupErr = errors.New("lookup timed out")
	store.insertErr["user2@example.com"] = &ingest.DuplicateError{Key: "user2@example.com"}
	store.bulkErrs = []error{&ingest.PermanentError{Err: errors.New("duplicate key value")}}

	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{},
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", rows)

	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.FailedRecords, 1)
	assert.Equal(t, 4, result.FailedRecords[0].Row)
}

func TestPipelineBulkRetryOnTransientError(t *testing.T) {
	store := newFakeStore()
	store.bulkErrs = []error{
		&ingest.TransientError{Err: errors.New("connection reset")},
		&ingest.TransientError{Err: errors.New("connection reset")},
	}
	creds := &fakeCreds{}
	pipe := ingest.NewPipeline(testConfig(), store.factory(), creds,
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", makeRows(4))

	require.NoError(t, err)
	assert.Equal(t, 4, result.SuccessCount)
	assert.Equal(t, 0, result.FailedCount)
	// Two retries, each preceded by a forced credential refresh and a
	// recreated session on top of the initial one.
	assert.Equal(t, 2, creds.forced)
	assert.Equal(t, 3, store.opened)
}

func TestPipelineFallbackToIndividualInserts(t *testing.T) {
	store := newFakeStore()
	store.bulkErrs = []error{&ingest.PermanentError{Err: errors.New("invalid byte sequence")}}
	store.insertErr["user2@example.com"] = errors.New("invalid byte sequence")
	creds := &fakeCreds{}
	pipe := ingest.NewPipeline(testConfig(), store.factory(), creds,
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", makeRows(4))

	require.NoError(t, err)
	assert.Equal(t, 3, result.SuccessCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.FailedRecords, 1)
	assert.Equal(t, 4, result.FailedRecords[0].Row)
	assert.Equal(t, "user2@example.com", result.FailedRecords[0].Field)
	// Permanent errors must not trigger the retry/refresh path
	assert.Equal(t, 0, creds.forced)
	assert.Equal(t, 1, store.opened)
}

func TestPipelineCredentialFailureAtStartup(t *testing.T) {
	store := newFakeStore()
	creds := &fakeCreds{err: errors.New("token endpoint unreachable")}
	pipe := ingest.NewPipeline(testConfig(), store.factory(), creds,
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(context.Background(), "", makeRows(4))

	assert.Nil(t, result)
	assert.True(t, ingest.IsAuth(err))
	assert.Equal(t, 0, store.opened)
}

func TestPipelineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeStore()
	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{},
		ingest.NewRegistry(time.Hour, time.Minute), nil)

	result, err := pipe.Run(ctx, "", makeRows(4))

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.inserted)
}

func TestPipelineReportsErrorsIncrementally(t *testing.T) {
	// Two invalid rows in different batches; the registry must end up with
	// each error exactly once even though counters are re-sent every batch.
	rows := makeRows(8)
	rows[1]["email"] = "bad"
	rows[6]["email"] = "worse"

	store := newFakeStore()
	registry := ingest.NewRegistry(time.Hour, time.Minute)
	pipe := ingest.NewPipeline(testConfig(), store.factory(), &fakeCreds{}, registry, nil)

	id := registry.Create(8)
	registry.Start(id)
	result, err := pipe.Run(context.Background(), id, rows)
	require.NoError(t, err)
	registry.Complete(id, result)

	snap, _ := registry.Get(id)
	assert.Equal(t, 6, snap.SuccessCount)
	assert.Equal(t, 2, snap.FailedCount)
	require.Len(t, snap.Errors, 2)
	assert.Equal(t, 3, snap.Errors[0].Row)
	assert.Equal(t, 8, snap.Errors[1].Row)
}
