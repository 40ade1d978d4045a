package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/model"
	"github.com/sakif/pyrun-jupyter/internal/params"
	"github.com/sakif/pyrun-jupyter/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err, "failed to create test db")
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestRun(t *testing.T, db *DB, code string, status model.RunStatus) *model.Run {
	t.Helper()
	run := &model.Run{KernelName: "python3", Code: code, Status: status}
	require.NoError(t, db.Create(context.Background(), run))
	return run
}

func TestCreateAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	var p params.Params
	p.Set("epochs", int64(5))
	p.Set("name", "mnist")

	original := &model.Run{
		Subject:        "alice",
		KernelName:     "python3",
		Code:           "print(undefined)",
		Params:         p,
		Status:         model.RunFailed,
		Stdout:         "before\n",
		Stderr:         "warning\n",
		HasError:       true,
		ErrorName:      "NameError",
		ErrorMessage:   "name 'undefined' is not defined",
		ErrorTraceback: []string{"Traceback (most recent call last):", "NameError"},
		ExecutionCount: 4,
		DurationMS:     120,
	}
	require.NoError(t, db.Create(ctx, original))
	assert.NotEmpty(t, original.ID)
	assert.False(t, original.CreatedAt.IsZero())

	got, err := db.GetByID(ctx, original.ID)
	require.NoError(t, err)

	assert.Equal(t, original.ID, got.ID)
	assert.Equal(t, "alice", got.Subject)
	assert.Equal(t, "print(undefined)", got.Code)
	assert.Equal(t, p, got.Params)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Equal(t, "before\n", got.Stdout)
	assert.Equal(t, "warning\n", got.Stderr)
	assert.True(t, got.HasError)
	assert.Equal(t, "NameError", got.ErrorName)
	assert.Equal(t, original.ErrorTraceback, got.ErrorTraceback)
	assert.Equal(t, executor.AbortNone, got.Abort)
	assert.Equal(t, 4, got.ExecutionCount)
	assert.Equal(t, int64(120), got.DurationMS)
	assert.WithinDuration(t, original.CreatedAt, got.CreatedAt, time.Second)
}

func TestCreate_Aborted(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	run := &model.Run{KernelName: "python3", Code: "while True: pass", Status: model.RunTimedOut, HasError: true, Abort: executor.AbortTimeout}
	require.NoError(t, db.Create(ctx, run))

	got, err := db.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, executor.AbortTimeout, got.Abort)
	assert.Empty(t, got.ErrorName)
	assert.Nil(t, got.Params)
	assert.Nil(t, got.ErrorTraceback)
}

func TestGetByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetByID(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := createTestRun(t, db, "1", model.RunSucceeded)
	createTestRun(t, db, "2", model.RunFailed)
	last := createTestRun(t, db, "3", model.RunSucceeded)

	tests := []struct {
		name     string
		opts     repository.ListOptions
		wantLen  int
		wantHead string
	}{
		{name: "all newest first", opts: repository.ListOptions{}, wantLen: 3, wantHead: last.ID},
		{name: "limit", opts: repository.ListOptions{Limit: 1}, wantLen: 1, wantHead: last.ID},
		{name: "offset", opts: repository.ListOptions{Limit: 10, Offset: 2}, wantLen: 1, wantHead: first.ID},
		{name: "status filter", opts: repository.ListOptions{Status: model.RunFailed}, wantLen: 1},
		{name: "offset past end", opts: repository.ListOptions{Offset: 10}, wantLen: 0},
		{name: "negative offset", opts: repository.ListOptions{Offset: -5}, wantLen: 3, wantHead: last.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs, err := db.List(ctx, tt.opts)
			require.NoError(t, err)
			assert.Len(t, runs, tt.wantLen)
			if tt.wantHead != "" {
				assert.Equal(t, tt.wantHead, runs[0].ID)
			}
		})
	}
}

func TestList_SubjectFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, subject := range []string{"alice", "bob", "alice"} {
		require.NoError(t, db.Create(ctx, &model.Run{Subject: subject, KernelName: "python3", Code: "1", Status: model.RunSucceeded}))
	}

	runs, err := db.List(ctx, repository.ListOptions{Subject: "alice"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, "alice", r.Subject)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	run := createTestRun(t, db, "1", model.RunSucceeded)

	require.NoError(t, db.Delete(ctx, run.ID))

	_, err := db.GetByID(ctx, run.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	err = db.Delete(ctx, run.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.migrate())
	require.NoError(t, db.migrate())
}
