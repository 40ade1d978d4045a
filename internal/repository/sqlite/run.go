package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
	"github.com/sakif/pyrun-jupyter/internal/executor"
	"github.com/sakif/pyrun-jupyter/internal/model"
	"github.com/sakif/pyrun-jupyter/internal/params"
	"github.com/sakif/pyrun-jupyter/internal/repository"
)

var _ repository.RunRepository = (*DB)(nil)

const runColumns = `id, subject, kernel_name, code, params, status, stdout, stderr,
	has_error, error_name, error_message, error_traceback, abort,
	execution_count, duration_ms, created_at`

// Create inserts a run, assigning its ID and CreatedAt.
func (db *DB) Create(ctx context.Context, run *model.Run) error {
	run.ID = xid.New().String()
	run.CreatedAt = time.Now().UTC()

	paramsJSON, err := encodeParams(run.Params)
	if err != nil {
		return fmt.Errorf("sqlite: encoding params: %w", err)
	}
	traceback, err := encodeTraceback(run.ErrorTraceback)
	if err != nil {
		return fmt.Errorf("sqlite: encoding traceback: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Subject,
		run.KernelName,
		run.Code,
		paramsJSON,
		string(run.Status),
		run.Stdout,
		run.Stderr,
		run.HasError,
		run.ErrorName,
		run.ErrorMessage,
		traceback,
		string(run.Abort),
		run.ExecutionCount,
		run.DurationMS,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating run: %w", err)
	}

	return nil
}

// GetByID retrieves a single run.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Run, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`,
		id,
	)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("run", id)
		}
		return nil, fmt.Errorf("sqlite: getting run %s: %w", id, err)
	}

	return run, nil
}

// List returns runs newest first.
func (db *DB) List(ctx context.Context, opts repository.ListOptions) ([]model.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Subject != "" {
		where = append(where, "subject = ?")
		args = append(args, opts.Subject)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing runs: %w", err)
	}
	defer rows.Close()

	runs := make([]model.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning run row: %w", err)
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating runs: %w", err)
	}

	return runs, nil
}

// Delete removes a run by its ID.
func (db *DB) Delete(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM runs WHERE id = ?`,
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting run %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("run", id)
	}

	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var (
		run       model.Run
		status    string
		abort     string
		paramsRaw string
		traceback string
	)

	err := s.Scan(
		&run.ID,
		&run.Subject,
		&run.KernelName,
		&run.Code,
		&paramsRaw,
		&status,
		&run.Stdout,
		&run.Stderr,
		&run.HasError,
		&run.ErrorName,
		&run.ErrorMessage,
		&traceback,
		&abort,
		&run.ExecutionCount,
		&run.DurationMS,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = model.RunStatus(status)
	run.Abort = executor.AbortReason(abort)

	if paramsRaw != "" {
		if err := json.Unmarshal([]byte(paramsRaw), &run.Params); err != nil {
			return nil, fmt.Errorf("decoding params of run %s: %w", run.ID, err)
		}
	}
	if traceback != "" {
		if err := json.Unmarshal([]byte(traceback), &run.ErrorTraceback); err != nil {
			return nil, fmt.Errorf("decoding traceback of run %s: %w", run.ID, err)
		}
	}

	return &run, nil
}

func encodeParams(p params.Params) (string, error) {
	if len(p) == 0 {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeTraceback(lines []string) (string, error) {
	if len(lines) == 0 {
		return "", nil
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
