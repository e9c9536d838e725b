package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"dev/bravebird/flow-verify/pkg/models"

	_ "github.com/go-sql-driver/mysql"
)

//go:embed schema.sql
var schema string

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dsn string) (*DB, error) {
	conn, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an already opened connection
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range Statements() {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// Statements splits the embedded schema into single statements
func Statements() []string {
	var stmts []string
	for _, s := range strings.Split(schema, ";") {
		if s = strings.TrimSpace(s); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}

// ==================== Verification Runs ====================

const runColumns = `id, scenario, base_url, driver, temporal_workflow_id, temporal_run_id, status,
		       screenshot_path, COALESCE(error_message, ''), started_at, completed_at, created_at`

// CreateRun creates a new verification run
func (db *DB) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	query := `
		INSERT INTO verification_runs (id, scenario, base_url, driver, temporal_workflow_id, temporal_run_id, status, started_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.Status == "" {
		run.Status = models.StatusPending
	}
	run.CreatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx, query,
		run.ID,
		run.Scenario,
		run.BaseURL,
		run.Driver,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.Status,
		run.StartedAt,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (models.VerificationRun, error) {
	var run models.VerificationRun
	err := s.Scan(
		&run.ID,
		&run.Scenario,
		&run.BaseURL,
		&run.Driver,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.Status,
		&run.ScreenshotPath,
		&run.ErrorMessage,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
	)
	return run, err
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	query := `SELECT ` + runColumns + ` FROM verification_runs WHERE id = ?`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves the most recent runs, newest first
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM verification_runs ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.VerificationRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SetTemporalIDs stores the Temporal identifiers of a dispatched run
func (db *DB) SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error {
	query := `UPDATE verification_runs SET temporal_workflow_id = ?, temporal_run_id = ? WHERE id = ?`
	_, err := db.conn.ExecContext(ctx, query, workflowID, runID, id)
	return err
}

// UpdateRunStatus updates the status of a run. A finished run keeps its status;
// only RecordRun writes the final outcome over it.
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE verification_runs
		SET status = ?, error_message = ?,
		    started_at = CASE WHEN ? = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN ? IN ('success', 'failed', 'canceled') THEN NOW() ELSE completed_at END
		WHERE id = ? AND status NOT IN ('success', 'failed', 'canceled')
	`

	_, err := db.conn.ExecContext(ctx, query, status, errorMsg, status, status, id)
	return err
}

// RecordRun stores the final outcome of a run together with its step results
func (db *DB) RecordRun(ctx context.Context, result *models.RunResult) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_runs
		SET status = ?, screenshot_path = ?, error_message = ?, completed_at = NOW()
		WHERE id = ?
	`, result.Status, result.ScreenshotPath, result.ErrorMessage, result.RunID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	if err := insertStepResults(ctx, tx, result.RunID, result.StepResults); err != nil {
		return err
	}

	return tx.Commit()
}

// ==================== Step Results ====================

// insertStepResults upserts so that a retried RecordRun rewrites the same rows
func insertStepResults(ctx context.Context, tx *sql.Tx, runID string, results []models.StepResult) error {
	if len(results) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_results (id, run_id, step_index, name, action, status, screenshot_path, error_message, executed_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
		    name = VALUES(name), action = VALUES(action), status = VALUES(status),
		    screenshot_path = VALUES(screenshot_path), error_message = VALUES(error_message),
		    executed_at = VALUES(executed_at), duration_ms = VALUES(duration_ms)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.ExecContext(ctx,
			r.ID,
			runID,
			r.Index,
			r.Name,
			r.Action,
			r.Status,
			r.ScreenshotPath,
			r.ErrorMessage,
			r.ExecutedAt,
			r.Duration,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step result: %w", err)
		}
	}
	return nil
}

// GetStepResults retrieves the step results of a run in step order
func (db *DB) GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	query := `
		SELECT id, run_id, step_index, name, action, status, screenshot_path,
		       COALESCE(error_message, ''), executed_at, duration_ms
		FROM step_results
		WHERE run_id = ?
		ORDER BY step_index
	`

	rows, err := db.conn.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step results: %w", err)
	}
	defer rows.Close()

	results := []models.StepResult{}
	for rows.Next() {
		var r models.StepResult
		err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Index,
			&r.Name,
			&r.Action,
			&r.Status,
			&r.ScreenshotPath,
			&r.ErrorMessage,
			&r.ExecutedAt,
			&r.Duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}
