package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/smogili1/agentflow/flow"
)

// SQLite is a single-file WorkflowStore backed by SQLite.
//
// Documents are stored as JSON columns: one row per workflow, one row per
// execution summary. WAL mode is enabled so readers do not block the
// writer; use ":memory:" for throwaway databases in tests.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path and migrates
// the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite supports a single writer; keep one connection so the in-memory
	// variant sees a single database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			doc TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_workflow
			ON executions(workflow_id, started_at DESC)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error { return s.db.Close() }

// GetWorkflow implements flow.WorkflowStore.
func (s *SQLite) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM workflows WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flow.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	var wf flow.Workflow
	if err := json.Unmarshal([]byte(doc), &wf); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &wf, nil
}

// PutWorkflow implements flow.WorkflowStore.
func (s *SQLite) PutWorkflow(ctx context.Context, wf *flow.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, doc) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		wf.ID, string(doc))
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// UpdateWorkflow implements flow.WorkflowStore.
func (s *SQLite) UpdateWorkflow(ctx context.Context, wf *flow.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(doc), wf.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return flow.ErrWorkflowNotFound
	}
	return nil
}

// DeleteWorkflow implements flow.WorkflowStore.
func (s *SQLite) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

// ListWorkflows implements flow.WorkflowStore.
func (s *SQLite) ListWorkflows(ctx context.Context) ([]*flow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*flow.Workflow
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var wf flow.Workflow
		if err := json.Unmarshal([]byte(doc), &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// SaveExecution implements flow.WorkflowStore.
func (s *SQLite) SaveExecution(ctx context.Context, sum *flow.ExecutionSummary) error {
	doc, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, workflow_id, started_at, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(execution_id) DO UPDATE SET doc = excluded.doc`,
		sum.ExecutionID, sum.WorkflowID, sum.StartedAt, string(doc))
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution implements flow.WorkflowStore.
func (s *SQLite) GetExecution(ctx context.Context, executionID string) (*flow.ExecutionSummary, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM executions WHERE execution_id = ?`, executionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flow.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	var sum flow.ExecutionSummary
	if err := json.Unmarshal([]byte(doc), &sum); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &sum, nil
}

// ListExecutions implements flow.WorkflowStore.
func (s *SQLite) ListExecutions(ctx context.Context, workflowID string) ([]*flow.ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*flow.ExecutionSummary
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sum flow.ExecutionSummary
		if err := json.Unmarshal([]byte(doc), &sum); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}
