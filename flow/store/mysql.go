package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/smogili1/agentflow/flow"
)

// MySQL is a WorkflowStore backed by MySQL, for deployments where several
// processes share one workflow catalog. Documents are stored as JSON
// columns, mirroring the SQLite layout.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a MySQL-backed store with the given DSN, for example
// "user:pass@tcp(localhost:3306)/agentflow?parseTime=true", and migrates
// the schema.
func NewMySQL(dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQL{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQL) migrate(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(191) PRIMARY KEY,
			doc JSON NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id VARCHAR(191) PRIMARY KEY,
			workflow_id VARCHAR(191) NOT NULL,
			started_at TIMESTAMP(6) NOT NULL,
			doc JSON NOT NULL,
			INDEX idx_executions_workflow (workflow_id, started_at DESC)
		)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying pool.
func (s *MySQL) Close() error { return s.db.Close() }

// GetWorkflow implements flow.WorkflowStore.
func (s *MySQL) GetWorkflow(ctx context.Context, id string) (*flow.Workflow, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM workflows WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flow.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}
	var wf flow.Workflow
	if err := json.Unmarshal(doc, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow: %w", err)
	}
	return &wf, nil
}

// PutWorkflow implements flow.WorkflowStore.
func (s *MySQL) PutWorkflow(ctx context.Context, wf *flow.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, doc) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE doc = VALUES(doc)`,
		wf.ID, doc)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// UpdateWorkflow implements flow.WorkflowStore.
func (s *MySQL) UpdateWorkflow(ctx context.Context, wf *flow.Workflow) error {
	doc, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE workflows SET doc = ? WHERE id = ?`, doc, wf.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// RowsAffected is 0 both for a missing row and for a no-op update;
		// distinguish with an existence probe.
		var one int
		if probe := s.db.QueryRowContext(ctx, `SELECT 1 FROM workflows WHERE id = ?`, wf.ID).Scan(&one); errors.Is(probe, sql.ErrNoRows) {
			return flow.ErrWorkflowNotFound
		}
	}
	return nil
}

// DeleteWorkflow implements flow.WorkflowStore.
func (s *MySQL) DeleteWorkflow(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	return err
}

// ListWorkflows implements flow.WorkflowStore.
func (s *MySQL) ListWorkflows(ctx context.Context) ([]*flow.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM workflows ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*flow.Workflow
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var wf flow.Workflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			return nil, fmt.Errorf("decode workflow: %w", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

// SaveExecution implements flow.WorkflowStore.
func (s *MySQL) SaveExecution(ctx context.Context, sum *flow.ExecutionSummary) error {
	doc, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, workflow_id, started_at, doc)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE doc = VALUES(doc)`,
		sum.ExecutionID, sum.WorkflowID, sum.StartedAt, doc)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// GetExecution implements flow.WorkflowStore.
func (s *MySQL) GetExecution(ctx context.Context, executionID string) (*flow.ExecutionSummary, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM executions WHERE execution_id = ?`, executionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, flow.ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load execution: %w", err)
	}
	var sum flow.ExecutionSummary
	if err := json.Unmarshal(doc, &sum); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &sum, nil
}

// ListExecutions implements flow.WorkflowStore.
func (s *MySQL) ListExecutions(ctx context.Context, workflowID string) ([]*flow.ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM executions WHERE workflow_id = ? ORDER BY started_at DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*flow.ExecutionSummary
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sum flow.ExecutionSummary
		if err := json.Unmarshal(doc, &sum); err != nil {
			return nil, fmt.Errorf("decode execution: %w", err)
		}
		out = append(out, &sum)
	}
	return out, rows.Err()
}
