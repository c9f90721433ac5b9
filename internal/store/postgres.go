package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/workflow"
)

// PostgresStore is the shared-server backend, selected when databaseUrl is
// configured. Nested fields (nodes, edges, input, output, nodeStates, data)
// are stored as JSON columns.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.SugaredLogger
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	nodes       JSONB NOT NULL,
	edges       JSONB NOT NULL,
	variables   JSONB,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS executions (
	id           TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	input        JSONB,
	output       JSONB,
	error        TEXT NOT NULL DEFAULT '',
	node_states  JSONB,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions (workflow_id);
CREATE TABLE IF NOT EXISTS templates (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL,
	workflow    JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_templates_category ON templates (category);
CREATE TABLE IF NOT EXISTS logs (
	id           BIGSERIAL PRIMARY KEY,
	execution_id TEXT NOT NULL,
	node_id      TEXT NOT NULL DEFAULT '',
	level        TEXT NOT NULL,
	message      TEXT NOT NULL,
	data         JSONB,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_execution_id ON logs (execution_id);
`

// OpenPostgres connects to the database and ensures the schema exists.
func OpenPostgres(ctx context.Context, connStr string, logger *zap.SugaredLogger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, storageErr("open", fmt.Errorf("create connection pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr("open", fmt.Errorf("ping database: %w", err))
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, storageErr("open", fmt.Errorf("apply schema: %w", err))
	}
	logger.Infow("Connected to PostgreSQL store")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Workflows

func (s *PostgresStore) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	nodes, edges, vars, meta, err := encodeWorkflowFields(w)
	if err != nil {
		return storageErr("create workflow", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (id, name, description, nodes, edges, variables, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			nodes = EXCLUDED.nodes, edges = EXCLUDED.edges,
			variables = EXCLUDED.variables, metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, w.ID, w.Name, w.Description, nodes, edges, vars, meta, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return storageErr("create workflow", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*workflow.Workflow, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storageErr("update workflow", err)
	}
	defer tx.Rollback(ctx)

	w, err := scanWorkflow(tx.QueryRow(ctx, `
		SELECT id, name, description, nodes, edges, variables, metadata, created_at, updated_at
		FROM workflows WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		w.Name = *patch.Name
	}
	if patch.Description != nil {
		w.Description = *patch.Description
	}
	if patch.Nodes != nil {
		w.Nodes = patch.Nodes
	}
	if patch.Edges != nil {
		w.Edges = patch.Edges
	}
	if patch.Variables != nil {
		w.Variables = patch.Variables
	}
	if patch.Metadata != nil {
		w.Metadata = patch.Metadata
	}
	w.UpdatedAt = time.Now().UTC()

	nodes, edges, vars, meta, err := encodeWorkflowFields(w)
	if err != nil {
		return nil, storageErr("update workflow", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE workflows SET name = $2, description = $3, nodes = $4, edges = $5,
			variables = $6, metadata = $7, updated_at = $8
		WHERE id = $1
	`, id, w.Name, w.Description, nodes, edges, vars, meta, w.UpdatedAt); err != nil {
		return nil, storageErr("update workflow", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("update workflow", err)
	}
	return w, nil
}

func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return scanWorkflow(s.pool.QueryRow(ctx, `
		SELECT id, name, description, nodes, edges, variables, metadata, created_at, updated_at
		FROM workflows WHERE id = $1
	`, id))
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, nodes, edges, variables, metadata, created_at, updated_at
		FROM workflows ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, storageErr("list workflows", err)
	}
	defer rows.Close()

	var out []*workflow.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list workflows", err)
	}
	return out, nil
}

// Executions

func (s *PostgresStore) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	input, output, states, err := encodeExecutionFields(e)
	if err != nil {
		return storageErr("create execution", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, status, input, output, error, node_states, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.WorkflowID, string(e.Status), input, output, e.Error, states, e.StartedAt, e.CompletedAt)
	if err != nil {
		return storageErr("create execution", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error {
	return s.withExecutionLock(ctx, "update execution", id, func(e *workflow.Execution) {
		applyExecutionPatch(e, patch)
	})
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	return scanExecution(s.pool.QueryRow(ctx, `
		SELECT id, workflow_id, status, input, output, error, node_states, started_at, completed_at
		FROM executions WHERE id = $1
	`, id))
}

func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	query := `
		SELECT id, workflow_id, status, input, output, error, node_states, started_at, completed_at
		FROM executions`
	args := []any{}
	if workflowID != "" {
		query += ` WHERE workflow_id = $1`
		args = append(args, workflowID)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list executions", err)
	}
	defer rows.Close()

	var out []*workflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list executions", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateExecutionNodeState(ctx context.Context, executionID, nodeID string, status workflow.NodeStatus, output any, errMsg string) error {
	return s.withExecutionLock(ctx, "update node state", executionID, func(e *workflow.Execution) {
		applyNodeState(e, nodeID, status, output, errMsg, time.Now().UTC())
	})
}

// withExecutionLock serializes same-execution mutations with a row lock.
func (s *PostgresStore) withExecutionLock(ctx context.Context, op, id string, mutate func(e *workflow.Execution)) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr(op, err)
	}
	defer tx.Rollback(ctx)

	e, err := scanExecution(tx.QueryRow(ctx, `
		SELECT id, workflow_id, status, input, output, error, node_states, started_at, completed_at
		FROM executions WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		return err
	}
	mutate(e)

	input, output, states, err := encodeExecutionFields(e)
	if err != nil {
		return storageErr(op, err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE executions SET status = $2, input = $3, output = $4, error = $5,
			node_states = $6, completed_at = $7
		WHERE id = $1
	`, id, string(e.Status), input, output, e.Error, states, e.CompletedAt); err != nil {
		return storageErr(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// Logs

func (s *PostgresStore) AppendLog(ctx context.Context, executionID, nodeID string, level workflow.LogLevel, message string, data map[string]any) error {
	var payload []byte
	if data != nil {
		var err error
		payload, err = json.Marshal(data)
		if err != nil {
			return storageErr("append log", err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO logs (execution_id, node_id, level, message, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, executionID, nodeID, string(level), message, payload, time.Now().UTC())
	if err != nil {
		return storageErr("append log", err)
	}
	return nil
}

func (s *PostgresStore) ListLogs(ctx context.Context, executionID string) ([]workflow.LogLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, level, message, data, created_at
		FROM logs WHERE execution_id = $1 ORDER BY id ASC
	`, executionID)
	if err != nil {
		return nil, storageErr("list logs", err)
	}
	defer rows.Close()

	var out []workflow.LogLine
	for rows.Next() {
		var line workflow.LogLine
		var level string
		var payload []byte
		if err := rows.Scan(&line.NodeID, &level, &line.Message, &payload, &line.Timestamp); err != nil {
			return nil, storageErr("list logs", err)
		}
		line.Level = workflow.LogLevel(level)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &line.Data); err != nil {
				return nil, &CorruptRecordError{Key: "logs/" + executionID, Err: err}
			}
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list logs", err)
	}
	return out, nil
}

// Templates

func (s *PostgresStore) CreateTemplate(ctx context.Context, t *workflow.Template) error {
	wf, err := json.Marshal(&t.Workflow)
	if err != nil {
		return storageErr("create template", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO templates (id, name, description, category, workflow, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.Description, t.Category, wf, t.CreatedAt)
	if err != nil {
		return storageErr("create template", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (*workflow.Template, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, category, workflow, created_at
		FROM templates WHERE id = $1
	`, id)
	return scanTemplate(row, id)
}

func (s *PostgresStore) ListTemplates(ctx context.Context, category string) ([]*workflow.Template, error) {
	query := `SELECT id, name, description, category, workflow, created_at FROM templates`
	args := []any{}
	if category != "" {
		query += ` WHERE category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list templates", err)
	}
	defer rows.Close()

	var out []*workflow.Template
	for rows.Next() {
		t, err := scanTemplate(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list templates", err)
	}
	return out, nil
}

// Row scanning

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*workflow.Workflow, error) {
	var w workflow.Workflow
	var nodes, edges, vars, meta []byte
	err := row.Scan(&w.ID, &w.Name, &w.Description, &nodes, &edges, &vars, &meta, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan workflow", err)
	}
	if err := json.Unmarshal(nodes, &w.Nodes); err != nil {
		return nil, &CorruptRecordError{Key: "workflows/" + w.ID, Err: err}
	}
	if err := json.Unmarshal(edges, &w.Edges); err != nil {
		return nil, &CorruptRecordError{Key: "workflows/" + w.ID, Err: err}
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &w.Variables); err != nil {
			return nil, &CorruptRecordError{Key: "workflows/" + w.ID, Err: err}
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &w.Metadata); err != nil {
			return nil, &CorruptRecordError{Key: "workflows/" + w.ID, Err: err}
		}
	}
	return &w, nil
}

func scanExecution(row rowScanner) (*workflow.Execution, error) {
	var e workflow.Execution
	var status string
	var input, output, states []byte
	err := row.Scan(&e.ID, &e.WorkflowID, &status, &input, &output, &e.Error, &states, &e.StartedAt, &e.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan execution", err)
	}
	e.Status = workflow.ExecutionStatus(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &e.Input); err != nil {
			return nil, &CorruptRecordError{Key: "executions/" + e.ID, Err: err}
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &e.Output); err != nil {
			return nil, &CorruptRecordError{Key: "executions/" + e.ID, Err: err}
		}
	}
	if len(states) > 0 {
		if err := json.Unmarshal(states, &e.NodeStates); err != nil {
			return nil, &CorruptRecordError{Key: "executions/" + e.ID, Err: err}
		}
	}
	return &e, nil
}

func scanTemplate(row rowScanner, id string) (*workflow.Template, error) {
	var t workflow.Template
	var wf []byte
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &wf, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("scan template", err)
	}
	if err := json.Unmarshal(wf, &t.Workflow); err != nil {
		return nil, &CorruptRecordError{Key: "templates/" + t.ID, Err: err}
	}
	return &t, nil
}

func encodeWorkflowFields(w *workflow.Workflow) (nodes, edges, vars, meta []byte, err error) {
	if nodes, err = json.Marshal(w.Nodes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode nodes: %w", err)
	}
	if edges, err = json.Marshal(w.Edges); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode edges: %w", err)
	}
	if w.Variables != nil {
		if vars, err = json.Marshal(w.Variables); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode variables: %w", err)
		}
	}
	if w.Metadata != nil {
		if meta, err = json.Marshal(w.Metadata); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("encode metadata: %w", err)
		}
	}
	return nodes, edges, vars, meta, nil
}

func encodeExecutionFields(e *workflow.Execution) (input, output, states []byte, err error) {
	if e.Input != nil {
		if input, err = json.Marshal(e.Input); err != nil {
			return nil, nil, nil, fmt.Errorf("encode input: %w", err)
		}
	}
	if e.Output != nil {
		if output, err = json.Marshal(e.Output); err != nil {
			return nil, nil, nil, fmt.Errorf("encode output: %w", err)
		}
	}
	if e.NodeStates != nil {
		if states, err = json.Marshal(e.NodeStates); err != nil {
			return nil, nil, nil, fmt.Errorf("encode node states: %w", err)
		}
	}
	return input, output, states, nil
}
