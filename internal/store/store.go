// Package store provides durable persistence for workflows, executions,
// per-node state, templates and log lines. Two backends exist: an embedded
// BadgerDB store (the local-first default) and a PostgreSQL store for shared
// deployments. The store is the sole authority on persisted execution
// status: the engine writes, subscribers read.
package store

import (
	"context"
	"time"

	"github.com/weaveline/weft/internal/workflow"
)

// WorkflowPatch is a partial update to a workflow. Nil fields are left
// unchanged; node and edge lists are replaced atomically.
type WorkflowPatch struct {
	Name        *string
	Description *string
	Nodes       []workflow.Node
	Edges       []workflow.Edge
	Variables   map[string]any
	Metadata    map[string]any
}

// ExecutionPatch is a partial update to an execution record.
type ExecutionPatch struct {
	Status      *workflow.ExecutionStatus
	Output      any
	HasOutput   bool
	Error       *string
	CompletedAt *time.Time
}

// Store is the persistence contract. All updates are durably committed
// before the call returns. Concurrent mutations to distinct executions
// proceed independently; mutations to the same execution are serialized.
type Store interface {
	CreateWorkflow(ctx context.Context, w *workflow.Workflow) error
	UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	// ListWorkflows returns all workflows ordered by descending modification
	// time.
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)

	CreateExecution(ctx context.Context, e *workflow.Execution) error
	UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) error
	GetExecution(ctx context.Context, id string) (*workflow.Execution, error)
	// ListExecutions returns executions, optionally filtered by workflow id
	// (empty string means all), newest first.
	ListExecutions(ctx context.Context, workflowID string) ([]*workflow.Execution, error)

	// UpdateExecutionNodeState merges one node's state into the execution's
	// node-state map. The read-modify-write is atomic with respect to
	// concurrent updates to the same execution. Completed transitions record
	// the output exactly once; terminal states are never regressed.
	UpdateExecutionNodeState(ctx context.Context, executionID, nodeID string, status workflow.NodeStatus, output any, errMsg string) error

	AppendLog(ctx context.Context, executionID, nodeID string, level workflow.LogLevel, message string, data map[string]any) error
	ListLogs(ctx context.Context, executionID string) ([]workflow.LogLine, error)

	CreateTemplate(ctx context.Context, t *workflow.Template) error
	GetTemplate(ctx context.Context, id string) (*workflow.Template, error)
	// ListTemplates returns templates, optionally filtered by category.
	ListTemplates(ctx context.Context, category string) ([]*workflow.Template, error)

	Close() error
}

// applyNodeState merges a node-state transition into an execution in place.
// Shared by both backends so the monotonicity rules live in one spot.
func applyNodeState(e *workflow.Execution, nodeID string, status workflow.NodeStatus, output any, errMsg string, now time.Time) {
	if e.NodeStates == nil {
		e.NodeStates = make(map[string]*workflow.NodeState)
	}
	st, ok := e.NodeStates[nodeID]
	if !ok {
		st = &workflow.NodeState{Status: workflow.NodePending}
		e.NodeStates[nodeID] = st
	}

	// No reverse transitions out of a terminal node state.
	switch st.Status {
	case workflow.NodeCompleted, workflow.NodeError, workflow.NodeSkipped:
		return
	}

	st.Status = status
	switch status {
	case workflow.NodeRunning:
		if st.StartedAt == nil {
			t := now
			st.StartedAt = &t
		}
	case workflow.NodeCompleted:
		t := now
		st.CompletedAt = &t
		st.Output = output
	case workflow.NodeError:
		t := now
		st.CompletedAt = &t
		st.Error = errMsg
	case workflow.NodeSkipped:
		t := now
		st.CompletedAt = &t
	}
}

func applyExecutionPatch(e *workflow.Execution, patch ExecutionPatch) {
	if patch.Status != nil {
		e.Status = *patch.Status
	}
	if patch.HasOutput {
		e.Output = patch.Output
	}
	if patch.Error != nil {
		e.Error = *patch.Error
	}
	if patch.CompletedAt != nil {
		e.CompletedAt = patch.CompletedAt
	}
}
