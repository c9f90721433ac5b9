package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/workflow"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerInMemory(zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testWorkflow(id, name string) *workflow.Workflow {
	now := time.Now().UTC()
	return &workflow.Workflow{
		ID:   id,
		Name: name,
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.TypeInput, Data: json.RawMessage(`{}`)},
		},
		Edges:     []workflow.Edge{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestBadgerStore_WorkflowCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := testWorkflow("wf-1", "scraper")
	require.NoError(t, s.CreateWorkflow(ctx, w))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "scraper", got.Name)
	assert.Len(t, got.Nodes, 1)

	name := "renamed"
	updated, err := s.UpdateWorkflow(ctx, "wf-1", WorkflowPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.UpdatedAt.After(w.UpdatedAt) || updated.UpdatedAt.Equal(w.UpdatedAt))

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err = s.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_WorkflowNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteWorkflow(ctx, "missing"), ErrNotFound)

	_, err = s.UpdateWorkflow(ctx, "missing", WorkflowPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_ListWorkflowsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		w := testWorkflow(id, id)
		w.UpdatedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateWorkflow(ctx, w))
	}

	list, err := s.ListWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "a", list[2].ID)
}

func TestBadgerStore_ExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &workflow.Execution{
		ID:         "ex-1",
		WorkflowID: "wf-1",
		Status:     workflow.ExecutionRunning,
		Input:      map[string]any{"q": "hello"},
		StartedAt:  time.Now().UTC(),
		NodeStates: map[string]*workflow.NodeState{},
	}
	require.NoError(t, s.CreateExecution(ctx, e))

	require.NoError(t, s.UpdateExecutionNodeState(ctx, "ex-1", "n1", workflow.NodeRunning, nil, ""))
	require.NoError(t, s.UpdateExecutionNodeState(ctx, "ex-1", "n1", workflow.NodeCompleted, "result", ""))

	done := workflow.ExecutionCompleted
	now := time.Now().UTC()
	require.NoError(t, s.UpdateExecution(ctx, "ex-1", ExecutionPatch{
		Status: &done, Output: "result", HasOutput: true, CompletedAt: &now,
	}))

	got, err := s.GetExecution(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ExecutionCompleted, got.Status)
	assert.Equal(t, "result", got.Output)
	require.Contains(t, got.NodeStates, "n1")
	assert.Equal(t, workflow.NodeCompleted, got.NodeStates["n1"].Status)
	assert.Equal(t, "result", got.NodeStates["n1"].Output)
	require.NotNil(t, got.CompletedAt)
}

func TestBadgerStore_NodeStateMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &workflow.Execution{ID: "ex-m", WorkflowID: "wf", Status: workflow.ExecutionRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateExecution(ctx, e))

	require.NoError(t, s.UpdateExecutionNodeState(ctx, "ex-m", "n1", workflow.NodeCompleted, 42, ""))
	// a late "running" report must not regress a terminal state
	require.NoError(t, s.UpdateExecutionNodeState(ctx, "ex-m", "n1", workflow.NodeRunning, nil, ""))

	got, err := s.GetExecution(ctx, "ex-m")
	require.NoError(t, err)
	assert.Equal(t, workflow.NodeCompleted, got.NodeStates["n1"].Status)
	assert.Equal(t, float64(42), got.NodeStates["n1"].Output)
}

func TestBadgerStore_ConcurrentNodeStates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &workflow.Execution{ID: "ex-c", WorkflowID: "wf", Status: workflow.ExecutionRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateExecution(ctx, e))

	nodeIDs := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, id := range nodeIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, s.UpdateExecutionNodeState(ctx, "ex-c", id, workflow.NodeCompleted, id, ""))
		}(id)
	}
	wg.Wait()

	got, err := s.GetExecution(ctx, "ex-c")
	require.NoError(t, err)
	for _, id := range nodeIDs {
		require.Contains(t, got.NodeStates, id, "node state lost under concurrent writes")
		assert.Equal(t, workflow.NodeCompleted, got.NodeStates[id].Status)
	}
}

func TestBadgerStore_ListExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, spec := range []struct{ id, wf string }{
		{"ex-1", "wf-a"}, {"ex-2", "wf-b"}, {"ex-3", "wf-a"},
	} {
		e := &workflow.Execution{ID: spec.id, WorkflowID: spec.wf, Status: workflow.ExecutionCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.CreateExecution(ctx, e))
	}

	all, err := s.ListExecutions(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ex-3", all[0].ID)

	forA, err := s.ListExecutions(ctx, "wf-a")
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, "ex-3", forA[0].ID)
	assert.Equal(t, "ex-1", forA[1].ID)
}

func TestBadgerStore_LogsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, msg := range []string{"first", "second", "third"} {
		level := workflow.LogInfo
		if i == 2 {
			level = workflow.LogError
		}
		require.NoError(t, s.AppendLog(ctx, "ex-1", "n1", level, msg, map[string]any{"i": i}))
	}

	logs, err := s.ListLogs(ctx, "ex-1")
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Message)
	assert.Equal(t, "second", logs[1].Message)
	assert.Equal(t, "third", logs[2].Message)
	assert.Equal(t, workflow.LogError, logs[2].Level)

	other, err := s.ListLogs(ctx, "ex-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestBadgerStore_TemplatesByCategory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, spec := range []struct{ id, name, cat string }{
		{"t1", "daily digest", "research"},
		{"t2", "pr review", "dev"},
		{"t3", "lit survey", "research"},
	} {
		tpl := &workflow.Template{
			ID: spec.id, Name: spec.name, Category: spec.cat,
			Workflow:  *testWorkflow("wf-"+spec.id, spec.name),
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, s.CreateTemplate(ctx, tpl))
	}

	research, err := s.ListTemplates(ctx, "research")
	require.NoError(t, err)
	require.Len(t, research, 2)
	assert.Equal(t, "daily digest", research[0].Name)

	all, err := s.ListTemplates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := s.GetTemplate(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "pr review", got.Name)

	_, err = s.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
