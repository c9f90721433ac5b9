// Package engine orchestrates workflow executions: it validates the graph,
// creates the execution record, drives the per-execution runner, and bridges
// runner events to persistence and to subscribed sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/config"
	"github.com/weaveline/weft/internal/event"
	"github.com/weaveline/weft/internal/store"
	"github.com/weaveline/weft/internal/tool"
	"github.com/weaveline/weft/internal/workflow"
)

// ErrTooManyExecutions is returned when the active count is at the
// configured maxConcurrentExecutions cap.
var ErrTooManyExecutions = errors.New("too many concurrent executions")

// Engine is the process-wide orchestrator.
type Engine struct {
	store      store.Store
	bus        *event.Bus
	dispatcher *Dispatcher
	cfg        *config.Config
	logger     *zap.SugaredLogger

	mu     sync.Mutex
	active map[string]*Runner
}

func New(st store.Store, bus *event.Bus, dispatcher *Dispatcher, cfg *config.Config, logger *zap.SugaredLogger) *Engine {
	e := &Engine{
		store:      st,
		bus:        bus,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		active:     make(map[string]*Runner),
	}
	bus.Subscribe("*", e.persistEvent)
	return e
}

// Start recovers from an unclean shutdown: executions still marked running
// were interrupted and become terminal errors, since mid-execution
// resumption is not supported.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.markInterrupted(ctx); err != nil {
		return fmt.Errorf("mark interrupted executions: %w", err)
	}
	return nil
}

func (e *Engine) markInterrupted(ctx context.Context) error {
	execs, err := e.store.ListExecutions(ctx, "")
	if err != nil {
		return err
	}
	for _, ex := range execs {
		if ex.Status.Terminal() {
			continue
		}
		status := workflow.ExecutionError
		msg := "interrupted by process restart"
		now := time.Now().UTC()
		if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionPatch{
			Status: &status, Error: &msg, CompletedAt: &now,
		}); err != nil {
			return err
		}
		e.logger.Warnw("Marked interrupted execution", "execution_id", ex.ID)
	}
	return nil
}

// ExecuteWorkflow starts one execution and returns its record immediately;
// the scheduling loop runs asynchronously. Validation failures surface here
// and create no execution record.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input any) (*workflow.Execution, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("unknown workflow %q: %w", workflowID, err)
		}
		return nil, err
	}
	if err := workflow.Validate(wf); err != nil {
		return nil, err
	}

	exec := &workflow.Execution{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Status:     workflow.ExecutionRunning,
		Input:      input,
		StartedAt:  time.Now().UTC(),
		NodeStates: map[string]*workflow.NodeState{},
	}

	runner := NewRunner(wf, exec, e.dispatcher, e.bus, e.executionContext(wf, exec, input), e.logger)

	// The cap check and the registration share one critical section so two
	// concurrent starts cannot both squeeze past the limit.
	e.mu.Lock()
	if e.cfg.MaxConcurrentExecutions > 0 && len(e.active) >= e.cfg.MaxConcurrentExecutions {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active", ErrTooManyExecutions, e.cfg.MaxConcurrentExecutions)
	}
	e.active[exec.ID] = runner
	e.mu.Unlock()

	// execution-creation writes are fatal, unlike event persistence
	if err := e.store.CreateExecution(ctx, exec); err != nil {
		e.mu.Lock()
		delete(e.active, exec.ID)
		e.mu.Unlock()
		return nil, err
	}

	e.logger.Infow("Starting execution", "execution_id", exec.ID, "workflow_id", wf.ID)
	go e.drive(runner, exec.ID)

	return exec, nil
}

// drive runs the scheduling loop and writes the terminal state. Terminal
// write failures are logged; the in-memory run still settles.
func (e *Engine) drive(runner *Runner, executionID string) {
	defer func() {
		e.mu.Lock()
		delete(e.active, executionID)
		e.mu.Unlock()
	}()

	outcome := runner.Run(context.Background())

	now := time.Now().UTC()
	patch := store.ExecutionPatch{Status: &outcome.status, CompletedAt: &now}
	if outcome.status == workflow.ExecutionCompleted {
		patch.Output = outcome.output
		patch.HasOutput = true
	}
	if outcome.err != nil {
		msg := outcome.err.Error()
		patch.Error = &msg
	}
	if err := e.store.UpdateExecution(context.Background(), executionID, patch); err != nil {
		e.logger.Errorw("Failed to persist terminal execution state",
			"execution_id", executionID, "status", outcome.status, "error", err)
	}
	e.logger.Infow("Execution settled", "execution_id", executionID, "status", outcome.status)
}

// StopExecution cancels a running execution and marks it stopped.
func (e *Engine) StopExecution(ctx context.Context, id string) error {
	e.mu.Lock()
	runner, ok := e.active[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("execution %q is not running", id)
	}

	runner.Stop()
	<-runner.Done()

	status := workflow.ExecutionStopped
	now := time.Now().UTC()
	if err := e.store.UpdateExecution(ctx, id, store.ExecutionPatch{Status: &status, CompletedAt: &now}); err != nil {
		return fmt.Errorf("mark execution stopped: %w", err)
	}
	return nil
}

// ActiveCount returns the number of in-flight executions.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Shutdown stops all active executions and waits for them to settle.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	runners := make([]*Runner, 0, len(e.active))
	for _, r := range e.active {
		runners = append(runners, r)
	}
	e.mu.Unlock()

	for _, r := range runners {
		r.Stop()
	}
	for _, r := range runners {
		<-r.Done()
	}
}

// executionContext builds the per-execution tool context: merged
// variables-plus-input map and an immutable configuration snapshot.
func (e *Engine) executionContext(wf *workflow.Workflow, exec *workflow.Execution, input any) *tool.ExecutionContext {
	variables := make(map[string]any, len(wf.Variables))
	for k, v := range wf.Variables {
		variables[k] = v
	}
	if record, ok := input.(map[string]any); ok {
		for k, v := range record {
			variables[k] = v
		}
	}
	return &tool.ExecutionContext{
		ExecutionID: exec.ID,
		WorkflowID:  wf.ID,
		Variables:   variables,
		Config:      e.cfg.Snapshot(),
		Emit: func(level workflow.LogLevel, message string, data map[string]any) {
			e.bus.Publish(&event.Event{
				Type:        event.Log,
				ExecutionID: exec.ID,
				Data: map[string]any{
					"level":   string(level),
					"message": message,
					"data":    data,
				},
			})
		},
	}
}

// persistEvent writes runner events through to the store. Storage errors
// here are logged and suppressed; the persisted view stays best-effort
// consistent with the emitted stream.
func (e *Engine) persistEvent(evt *event.Event) {
	ctx := context.Background()
	var err error
	switch evt.Type {
	case event.NodeStart:
		err = e.store.UpdateExecutionNodeState(ctx, evt.ExecutionID, evt.NodeID, workflow.NodeRunning, nil, "")
	case event.NodeComplete:
		var output any
		if evt.Data != nil {
			output = evt.Data["output"]
		}
		err = e.store.UpdateExecutionNodeState(ctx, evt.ExecutionID, evt.NodeID, workflow.NodeCompleted, output, "")
	case event.NodeError:
		msg := ""
		if evt.Data != nil {
			msg, _ = evt.Data["error"].(string)
		}
		err = e.store.UpdateExecutionNodeState(ctx, evt.ExecutionID, evt.NodeID, workflow.NodeError, nil, msg)
	case event.NodeSkip:
		err = e.store.UpdateExecutionNodeState(ctx, evt.ExecutionID, evt.NodeID, workflow.NodeSkipped, nil, "")
	case event.Log:
		level := workflow.LogInfo
		message := ""
		var data map[string]any
		if evt.Data != nil {
			if l, ok := evt.Data["level"].(string); ok {
				level = workflow.LogLevel(l)
			}
			message, _ = evt.Data["message"].(string)
			data, _ = evt.Data["data"].(map[string]any)
		}
		err = e.store.AppendLog(ctx, evt.ExecutionID, evt.NodeID, level, message, data)
	}
	if err != nil {
		e.logger.Warnw("Failed to persist event",
			"type", evt.Type, "execution_id", evt.ExecutionID, "node_id", evt.NodeID, "error", err)
	}
}
