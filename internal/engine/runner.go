package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/event"
	"github.com/weaveline/weft/internal/tool"
	"github.com/weaveline/weft/internal/workflow"
)

// Runner drives one execution. All mutable schedule state (output table,
// in-degree counters, ready queue) is owned by the coordinator goroutine
// inside Run; batch goroutines only report into the results channel.
type Runner struct {
	wf         *workflow.Workflow
	exec       *workflow.Execution
	dispatcher *Dispatcher
	bus        *event.Bus
	logger     *zap.SugaredLogger
	ec         *tool.ExecutionContext

	cancel    context.CancelFunc
	cancelled atomic.Bool
	stopped   atomic.Bool
	done      chan struct{}
	doneOnce  sync.Once
}

type nodeResult struct {
	nodeID string
	output any
	err    error
}

// runnerOutcome is what Run settles to; the engine maps it onto the store.
type runnerOutcome struct {
	status workflow.ExecutionStatus
	output any
	err    error
}

func NewRunner(wf *workflow.Workflow, exec *workflow.Execution, dispatcher *Dispatcher, bus *event.Bus, ec *tool.ExecutionContext, logger *zap.SugaredLogger) *Runner {
	return &Runner{
		wf:         wf,
		exec:       exec,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		ec:         ec,
		done:       make(chan struct{}),
	}
}

// Stop requests cooperative cancellation. In-flight work still settles,
// completed if it finished before the stop and skipped if it was cut off,
// but nothing downstream is enqueued.
func (r *Runner) Stop() {
	r.stopped.Store(true)
	r.cancelled.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
}

// Done closes when the scheduling loop has settled.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Run executes the scheduling loop to a terminal outcome. It is the
// coordinator: the only goroutine that touches outputs, counters, and the
// ready queue.
func (r *Runner) Run(ctx context.Context) runnerOutcome {
	defer r.doneOnce.Do(func() { close(r.done) })

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	defer cancel()

	// adjacency and in-degree in one pass over edges
	forward := make(map[string][]string)
	incoming := make(map[string][]string)
	indegree := make(map[string]int, len(r.wf.Nodes))
	for i := range r.wf.Nodes {
		indegree[r.wf.Nodes[i].ID] = 0
	}
	for _, e := range r.wf.Edges {
		forward[e.Source] = append(forward[e.Source], e.Target)
		incoming[e.Target] = append(incoming[e.Target], e.Source)
		indegree[e.Target]++
	}

	outputs := make(map[string]any, len(r.wf.Nodes))
	dispatched := make(map[string]bool, len(r.wf.Nodes))

	var ready []string
	for i := range r.wf.Nodes {
		if indegree[r.wf.Nodes[i].ID] == 0 {
			ready = append(ready, r.wf.Nodes[i].ID)
		}
	}

	var firstErr error
	for len(ready) > 0 && !r.cancelled.Load() {
		batch := ready
		ready = nil

		results := make(chan nodeResult, len(batch))
		for _, id := range batch {
			node := r.wf.Node(id)
			dispatched[id] = true
			input := r.gatherInput(node, incoming[id], outputs)

			r.publish(event.NodeStart, id, map[string]any{"kind": string(node.Type)})
			go func(node *workflow.Node, input any) {
				out, err := r.dispatcher.Dispatch(ctx, node, input, r.ec, r.cancelled.Load)
				results <- nodeResult{nodeID: node.ID, output: out, err: err}
			}(node, input)
		}

		// barrier: one receive per batch member
		for range batch {
			res := <-results
			if r.stopped.Load() {
				// external stop: every started node still settles. Work that
				// finished before the stop completes with its output; work
				// cut off mid-flight is skipped, so no node is left running.
				if res.err == nil {
					outputs[res.nodeID] = res.output
					r.publish(event.NodeComplete, res.nodeID, map[string]any{"output": res.output})
				} else {
					r.publish(event.NodeSkip, res.nodeID, nil)
				}
				continue
			}
			if res.err != nil {
				r.publish(event.NodeError, res.nodeID, map[string]any{"error": res.err.Error()})
				if firstErr == nil {
					firstErr = res.err
					r.cancelled.Store(true)
					cancel()
				}
				continue
			}
			outputs[res.nodeID] = res.output
			r.publish(event.NodeComplete, res.nodeID, map[string]any{"output": res.output})
			if firstErr != nil {
				// batch mate of a failed node: completed, but fail-fast
				// blocks its downstream
				continue
			}
			for _, next := range forward[res.nodeID] {
				indegree[next]--
				if indegree[next] == 0 && !dispatched[next] {
					ready = append(ready, next)
				}
			}
		}
	}

	switch {
	case r.stopped.Load():
		r.publish(event.Log, "", map[string]any{
			"level": string(workflow.LogInfo), "message": "execution stopped by user",
		})
		return runnerOutcome{status: workflow.ExecutionStopped}
	case firstErr != nil:
		r.publish(event.ExecutionError, "", map[string]any{"error": firstErr.Error()})
		return runnerOutcome{status: workflow.ExecutionError, err: firstErr}
	default:
		result := r.selectResult(outputs, forward)
		r.publish(event.ExecutionComplete, "", map[string]any{"output": result})
		return runnerOutcome{status: workflow.ExecutionCompleted, output: result}
	}
}

// gatherInput applies the fan-in rules: no upstream → the execution input,
// one upstream → its output verbatim, several → a mapping keyed by upstream
// label falling back to id, later edges winning collisions.
func (r *Runner) gatherInput(node *workflow.Node, sources []string, outputs map[string]any) any {
	switch len(sources) {
	case 0:
		return r.exec.Input
	case 1:
		return outputs[sources[0]]
	default:
		gathered := make(map[string]any, len(sources))
		for _, src := range sources {
			key := src
			if n := r.wf.Node(src); n != nil {
				key = n.DisplayLabel()
			}
			gathered[key] = outputs[src]
		}
		return gathered
	}
}

// selectResult picks the execution output: the output-kind nodes if any
// exist, else the graph's terminal nodes; one value verbatim, several as a
// mapping keyed by label.
func (r *Runner) selectResult(outputs map[string]any, forward map[string][]string) any {
	var chosen []*workflow.Node
	for i := range r.wf.Nodes {
		if r.wf.Nodes[i].Type == workflow.TypeOutput {
			chosen = append(chosen, &r.wf.Nodes[i])
		}
	}
	if len(chosen) == 0 {
		for i := range r.wf.Nodes {
			if len(forward[r.wf.Nodes[i].ID]) == 0 {
				chosen = append(chosen, &r.wf.Nodes[i])
			}
		}
	}

	if len(chosen) == 1 {
		return outputs[chosen[0].ID]
	}
	result := make(map[string]any, len(chosen))
	for _, n := range chosen {
		result[n.DisplayLabel()] = outputs[n.ID]
	}
	return result
}

func (r *Runner) publish(eventType, nodeID string, data map[string]any) {
	r.bus.Publish(&event.Event{
		Type:        eventType,
		ExecutionID: r.exec.ID,
		NodeID:      nodeID,
		Data:        data,
	})
}
