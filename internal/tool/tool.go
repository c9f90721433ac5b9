// Package tool holds the tool registry and the built-in tool set. A tool is
// a named capability with a JSON-shaped input and output; tool nodes and
// sensor nodes resolve their tool here at dispatch time.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/weaveline/weft/internal/config"
	"github.com/weaveline/weft/internal/workflow"
)

// ExecutionContext carries per-invocation identity and authority into a
// tool. Config is the execution's immutable snapshot; Emit feeds the
// execution log.
type ExecutionContext struct {
	ExecutionID string
	WorkflowID  string
	NodeID      string
	Variables   map[string]any
	Config      config.Config
	Emit        func(level workflow.LogLevel, message string, data map[string]any)
}

// Log writes to the execution log when a sink is attached.
func (ec *ExecutionContext) Log(level workflow.LogLevel, message string, data map[string]any) {
	if ec.Emit != nil {
		ec.Emit(level, message, data)
	}
}

// InvokeFunc runs one tool call.
type InvokeFunc func(ctx context.Context, ec *ExecutionContext, input map[string]any) (any, error)

// Handle describes a registered tool.
type Handle struct {
	ID           string
	Name         string
	Description  string
	Category     string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Invoke       InvokeFunc
}

// Registry maps tool ids to handles. It is filled at startup and read-only
// afterwards; the lock exists for tests that register fakes concurrently.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Handle)}
}

// Register adds a handle. A duplicate id is a programming error.
func (r *Registry) Register(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[h.ID]; exists {
		return fmt.Errorf("tool %q already registered", h.ID)
	}
	r.tools[h.ID] = h
	return nil
}

// Get returns the handle for id.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[id]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", id)
	}
	return h, nil
}

// List returns all handles sorted by id.
func (r *Registry) List() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.tools))
	for _, h := range r.tools {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterBuiltins installs the built-in tool set.
func RegisterBuiltins(r *Registry) error {
	for _, h := range []*Handle{
		browserTool(),
		scraperTool(),
		httpTool(),
		fileTool(),
		pythonTool(),
		codeRunnerTool(),
		githubTool(),
		shellTool(),
		jsonTool(),
		textTool(),
	} {
		if err := r.Register(h); err != nil {
			return err
		}
	}
	return nil
}
