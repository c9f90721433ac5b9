package workflow

import (
	"encoding/json"
	"time"
)

// NodeType identifies the execution semantics of a node.
type NodeType string

const (
	TypeInput     NodeType = "input"
	TypeOutput    NodeType = "output"
	TypeAgent     NodeType = "agent"
	TypeTool      NodeType = "tool"
	TypeCondition NodeType = "condition"
	TypeLoop      NodeType = "loop"
	TypeParallel  NodeType = "parallel"
	TypeMerge     NodeType = "merge"
	TypeTransform NodeType = "transform"
	TypePrompt    NodeType = "prompt"
	TypeCode      NodeType = "code"
	TypeHTTP      NodeType = "http"
	TypeSensor    NodeType = "sensor"
)

// Known reports whether t is one of the closed set of node types.
func (t NodeType) Known() bool {
	switch t {
	case TypeInput, TypeOutput, TypeAgent, TypeTool, TypeCondition, TypeLoop,
		TypeParallel, TypeMerge, TypeTransform, TypePrompt, TypeCode, TypeHTTP, TypeSensor:
		return true
	}
	return false
}

// Position is a layout hint from the editor. The runtime ignores it.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a unit of computation, parameterized by its type and a
// type-specific data record. Data is kept raw so fields the dispatcher
// doesn't know about survive a store round trip verbatim.
type Node struct {
	ID       string          `json:"id" yaml:"id"`
	Type     NodeType        `json:"type" yaml:"type"`
	Label    string          `json:"label" yaml:"label"`
	Position *Position       `json:"position,omitempty" yaml:"position,omitempty"`
	Data     json.RawMessage `json:"data,omitempty" yaml:"-"`

	// DataYAML receives the data record when the document is YAML; it is
	// normalized into Data by LoadFile.
	DataYAML map[string]any `json:"-" yaml:"data,omitempty"`
}

// DisplayLabel returns the node's label, falling back to its id.
func (n *Node) DisplayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge is a directed dependency: the target's dispatch requires the
// source's completed output. Ports are advisory.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	Target       string `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
	Label        string `json:"label,omitempty" yaml:"label,omitempty"`
}

// Workflow is a persisted DAG together with identity and metadata.
type Workflow struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []Node         `json:"nodes" yaml:"nodes"`
	Edges       []Edge         `json:"edges" yaml:"edges"`
	Variables   map[string]any `json:"variables,omitempty" yaml:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt" yaml:"updatedAt"`
}

// Node returns the node with the given id, or nil.
func (w *Workflow) Node(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// ExecutionStatus is the lifecycle state of one run of a workflow.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
	ExecutionStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether s is a terminal execution status.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionError || s == ExecutionStopped
}

// NodeStatus is the lifecycle state of a node within an execution.
// Transitions are monotonic: pending → running → completed | error | skipped.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeError     NodeStatus = "error"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeState records a node's progress within an execution. Output is set
// exactly once, at the completed transition.
type NodeState struct {
	Status      NodeStatus `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Output      any        `json:"output,omitempty"`
	Error       string     `json:"error,omitempty"`
	RetryCount  int        `json:"retryCount,omitempty"`
}

// LogLevel is the severity of a log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogLine is one append-only entry of an execution's log.
type LogLine struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	NodeID    string         `json:"nodeId,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Execution is one run of a workflow to terminal status.
type Execution struct {
	ID          string                `json:"id"`
	WorkflowID  string                `json:"workflowId"`
	Status      ExecutionStatus       `json:"status"`
	Input       any                   `json:"input,omitempty"`
	Output      any                   `json:"output,omitempty"`
	Error       string                `json:"error,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	CompletedAt *time.Time            `json:"completedAt,omitempty"`
	NodeStates  map[string]*NodeState `json:"nodeStates,omitempty"`
	Logs        []LogLine             `json:"logs,omitempty"`
}

// Template is a reusable workflow definition grouped by category.
type Template struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	Workflow    Workflow  `json:"workflow"`
	CreatedAt   time.Time `json:"createdAt"`
}
