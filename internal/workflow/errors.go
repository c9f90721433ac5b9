package workflow

import "fmt"

// DanglingEdgeError reports an edge endpoint that names no node in the
// workflow.
type DanglingEdgeError struct {
	EdgeID  string
	Missing string
}

func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("edge %s references unknown node %q", e.EdgeID, e.Missing)
}

// CycleError reports a directed cycle reachable through the named node.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow contains a cycle through node %q", e.NodeID)
}

// DuplicateNodeError reports two nodes sharing an id.
type DuplicateNodeError struct {
	NodeID string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("duplicate node id %q", e.NodeID)
}

// MissingDataError reports a required per-type data field that is absent.
type MissingDataError struct {
	NodeID string
	Field  string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("node %s: required data field %q is missing", e.NodeID, e.Field)
}
