package workflow

import "fmt"

// Validate runs the structural checks on a workflow: unique node ids, known
// node types, reference integrity of every edge, and acyclicity. It is pure
// and idempotent; disconnected nodes are legal.
func Validate(w *Workflow) error {
	seen := make(map[string]bool, len(w.Nodes))
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node at index %d has no id", i)
		}
		if seen[n.ID] {
			return &DuplicateNodeError{NodeID: n.ID}
		}
		seen[n.ID] = true
		if !n.Type.Known() {
			return fmt.Errorf("node %s has unknown type %q", n.ID, n.Type)
		}
	}

	for _, e := range w.Edges {
		if !seen[e.Source] {
			return &DanglingEdgeError{EdgeID: e.ID, Missing: e.Source}
		}
		if !seen[e.Target] {
			return &DanglingEdgeError{EdgeID: e.ID, Missing: e.Target}
		}
	}

	return checkAcyclic(w)
}

// checkAcyclic runs a depth-first traversal with a visited set and a
// recursion set; any back-edge is a cycle.
func checkAcyclic(w *Workflow) error {
	succ := make(map[string][]string, len(w.Nodes))
	for _, e := range w.Edges {
		succ[e.Source] = append(succ[e.Source], e.Target)
	}

	visited := make(map[string]bool, len(w.Nodes))
	inStack := make(map[string]bool, len(w.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		inStack[id] = true
		for _, next := range succ[id] {
			if inStack[next] {
				return &CycleError{NodeID: next}
			}
			if !visited[next] {
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		inStack[id] = false
		return nil
	}

	for i := range w.Nodes {
		if !visited[w.Nodes[i].ID] {
			if err := visit(w.Nodes[i].ID); err != nil {
				return err
			}
		}
	}
	return nil
}
