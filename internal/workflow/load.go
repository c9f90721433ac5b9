package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ParseJSON decodes a workflow document (UTF-8 JSON) and validates it.
func ParseJSON(data []byte) (*Workflow, error) {
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workflow JSON: %w", err)
	}
	fillDefaults(&w)
	if err := Validate(&w); err != nil {
		return nil, err
	}
	return &w, nil
}

// LoadFile reads a workflow document from disk. The format is chosen by
// extension: .yaml/.yml parse as YAML, everything else as JSON.
func LoadFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var w Workflow
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse workflow YAML: %w", err)
		}
		if err := normalizeNodeData(&w); err != nil {
			return nil, err
		}
		fillDefaults(&w)
		if err := Validate(&w); err != nil {
			return nil, err
		}
		return &w, nil
	default:
		return ParseJSON(data)
	}
}

func fillDefaults(w *Workflow) {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = now
	}
	for i := range w.Edges {
		if w.Edges[i].ID == "" {
			w.Edges[i].ID = fmt.Sprintf("%s-%s", w.Edges[i].Source, w.Edges[i].Target)
		}
	}
}
