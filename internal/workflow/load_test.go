package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = `{
  "id": "wf-1",
  "name": "sample",
  "nodes": [
    {"id": "in", "type": "input", "label": "Input"},
    {"id": "tf", "type": "transform", "label": "Double",
     "data": {"transform": "input * 2", "editorHint": "keep-me"}},
    {"id": "out", "type": "output", "label": "Result"}
  ],
  "edges": [
    {"id": "e1", "source": "in", "target": "tf"},
    {"id": "e2", "source": "tf", "target": "out"}
  ],
  "createdAt": "2026-01-02T03:04:05Z",
  "updatedAt": "2026-01-02T03:04:05Z"
}`

func TestParseJSON(t *testing.T) {
	w, err := ParseJSON([]byte(sampleJSON))
	require.NoError(t, err)
	assert.Equal(t, "wf-1", w.ID)
	require.Len(t, w.Nodes, 3)

	var td TransformData
	require.NoError(t, DecodeData(w.Node("tf"), &td))
	assert.Equal(t, "input * 2", td.Transform)

	// Unknown data fields survive verbatim.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Node("tf").Data, &raw))
	assert.Equal(t, "keep-me", raw["editorHint"])
}

func TestParseJSON_RejectsInvalid(t *testing.T) {
	_, err := ParseJSON([]byte(`{"nodes": [{"id": "a", "type": "input"}],
		"edges": [{"id": "e", "source": "a", "target": "nope"}]}`))
	var dangling *DanglingEdgeError
	require.ErrorAs(t, err, &dangling)
}

func TestLoadFile_YAML(t *testing.T) {
	doc := `
name: yaml wf
nodes:
  - id: a
    type: input
    label: A
  - id: b
    type: prompt
    label: B
    data:
      promptTemplate: "Say {{input}}"
edges:
  - source: a
    target: b
`
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	w, err := LoadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID, "id is generated when absent")
	assert.False(t, w.UpdatedAt.IsZero())
	require.Len(t, w.Edges, 1)
	assert.Equal(t, "a-b", w.Edges[0].ID)

	var pd PromptData
	require.NoError(t, DecodeData(w.Node("b"), &pd))
	assert.Equal(t, "Say {{input}}", pd.PromptTemplate)
}

func TestDisplayLabel(t *testing.T) {
	n := Node{ID: "n1", Label: "pretty"}
	assert.Equal(t, "pretty", n.DisplayLabel())
	n.Label = ""
	assert.Equal(t, "n1", n.DisplayLabel())
}
