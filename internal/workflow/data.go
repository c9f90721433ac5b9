package workflow

import (
	"encoding/json"
	"fmt"
)

// Per-type data records. Each node carries its record raw (Node.Data) and
// the dispatcher decodes the struct matching the node's type tag. Fields the
// structs don't name stay in the raw record untouched.

// AgentData configures a model call.
type AgentData struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"systemPrompt"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"maxTokens"`
}

// ToolData selects a registered tool and its static configuration.
type ToolData struct {
	ToolID     string         `json:"toolId"`
	ToolConfig map[string]any `json:"toolConfig"`
}

// ConditionData holds a boolean expression over the gathered input.
type ConditionData struct {
	Condition string `json:"condition"`
}

// LoopConfig parameterizes the three loop modes.
type LoopConfig struct {
	Count     int    `json:"count"`
	Condition string `json:"condition"`
	Items     []any  `json:"items"`
}

// LoopData configures a loop node. LoopType is one of for, forEach, while.
type LoopData struct {
	LoopType   string     `json:"loopType"`
	LoopConfig LoopConfig `json:"loopConfig"`
}

// TransformData holds an expression whose result becomes the node output.
type TransformData struct {
	Transform string `json:"transform"`
}

// PromptData renders a template over the gathered input.
type PromptData struct {
	PromptTemplate string   `json:"promptTemplate"`
	Variables      []string `json:"variables"`
}

// CodeData holds user source in the declared language.
type CodeData struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// HTTPData configures an outbound request. URL and Body support {{name}}
// placeholders resolved from input-record fields.
type HTTPData struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// SensorData names the sensor tool a sensor node delegates to.
type SensorData struct {
	SensorID string         `json:"sensorId"`
	Config   map[string]any `json:"config"`
}

// DecodeData unmarshals a node's raw data record into dst. A nil or empty
// record leaves dst at its zero value.
func DecodeData(n *Node, dst any) error {
	if len(n.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(n.Data, dst); err != nil {
		return fmt.Errorf("node %s: decode %s data: %w", n.ID, n.Type, err)
	}
	return nil
}

// normalizeNodeData fills Node.Data from DataYAML for documents parsed from
// YAML, so downstream code only ever sees the JSON form.
func normalizeNodeData(w *Workflow) error {
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if len(n.Data) > 0 || n.DataYAML == nil {
			continue
		}
		raw, err := json.Marshal(n.DataYAML)
		if err != nil {
			return fmt.Errorf("node %s: normalize data: %w", n.ID, err)
		}
		n.Data = raw
		n.DataYAML = nil
	}
	return nil
}
