package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/expr"
	"github.com/weaveline/weft/internal/gateway"
	"github.com/weaveline/weft/internal/tool"
	"github.com/weaveline/weft/internal/workflow"
)

// whileLoopCap bounds while loops so a never-false condition cannot spin an
// execution forever.
const whileLoopCap = 10000

const jsNodeTimeout = 30 * time.Second

// Dispatcher realizes per-kind node semantics: it maps a node plus its
// gathered input to an output value. It holds the read-mostly collaborators
// shared by all runners.
type Dispatcher struct {
	gateway gateway.Gateway
	tools   *tool.Registry
	eval    *expr.Evaluator
	logger  *zap.SugaredLogger
}

func NewDispatcher(gw gateway.Gateway, tools *tool.Registry, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		gateway: gw,
		tools:   tools,
		eval:    expr.New(),
		logger:  logger,
	}
}

// Dispatch runs one node. cancelled is the runner's cooperative checkpoint;
// loop nodes consult it between iterations.
func (d *Dispatcher) Dispatch(ctx context.Context, node *workflow.Node, input any, ec *tool.ExecutionContext, cancelled func() bool) (any, error) {
	switch node.Type {
	case workflow.TypeInput, workflow.TypeOutput, workflow.TypeParallel:
		// pass-through kinds; parallelism itself comes from the scheduler
		return input, nil
	case workflow.TypeMerge:
		return mergeValue(input), nil
	case workflow.TypeAgent:
		return d.dispatchAgent(ctx, node, input, ec)
	case workflow.TypeTool:
		return d.dispatchTool(ctx, node, input, ec)
	case workflow.TypeCondition:
		return d.dispatchCondition(ctx, node, input)
	case workflow.TypeLoop:
		return d.dispatchLoop(ctx, node, input, cancelled)
	case workflow.TypeTransform:
		return d.dispatchTransform(ctx, node, input)
	case workflow.TypePrompt:
		return d.dispatchPrompt(node, input)
	case workflow.TypeCode:
		return d.dispatchCode(ctx, node, input, ec)
	case workflow.TypeHTTP:
		return d.dispatchHTTP(ctx, node, input, ec)
	case workflow.TypeSensor:
		return d.dispatchSensor(ctx, node, ec)
	default:
		return nil, fmt.Errorf("node %s: unknown kind %q", node.ID, node.Type)
	}
}

// mergeValue flattens a sequence one level; non-sequences pass through.
func mergeValue(input any) any {
	seq, ok := input.([]any)
	if !ok {
		return input
	}
	out := make([]any, 0, len(seq))
	for _, item := range seq {
		if inner, ok := item.([]any); ok {
			out = append(out, inner...)
		} else {
			out = append(out, item)
		}
	}
	return out
}

func (d *Dispatcher) dispatchAgent(ctx context.Context, node *workflow.Node, input any, ec *tool.ExecutionContext) (any, error) {
	var data workflow.AgentData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}

	prompt, err := stringify(input)
	if err != nil {
		return nil, fmt.Errorf("node %s: serialize agent input: %w", node.ID, err)
	}

	d.logger.Infow("Dispatching agent node",
		"node_id", node.ID, "provider", data.Provider, "model", data.Model)
	return d.gateway.Chat(ctx, gateway.Request{
		Provider:     data.Provider,
		Model:        data.Model,
		SystemPrompt: data.SystemPrompt,
		Prompt:       prompt,
		Temperature:  data.Temperature,
		MaxTokens:    data.MaxTokens,
	})
}

func (d *Dispatcher) dispatchTool(ctx context.Context, node *workflow.Node, input any, ec *tool.ExecutionContext) (any, error) {
	var data workflow.ToolData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.ToolID == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "toolId"}
	}
	h, err := d.tools.Get(data.ToolID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}

	merged := make(map[string]any, len(data.ToolConfig)+1)
	for k, v := range data.ToolConfig {
		merged[k] = v
	}
	merged["input"] = input

	d.logger.Infow("Dispatching tool node", "node_id", node.ID, "tool_id", data.ToolID)
	return h.Invoke(ctx, ec, merged)
}

func (d *Dispatcher) dispatchCondition(ctx context.Context, node *workflow.Node, input any) (any, error) {
	var data workflow.ConditionData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.Condition == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "condition"}
	}
	return d.eval.EvalBool(ctx, data.Condition, input)
}

func (d *Dispatcher) dispatchTransform(ctx context.Context, node *workflow.Node, input any) (any, error) {
	var data workflow.TransformData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.Transform == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "transform"}
	}
	return d.eval.Eval(ctx, data.Transform, input)
}

// dispatchLoop emits the iteration items as a single downstream sequence;
// there is no per-iteration fan-out.
func (d *Dispatcher) dispatchLoop(ctx context.Context, node *workflow.Node, input any, cancelled func() bool) (any, error) {
	var data workflow.LoopData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}

	switch data.LoopType {
	case "for":
		items := make([]any, 0, data.LoopConfig.Count)
		for i := 0; i < data.LoopConfig.Count; i++ {
			if cancelled() {
				return nil, context.Canceled
			}
			items = append(items, map[string]any{"index": float64(i), "input": input})
		}
		return items, nil

	case "forEach":
		if seq, ok := input.([]any); ok {
			return seq, nil
		}
		return []any{input}, nil

	case "while":
		if data.LoopConfig.Condition == "" {
			return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "loopConfig.condition"}
		}
		items := []any{}
		for i := 0; i < whileLoopCap; i++ {
			if cancelled() {
				return nil, context.Canceled
			}
			ok, err := d.eval.EvalBool(ctx, data.LoopConfig.Condition, input)
			if err != nil {
				return nil, fmt.Errorf("node %s: while condition: %w", node.ID, err)
			}
			if !ok {
				break
			}
			items = append(items, map[string]any{"index": float64(i), "input": input})
		}
		return items, nil

	default:
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "loopType"}
	}
}

func (d *Dispatcher) dispatchPrompt(node *workflow.Node, input any) (any, error) {
	var data workflow.PromptData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.PromptTemplate == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "promptTemplate"}
	}

	tplCtx := pongo2.Context{}
	stringified, err := stringify(input)
	if err != nil {
		return nil, fmt.Errorf("node %s: serialize prompt input: %w", node.ID, err)
	}
	tplCtx["input"] = stringified
	if record, ok := input.(map[string]any); ok {
		for _, name := range data.Variables {
			if v, ok := record[name]; ok {
				tplCtx[name] = v
			}
		}
	}

	tpl, err := pongo2.FromString(data.PromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("node %s: parse prompt template: %w", node.ID, err)
	}
	out, err := tpl.Execute(tplCtx)
	if err != nil {
		return nil, fmt.Errorf("node %s: render prompt template: %w", node.ID, err)
	}
	return out, nil
}

func (d *Dispatcher) dispatchCode(ctx context.Context, node *workflow.Node, input any, ec *tool.ExecutionContext) (any, error) {
	var data workflow.CodeData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.Code == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "code"}
	}

	switch data.Language {
	case "", "javascript", "js", "typescript", "ts":
		return tool.RunJS(ctx, data.Code, input, jsNodeTimeout)
	case "python", "py":
		h, err := d.tools.Get("python")
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
		return h.Invoke(ctx, ec, map[string]any{"code": data.Code, "input": input})
	default:
		return nil, fmt.Errorf("node %s: unsupported language %q", node.ID, data.Language)
	}
}

// dispatchHTTP interpolates {{name}} placeholders and delegates to the http
// tool, the single outbound-HTTP implementation.
func (d *Dispatcher) dispatchHTTP(ctx context.Context, node *workflow.Node, input any, ec *tool.ExecutionContext) (any, error) {
	var data workflow.HTTPData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.URL == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "url"}
	}

	url := interpolate(data.URL, input)
	var body any = data.Body
	if s, ok := data.Body.(string); ok {
		body = interpolate(s, input)
	}

	h, err := d.tools.Get("http")
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	headers := map[string]any{}
	for k, v := range data.Headers {
		headers[k] = v
	}
	toolInput := map[string]any{
		"url":     url,
		"method":  data.Method,
		"headers": headers,
	}
	if body != nil {
		toolInput["body"] = body
	}
	out, err := h.Invoke(ctx, ec, toolInput)
	if err != nil {
		return nil, err
	}
	if record, ok := out.(map[string]any); ok {
		return record["body"], nil
	}
	return out, nil
}

func (d *Dispatcher) dispatchSensor(ctx context.Context, node *workflow.Node, ec *tool.ExecutionContext) (any, error) {
	var data workflow.SensorData
	if err := workflow.DecodeData(node, &data); err != nil {
		return nil, err
	}
	if data.SensorID == "" {
		return nil, &workflow.MissingDataError{NodeID: node.ID, Field: "sensorId"}
	}
	h, err := d.tools.Get(data.SensorID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", node.ID, err)
	}
	cfg := map[string]any{}
	for k, v := range data.Config {
		cfg[k] = v
	}
	return h.Invoke(ctx, ec, cfg)
}

// stringify renders a value for prompt embedding: strings verbatim,
// everything else as JSON.
func stringify(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// interpolate substitutes {{name}} placeholders from input-record fields and
// {{input}} from the whole value. Unknown names are left in place.
func interpolate(s string, input any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	out := s
	if whole, err := stringify(input); err == nil {
		out = strings.ReplaceAll(out, "{{input}}", whole)
	}
	if record, ok := input.(map[string]any); ok {
		for name, v := range record {
			rendered := fmt.Sprint(v)
			if nested, err := stringify(v); err == nil {
				if _, isString := v.(string); !isString {
					rendered = nested
				}
			}
			out = strings.ReplaceAll(out, "{{"+name+"}}", rendered)
		}
	}
	return out
}
