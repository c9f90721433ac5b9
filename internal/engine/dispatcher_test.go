package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weaveline/weft/internal/config"
	"github.com/weaveline/weft/internal/gateway"
	"github.com/weaveline/weft/internal/tool"
	"github.com/weaveline/weft/internal/workflow"
)

// fakeGateway echoes the request so tests can assert what the dispatcher
// sent.
type fakeGateway struct {
	last  gateway.Request
	reply string
	err   error
}

func (f *fakeGateway) Chat(_ context.Context, req gateway.Request) (string, error) {
	f.last = req
	return f.reply, f.err
}

func newTestDispatcher(t *testing.T, gw gateway.Gateway) *Dispatcher {
	t.Helper()
	registry := tool.NewRegistry()
	require.NoError(t, tool.RegisterBuiltins(registry))
	return NewDispatcher(gw, registry, zap.NewNop().Sugar())
}

func dataNode(t *testing.T, id string, kind workflow.NodeType, data any) *workflow.Node {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &workflow.Node{ID: id, Type: kind, Data: raw}
}

func never() bool { return false }

func testEC() *tool.ExecutionContext {
	return &tool.ExecutionContext{ExecutionID: "ex", WorkflowID: "wf", Config: *config.Default()}
}

func TestDispatch_PassThroughKinds(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()

	for _, kind := range []workflow.NodeType{workflow.TypeInput, workflow.TypeOutput, workflow.TypeParallel} {
		out, err := d.Dispatch(ctx, &workflow.Node{ID: "n", Type: kind}, "value", testEC(), never)
		require.NoError(t, err)
		assert.Equal(t, "value", out)
	}
}

func TestDispatch_Merge(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()
	node := &workflow.Node{ID: "m", Type: workflow.TypeMerge}

	out, err := d.Dispatch(ctx, node, []any{[]any{1, 2}, 3, []any{4}}, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3, 4}, out)

	out, err = d.Dispatch(ctx, node, "scalar", testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, "scalar", out)
}

func TestDispatch_Agent(t *testing.T) {
	gw := &fakeGateway{reply: "completion"}
	d := newTestDispatcher(t, gw)
	node := dataNode(t, "a", workflow.TypeAgent, workflow.AgentData{
		Provider: "ollama", Model: "llama3.2", SystemPrompt: "be brief", Temperature: 0.5, MaxTokens: 100,
	})

	out, err := d.Dispatch(context.Background(), node, map[string]any{"q": "hi"}, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, "completion", out)
	assert.Equal(t, "ollama", gw.last.Provider)
	assert.Equal(t, "be brief", gw.last.SystemPrompt)
	assert.JSONEq(t, `{"q":"hi"}`, gw.last.Prompt, "non-string input is serialized to JSON")

	_, err = d.Dispatch(context.Background(), node, "plain prompt", testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, "plain prompt", gw.last.Prompt, "string input passes verbatim")
}

func TestDispatch_Tool(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	node := dataNode(t, "t", workflow.TypeTool, workflow.ToolData{
		ToolID:     "text",
		ToolConfig: map[string]any{"operation": "upper", "text": "abc"},
	})

	out, err := d.Dispatch(context.Background(), node, nil, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, "ABC", out)
}

func TestDispatch_ToolErrors(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()

	missing := dataNode(t, "t1", workflow.TypeTool, workflow.ToolData{})
	_, err := d.Dispatch(ctx, missing, nil, testEC(), never)
	var mde *workflow.MissingDataError
	require.ErrorAs(t, err, &mde)
	assert.Equal(t, "toolId", mde.Field)

	unknown := dataNode(t, "t2", workflow.TypeTool, workflow.ToolData{ToolID: "nope"})
	_, err = d.Dispatch(ctx, unknown, nil, testEC(), never)
	assert.ErrorContains(t, err, "unknown tool")
}

func TestDispatch_ConditionAndTransform(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()

	cond := dataNode(t, "c", workflow.TypeCondition, workflow.ConditionData{Condition: "input > 3"})
	out, err := d.Dispatch(ctx, cond, float64(5), testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	tr := dataNode(t, "tr", workflow.TypeTransform, workflow.TransformData{Transform: "input * 2"})
	out, err = d.Dispatch(ctx, tr, float64(3), testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, float64(6), out)

	bad := dataNode(t, "b", workflow.TypeTransform, workflow.TransformData{Transform: "nonexistent.field"})
	_, err = d.Dispatch(ctx, bad, float64(3), testEC(), never)
	assert.Error(t, err)
}

func TestDispatch_LoopFor(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	node := dataNode(t, "l", workflow.TypeLoop, workflow.LoopData{
		LoopType: "for", LoopConfig: workflow.LoopConfig{Count: 3},
	})

	out, err := d.Dispatch(context.Background(), node, "seed", testEC(), never)
	require.NoError(t, err)
	items := out.([]any)
	require.Len(t, items, 3)
	assert.Equal(t, map[string]any{"index": float64(0), "input": "seed"}, items[0])
	assert.Equal(t, map[string]any{"index": float64(2), "input": "seed"}, items[2])
}

func TestDispatch_LoopForEach(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	node := dataNode(t, "l", workflow.TypeLoop, workflow.LoopData{LoopType: "forEach"})
	ctx := context.Background()

	out, err := d.Dispatch(ctx, node, []any{"x", "y"}, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)

	out, err = d.Dispatch(ctx, node, "single", testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, []any{"single"}, out, "non-sequence input is wrapped")
}

func TestDispatch_LoopWhile(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()

	// false immediately: no items
	node := dataNode(t, "l", workflow.TypeLoop, workflow.LoopData{
		LoopType: "while", LoopConfig: workflow.LoopConfig{Condition: "input > 100"},
	})
	out, err := d.Dispatch(ctx, node, float64(1), testEC(), never)
	require.NoError(t, err)
	assert.Empty(t, out)

	// never false: the hard cap stops it
	always := dataNode(t, "l2", workflow.TypeLoop, workflow.LoopData{
		LoopType: "while", LoopConfig: workflow.LoopConfig{Condition: "input > 0"},
	})
	out, err = d.Dispatch(ctx, always, float64(1), testEC(), never)
	require.NoError(t, err)
	assert.Len(t, out, whileLoopCap)
}

func TestDispatch_LoopCancellation(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	node := dataNode(t, "l", workflow.TypeLoop, workflow.LoopData{
		LoopType: "for", LoopConfig: workflow.LoopConfig{Count: 1000},
	})

	_, err := d.Dispatch(context.Background(), node, nil, testEC(), func() bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatch_Prompt(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	ctx := context.Background()

	node := dataNode(t, "p", workflow.TypePrompt, workflow.PromptData{
		PromptTemplate: "Summarize {{ topic }} in {{ tone }} tone: {{ input }}",
		Variables:      []string{"topic", "tone"},
	})
	out, err := d.Dispatch(ctx, node, map[string]any{"topic": "Go", "tone": "dry", "body": "..."}, testEC(), never)
	require.NoError(t, err)
	assert.Contains(t, out, "Summarize Go in dry tone:")

	// a variable missing from the input record renders empty
	out, err = d.Dispatch(ctx, node, map[string]any{"topic": "Go"}, testEC(), never)
	require.NoError(t, err)
	assert.Contains(t, out, "Summarize Go in  tone")
}

func TestDispatch_CodeJS(t *testing.T) {
	d := newTestDispatcher(t, &fakeGateway{})
	node := dataNode(t, "c", workflow.TypeCode, workflow.CodeData{
		Language: "javascript", Code: "input.n + 1",
	})

	out, err := d.Dispatch(context.Background(), node, map[string]any{"n": 41}, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, float64(42), out)
}

func TestDispatch_Sensor(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(&tool.Handle{
		ID: "thermometer",
		Invoke: func(_ context.Context, _ *tool.ExecutionContext, input map[string]any) (any, error) {
			return map[string]any{"celsius": 21.5, "unit": input["unit"]}, nil
		},
	}))
	d := NewDispatcher(&fakeGateway{}, registry, zap.NewNop().Sugar())

	node := dataNode(t, "s", workflow.TypeSensor, workflow.SensorData{
		SensorID: "thermometer", Config: map[string]any{"unit": "C"},
	})
	out, err := d.Dispatch(context.Background(), node, nil, testEC(), never)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"celsius": 21.5, "unit": "C"}, out)
}

func TestInterpolate(t *testing.T) {
	input := map[string]any{"name": "weft", "count": float64(3), "nested": map[string]any{"k": "v"}}

	assert.Equal(t, "hello weft", interpolate("hello {{name}}", input))
	assert.Equal(t, "n=3", interpolate("n={{count}}", input))
	assert.Equal(t, `{"k":"v"}`, interpolate("{{nested}}", input))
	assert.Equal(t, "{{unknown}}", interpolate("{{unknown}}", input), "unknown names stay in place")
	assert.Equal(t, "plain", interpolate("plain", input))

	whole := interpolate("{{input}}", input)
	assert.JSONEq(t, `{"name":"weft","count":3,"nested":{"k":"v"}}`, whole)
}
