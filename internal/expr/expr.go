// Package expr evaluates user-authored expressions for condition, transform
// and while-loop nodes. The grammar is HCL expression syntax over a single
// binding named input, with a small whitelist of functions. The grammar has
// no ambient authority: no network, filesystem or timer access exists to
// deny. Evaluation is bounded by a wall-clock timeout.
package expr

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// DefaultTimeout bounds a single expression evaluation.
const DefaultTimeout = 5 * time.Second

// Error reports a failed parse or evaluation of a user expression.
type Error struct {
	Expr   string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("expression %q: %s", e.Expr, e.Detail)
}

var builtins = map[string]function.Function{
	"length":   stdlib.LengthFunc,
	"keys":     stdlib.KeysFunc,
	"contains": stdlib.ContainsFunc,
	"upper":    stdlib.UpperFunc,
	"lower":    stdlib.LowerFunc,
	"abs":      stdlib.AbsoluteFunc,
	"floor":    stdlib.FloorFunc,
	"ceil":     stdlib.CeilFunc,
}

// Evaluator evaluates expressions with a configurable timeout.
type Evaluator struct {
	Timeout time.Duration
}

// New returns an Evaluator with the default timeout.
func New() *Evaluator {
	return &Evaluator{Timeout: DefaultTimeout}
}

// Eval parses src and evaluates it with input bound to the gathered node
// value, returning the native Go result.
func (ev *Evaluator) Eval(ctx context.Context, src string, input any) (any, error) {
	parsed, diags := hclsyntax.ParseExpression([]byte(src), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &Error{Expr: src, Detail: diags.Error()}
	}

	inputVal, err := toCty(input)
	if err != nil {
		return nil, &Error{Expr: src, Detail: fmt.Sprintf("bind input: %v", err)}
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"input": inputVal},
		Functions: builtins,
	}

	timeout := ev.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type evalResult struct {
		val   cty.Value
		diags hcl.Diagnostics
	}
	done := make(chan evalResult, 1)
	go func() {
		val, d := parsed.Value(evalCtx)
		done <- evalResult{val: val, diags: d}
	}()

	select {
	case <-ctx.Done():
		return nil, &Error{Expr: src, Detail: "evaluation timed out"}
	case res := <-done:
		if res.diags.HasErrors() {
			return nil, &Error{Expr: src, Detail: res.diags.Error()}
		}
		native, err := fromCty(res.val)
		if err != nil {
			return nil, &Error{Expr: src, Detail: err.Error()}
		}
		return native, nil
	}
}

// EvalBool evaluates src under the same timeout as Eval and coerces the
// result to a boolean. A null result is false.
func (ev *Evaluator) EvalBool(ctx context.Context, src string, input any) (bool, error) {
	result, err := ev.Eval(ctx, src, input)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}
	val, err := toCty(result)
	if err != nil {
		return false, &Error{Expr: src, Detail: fmt.Sprintf("coerce result: %v", err)}
	}
	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, &Error{Expr: src, Detail: fmt.Sprintf("result is not a boolean: %v", err)}
	}
	return boolVal.True(), nil
}
