package template

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/hanpama/appsyncsim/internal/mapping"
)

// HCLEngine evaluates templates written in HCL native template syntax:
// "${expr}" interpolations and "%{if}"/"%{for}" directives over literal text.
type HCLEngine struct {
	funcs map[string]function.Function
}

type HCLOption func(*hclOptions)

type hclOptions struct {
	now   func() time.Time
	extra map[string]function.Function
}

// WithClock overrides the time source used by the now* helpers.
func WithClock(now func() time.Time) HCLOption { return func(o *hclOptions) { o.now = now } }

// WithFunction adds or replaces a template helper.
func WithFunction(name string, fn function.Function) HCLOption {
	return func(o *hclOptions) { o.extra[name] = fn }
}

func NewHCLEngine(opts ...HCLOption) *HCLEngine {
	o := &hclOptions{now: time.Now, extra: map[string]function.Function{}}
	for _, f := range opts {
		f(o)
	}
	funcs := functions(o.now)
	for name, fn := range o.extra {
		funcs[name] = fn
	}
	return &HCLEngine{funcs: funcs}
}

var _ Engine = (*HCLEngine)(nil)

func (e *HCLEngine) Compile(name, source string) (Template, error) {
	expr, diags := hclsyntax.ParseTemplate([]byte(source), name, hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse template %s: %w", name, diags)
	}
	return &hclTemplate{name: name, expr: expr, funcs: e.funcs}, nil
}

type hclTemplate struct {
	name  string
	expr  hclsyntax.Expression
	funcs map[string]function.Function
}

func (t *hclTemplate) Name() string { return t.name }

func (t *hclTemplate) Execute(mc *mapping.Context) (Output, error) {
	ctxVal, err := toCty(mc.Value())
	if err != nil {
		return Output{}, &EvalError{Template: t.name, Err: err}
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"ctx":     ctxVal,
			"context": ctxVal,
		},
		Functions: t.funcs,
	}
	val, diags := t.expr.Value(evalCtx)
	if diags.HasErrors() {
		if ue := userErrorFrom(diags); ue != nil {
			return Output{}, ue
		}
		return Output{}, &EvalError{Template: t.name, Err: diags}
	}
	out, err := fromCty(val)
	if err != nil {
		return Output{}, &EvalError{Template: t.name, Err: err}
	}
	return Output{Value: out}, nil
}

// userErrorFrom finds the first error() call among diags. Only the branch
// that was actually selected contributes diagnostics, so a guarded error()
// call is reported only when its guard holds.
func userErrorFrom(diags hcl.Diagnostics) *UserError {
	for _, d := range diags {
		extra, ok := hcl.DiagnosticExtra[hclsyntax.FunctionCallDiagExtra](d)
		if !ok {
			continue
		}
		var ue *UserError
		if errors.As(extra.FunctionCallError(), &ue) {
			return ue
		}
	}
	return nil
}
