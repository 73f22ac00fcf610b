package resolver

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanpama/appsyncsim/internal/mapping"
)

// runPipeline walks the outer state machine of a pipeline resolver. The
// function chain plays the part of the loader: it is skipped when the before
// template fails.
func (d *Dispatcher) runPipeline(ctx context.Context, r *Resolver, in mapping.Input) (any, error) {
	inv := newInvocation(r, "")
	inv.enter(ctx, StateBuildingContext)
	if in.Stash == nil {
		in.Stash = map[string]any{}
	}
	mc := mapping.New(in)
	defer inv.enter(ctx, StateDone)

	var (
		prev   any
		halted *FieldError
	)

	inv.enter(ctx, StateEvaluatingRequest)
	if r.Request != nil {
		out, err := r.Request.Execute(mc)
		if err != nil {
			halted = fieldError(err)
		} else {
			prev = out.Resolve()
			mergeStash(mc, prev)
		}
	}

	if halted != nil {
		inv.enter(ctx, StateSkippedOnRequestError)
	} else {
		inv.enter(ctx, StateDispatchingLoader)
		for _, fn := range r.Functions {
			stage := newInvocation(r, fn.Name)
			stage.enter(ctx, StateBuildingContext)
			fc := mapping.New(in)
			fc.Prev = prev

			v, err := d.runStage(ctx, stage, fc, fn.DataSource, fn.Request, fn.Response)
			if err != nil {
				halted = fieldError(err)
				d.log.Debug("pipeline halted",
					zap.String("field", r.key()),
					zap.String("function", fn.Name),
					zap.String("message", halted.Message))
				break
			}
			prev = v
		}
	}

	mc.Prev = prev
	if halted != nil {
		mc.SetError(&mapping.ErrorInfo{Message: halted.Message, Type: halted.Type, Data: halted.Data})
	} else {
		mc.SetResult(prev)
	}

	inv.enter(ctx, StateEvaluatingResponse)
	return renderResponse(mc, r.Response)
}
