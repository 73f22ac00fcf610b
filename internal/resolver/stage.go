package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
	"github.com/hanpama/appsyncsim/internal/loader"
	"github.com/hanpama/appsyncsim/internal/mapping"
	"github.com/hanpama/appsyncsim/internal/template"
)

// invocation tracks one run of the state machine for events.
type invocation struct {
	id        string
	typeName  string
	fieldName string
	stage     string
}

func newInvocation(r *Resolver, stage string) invocation {
	return invocation{id: uuid.NewString(), typeName: r.TypeName, fieldName: r.FieldName, stage: stage}
}

func (inv invocation) enter(ctx context.Context, s State) {
	eventbus.Publish(ctx, events.ResolverState{
		InvocationID: inv.id,
		TypeName:     inv.typeName,
		FieldName:    inv.fieldName,
		Stage:        inv.stage,
		State:        string(s),
	})
}

func (d *Dispatcher) runUnit(ctx context.Context, r *Resolver, in mapping.Input) (any, error) {
	inv := newInvocation(r, "")
	inv.enter(ctx, StateBuildingContext)
	mc := mapping.New(in)
	return d.runStage(ctx, inv, mc, r.DataSource, r.Request, r.Response)
}

// runStage drives one unit resolution over an already built context.
func (d *Dispatcher) runStage(ctx context.Context, inv invocation, mc *mapping.Context, ds *DataSource, reqTpl, respTpl template.Template) (any, error) {
	defer inv.enter(ctx, StateDone)

	inv.enter(ctx, StateEvaluatingRequest)
	req, reqErr := d.renderRequest(mc, ds, reqTpl)
	if reqErr != nil {
		inv.enter(ctx, StateSkippedOnRequestError)
		mc.SetError(errorInfo(reqErr))
	} else {
		inv.enter(ctx, StateDispatchingLoader)
		res := d.load(ctx, inv, ds, req)
		if res.Failure != nil {
			mc.SetError(&mapping.ErrorInfo{Message: res.Failure.Message, Type: res.Failure.Type})
		} else {
			mc.SetResult(resultValue(res.Response))
		}
	}

	inv.enter(ctx, StateEvaluatingResponse)
	return renderResponse(mc, respTpl)
}

func (d *Dispatcher) renderRequest(mc *mapping.Context, ds *DataSource, tpl template.Template) (loader.Request, error) {
	if tpl == nil {
		if ds.Kind == loader.KindLambda {
			payload, err := mc.Snapshot()
			if err != nil {
				return loader.Request{}, err
			}
			return loader.Request{Version: directVersion, Operation: "Invoke", Payload: payload}, nil
		}
		return loader.Request{}, nil
	}
	out, err := tpl.Execute(mc)
	if err != nil {
		return loader.Request{}, err
	}
	v := out.Resolve()
	mergeStash(mc, v)
	req, err := loader.DecodeRequest(v)
	if err != nil {
		return loader.Request{}, &template.EvalError{Template: tpl.Name(), Err: err}
	}
	return req, nil
}

// mergeStash copies a top-level "stash" object of a rendered template into
// the shared stash.
func mergeStash(mc *mapping.Context, v any) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if s, ok := m["stash"].(map[string]any); ok {
		mc.MergeStash(s)
	}
}

func (d *Dispatcher) load(ctx context.Context, inv invocation, ds *DataSource, req loader.Request) loader.Result {
	start := time.Now()
	eventbus.Publish(ctx, events.LoaderStart{InvocationID: inv.id, DataSource: ds.Name, Kind: string(ds.Kind)})

	res := d.loadWithTimeout(ctx, ds, req)

	fin := events.LoaderFinish{
		InvocationID: inv.id,
		DataSource:   ds.Name,
		Kind:         string(ds.Kind),
		Duration:     time.Since(start),
	}
	if res.Failure != nil {
		fin.FailureType = res.Failure.Type
		fin.Err = res.Failure
	} else if res.Response != nil {
		fin.StatusCode = res.Response.StatusCode
	}
	eventbus.Publish(ctx, fin)
	return res
}

func (d *Dispatcher) loadWithTimeout(ctx context.Context, ds *DataSource, req loader.Request) loader.Result {
	if d.loaderTimeout <= 0 {
		return d.safeLoad(ctx, ds, req)
	}
	ctx, cancel := context.WithTimeout(ctx, d.loaderTimeout)
	defer cancel()
	ch := make(chan loader.Result, 1)
	go func() { ch <- d.safeLoad(ctx, ds, req) }()
	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		d.log.Warn("loader timed out", zap.String("dataSource", ds.Name), zap.Duration("timeout", d.loaderTimeout))
		return loader.Failed(ErrorTypeLoaderTimeout,
			fmt.Errorf("data source %s did not respond within %s", ds.Name, d.loaderTimeout))
	}
}

func (d *Dispatcher) safeLoad(ctx context.Context, ds *DataSource, req loader.Request) (res loader.Result) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("loader panicked", zap.String("dataSource", ds.Name), zap.Any("panic", p))
			res = loader.Failed(ErrorTypeLoaderPanic, fmt.Errorf("data source %s: %v", ds.Name, p))
		}
	}()
	res = ds.Loader.Load(ctx, req)
	if res.Response == nil && res.Failure == nil {
		res = loader.Failed(ErrorTypeLoaderPanic, fmt.Errorf("data source %s returned no result", ds.Name))
	}
	return res
}

// resultValue is what templates see as ctx.result for a response.
func resultValue(resp *loader.Response) any {
	if resp.Envelope {
		headers := make(map[string]any, len(resp.Headers))
		for k, v := range resp.Headers {
			headers[k] = v
		}
		return map[string]any{
			"statusCode": int64(resp.StatusCode),
			"headers":    headers,
			"body":       resp.Body,
		}
	}
	if resp.Body == "" {
		return nil
	}
	v, err := template.ParseJSON([]byte(resp.Body))
	if err != nil {
		return resp.Body
	}
	return v
}

func renderResponse(mc *mapping.Context, tpl template.Template) (any, error) {
	if tpl == nil {
		if mc.Error != nil {
			return nil, &FieldError{Message: mc.Error.Message, Type: mc.Error.Type, Data: mc.Error.Data}
		}
		return mc.Result, nil
	}
	out, err := tpl.Execute(mc)
	if err != nil {
		return nil, fieldError(err)
	}
	return out.Resolve(), nil
}

func errorInfo(err error) *mapping.ErrorInfo {
	fe := fieldError(err)
	return &mapping.ErrorInfo{Message: fe.Message, Type: fe.Type, Data: fe.Data}
}

func fieldError(err error) *FieldError {
	var ue *template.UserError
	if errors.As(err, &ue) {
		return &FieldError{Message: ue.Message, Type: ue.Type, Data: ue.Data}
	}
	var fe *FieldError
	if errors.As(err, &fe) {
		return fe
	}
	return &FieldError{Message: err.Error(), Type: ErrorTypeMappingTemplate}
}
