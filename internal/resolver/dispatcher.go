package resolver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	executor "github.com/hanpama/appsyncsim/internal/executor"
	"github.com/hanpama/appsyncsim/internal/mapping"
)

// Dispatcher implements executor.Runtime over a set of resolvers.
//
// Fields with a resolver are expected to be marked async in the schema so
// the executor hands them to BatchResolveAsync; all other fields are
// projected from their parent value by ResolveSync without I/O.
type Dispatcher struct {
	resolvers     map[string]*Resolver
	log           *zap.Logger
	concurrency   int
	loaderTimeout time.Duration
}

var _ executor.Runtime = (*Dispatcher)(nil)

type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithConcurrency limits the number of fields of one batch resolved at the
// same time. Zero or less means no limit.
func WithConcurrency(n int) Option { return func(d *Dispatcher) { d.concurrency = n } }

// WithLoaderTimeout bounds every loader call. A load that does not finish in
// time is abandoned and reported as a LoaderTimeout failure.
func WithLoaderTimeout(t time.Duration) Option { return func(d *Dispatcher) { d.loaderTimeout = t } }

func New(resolvers []*Resolver, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		resolvers: make(map[string]*Resolver, len(resolvers)),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	for _, r := range resolvers {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if _, dup := d.resolvers[r.key()]; dup {
			return nil, fmt.Errorf("resolver %s: defined more than once", r.key())
		}
		d.resolvers[r.key()] = r
	}
	return d, nil
}

// Lookup returns the resolver attached to typeName.fieldName.
func (d *Dispatcher) Lookup(typeName, fieldName string) (*Resolver, bool) {
	r, ok := d.resolvers[typeName+"."+fieldName]
	return r, ok
}

// Resolvers lists the configured resolvers.
func (d *Dispatcher) Resolvers() []*Resolver {
	out := lo.Values(d.resolvers)
	slices.SortFunc(out, func(a, b *Resolver) int { return strings.Compare(a.key(), b.key()) })
	return out
}

// Resolve runs r for one field. The returned error, if any, is a
// *FieldError.
func (d *Dispatcher) Resolve(ctx context.Context, r *Resolver, in mapping.Input) (any, error) {
	if in.Request.Headers == nil {
		if req, ok := mapping.RequestFromContext(ctx); ok {
			in.Request = req
		}
	}
	start := time.Now()
	var (
		v   any
		err error
	)
	if r.Kind == KindPipeline {
		v, err = d.runPipeline(ctx, r, in)
	} else {
		v, err = d.runUnit(ctx, r, in)
	}
	d.log.Debug("field resolved",
		zap.String("field", r.key()),
		zap.String("kind", string(r.Kind)),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return v, err
}

// ResolveSync projects a physical field from a map source.
func (d *Dispatcher) ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error) {
	if r, ok := d.Lookup(objectType, field); ok {
		return d.Resolve(ctx, r, mapping.Input{
			Arguments: args,
			Source:    source,
			Info:      mapping.Info{FieldName: field, ParentTypeName: objectType},
		})
	}
	switch src := source.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return src[field], nil
	default:
		return nil, fmt.Errorf("cannot read field %s.%s from %T", objectType, field, source)
	}
}

// BatchResolveAsync resolves every task concurrently, bounded by the
// configured concurrency. Results keep the order of tasks.
func (d *Dispatcher) BatchResolveAsync(ctx context.Context, tasks []executor.AsyncResolveTask) []executor.AsyncResolveResult {
	results := make([]executor.AsyncResolveResult, len(tasks))
	var g errgroup.Group
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = d.resolveTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) resolveTask(ctx context.Context, t executor.AsyncResolveTask) executor.AsyncResolveResult {
	r, ok := d.Lookup(t.ObjectType, t.Field)
	if !ok {
		v, err := d.ResolveSync(ctx, t.ObjectType, t.Field, t.Source, t.Args)
		return executor.AsyncResolveResult{Value: v, Error: err}
	}
	info := mapping.Info{
		FieldName:        t.Info.FieldName,
		ParentTypeName:   t.Info.ParentTypeName,
		Variables:        t.Info.Variables,
		SelectionSetList: t.Info.SelectionSetList,
	}
	if info.FieldName == "" {
		info.FieldName, info.ParentTypeName = t.Field, t.ObjectType
	}
	v, err := d.Resolve(ctx, r, mapping.Input{Arguments: t.Args, Source: t.Source, Info: info})
	if err != nil {
		return executor.AsyncResolveResult{Error: err}
	}
	return executor.AsyncResolveResult{Value: v}
}

// ResolveType reads the concrete type from the __typename key of a map
// value.
func (d *Dispatcher) ResolveType(ctx context.Context, abstractType string, value any) (string, error) {
	if m, ok := value.(map[string]any); ok {
		if name, ok := m["__typename"].(string); ok && name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("cannot resolve concrete type of %s: value has no __typename", abstractType)
}

func (d *Dispatcher) SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error) {
	return serializeLeaf(scalarOrEnumTypeName, value)
}
