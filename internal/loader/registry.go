package loader

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
)

var (
	// ErrDuplicateKind is returned when a kind is registered twice without
	// AllowReplace.
	ErrDuplicateKind = errors.New("loader: kind already registered")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("loader: registry is frozen")
	// ErrUnknownKind is returned by Catalog.Resolve for unregistered kinds.
	ErrUnknownKind = errors.New("loader: unknown data source kind")
)

type registerOptions struct {
	replace bool
}

// RegisterOption customizes Register.
type RegisterOption func(*registerOptions)

// AllowReplace lets Register overwrite an existing factory.
func AllowReplace() RegisterOption { return func(o *registerOptions) { o.replace = true } }

// Registry collects loader factories during bootstrap. Once frozen it
// rejects further registrations.
type Registry struct {
	mu        sync.Mutex
	factories map[Kind]Factory
	catalog   *Catalog
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Kind]Factory)}
}

// NewDefaultRegistry returns a registry preloaded with the AWS_LAMBDA, HTTP
// and NONE loaders.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.factories[KindLambda] = NewInvokeLoader
	r.factories[KindHTTP] = NewHTTPLoader
	r.factories[KindNone] = NewNoneLoader
	return r
}

func (r *Registry) Register(kind Kind, f Factory, opts ...RegisterOption) error {
	o := &registerOptions{}
	for _, fn := range opts {
		fn(o)
	}
	if kind == "" || f == nil {
		return fmt.Errorf("loader: kind and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.catalog != nil {
		return fmt.Errorf("%w: %s", ErrRegistryFrozen, kind)
	}
	if _, ok := r.factories[kind]; ok && !o.replace {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	r.factories[kind] = f
	return nil
}

// Freeze stops registration and returns the read-only catalog. Calling it
// again returns the same catalog.
func (r *Registry) Freeze() *Catalog {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.catalog == nil {
		r.catalog = &Catalog{factories: r.factories}
		r.factories = nil
	}
	return r.catalog
}

// Catalog is the frozen view of a Registry. It is safe for concurrent use.
type Catalog struct {
	factories map[Kind]Factory
}

func (c *Catalog) Resolve(kind Kind) (Factory, error) {
	f, ok := c.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds lists the registered kinds in sorted order.
func (c *Catalog) Kinds() []Kind {
	kinds := lo.Keys(c.factories)
	slices.Sort(kinds)
	return kinds
}

// Build resolves the factory for ds.Kind and constructs its loader.
func (c *Catalog) Build(ds DataSource, deps Deps) (Loader, error) {
	f, err := c.Resolve(ds.Kind)
	if err != nil {
		return nil, fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	l, err := f(ds, deps)
	if err != nil {
		return nil, fmt.Errorf("data source %s: %w", ds.Name, err)
	}
	return l, nil
}
