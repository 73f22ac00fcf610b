// Package simulator assembles a runnable API from a configuration: it builds
// the schema, constructs every data source loader, compiles every mapping
// template and mounts the GraphQL handler. All configuration problems are
// reported together before anything is served.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/appsyncsim/internal/config"
	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	"github.com/hanpama/appsyncsim/internal/introspection"
	"github.com/hanpama/appsyncsim/internal/loader"
	"github.com/hanpama/appsyncsim/internal/metrics"
	"github.com/hanpama/appsyncsim/internal/resolver"
	schema "github.com/hanpama/appsyncsim/internal/schema"
	"github.com/hanpama/appsyncsim/internal/server"
	"github.com/hanpama/appsyncsim/internal/template"
)

// ConfigError reports every problem found while assembling the simulator.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "simulator configuration: " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// Problems lists the individual problems.
func (e *ConfigError) Problems() []error { return multierr.Errors(e.Err) }

type options struct {
	registry  *loader.Registry
	functions map[string]loader.Func
	engine    template.Engine
	log       *zap.Logger
}

type Option func(*options)

// WithRegistry supplies the loader registry. Custom kinds must be registered
// before New, which freezes it.
func WithRegistry(r *loader.Registry) Option { return func(o *options) { o.registry = r } }

// WithFunction registers an in-process handler for AWS_LAMBDA data sources
// configured with functionName.
func WithFunction(name string, fn loader.Func) Option {
	return func(o *options) { o.functions[name] = fn }
}

func WithFunctions(fns map[string]loader.Func) Option {
	return func(o *options) {
		for name, fn := range fns {
			o.functions[name] = fn
		}
	}
}

func WithEngine(e template.Engine) Option { return func(o *options) { o.engine = e } }

func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

// Simulator is an assembled API ready to serve.
type Simulator struct {
	cfg        *config.Config
	log        *zap.Logger
	schema     *schema.Schema
	dispatcher *resolver.Dispatcher
	mux        *http.ServeMux
	stops      []func()
}

// New validates cfg and assembles the simulator. The returned error is a
// *ConfigError when the configuration is at fault.
func New(cfg *config.Config, opts ...Option) (*Simulator, error) {
	o := &options{functions: map[string]loader.Func{}}
	for _, f := range opts {
		f(o)
	}
	if o.registry == nil {
		o.registry = loader.NewDefaultRegistry()
	}
	if o.engine == nil {
		o.engine = template.NewHCLEngine()
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	bus := eventbus.Current()
	if bus == nil {
		bus = eventbus.New()
		eventbus.Use(bus)
	}

	b := &builder{
		catalog: o.registry.Freeze(),
		engine:  o.engine,
		deps:    loader.Deps{Logger: o.log, Functions: o.functions},
	}
	sch, resolvers := b.build(cfg)
	if b.errs != nil {
		return nil, &ConfigError{Err: b.errs}
	}

	dispatcher, err := resolver.New(resolvers,
		resolver.WithLogger(o.log),
		resolver.WithConcurrency(cfg.Server.Concurrency),
		resolver.WithLoaderTimeout(cfg.Server.LoaderTimeout))
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	wrapped, err := introspection.Wrap(dispatcher, sch)
	if err != nil {
		return nil, err
	}

	serverOpts := []server.Option{
		server.WithTimeout(cfg.Server.Timeout),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithLogger(o.log),
	}
	if cfg.Server.Pretty {
		serverOpts = append(serverOpts, server.WithPretty())
	}
	if len(cfg.Server.CORS.AllowedOrigins) > 0 {
		serverOpts = append(serverOpts, server.WithCORS(cfg.Server.CORS.AllowedOrigins...))
	}
	gql, err := server.New(wrapped.Runtime, wrapped.Schema, serverOpts...)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", gql)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	o.log.Info("simulator assembled",
		zap.String("api", cfg.AppSync.Name),
		zap.Int("dataSources", len(cfg.DataSources)),
		zap.Int("resolvers", len(resolvers)),
		zap.Any("loaderKinds", b.catalog.Kinds()))

	return &Simulator{
		cfg:        cfg,
		log:        o.log,
		schema:     sch,
		dispatcher: dispatcher,
		mux:        mux,
		stops:      []func(){m.Subscribe(bus)},
	}, nil
}

// Handler serves /graphql, /metrics and /healthz.
func (s *Simulator) Handler() http.Handler { return s.mux }

// Schema is the executable schema without introspection extensions.
func (s *Simulator) Schema() *schema.Schema { return s.schema }

func (s *Simulator) Dispatcher() *resolver.Dispatcher { return s.dispatcher }

// ListenAndServe serves on the configured address until ctx is done.
func (s *Simulator) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then drains in-flight
// requests.
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close detaches the simulator from the event bus.
func (s *Simulator) Close() {
	for _, stop := range s.stops {
		stop()
	}
	s.stops = nil
}

// builder collects configuration problems while assembling the pieces.
type builder struct {
	catalog *loader.Catalog
	engine  template.Engine
	deps    loader.Deps
	errs    error
}

func (b *builder) fail(format string, args ...any) {
	b.errs = multierr.Append(b.errs, fmt.Errorf(format, args...))
}

func (b *builder) build(cfg *config.Config) (*schema.Schema, []*resolver.Resolver) {
	sch, err := schema.BuildFromSDL(cfg.Schema.Content)
	if err != nil {
		b.fail("schema: %w", err)
	}

	seen := make(map[string]bool)
	unique := func(what, name string) bool {
		if seen[what+"\x00"+name] {
			b.fail("%s %q is defined more than once", what, name)
			return false
		}
		seen[what+"\x00"+name] = true
		return true
	}

	sources := make(map[string]*resolver.DataSource, len(cfg.DataSources))
	for _, ds := range cfg.DataSources {
		if !unique("data source", ds.Name) {
			continue
		}
		kind := loader.Kind(strings.ToUpper(ds.Type))
		l, err := b.catalog.Build(loader.DataSource{Name: ds.Name, Kind: kind, Config: ds.Config}, b.deps)
		if err != nil {
			b.fail("%w", err)
			continue
		}
		sources[ds.Name] = &resolver.DataSource{Name: ds.Name, Kind: kind, Loader: l}
	}

	functions := make(map[string]*resolver.Function, len(cfg.Functions))
	for _, fc := range cfg.Functions {
		if !unique("function", fc.Name) {
			continue
		}
		owner := "function " + fc.Name
		ds, ok := sources[fc.DataSourceName]
		if !ok {
			b.fail("%s: unknown data source %q", owner, fc.DataSourceName)
			continue
		}
		fn := &resolver.Function{
			Name:       fc.Name,
			DataSource: ds,
			Request:    b.compile(owner+" request", fc.RequestMappingTemplate),
			Response:   b.compile(owner+" response", fc.ResponseMappingTemplate),
		}
		b.requireRequest(owner, ds, fc.RequestMappingTemplate)
		functions[fc.Name] = fn
	}

	var resolvers []*resolver.Resolver
	for _, rc := range cfg.Resolvers {
		owner := "resolver " + rc.TypeName + "." + rc.FieldName
		if !unique("resolver", rc.TypeName+"."+rc.FieldName) {
			continue
		}
		r := &resolver.Resolver{
			Kind:      resolver.Kind(strings.ToUpper(rc.Kind)),
			TypeName:  rc.TypeName,
			FieldName: rc.FieldName,
			Request:   b.compile(owner+" request", rc.RequestMappingTemplate),
			Response:  b.compile(owner+" response", rc.ResponseMappingTemplate),
		}
		switch r.Kind {
		case resolver.KindPipeline:
			for _, name := range rc.Functions {
				fn, ok := functions[name]
				if !ok {
					b.fail("%s: unknown function %q", owner, name)
					continue
				}
				r.Functions = append(r.Functions, fn)
			}
		default:
			ds, ok := sources[rc.DataSourceName]
			if !ok {
				b.fail("%s: unknown data source %q", owner, rc.DataSourceName)
				continue
			}
			r.DataSource = ds
			b.requireRequest(owner, ds, rc.RequestMappingTemplate)
		}
		if sch != nil {
			if err := sch.MarkAsync(rc.TypeName, rc.FieldName); err != nil {
				b.fail("%s: %w", owner, err)
			}
		}
		resolvers = append(resolvers, r)
	}
	return sch, resolvers
}

// compile returns nil for a blank source, which selects direct mode.
func (b *builder) compile(name, source string) template.Template {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	tpl, err := b.engine.Compile(name, source)
	if err != nil {
		b.fail("%w", err)
		return nil
	}
	return tpl
}

// requireRequest rejects direct mode for data sources that have no direct
// request shape.
func (b *builder) requireRequest(owner string, ds *resolver.DataSource, source string) {
	if strings.TrimSpace(source) == "" && ds.Kind == loader.KindHTTP {
		b.fail("%s: HTTP data source %s requires a request mapping template", owner, ds.Name)
	}
}
