package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ErrInvalid wraps every structural configuration problem.
var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for structural problems and reports all
// of them at once. Loader kinds, loader configs and schema fields are checked
// when the simulator is built.
func (c *Config) Validate() error {
	var errs error
	if strings.TrimSpace(c.Schema.Content) == "" {
		errs = multierr.Append(errs, invalid("schema: content or path is required"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, invalid("server.port %d is out of range", c.Server.Port))
	}

	sources := make(map[string]bool, len(c.DataSources))
	for i, ds := range c.DataSources {
		switch {
		case ds.Name == "":
			errs = multierr.Append(errs, invalid("dataSources[%d]: name is required", i))
		case sources[ds.Name]:
			errs = multierr.Append(errs, invalid("data source %q is defined more than once", ds.Name))
		}
		if ds.Type == "" {
			errs = multierr.Append(errs, invalid("data source %q: type is required", ds.Name))
		}
		sources[ds.Name] = true
	}

	functions := make(map[string]bool, len(c.Functions))
	for i, f := range c.Functions {
		switch {
		case f.Name == "":
			errs = multierr.Append(errs, invalid("functions[%d]: name is required", i))
		case functions[f.Name]:
			errs = multierr.Append(errs, invalid("function %q is defined more than once", f.Name))
		}
		if !sources[f.DataSourceName] {
			errs = multierr.Append(errs, invalid("function %q: unknown data source %q", f.Name, f.DataSourceName))
		}
		functions[f.Name] = true
	}

	fields := make(map[string]bool, len(c.Resolvers))
	for i, r := range c.Resolvers {
		key := r.TypeName + "." + r.FieldName
		if r.TypeName == "" || r.FieldName == "" {
			errs = multierr.Append(errs, invalid("resolvers[%d]: typeName and fieldName are required", i))
			continue
		}
		if fields[key] {
			errs = multierr.Append(errs, invalid("resolver %s is defined more than once", key))
		}
		fields[key] = true
		switch r.Kind {
		case "UNIT":
			if !sources[r.DataSourceName] {
				errs = multierr.Append(errs, invalid("resolver %s: unknown data source %q", key, r.DataSourceName))
			}
		case "PIPELINE":
			if len(r.Functions) == 0 {
				errs = multierr.Append(errs, invalid("resolver %s: pipeline has no functions", key))
			}
			for _, name := range r.Functions {
				if !functions[name] {
					errs = multierr.Append(errs, invalid("resolver %s: unknown function %q", key, name))
				}
			}
		default:
			errs = multierr.Append(errs, invalid("resolver %s: unknown kind %q", key, r.Kind))
		}
	}
	return errs
}
