// Package config loads the simulator configuration from YAML with
// environment overrides.
//
// Environment variables prefixed with APPSYNCSIM_ override scalar keys:
// APPSYNCSIM_SERVER_PORT sets server.port and APPSYNCSIM_APPSYNC_APIKEY sets
// appSync.apiKey. Matching against known keys is case-insensitive.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

const DefaultEnvPrefix = "APPSYNCSIM_"

type Config struct {
	AppSync     AppSync      `koanf:"appSync"`
	Schema      Schema       `koanf:"schema"`
	DataSources []DataSource `koanf:"dataSources"`
	Functions   []Function   `koanf:"functions"`
	Resolvers   []Resolver   `koanf:"resolvers"`
	Server      Server       `koanf:"server"`
	Telemetry   Telemetry    `koanf:"telemetry"`
}

type AppSync struct {
	Name                      string `koanf:"name"`
	APIKey                    string `koanf:"apiKey"`
	DefaultAuthenticationType string `koanf:"defaultAuthenticationType"`
}

// Schema holds the SDL inline or a path to it.
type Schema struct {
	Content string `koanf:"content"`
	Path    string `koanf:"path"`
}

type DataSource struct {
	Type   string         `koanf:"type"`
	Name   string         `koanf:"name"`
	Config map[string]any `koanf:"config"`
}

// Templates holds mapping templates inline or as paths. Inline content wins.
type Templates struct {
	RequestMappingTemplate      string `koanf:"requestMappingTemplate"`
	ResponseMappingTemplate     string `koanf:"responseMappingTemplate"`
	RequestMappingTemplatePath  string `koanf:"requestMappingTemplatePath"`
	ResponseMappingTemplatePath string `koanf:"responseMappingTemplatePath"`
}

type Function struct {
	Name           string `koanf:"name"`
	DataSourceName string `koanf:"dataSourceName"`
	Templates      `koanf:",squash"`
}

type Resolver struct {
	Kind           string   `koanf:"kind"`
	TypeName       string   `koanf:"typeName"`
	FieldName      string   `koanf:"fieldName"`
	DataSourceName string   `koanf:"dataSourceName"`
	Functions      []string `koanf:"functions"`
	Templates      `koanf:",squash"`
}

type Server struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Timeout      time.Duration `koanf:"timeout"`
	Pretty       bool          `koanf:"pretty"`
	MaxBodyBytes int64         `koanf:"maxBodyBytes"`
	CORS         CORS          `koanf:"cors"`
	// Concurrency bounds the fields resolved in parallel per execution depth.
	Concurrency int `koanf:"concurrency"`
	// LoaderTimeout bounds every data source call. Zero disables it.
	LoaderTimeout time.Duration `koanf:"loaderTimeout"`
}

type CORS struct {
	AllowedOrigins []string `koanf:"allowedOrigins"`
}

type Telemetry struct {
	// OTLPEndpoint enables trace export over OTLP/gRPC when set.
	OTLPEndpoint string `koanf:"otlpEndpoint"`
	ServiceName  string `koanf:"serviceName"`
}

// Addr is the listen address of the server.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

func defaults() map[string]any {
	return map[string]any{
		"appSync.name":                      "appsyncsim",
		"appSync.apiKey":                    "da2-fakeApiId123456",
		"appSync.defaultAuthenticationType": "API_KEY",
		"server.host":                       "localhost",
		"server.port":                       20002,
		"server.timeout":                    "10s",
		"server.maxBodyBytes":               1 << 20,
		"server.pretty":                     false,
		"server.concurrency":                0,
		"server.loaderTimeout":              "0s",
		"telemetry.otlpEndpoint":            "",
		"telemetry.serviceName":             "appsyncsim",
	}
}

type options struct {
	envPrefix string
	baseDir   string
}

type Option func(*options)

// WithEnvPrefix changes the environment prefix. An empty prefix disables
// environment overrides.
func WithEnvPrefix(prefix string) Option { return func(o *options) { o.envPrefix = prefix } }

// WithBaseDir sets the directory template and schema paths are relative to.
// Load defaults it to the directory of the configuration file.
func WithBaseDir(dir string) Option { return func(o *options) { o.baseDir = dir } }

// Load reads the configuration file at path.
func Load(path string, opts ...Option) (*Config, error) {
	o := &options{envPrefix: DefaultEnvPrefix, baseDir: filepath.Dir(path)}
	for _, f := range opts {
		f(o)
	}
	return load(file.Provider(path), o)
}

// Parse reads a configuration document from memory.
func Parse(data []byte, opts ...Option) (*Config, error) {
	o := &options{envPrefix: DefaultEnvPrefix, baseDir: "."}
	for _, f := range opts {
		f(o)
	}
	return load(rawbytes.Provider(data), o)
}

func load(p koanf.Provider, o *options) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}
	if err := k.Load(p, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if o.envPrefix != "" {
		known := lo.SliceToMap(k.Keys(), func(key string) (string, string) {
			return strings.ToLower(key), key
		})
		err := k.Load(env.Provider(o.envPrefix, ".", func(s string) string {
			key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, o.envPrefix)), "_", ".")
			if canonical, ok := known[key]; ok {
				return canonical
			}
			return key
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("config: environment: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.readFiles(o.baseDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Resolvers {
		r := &c.Resolvers[i]
		if r.Kind == "" {
			r.Kind = "UNIT"
			if len(r.Functions) > 0 {
				r.Kind = "PIPELINE"
			}
		}
		r.Kind = strings.ToUpper(r.Kind)
	}
}

// readFiles inlines the schema and every mapping template given by path.
func (c *Config) readFiles(baseDir string) error {
	var errs error
	read := func(dst *string, path, what string) {
		if *dst != "" || path == "" {
			return
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", what, err))
			return
		}
		*dst = string(b)
	}
	read(&c.Schema.Content, c.Schema.Path, "schema")
	for i := range c.Functions {
		f := &c.Functions[i]
		read(&f.RequestMappingTemplate, f.RequestMappingTemplatePath, "function "+f.Name)
		read(&f.ResponseMappingTemplate, f.ResponseMappingTemplatePath, "function "+f.Name)
	}
	for i := range c.Resolvers {
		r := &c.Resolvers[i]
		name := "resolver " + r.TypeName + "." + r.FieldName
		read(&r.RequestMappingTemplate, r.RequestMappingTemplatePath, name)
		read(&r.ResponseMappingTemplate, r.ResponseMappingTemplatePath, name)
	}
	return errs
}
