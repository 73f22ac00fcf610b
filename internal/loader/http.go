package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// HTTPConfig configures an HTTP data source.
type HTTPConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Retries is the number of extra attempts after a transport error.
	// Responses are never retried, whatever their status.
	Retries int               `mapstructure:"retries"`
	Headers map[string]string `mapstructure:"headers"`
}

type httpLoader struct {
	cfg    HTTPConfig
	client *retryablehttp.Client
	log    *zap.Logger
}

// NewHTTPLoader is the factory for HTTP data sources.
func NewHTTPLoader(ds DataSource, deps Deps) (Loader, error) {
	var cfg HTTPConfig
	if err := decodeConfig(ds, &cfg); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("data source %s: endpoint is required", ds.Name)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("data source %s: retries must not be negative", ds.Name)
	}
	log := deps.logger().With(zap.String("dataSource", ds.Name))
	return &httpLoader{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout, cfg.Retries, log),
		log:    log,
	}, nil
}

func (l *httpLoader) Load(ctx context.Context, req Request) Result {
	method := strings.ToLower(req.Method)
	if method == "" {
		method = "get"
	}
	url := joinURL(l.cfg.Endpoint, req.ResourcePath)
	if q := encodeQuery(req.Params.Query); q != "" {
		url += "?" + q
	}

	var (
		body        []byte
		contentType string
	)
	switch b := req.Params.Body.(type) {
	case nil:
	case string:
		body = []byte(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return Failed(FailureHTTPTransport, fmt.Errorf("encode body: %w", err))
		}
		body = buf
		contentType = "application/json"
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	hreq, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(method), url, reader)
	if err != nil {
		return Failed(FailureHTTPTransport, err)
	}
	for k, v := range l.cfg.Headers {
		hreq.Header.Set(k, v)
	}
	for k, v := range req.Params.Headers {
		hreq.Header.Set(k, v)
	}
	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}

	l.log.Debug("http request", zap.String("method", method), zap.String("url", url))
	resp, err := l.client.Do(hreq)
	if err != nil {
		l.log.Warn("http request failed", zap.String("method", method), zap.String("url", url), zap.Error(err))
		return Failed(FailureHTTPTransport, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		l.log.Warn("reading http response failed", zap.String("url", url), zap.Error(err))
		return Failed(FailureHTTPTransport, fmt.Errorf("read response: %w", err))
	}
	return Succeeded(&Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       jsonBody(raw),
		Envelope:   true,
	})
}

// joinURL appends path to base with exactly one slash between them.
func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// encodeQuery serializes query parameters in sorted key order. Nil values
// are skipped, lists repeat the key as key[]=v and objects are sent as JSON.
// Keys and values are escaped with queryEscape.
func encodeQuery(q map[string]any) string {
	keys := lo.Keys(q)
	slices.Sort(keys)
	var parts []string
	for _, k := range keys {
		v := q[k]
		if v == nil {
			continue
		}
		key := queryEscape(k)
		if items, ok := queryList(v); ok {
			for _, e := range items {
				parts = append(parts, key+"[]="+queryEscape(queryValue(e)))
			}
			continue
		}
		parts = append(parts, key+"="+queryEscape(queryValue(v)))
	}
	return strings.Join(parts, "&")
}

// queryList expands any slice or array except []byte.
func queryList(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, false
		}
	case reflect.Array:
	default:
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// queryEscape percent-encodes the URL query set (controls, space, '"', '#',
// '<', '>' and non-ASCII) plus the bytes that would change how the query
// splits or decodes: '&', '=', '+' and '%'. Brackets and braces stay as is.
func queryEscape(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c <= ' ' || c >= 0x7f, strings.IndexByte(`"#<>&=+%`, c) >= 0:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func queryValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return out
}

// jsonBody re-serializes a response body as JSON: valid JSON is compacted,
// anything else becomes a JSON string.
func jsonBody(raw []byte) string {
	if json.Valid(raw) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	}
	b, _ := json.Marshal(string(raw))
	return string(b)
}

func newHTTPClient(timeout time.Duration, retries int, log *zap.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient.Timeout = timeout
	c.RetryMax = retries
	c.RetryWaitMin = 50 * time.Millisecond
	c.RetryWaitMax = time.Second
	c.CheckRetry = retryTransportErrors
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = retryLogger{log.Sugar()}
	return c
}

func retryTransportErrors(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

type retryLogger struct{ s *zap.SugaredLogger }

func (l retryLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
