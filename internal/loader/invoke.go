package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// InvokeConfig configures an AWS_LAMBDA data source. Exactly one of
// FunctionName and Endpoint must be set.
type InvokeConfig struct {
	// FunctionName selects an in-process function from Deps.Functions.
	FunctionName string `mapstructure:"functionName"`
	// Endpoint is an invoke URL speaking the Lambda runtime convention:
	// the payload is POSTed as JSON and errors are flagged with the
	// X-Amz-Function-Error header.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type invokeLoader struct {
	fn     Func
	remote *retryablehttp.Client
	url    string
	log    *zap.Logger
}

// NewInvokeLoader is the factory for AWS_LAMBDA data sources.
func NewInvokeLoader(ds DataSource, deps Deps) (Loader, error) {
	var cfg InvokeConfig
	if err := decodeConfig(ds, &cfg); err != nil {
		return nil, err
	}
	l := &invokeLoader{log: deps.logger().With(zap.String("dataSource", ds.Name))}
	switch {
	case cfg.FunctionName != "" && cfg.Endpoint != "":
		return nil, fmt.Errorf("data source %s: functionName and endpoint are mutually exclusive", ds.Name)
	case cfg.FunctionName != "":
		fn, ok := deps.Functions[cfg.FunctionName]
		if !ok {
			return nil, fmt.Errorf("data source %s: function %q is not registered", ds.Name, cfg.FunctionName)
		}
		l.fn = fn
	case cfg.Endpoint != "":
		l.url = cfg.Endpoint
		l.remote = newHTTPClient(cfg.Timeout, 0, l.log)
	default:
		return nil, fmt.Errorf("data source %s: functionName or endpoint is required", ds.Name)
	}
	return l, nil
}

func (l *invokeLoader) Load(ctx context.Context, req Request) Result {
	if l.remote != nil {
		return l.post(ctx, req.Payload)
	}
	out, err := l.call(ctx, req.Payload)
	if err != nil {
		l.log.Debug("function failed", zap.Error(err))
		return Failed(FailureLambdaUnhandled, err)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return Failed(FailureLambdaUnhandled, fmt.Errorf("encode function result: %w", err))
	}
	return Succeeded(&Response{StatusCode: http.StatusOK, Body: string(body)})
}

func (l *invokeLoader) call(ctx context.Context, payload any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("function panicked", zap.Any("panic", r))
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()
	return l.fn(ctx, payload)
}

type lambdaError struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

func (l *invokeLoader) post(ctx context.Context, payload any) Result {
	buf, err := json.Marshal(payload)
	if err != nil {
		return Failed(FailureLambdaUnhandled, fmt.Errorf("encode payload: %w", err))
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(buf))
	if err != nil {
		return Failed(FailureLambdaUnhandled, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.remote.Do(req)
	if err != nil {
		l.log.Warn("invoke failed", zap.String("endpoint", l.url), zap.Error(err))
		return Failed(FailureLambdaUnhandled, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(FailureLambdaUnhandled, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 || resp.Header.Get("X-Amz-Function-Error") != "" {
		var le lambdaError
		_ = json.Unmarshal(body, &le)
		f := &Failure{Type: FailureLambdaUnhandled, Message: le.ErrorMessage}
		if le.ErrorType != "" {
			f.Type = le.ErrorType
		}
		if f.Message == "" {
			f.Message = fmt.Sprintf("function returned status %d", resp.StatusCode)
		}
		return Result{Failure: f}
	}
	return Succeeded(&Response{StatusCode: resp.StatusCode, Body: jsonBody(body)})
}
