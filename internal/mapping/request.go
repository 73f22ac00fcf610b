package mapping

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	reqid "github.com/hanpama/appsyncsim/internal/reqid"
)

// RequestInfo is the part of the incoming HTTP request visible to templates.
type RequestInfo struct {
	// Headers holds lower-cased header names; repeated values are joined
	// with ", ".
	Headers    map[string]string
	DomainName string
	SourceIP   string
	RequestID  string
	// Identity is nil for API key requests.
	Identity map[string]any
}

// NewRequestInfo captures headers, caller address and identity from r.
func NewRequestInfo(r *http.Request) RequestInfo {
	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	if fwd := headers["x-forwarded-for"]; fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	info := RequestInfo{
		Headers:    headers,
		DomainName: r.Host,
		SourceIP:   ip,
	}
	if id, ok := reqid.FromContext(r.Context()); ok {
		info.RequestID = id
	}
	info.Identity = identityFromAuthorization(headers["authorization"], ip)
	return info
}

// identityFromAuthorization decodes the claims of a bearer JWT without
// verifying its signature. Anything that is not a JWT yields nil.
func identityFromAuthorization(header, sourceIP string) map[string]any {
	token := strings.TrimSpace(header)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}

	identity := map[string]any{
		"claims":   map[string]any(claims),
		"sourceIp": []any{sourceIP},
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		identity["sub"] = sub
	}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" {
		identity["issuer"] = iss
	}
	for _, key := range []string{"cognito:username", "username", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			identity["username"] = v
			break
		}
	}
	if groups, ok := claims["cognito:groups"]; ok {
		identity["groups"] = groups
	}
	return identity
}

type requestKey struct{}

// WithRequest stores info on ctx for resolvers further down the call chain.
func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestKey{}, info)
}

// RequestFromContext returns the RequestInfo stored by WithRequest.
func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	info, ok := ctx.Value(requestKey{}).(RequestInfo)
	return info, ok
}
