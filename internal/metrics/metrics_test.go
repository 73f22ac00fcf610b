package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/appsyncsim/internal/eventbus"
	events "github.com/hanpama/appsyncsim/internal/events"
)

func TestCollectorsFollowEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	bus := eventbus.New()
	stop := m.Subscribe(bus)
	defer stop()

	ctx := context.Background()
	eventbus.Emit(ctx, bus, events.LoaderFinish{DataSource: "swapi", Kind: "HTTP", StatusCode: 200, Duration: time.Millisecond})
	eventbus.Emit(ctx, bus, events.LoaderFinish{DataSource: "swapi", Kind: "HTTP", FailureType: "HTTPTransportError"})
	eventbus.Emit(ctx, bus, events.ResolverState{TypeName: "Query", FieldName: "people", State: "EVALUATING_REQUEST"})
	eventbus.Emit(ctx, bus, events.ResolverState{TypeName: "Query", FieldName: "people", State: "DONE"})
	eventbus.Emit(ctx, bus, events.GraphQLFinish{OperationType: "query"})

	require.Equal(t, 1.0, testutil.ToFloat64(m.loaderCalls.WithLabelValues("swapi", "HTTP", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.loaderCalls.WithLabelValues("swapi", "HTTP", "HTTPTransportError")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues("Query", "people")))

	expected := `
# HELP appsyncsim_graphql_operations_total Executed GraphQL operations by type and outcome.
# TYPE appsyncsim_graphql_operations_total counter
appsyncsim_graphql_operations_total{outcome="ok",type="query"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "appsyncsim_graphql_operations_total"))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.Error(t, err)
}
