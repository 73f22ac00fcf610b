package executor

import (
	"context"
)

// Runtime is everything the Executor needs from its host to produce values.
//
// Execution is breadth first. Physical fields are resolved inline through
// ResolveSync while a depth is walked; every resolver-backed field found at
// that depth is handed to a single BatchResolveAsync call, and the next depth
// starts only after those results are completed. Tasks whose response path
// was already nulled by a non-null violation are dropped before the call.
//
// Errors returned by any method become GraphQL errors at the field path.
// Implementations must be safe for concurrent operations and must not
// mutate source or args.
//
// The interface knows nothing about data sources. The resolver dispatcher
// maps each async task to its configured data source and mapping templates,
// using AsyncResolveTask.Info for the field's position in the operation.
type Runtime interface {
	// ResolveSync returns the raw value of a field that is not resolver
	// backed. source is nil for root fields. (nil, nil) is a GraphQL null.
	ResolveSync(ctx context.Context, objectType string, field string, source any, args map[string]any) (any, error)

	// BatchResolveAsync resolves one depth of resolver-backed fields. It must
	// return exactly one result per task, in task order; a failed element
	// does not fail its siblings.
	BatchResolveAsync(ctx context.Context, tasks []AsyncResolveTask) []AsyncResolveResult

	// ResolveType names the object type of a value returned for an
	// interface or union field.
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue turns a scalar or enum value into its JSON form.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// AsyncResolveTask is one resolver-backed field awaiting resolution.
type AsyncResolveTask struct {
	ObjectType string
	Field      string
	// Source is nil for root fields.
	Source any
	// Args are already coerced against the field definition.
	Args map[string]any
	Info FieldInfo
}

// FieldInfo is the per-field view of the operation handed to async resolvers.
type FieldInfo struct {
	FieldName      string
	ParentTypeName string
	Path           Path
	Variables      map[string]any
	// SelectionSetList lists the sub-selections of the field as slash
	// separated paths, e.g. "author", "author/name".
	SelectionSetList []string
}

// TypedError is implemented by resolver errors that carry a user-facing
// error type and payload. The executor copies both into the GraphQL error.
type TypedError interface {
	error
	ErrorType() string
	ErrorData() any
}

// AsyncResolveResult holds either the raw value of a task or its error.
type AsyncResolveResult struct {
	Value any
	Error error
}
