// Package executor runs GraphQL operations level by level against a Runtime.
//
// Every field is either physical or resolver-backed, as recorded in
// schema.Field.Async. Physical fields are projected from their parent value
// through Runtime.ResolveSync as soon as they are reached and never add a
// level. Resolver-backed fields reached at the same level are handed to
// Runtime.BatchResolveAsync in a single call, and the objects they return
// open the next level. An operation whose resolver-backed fields nest d
// deep therefore makes exactly d batch calls.
//
// Values are completed the usual way: lists element by element, leaves
// through Runtime.SerializeLeafValue, interfaces and unions through
// Runtime.ResolveType. A null in a Non-Null position nulls the nearest
// nullable ancestor, and tasks queued below that ancestor are dropped
// before the next batch.
//
// Field failures become entries in ExecutionResult.Errors with the response
// path of the field. Errors implementing TypedError keep their error type
// and data. Sibling fields are unaffected.
//
// Fragment type conditions match the concrete object type and any interface
// or union it belongs to. @skip and @include are honored on fields,
// fragment spreads and inline fragments.
package executor
