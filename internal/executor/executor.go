package executor

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

type Path []PathElement

// PathElement is a response name (string) or a list index (int).
type PathElement any

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// executionState is owned by a single ExecuteRequest call.
type executionState struct {
	context        context.Context
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any
	errors         []GraphQLError

	// pending holds the resolver-backed fields found while walking the
	// current depth.
	pending []pendingField
	// nulled holds response paths already replaced by null; work queued
	// below them is dropped.
	nulled map[string]struct{}
	// nullable records, per visited response position, whether it accepts null.
	nullable map[string]bool
}

type pendingField struct {
	task   AsyncResolveTask
	path   Path
	typ    *schema.TypeRef
	fields []*language.Field
}

// asyncPending marks a response position whose value arrives with a later batch.
type asyncPending struct{}

// ExecuteRequest runs one operation of document. Data is nil only when the
// operation could not start.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation := getOperation(document, operationName)
	if operation == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: "operation not found"}}}
	}

	variables, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: err.Error()}}}
	}

	var rootType *schema.Type
	switch operation.Operation {
	case language.Query:
		rootType = e.schema.GetQueryType()
	case language.Mutation:
		rootType = e.schema.GetMutationType()
	case language.Subscription:
		rootType = e.schema.GetSubscriptionType()
	default:
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("unsupported operation type: %s", operation.Operation)}}}
	}
	if rootType == nil {
		return &ExecutionResult{Errors: []GraphQLError{{Message: fmt.Sprintf("root type not found for %s operation", operation.Operation)}}}
	}

	state := &executionState{
		context:        ctx,
		runtime:        e.runtime,
		schema:         e.schema,
		document:       document,
		variableValues: variables,
		errors:         []GraphQLError{},
		nulled:         make(map[string]struct{}),
		nullable:       make(map[string]bool),
	}

	var data map[string]any
	if operation.Operation == language.Mutation {
		data = executeSerially(state, rootType, operation.SelectionSet, initialValue)
	} else {
		data = executeSelectionSet(state, rootType, operation.SelectionSet, initialValue, Path{})
		state.drain(data)
	}
	return &ExecutionResult{Data: data, Errors: state.errors}
}

// executeSerially runs the root fields of a mutation one at a time in
// document order. Each field's whole subtree is resolved before the next
// field starts.
func executeSerially(state *executionState, rootType *schema.Type, selectionSet language.SelectionSet, rootValue any) map[string]any {
	data := make(map[string]any)
	for _, cf := range collectFields(state, rootType, selectionSet).orderedFields() {
		one := lo.Map(cf.Fields, func(f *language.Field, _ int) language.Selection { return f })
		maps.Copy(data, executeSelectionSet(state, rootType, one, rootValue, Path{}))
		state.drain(data)
	}
	return data
}

func (s *executionState) drain(data map[string]any) {
	for len(s.pending) > 0 {
		s.flush(data)
	}
}

// flush resolves the pending fields of one depth in a single batch and
// completes them into data. Completion may queue the next depth.
func (s *executionState) flush(data map[string]any) {
	live := lo.Filter(s.pending, func(p pendingField, _ int) bool { return !s.isNulled(p.path) })
	s.pending = nil
	if len(live) == 0 {
		return
	}
	results := s.runtime.BatchResolveAsync(s.context, lo.Map(live, func(p pendingField, _ int) AsyncResolveTask { return p.task }))
	for i, p := range live {
		res := AsyncResolveResult{Error: fmt.Errorf("runtime returned %d results for %d tasks", len(results), len(live))}
		if i < len(results) {
			res = results[i]
		}
		s.complete(p, res, data)
	}
}

func (s *executionState) complete(p pendingField, res AsyncResolveResult, data map[string]any) {
	if s.isNulled(p.path) {
		return
	}
	var v any
	if res.Error != nil {
		s.errors = append(s.errors, newFieldError(res.Error, p.path))
	} else {
		v = completeValue(s, p.typ, p.fields, res.Value, p.path)
	}
	if isNullish(v) {
		if schema.IsNonNull(p.typ) {
			at := s.nullableAncestor(p.path)
			setValueAtPath(data, at, nil)
			s.markNulled(at)
			return
		}
		v = nil
	}
	setValueAtPath(data, p.path, v)
}

// executeSelectionSet resolves the physical fields of one object and queues
// its resolver-backed fields. It returns nil when a non-null field of a
// nested object came back null.
func executeSelectionSet(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet, objectValue any, path Path) map[string]any {
	out := make(map[string]any)
	for _, cf := range collectFields(state, objectType, selectionSet).orderedFields() {
		fieldPath := appendPath(path, cf.ResponseName)
		name := cf.Fields[0].Name
		if name == "__typename" {
			out[cf.ResponseName] = objectType.Name
			continue
		}
		fieldDef := getFieldDefinition(objectType, name)
		if fieldDef == nil {
			state.addError(fmt.Sprintf("Cannot query field '%s' on type '%s'", name, objectType.Name), fieldPath)
			continue
		}

		v := executeField(state, objectType, fieldDef, objectValue, cf.Fields, fieldPath)
		if isNullish(v) {
			if schema.IsNonNull(fieldDef.Type) && len(path) > 0 {
				state.markNulled(path)
				return nil
			}
			v = nil
		}
		out[cf.ResponseName] = v
	}
	return out
}

func executeField(state *executionState, objectType *schema.Type, fieldDef *schema.Field, source any, fields []*language.Field, path Path) any {
	state.nullable[pathToString(path)] = !schema.IsNonNull(fieldDef.Type)
	args, ok := coerceArgumentValues(fieldDef, fields[0].Arguments, state.variableValues, state, path)
	if !ok {
		return nil
	}

	if fieldDef.Async {
		state.pending = append(state.pending, pendingField{
			task: AsyncResolveTask{
				ObjectType: objectType.Name,
				Field:      fieldDef.Name,
				Source:     source,
				Args:       args,
				Info: FieldInfo{
					FieldName:        fieldDef.Name,
					ParentTypeName:   objectType.Name,
					Path:             path,
					Variables:        state.variableValues,
					SelectionSetList: selectionSetList(state, fields),
				},
			},
			path:   path,
			typ:    fieldDef.Type,
			fields: fields,
		})
		return asyncPending{}
	}

	v, err := state.runtime.ResolveSync(state.context, objectType.Name, fieldDef.Name, source, args)
	if err != nil {
		state.errors = append(state.errors, newFieldError(err, path))
		v = nil
	}
	return completeValue(state, fieldDef.Type, fields, v, path)
}

func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" && len(document.Operations) == 1 {
		return document.Operations[0]
	}
	for _, op := range document.Operations {
		if op.Name == operationName {
			return op
		}
	}
	return nil
}

func (s *executionState) addError(message string, path Path) {
	s.errors = append(s.errors, GraphQLError{Message: message, Path: path})
}

func (s *executionState) hasErrorAt(path Path) bool {
	return lo.ContainsBy(s.errors, func(e GraphQLError) bool { return slices.Equal(e.Path, path) })
}

func (s *executionState) markNulled(p Path) {
	if len(p) > 0 {
		s.nulled[pathToString(p)] = struct{}{}
	}
}

// isNulled reports whether p or one of its ancestors was nulled.
func (s *executionState) isNulled(p Path) bool {
	if len(s.nulled) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.nulled[pathToString(p[:i])]; ok {
			return true
		}
	}
	return false
}

// nullableAncestor returns the closest proper prefix of p that accepts null,
// falling back to the root field.
func (s *executionState) nullableAncestor(p Path) Path {
	for i := len(p) - 1; i > 0; i-- {
		if s.nullable[pathToString(p[:i])] {
			return slices.Clone(p[:i])
		}
	}
	for _, elem := range p {
		if name, ok := elem.(string); ok {
			return Path{name}
		}
	}
	return Path{}
}

// pathToString renders a path as used in error messages, e.g. "films.[1].title".
func pathToString(path Path) string {
	var b strings.Builder
	for i, elem := range path {
		if i > 0 {
			b.WriteByte('.')
		}
		switch v := elem.(type) {
		case string:
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func appendPath(path Path, elem PathElement) Path {
	return append(slices.Clip(path), elem)
}

// setValueAtPath replaces the value at path inside data. Nothing is written
// when an intermediate position is missing or null.
func setValueAtPath(data map[string]any, path Path, value any) {
	if len(path) == 0 {
		return
	}
	var parent any = data
	for _, elem := range path[:len(path)-1] {
		switch key := elem.(type) {
		case string:
			m, ok := parent.(map[string]any)
			if !ok {
				return
			}
			parent = m[key]
		case int:
			items, ok := parent.([]any)
			if !ok || key >= len(items) {
				return
			}
			parent = items[key]
		}
	}
	switch key := path[len(path)-1].(type) {
	case string:
		if m, ok := parent.(map[string]any); ok {
			m[key] = value
		}
	case int:
		if items, ok := parent.([]any); ok && key < len(items) {
			items[key] = value
		}
	}
}
