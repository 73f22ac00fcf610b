package executor

import (
	language "github.com/hanpama/appsyncsim/internal/language"
	schema "github.com/hanpama/appsyncsim/internal/schema"
)

// collectedField is every selection of one response name within an object.
type collectedField struct {
	ResponseName string
	Fields       []*language.Field
}

// fieldGroups keeps collected fields in the order their response names
// first appear in the query.
type fieldGroups struct {
	groups []collectedField
	index  map[string]int
}

func (g *fieldGroups) add(f *language.Field) {
	name := responseName(f)
	if i, ok := g.index[name]; ok {
		g.groups[i].Fields = append(g.groups[i].Fields, f)
		return
	}
	g.index[name] = len(g.groups)
	g.groups = append(g.groups, collectedField{ResponseName: name, Fields: []*language.Field{f}})
}

func (g *fieldGroups) orderedFields() []collectedField { return g.groups }

func responseName(f *language.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

// collectFields flattens selectionSet for objectType, applying @skip and
// @include and expanding fragments whose type condition matches. Each named
// fragment is expanded at most once.
func collectFields(state *executionState, objectType *schema.Type, selectionSet language.SelectionSet) *fieldGroups {
	g := &fieldGroups{index: make(map[string]int)}
	visited := make(map[string]bool)

	var walk func(set language.SelectionSet)
	walk = func(set language.SelectionSet) {
		for _, selection := range set {
			switch sel := selection.(type) {
			case *language.Field:
				if shouldIncludeNode(state, sel.Directives) {
					g.add(sel)
				}
			case *language.InlineFragment:
				if shouldIncludeNode(state, sel.Directives) && doesFragmentTypeApply(state, objectType, sel.TypeCondition) {
					walk(sel.SelectionSet)
				}
			case *language.FragmentSpread:
				if !shouldIncludeNode(state, sel.Directives) || visited[sel.Name] {
					continue
				}
				visited[sel.Name] = true
				fd := state.document.Fragments.ForName(sel.Name)
				if fd == nil || !doesFragmentTypeApply(state, objectType, fd.TypeCondition) || !shouldIncludeNode(state, fd.Directives) {
					continue
				}
				walk(fd.SelectionSet)
			}
		}
	}
	walk(selectionSet)
	return g
}

// doesFragmentTypeApply reports whether a fragment with the given type
// condition applies to objectType, either directly or through an interface or
// union it belongs to.
func doesFragmentTypeApply(state *executionState, objectType *schema.Type, typeCondition string) bool {
	if typeCondition == "" || typeCondition == objectType.Name {
		return true
	}
	return state.schema.Implements(objectType.Name, typeCondition)
}

// selectionSetList flattens the sub-selections of a field group into slash
// separated paths in query order. Fragments are inlined without regard to
// their type condition.
func selectionSetList(state *executionState, fields []*language.Field) []string {
	out := []string{}
	seen := make(map[string]bool)
	visiting := make(map[string]bool)
	var walk func(prefix string, set language.SelectionSet)
	walk = func(prefix string, set language.SelectionSet) {
		for _, selection := range set {
			switch sel := selection.(type) {
			case *language.Field:
				if !shouldIncludeNode(state, sel.Directives) || sel.Name == "__typename" {
					continue
				}
				p := prefix + responseName(sel)
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
				walk(p+"/", sel.SelectionSet)
			case *language.InlineFragment:
				if shouldIncludeNode(state, sel.Directives) {
					walk(prefix, sel.SelectionSet)
				}
			case *language.FragmentSpread:
				if visiting[sel.Name] || !shouldIncludeNode(state, sel.Directives) {
					continue
				}
				fd := state.document.Fragments.ForName(sel.Name)
				if fd == nil {
					continue
				}
				visiting[sel.Name] = true
				walk(prefix, fd.SelectionSet)
				delete(visiting, sel.Name)
			}
		}
	}
	walk("", mergeSelectionSets(fields))
	return out
}

// shouldIncludeNode evaluates @skip(if:) and @include(if:). A condition that
// is not a boolean is ignored.
func shouldIncludeNode(state *executionState, directives language.DirectiveList) bool {
	if skip, ok := directiveCondition(state, directives, "skip"); ok && skip {
		return false
	}
	if include, ok := directiveCondition(state, directives, "include"); ok && !include {
		return false
	}
	return true
}

func directiveCondition(state *executionState, directives language.DirectiveList, name string) (bool, bool) {
	d := directives.ForName(name)
	if d == nil {
		return false, false
	}
	arg := d.Arguments.ForName("if")
	if arg == nil {
		return false, false
	}
	v, ok := valueFromASTWithVars(arg.Value, state.variableValues).(bool)
	return v, ok
}

func getFieldDefinition(objectType *schema.Type, fieldName string) *schema.Field {
	for _, field := range objectType.Fields {
		if field.Name == fieldName {
			return field
		}
	}
	return nil
}
