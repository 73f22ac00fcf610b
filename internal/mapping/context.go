// Package mapping builds the evaluation context that request and response
// mapping templates are evaluated against.
//
// A Context is created once per field resolution and is never shared between
// concurrent resolutions. Within one resolution it is mutated in place as the
// resolver advances: the loader result lands in Result, failures land in
// Error, and pipeline stages hand their output to the next stage through Prev.
// Stash is the only map shared across the stages of one pipeline.
package mapping

import (
	"encoding/json"
	"fmt"
)

// ErrorInfo is the error slot exposed to templates as ctx.error.
type ErrorInfo struct {
	Message string
	Type    string
	Data    any
}

// Info describes the field being resolved.
type Info struct {
	FieldName        string
	ParentTypeName   string
	Variables        map[string]any
	SelectionSetList []string
}

// Input carries everything needed to build a Context.
type Input struct {
	Arguments map[string]any
	Source    any
	// Stash is shared with the caller. A nil stash starts a fresh one.
	Stash   map[string]any
	Request RequestInfo
	Info    Info
}

// Context is the evaluation context for one field resolution.
type Context struct {
	Arguments map[string]any
	Identity  map[string]any
	Source    any
	Stash     map[string]any
	Result    any
	Prev      any
	Error     *ErrorInfo
	Request   RequestInfo
	Info      Info
}

// New builds a Context from in. It performs no I/O and the result depends
// only on in.
func New(in Input) *Context {
	args := in.Arguments
	if args == nil {
		args = map[string]any{}
	}
	stash := in.Stash
	if stash == nil {
		stash = map[string]any{}
	}
	return &Context{
		Arguments: args,
		Identity:  in.Request.Identity,
		Source:    in.Source,
		Stash:     stash,
		Request:   in.Request,
		Info:      in.Info,
	}
}

// SetResult stores a loader or stage result and clears any previous error.
func (c *Context) SetResult(v any) {
	c.Result = v
	c.Error = nil
}

// SetError stores a failure; the result slot is cleared.
func (c *Context) SetError(e *ErrorInfo) {
	c.Result = nil
	c.Error = e
}

// MergeStash copies values into the shared stash.
func (c *Context) MergeStash(values map[string]any) {
	for k, v := range values {
		c.Stash[k] = v
	}
}

// Value renders the context as the plain map bound to ctx and context in
// templates. Every key is always present so templates can test for null
// without guarding attribute access.
func (c *Context) Value() map[string]any {
	var errVal any
	if c.Error != nil {
		errVal = map[string]any{
			"message": c.Error.Message,
			"type":    nullIfEmpty(c.Error.Type),
			"data":    c.Error.Data,
		}
	}
	var identity any
	if c.Identity != nil {
		identity = c.Identity
	}
	return map[string]any{
		"arguments": c.Arguments,
		"args":      c.Arguments,
		"identity":  identity,
		"source":    c.Source,
		"stash":     c.Stash,
		"result":    c.Result,
		"prev":      map[string]any{"result": c.Prev},
		"error":     errVal,
		"request": map[string]any{
			"headers":    stringMap(c.Request.Headers),
			"domainName": nullIfEmpty(c.Request.DomainName),
		},
		"info": map[string]any{
			"fieldName":        c.Info.FieldName,
			"parentTypeName":   c.Info.ParentTypeName,
			"variables":        anyMap(c.Info.Variables),
			"selectionSetList": stringList(c.Info.SelectionSetList),
		},
	}
}

// Snapshot returns Value as a JSON-shaped deep copy. It shares no maps with
// c, so it stays stable while later stages write the stash.
func (c *Context) Snapshot() (map[string]any, error) {
	b, err := json.Marshal(c.Value())
	if err != nil {
		return nil, fmt.Errorf("snapshot context: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("snapshot context: %w", err)
	}
	return out, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func stringList(l []string) []any {
	out := make([]any, len(l))
	for i, s := range l {
		out[i] = s
	}
	return out
}
