package events

import "time"

// ResolverState is emitted on every state transition of a field resolution.
// InvocationID is unique per resolution and per pipeline stage.
type ResolverState struct {
	InvocationID string
	TypeName     string
	FieldName    string
	Stage        string
	State        string
}

// LoaderStart is emitted before a request is handed to a data loader.
type LoaderStart struct {
	InvocationID string
	DataSource   string
	Kind         string
}

// LoaderFinish is emitted after a data loader returns. FailureType is empty
// when the loader produced a response.
type LoaderFinish struct {
	InvocationID string
	DataSource   string
	Kind         string
	StatusCode   int
	FailureType  string
	Err          error
	Duration     time.Duration
}
