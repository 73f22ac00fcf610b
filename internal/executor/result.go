package executor

import "errors"

// GraphQLError represents an error that occurred during execution
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	ErrorType  string         `json:"errorType,omitempty"`
	Data       any            `json:"data,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// newFieldError converts a runtime error into a GraphQL error at path,
// keeping the error type and data of a TypedError.
func newFieldError(err error, path Path) GraphQLError {
	ge := GraphQLError{Message: err.Error(), Path: path}
	var te TypedError
	if errors.As(err, &te) {
		ge.ErrorType = te.ErrorType()
		ge.Data = te.ErrorData()
	}
	return ge
}

func (e GraphQLError) Error() string {
	return e.Message
}

// ExecutionResult represents the result of executing a GraphQL query
type ExecutionResult struct {
	Data   any            `json:"data"`
	Errors []GraphQLError `json:"errors,omitempty"`
}
