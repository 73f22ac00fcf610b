package language

import (
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func ParseSchema(name, source string) (*SchemaDocument, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// LoadSchema parses and validates the given SDL sources into a schema AST.
// The GraphQL prelude is always included.
func LoadSchema(sources ...*Source) (*SchemaAST, error) {
	s, err := gqlparser.LoadSchema(sources...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ValidateQuery parses source and validates it against s. Both syntax and
// validation failures are reported as a list of located errors.
func ValidateQuery(s *SchemaAST, source string) (*QueryDocument, ErrorList) {
	doc, errs := gqlparser.LoadQuery(s, source)
	if len(errs) > 0 {
		return nil, errs
	}
	return doc, nil
}

// AsErrorList normalizes err into a list of located GraphQL errors.
func AsErrorList(err error) ErrorList {
	if err == nil {
		return nil
	}
	switch e := err.(type) {
	case ErrorList:
		return e
	case *Error:
		return ErrorList{e}
	default:
		return ErrorList{&gqlerror.Error{Err: err, Message: err.Error()}}
	}
}
