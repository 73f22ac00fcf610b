package schema

// awsPrelude declares the scalars and directives the managed service makes
// available to every schema without an explicit definition.
const awsPrelude = `
scalar AWSDate
scalar AWSTime
scalar AWSDateTime
scalar AWSTimestamp
scalar AWSEmail
scalar AWSJSON
scalar AWSURL
scalar AWSPhone
scalar AWSIPAddress

directive @aws_subscribe(mutations: [String!]) on FIELD_DEFINITION
directive @aws_auth(cognito_groups: [String!]) on FIELD_DEFINITION
directive @aws_api_key on FIELD_DEFINITION | OBJECT
directive @aws_iam on FIELD_DEFINITION | OBJECT
directive @aws_oidc on FIELD_DEFINITION | OBJECT
directive @aws_lambda on FIELD_DEFINITION | OBJECT
directive @aws_cognito_user_pools(cognito_groups: [String!]) on FIELD_DEFINITION | OBJECT
`

// awsScalars lists the prelude scalar names; values of these types pass
// through leaf serialization unchanged.
var awsScalars = map[string]struct{}{
	"AWSDate":      {},
	"AWSTime":      {},
	"AWSDateTime":  {},
	"AWSTimestamp": {},
	"AWSEmail":     {},
	"AWSJSON":      {},
	"AWSURL":       {},
	"AWSPhone":     {},
	"AWSIPAddress": {},
}

// IsAWSScalar reports whether name is one of the scalars from the AWS prelude.
func IsAWSScalar(name string) bool {
	_, ok := awsScalars[name]
	return ok
}
