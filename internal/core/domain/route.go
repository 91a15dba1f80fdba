package domain

// Route is the version-agnostic slice of a parsed OpenAPI document for one
// operationId. Routes are produced by a parser and treated as immutable once
// attached to an operation.
type Route struct {
	OperationID string
	Method      string
	// URL is the OpenAPI path template, e.g. /pets/{petId}.
	URL    string
	Schema RouteSchema
	// OpenAPISource is the raw operation object the route was built from.
	OpenAPISource map[string]any
	// IsV2 marks routes whose schemas use the Swagger 2.0 dialect.
	IsV2 bool
}

// RouteSchema holds the JSON schemas of one operation. Params, Querystring and
// Headers are object schemas keyed by parameter name.
type RouteSchema struct {
	Params       map[string]any
	Querystring  map[string]any
	Headers      map[string]any
	Body         map[string]any
	BodyRequired bool
	// Responses is keyed by status code ("200") or "default".
	Responses map[string]map[string]any
}

// IsEmpty reports whether the route carries no schema at all.
func (s RouteSchema) IsEmpty() bool {
	return s.Params == nil && s.Querystring == nil && s.Headers == nil &&
		s.Body == nil && len(s.Responses) == 0
}

// ParseResult is what a parser yields for one document.
type ParseResult struct {
	Routes []Route
	// IsV2 is true for Swagger 2.0 documents.
	IsV2 bool
}
