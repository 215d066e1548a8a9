package types

import "strconv"

// Record is one row of a normalized record set.
type Record interface {
	Columns() []string
	Row() []string
}

// Endpoint describes one path+method pair of an OpenAPI document.
type Endpoint struct {
	OperationID    string `json:"operation_id" toon:"operation_id"`
	Path           string `json:"path" toon:"path"`
	Method         string `json:"method" toon:"method"`
	Summary        string `json:"summary" toon:"summary"`
	Security       string `json:"security" toon:"security"`
	ResponseSchema string `json:"response_schema" toon:"response_schema"`
}

func (Endpoint) Columns() []string {
	return []string{"operation_id", "path", "method", "summary", "security", "response_schema"}
}

func (e Endpoint) Row() []string {
	return []string{e.OperationID, e.Path, e.Method, e.Summary, e.Security, e.ResponseSchema}
}

// Parameter is one declared operation parameter.
type Parameter struct {
	OperationID   string `json:"operation_id" toon:"operation_id"`
	Required      bool   `json:"required" toon:"required"`
	Name          string `json:"name" toon:"name"`
	In            string `json:"in" toon:"in"`
	Title         string `json:"title" toon:"title"`
	ParameterType string `json:"parameter_type" toon:"parameter_type"`
}

func (Parameter) Columns() []string {
	return []string{"operation_id", "required", "name", "in", "title", "parameter_type"}
}

func (p Parameter) Row() []string {
	return []string{p.OperationID, strconv.FormatBool(p.Required), p.Name, p.In, p.Title, p.ParameterType}
}

// RequestBodyVariant is one media type accepted by an operation's request body.
type RequestBodyVariant struct {
	OperationID string `json:"operation_id" toon:"operation_id"`
	ContentType string `json:"content_type" toon:"content_type"`
	SchemaRef   string `json:"schema_ref" toon:"schema_ref"`
}

func (RequestBodyVariant) Columns() []string {
	return []string{"operation_id", "content_type", "schema_ref"}
}

func (r RequestBodyVariant) Row() []string {
	return []string{r.OperationID, r.ContentType, r.SchemaRef}
}

// SchemaField is one property of a component schema, flattened one level.
type SchemaField struct {
	SchemaName   string `json:"schema_name" toon:"schema_name"`
	VariableName string `json:"variable_name" toon:"variable_name"`
	VariableType string `json:"variable_type" toon:"variable_type"`
	Required     bool   `json:"required" toon:"required"`
}

func (SchemaField) Columns() []string {
	return []string{"schema_name", "variable_name", "variable_type", "required"}
}

func (f SchemaField) Row() []string {
	return []string{f.SchemaName, f.VariableName, f.VariableType, strconv.FormatBool(f.Required)}
}

// SecurityScheme is one declared security scheme.
type SecurityScheme struct {
	SecurityName string `json:"security_name" toon:"security_name"`
	SecurityType string `json:"security_type" toon:"security_type"`
}

func (SecurityScheme) Columns() []string {
	return []string{"security_name", "security_type"}
}

func (s SecurityScheme) Row() []string {
	return []string{s.SecurityName, s.SecurityType}
}

// RecordSets holds everything the normalizer extracts from one document.
// The slices are in document order and must not be mutated after Normalize returns.
type RecordSets struct {
	Endpoints       []Endpoint
	Parameters      []Parameter
	RequestBodies   []RequestBodyVariant
	SchemaFields    []SchemaField
	SecuritySchemes []SecurityScheme
}
