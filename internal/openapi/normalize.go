package openapi

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

const schemaPrefix = "#/components/schemas/"

// ErrMissingOperationID is returned when an operation has no operationId.
var ErrMissingOperationID = errors.New("operation has no operationId")

var operationMethods = map[string]struct{}{
	"get": {}, "put": {}, "post": {}, "delete": {},
	"options": {}, "head": {}, "patch": {}, "trace": {},
}

// Normalize flattens a document into record sets. It never caches: every call
// walks the document again and returns fresh slices.
func Normalize(doc *Document) (*types.RecordSets, error) {
	sets := &types.RecordSets{}
	if doc == nil {
		return sets, nil
	}
	if err := normalizePaths(doc, sets); err != nil {
		return nil, err
	}
	normalizeComponents(doc, sets)
	return sets, nil
}

func normalizePaths(doc *Document, sets *types.RecordSets) error {
	return each(lookup(doc.top(), "paths"), func(path string, item *yaml.Node) error {
		return each(item, func(method string, op *yaml.Node) error {
			if _, ok := operationMethods[strings.ToLower(method)]; !ok {
				return nil
			}
			idNode := lookup(op, "operationId")
			if idNode == nil {
				return fmt.Errorf("%s %s: %w", strings.ToUpper(method), path, ErrMissingOperationID)
			}
			opID := scalar(idNode)

			for _, p := range items(lookup(op, "parameters")) {
				sets.Parameters = append(sets.Parameters, parameter(doc, opID, p))
			}

			body := doc.deref(lookup(op, "requestBody"))
			_ = each(lookup(body, "content"), func(contentType string, media *yaml.Node) error {
				sets.RequestBodies = append(sets.RequestBodies, types.RequestBodyVariant{
					OperationID: opID,
					ContentType: contentType,
					SchemaRef:   stripSchemaPrefix(scalar(lookup(lookup(media, "schema"), "$ref"))),
				})
				return nil
			})

			sets.Endpoints = append(sets.Endpoints, types.Endpoint{
				OperationID:    opID,
				Path:           path,
				Method:         strings.ToUpper(method),
				Summary:        scalar(lookup(op, "summary")),
				Security:       firstSecurityScheme(op),
				ResponseSchema: responseSchema(doc, op),
			})
			return nil
		})
	})
}

func parameter(doc *Document, opID string, p *yaml.Node) types.Parameter {
	p = doc.deref(p)
	schema := lookup(p, "schema")
	paramType := scalar(lookup(schema, "type"))
	if paramType == "array" {
		if itemsNode := lookup(schema, "items"); itemsNode != nil {
			elem := scalar(lookup(itemsNode, "type"))
			if elem == "" {
				elem = stripSchemaPrefix(scalar(lookup(itemsNode, "$ref")))
			}
			paramType = fmt.Sprintf("array[%s]", elem)
		}
	}
	return types.Parameter{
		OperationID:   opID,
		Required:      boolean(lookup(p, "required")),
		Name:          scalar(lookup(p, "name")),
		In:            scalar(lookup(p, "in")),
		Title:         scalar(lookup(schema, "title")),
		ParameterType: paramType,
	}
}

func firstSecurityScheme(op *yaml.Node) string {
	reqs := items(lookup(op, "security"))
	if len(reqs) == 0 {
		return ""
	}
	first := reqs[0]
	if first == nil || first.Kind != yaml.MappingNode || len(first.Content) == 0 {
		return ""
	}
	return first.Content[0].Value
}

// responseSchema prefers the "200" response and falls back to the first one declared.
func responseSchema(doc *Document, op *yaml.Node) string {
	responses := lookup(op, "responses")
	resp := lookup(responses, "200")
	if resp == nil {
		_ = each(responses, func(_ string, val *yaml.Node) error {
			if resp == nil {
				resp = val
			}
			return nil
		})
	}
	resp = doc.deref(resp)
	var ref string
	found := false
	_ = each(lookup(resp, "content"), func(_ string, media *yaml.Node) error {
		if !found {
			found = true
			ref = scalar(lookup(lookup(media, "schema"), "$ref"))
		}
		return nil
	})
	return stripSchemaPrefix(ref)
}

func normalizeComponents(doc *Document, sets *types.RecordSets) {
	components := lookup(doc.top(), "components")

	_ = each(lookup(components, "schemas"), func(name string, schema *yaml.Node) error {
		required := make(map[string]struct{})
		for _, r := range items(lookup(schema, "required")) {
			required[scalar(r)] = struct{}{}
		}
		return each(lookup(schema, "properties"), func(prop string, details *yaml.Node) error {
			_, isRequired := required[prop]
			sets.SchemaFields = append(sets.SchemaFields, types.SchemaField{
				SchemaName:   name,
				VariableName: prop,
				VariableType: propertyType(details),
				Required:     isRequired,
			})
			return nil
		})
	})

	_ = each(lookup(components, "securitySchemes"), func(name string, scheme *yaml.Node) error {
		sets.SecuritySchemes = append(sets.SecuritySchemes, types.SecurityScheme{
			SecurityName: name,
			SecurityType: scalar(lookup(scheme, "type")),
		})
		return nil
	})
}

// propertyType resolves scalar type, then array element, then a direct $ref.
func propertyType(details *yaml.Node) string {
	t := scalar(lookup(details, "type"))
	if t == "array" {
		itemsNode := lookup(details, "items")
		if ref := scalar(lookup(itemsNode, "$ref")); ref != "" {
			return stripSchemaPrefix(ref)
		}
		return scalar(lookup(itemsNode, "type"))
	}
	if t != "" {
		return t
	}
	return stripSchemaPrefix(scalar(lookup(details, "$ref")))
}

func stripSchemaPrefix(ref string) string {
	return strings.TrimPrefix(ref, schemaPrefix)
}
