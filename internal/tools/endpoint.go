package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/egeucak/api-doc-gpt/internal/openapi"
	"github.com/egeucak/api-doc-gpt/pkg/types"
)

const endpointDetailsDescription = "Use this for getting details about an OpenAPI endpoint. You should use this tool to know which body or other parameters you need to use for request. Always use this tool before sending any requests. Input should be operation_id. Always start with this before doing anything else."

// EndpointDetails looks up everything the document declares for one operation.
type EndpointDetails struct {
	Doc *openapi.Document
}

// Details is the EndpointDetails result.
type Details struct {
	EndpointParameters []types.Parameter     `json:"endpoint_parameters"`
	RequestBodySchema  []types.SchemaField   `json:"request_body_schema"`
	EndpointDefinition types.Endpoint        `json:"endpoint_definition"`
	SecurityDetails    *types.SecurityScheme `json:"security_details"`
}

func (EndpointDetails) Name() string        { return "EndpointDetails" }
func (EndpointDetails) Description() string { return endpointDetailsDescription }

func (e EndpointDetails) Invoke(ctx context.Context, input any) (string, error) {
	id, err := operationID(input)
	if err != nil {
		return "", err
	}
	d, err := e.Lookup(id)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode endpoint details: %w", err)
	}
	return string(out), nil
}

// Lookup normalizes the document and collects the records of one operation.
func (e EndpointDetails) Lookup(id string) (*Details, error) {
	sets, err := openapi.Normalize(e.Doc)
	if err != nil {
		return nil, err
	}

	var d Details
	found := false
	for _, ep := range sets.Endpoints {
		if ep.OperationID == id {
			d.EndpointDefinition = ep
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("endpoint %s %w", id, ErrNotFound)
	}

	d.EndpointParameters = []types.Parameter{}
	for _, p := range sets.Parameters {
		if p.OperationID == id {
			d.EndpointParameters = append(d.EndpointParameters, p)
		}
	}

	for _, rb := range sets.RequestBodies {
		if rb.OperationID != id {
			continue
		}
		d.RequestBodySchema = []types.SchemaField{}
		for _, f := range sets.SchemaFields {
			if f.SchemaName == rb.SchemaRef {
				d.RequestBodySchema = append(d.RequestBodySchema, f)
			}
		}
		break
	}

	if sec := d.EndpointDefinition.Security; sec != "" {
		for i := range sets.SecuritySchemes {
			if sets.SecuritySchemes[i].SecurityName == sec {
				s := sets.SecuritySchemes[i]
				d.SecurityDetails = &s
				break
			}
		}
	}
	return &d, nil
}

func operationID(input any) (string, error) {
	switch v := input.(type) {
	case string:
		id := strings.Trim(strings.TrimSpace(v), `"'`)
		if id == "" {
			return "", errors.New("operation_id cannot be empty")
		}
		return id, nil
	case map[string]any:
		if id, ok := v["operation_id"].(string); ok && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id), nil
		}
		return "", errors.New(`input object must carry a string "operation_id"`)
	default:
		return "", fmt.Errorf("unsupported input type %T, expected operation_id", input)
	}
}
