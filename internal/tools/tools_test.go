package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeucak/api-doc-gpt/internal/config"
	"github.com/egeucak/api-doc-gpt/internal/openapi"
	"github.com/egeucak/api-doc-gpt/internal/relay"
)

const onePetDoc = `{
  "openapi": "3.0.0",
  "paths": {
    "/pets": {
      "get": {
        "operationId": "listPets",
        "summary": "List pets",
        "parameters": [{"name": "limit", "in": "query", "schema": {"type": "integer"}}],
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

const securedDoc = `{
  "openapi": "3.0.0",
  "paths": {
    "/pets": {
      "post": {
        "operationId": "createPet",
        "security": [{"bearerAuth": []}],
        "parameters": [
          {"name": "X-Trace", "in": "header", "schema": {"type": "string"}},
          {"name": "dry_run", "in": "query", "schema": {"type": "boolean"}}
        ],
        "requestBody": {"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Pet"}}}},
        "responses": {"201": {"description": "created"}}
      }
    }
  },
  "components": {
    "schemas": {
      "Pet": {"required": ["name"], "properties": {"name": {"type": "string"}, "age": {"type": "integer"}}},
      "Owner": {"properties": {"name": {"type": "string"}}}
    },
    "securitySchemes": {"bearerAuth": {"type": "http", "scheme": "bearer"}}
  }
}`

type stubTool struct {
	name string
	out  string
	err  error
	got  any
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "does " + s.name }
func (s *stubTool) Invoke(_ context.Context, input any) (string, error) {
	s.got = input
	return s.out, s.err
}

func parseDoc(t *testing.T, src string) *openapi.Document {
	t.Helper()
	doc, err := openapi.Parse([]byte(src))
	require.NoError(t, err)
	return doc
}

func TestRegistryOrderAndLookup(t *testing.T) {
	a := &stubTool{name: "Alpha", out: "a"}
	b := &stubTool{name: "Beta", out: "b"}
	reg, err := NewRegistry(a, b)
	require.NoError(t, err)

	assert.Equal(t, "Alpha, Beta", reg.Names())
	assert.Equal(t, "- Alpha: does Alpha\n- Beta: does Beta", reg.Descriptions())

	out, err := reg.Call(context.Background(), " Beta ", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "b", out)
	assert.Equal(t, map[string]any{"x": 1}, b.got)

	_, err = reg.Call(context.Background(), "Gamma", "x")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Gamma")
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(&stubTool{name: "A"}, &stubTool{name: "A"})
	require.Error(t, err)

	_, err = NewRegistry(&stubTool{name: " "})
	require.Error(t, err)
}

func TestEndpointDetailsListPets(t *testing.T) {
	tool := EndpointDetails{Doc: parseDoc(t, onePetDoc)}

	out, err := tool.Invoke(context.Background(), "listPets")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Contains(t, got, "security_details")
	assert.Nil(t, got["security_details"])
	assert.Nil(t, got["request_body_schema"])

	def := got["endpoint_definition"].(map[string]any)
	assert.Equal(t, "/pets", def["path"])
	assert.Equal(t, "GET", def["method"])

	params := got["endpoint_parameters"].([]any)
	require.Len(t, params, 1)
	assert.Equal(t, "limit", params[0].(map[string]any)["name"])
}

func TestEndpointDetailsCollectsEverything(t *testing.T) {
	tool := EndpointDetails{Doc: parseDoc(t, securedDoc)}

	d, err := tool.Lookup("createPet")
	require.NoError(t, err)
	assert.Len(t, d.EndpointParameters, 2)
	require.Len(t, d.RequestBodySchema, 2)
	assert.Equal(t, "Pet", d.RequestBodySchema[0].SchemaName)
	assert.True(t, d.RequestBodySchema[0].Required)
	require.NotNil(t, d.SecurityDetails)
	assert.Equal(t, "http", d.SecurityDetails.SecurityType)
}

func TestEndpointDetailsInputForms(t *testing.T) {
	tool := EndpointDetails{Doc: parseDoc(t, onePetDoc)}

	_, err := tool.Invoke(context.Background(), map[string]any{"operation_id": "listPets"})
	require.NoError(t, err)
	_, err = tool.Invoke(context.Background(), `"listPets"`)
	require.NoError(t, err)

	_, err = tool.Invoke(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = tool.Invoke(context.Background(), map[string]any{"id": "listPets"})
	require.Error(t, err)
	_, err = tool.Invoke(context.Background(), 42)
	require.Error(t, err)
}

type stubDoer struct {
	args relay.Args
	out  json.RawMessage
	err  error
}

func (s *stubDoer) Do(_ context.Context, args relay.Args) (json.RawMessage, error) {
	s.args = args
	return s.out, s.err
}

func TestRequestTool(t *testing.T) {
	doer := &stubDoer{out: json.RawMessage(`{"ok":true}`)}
	tool := Request{Relay: doer}

	out, err := tool.Invoke(context.Background(), map[string]any{"method": "GET", "url": "/pets"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "/pets", doer.args.URL)

	_, err = tool.Invoke(context.Background(), "GET /pets")
	require.Error(t, err)

	doer.err = errors.New("connection refused")
	_, err = tool.Invoke(context.Background(), map[string]any{"method": "GET", "url": "/pets"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRequestToolAgainstRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pets" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"rex"}]`))
	}))
	defer srv.Close()

	tool := Request{Relay: relay.New(srv.URL, config.RelayConfig{}, nil, nil)}
	out, err := tool.Invoke(context.Background(), map[string]any{"method": "GET", "url": "/pets"})
	require.NoError(t, err)
	assert.Equal(t, `[{"name":"rex"}]`, out)

	_, err = tool.Invoke(context.Background(), map[string]any{"method": "GET", "url": "/missing"})
	require.Error(t, err)
}

func TestRequestToolKeepsValuesExact(t *testing.T) {
	var sent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		sent = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"zeta": 1, "id": 9007199254740993, "alpha": "<b>&"}`))
	}))
	defer srv.Close()

	tool := Request{Relay: relay.New(srv.URL, config.RelayConfig{}, nil, nil)}
	out, err := tool.Invoke(context.Background(), map[string]any{
		"method": "POST",
		"url":    "/orders",
		"json":   map[string]any{"order_id": json.Number("9007199254740993"), "note": "<b>&"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"note":"<b>&","order_id":9007199254740993}`, sent)
	assert.Equal(t, `{"zeta":1,"id":9007199254740993,"alpha":"<b>&"}`, out)
}
