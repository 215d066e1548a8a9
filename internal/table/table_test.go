package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

func TestCSVEmptySet(t *testing.T) {
	assert.Equal(t, "", CSV([]types.Endpoint{}))
	assert.Equal(t, "", CSV[types.Parameter](nil))
}

func TestCSVHeaderMatchesFirstRecord(t *testing.T) {
	params := []types.Parameter{
		{OperationID: "listPets", Required: true, Name: "limit", In: "query", Title: "Limit", ParameterType: "integer"},
		{OperationID: "listPets", Name: "tags", In: "query", ParameterType: "array[string]"},
	}
	lines := strings.Split(strings.TrimSuffix(CSV(params), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(params[0].Columns(), ","), lines[0])
	assert.Equal(t, "listPets,true,limit,query,Limit,integer", lines[1])
	assert.Equal(t, "listPets,false,tags,query,,array[string]", lines[2])
}

func TestCSVQuotesDelimiters(t *testing.T) {
	out := CSV([]types.Endpoint{{OperationID: "a", Path: "/a", Method: "GET", Summary: "list, filter"}})
	assert.Contains(t, out, `"list, filter"`)
}

func TestRenderFormats(t *testing.T) {
	schemes := []types.SecurityScheme{{SecurityName: "bearerAuth", SecurityType: "http"}}

	out, err := Render("", schemes)
	require.NoError(t, err)
	assert.Equal(t, "security_name,security_type\nbearerAuth,http\n", out)

	out, err = Render(FormatTOON, schemes)
	require.NoError(t, err)
	assert.Contains(t, out, "bearerAuth")

	out, err = Render(FormatTOON, []types.SecurityScheme{})
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = Render("xml", schemes)
	require.Error(t, err)
}

func TestTablesValues(t *testing.T) {
	sets := &types.RecordSets{
		Endpoints: []types.Endpoint{{OperationID: "listPets", Path: "/pets", Method: "GET"}},
	}
	rendered, err := Tables(FormatCSV, sets)
	require.NoError(t, err)

	values := rendered.Values()
	assert.True(t, strings.HasPrefix(values["method_definitions"], "operation_id,path,method"))
	assert.Empty(t, values["parameter_definitions"])
	assert.Len(t, values, 5)
}
