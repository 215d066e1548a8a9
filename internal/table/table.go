// Package table renders normalized record sets as text tables for prompts.
package table

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/toon-format/toon-go"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

const (
	FormatCSV  = "csv"
	FormatTOON = "toon"
)

// CSV renders records as a header row followed by one row per record.
// An empty set renders as "", not as a header-only table.
func CSV[R types.Record](records []R) string {
	if len(records) == 0 {
		return ""
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(records[0].Columns())
	for _, r := range records {
		_ = w.Write(r.Row())
	}
	w.Flush()
	return buf.String()
}

// TOON renders records in Token-Oriented Object Notation.
func TOON[R types.Record](records []R) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	out, err := toon.MarshalString(records, toon.WithLengthMarkers(true))
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return out, nil
}

// Render renders records in the given format; "" means csv.
func Render[R types.Record](format string, records []R) (string, error) {
	switch format {
	case "", FormatCSV:
		return CSV(records), nil
	case FormatTOON:
		return TOON(records)
	default:
		return "", fmt.Errorf("unknown table format %q", format)
	}
}

// Rendered holds every record set of a document rendered as text.
type Rendered struct {
	Endpoints       string `json:"method_definitions"`
	Parameters      string `json:"parameter_definitions"`
	RequestBodies   string `json:"request_body_definitions"`
	SchemaFields    string `json:"schema_definitions"`
	SecuritySchemes string `json:"security_definitions"`
}

// Tables renders all five record sets.
func Tables(format string, sets *types.RecordSets) (Rendered, error) {
	var out Rendered
	if sets == nil {
		return out, nil
	}
	var err error
	if out.Endpoints, err = Render(format, sets.Endpoints); err != nil {
		return Rendered{}, err
	}
	if out.Parameters, err = Render(format, sets.Parameters); err != nil {
		return Rendered{}, err
	}
	if out.RequestBodies, err = Render(format, sets.RequestBodies); err != nil {
		return Rendered{}, err
	}
	if out.SchemaFields, err = Render(format, sets.SchemaFields); err != nil {
		return Rendered{}, err
	}
	if out.SecuritySchemes, err = Render(format, sets.SecuritySchemes); err != nil {
		return Rendered{}, err
	}
	return out, nil
}

// Values maps the rendered tables to their prompt placeholder names.
func (r Rendered) Values() map[string]string {
	return map[string]string{
		"method_definitions":       r.Endpoints,
		"parameter_definitions":    r.Parameters,
		"request_body_definitions": r.RequestBodies,
		"schema_definitions":       r.SchemaFields,
		"security_definitions":     r.SecuritySchemes,
	}
}
