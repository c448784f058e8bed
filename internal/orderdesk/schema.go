package orderdesk

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const defaultIDColumn = "id"

// Row is one record destined for (or read back from) a sheet. Values
// are projected to strings in header order when written.
type Row map[string]any

// SheetSchema is the registered contract for one sheet: the header row
// written on creation, the id column used by upserts, and an optional
// JSON Schema document evaluated against each row. Registration is
// opt-in per sheet; an unregistered sheet accepts any row.
type SheetSchema struct {
	Name     string
	Headers  []string
	IDColumn string
	Document json.RawMessage
}

type compiledSchema struct {
	SheetSchema
	headerSet map[string]struct{}
	schema    *jsonschema.Schema
}

func (s SheetSchema) compile() (*compiledSchema, error) {
	if s.Name == "" {
		return nil, fmt.Errorf("%w: schema name is required", ErrInvalidInput)
	}
	if len(s.Headers) == 0 {
		return nil, fmt.Errorf("%w: schema %s has no headers", ErrInvalidInput, s.Name)
	}
	if s.IDColumn == "" {
		s.IDColumn = defaultIDColumn
	}
	compiled := &compiledSchema{
		SheetSchema: s,
		headerSet:   make(map[string]struct{}, len(s.Headers)),
	}
	for _, header := range s.Headers {
		compiled.headerSet[header] = struct{}{}
	}
	if len(s.Document) > 0 {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(s.Document))
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		resource := "sheet://" + s.Name + ".json"
		if err := compiler.AddResource(resource, doc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		schema, err := compiler.Compile(resource)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		compiled.schema = schema
	}
	return compiled, nil
}

// validate checks row keys against the header set and, when the schema
// carries a document, evaluates the row against it. The row is
// round-tripped through JSON so the evaluator sees canonical types.
func (c *compiledSchema) validate(row Row) error {
	for key := range row {
		if _, ok := c.headerSet[key]; !ok {
			return fmt.Errorf("unknown column %q for sheet %s", key, c.Name)
		}
	}
	if c.schema == nil {
		return nil
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return c.schema.Validate(doc)
}

// project flattens the row into the schema's header order; missing keys
// become empty cells.
func (c *compiledSchema) project(row Row) []string {
	return projectRow(row, c.Headers)
}

func projectRow(row Row, headers []string) []string {
	values := make([]string, len(headers))
	for i, header := range headers {
		if v, ok := row[header]; ok && v != nil {
			values[i] = fmt.Sprint(v)
		}
	}
	return values
}
