// Package convert turns uploaded question files (jsonl, json, csv, xlsx)
// into ordered canonical records, rejecting files that break the record
// contract with a *ValidationError naming the record and field.
package convert

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/phrazzld/kcjob/internal/domain"
)

//go:embed schema/record.schema.json
var recordSchema []byte

const schemaURL = "record.schema.json"

// Converter validates and normalizes question files. It is safe for
// concurrent use.
type Converter struct {
	schema   *jsonschema.Schema
	validate *validator.Validate
}

// New compiles the record schema and returns a ready Converter.
func New() (*Converter, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(recordSchema)); err != nil {
		return nil, fmt.Errorf("add record schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return &Converter{schema: schema, validate: newValidator()}, nil
}

// Convert parses data according to the format named by hint (a filename,
// key, or extension) and returns the records in source order.
func (c *Converter) Convert(data []byte, hint string) ([]domain.Record, error) {
	format, err := FormatFromHint(hint)
	if err != nil {
		return nil, &ValidationError{Index: -1, Message: "Unsupported file format: " + extension(hint), cause: err}
	}
	return c.ConvertFormat(data, format)
}

// ConvertFormat parses data in a known format.
func (c *Converter) ConvertFormat(data []byte, format Format) ([]domain.Record, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var (
		raws []rawRecord
		err  error
	)
	switch format {
	case FormatJSONL:
		raws, err = loadJSONL(data)
	case FormatJSON:
		raws, err = loadJSON(data)
	case FormatCSV:
		raws, err = loadCSV(data)
	case FormatExcel:
		raws, err = loadExcel(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(raws) == 0 {
		return nil, fileError("file is empty or contains no valid data")
	}

	if err := validateCommon(raws); err != nil {
		return nil, err
	}

	var records []domain.Record
	if format.IsTabular() {
		if err := validateTabular(raws); err != nil {
			return nil, err
		}
		records = make([]domain.Record, len(raws))
		for i, raw := range raws {
			records[i] = recordFromRow(raw)
		}
	} else {
		if err := validateJSONStructure(raws); err != nil {
			return nil, err
		}
		if err := validateSchema(c.schema, raws); err != nil {
			return nil, err
		}
		records = make([]domain.Record, len(raws))
		for i, raw := range raws {
			records[i] = recordFromJSON(raw)
		}
	}

	if err := validateRecords(c.validate, records); err != nil {
		return nil, err
	}
	return records, nil
}

// recordFromJSON maps a schema-checked object onto the canonical shape.
func recordFromJSON(raw rawRecord) domain.Record {
	rec := domain.Record{
		ID:   scalarText(raw["id"]),
		Type: scalarText(raw["type"]),
	}
	question, _ := raw["question"].(map[string]any)
	rec.Question.Stem = scalarText(question["stem"])
	if items, ok := question["choices"].([]any); ok {
		for _, item := range items {
			choice, _ := item.(map[string]any)
			rec.Question.Choices = append(rec.Question.Choices, domain.Choice{
				Label: scalarText(choice["label"]),
				Text:  scalarText(choice["text"]),
			})
		}
	}
	for k, v := range raw {
		switch k {
		case "id", "type", "question":
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec
}

// recordFromRow folds a flat table row into the canonical shape.
// choice_<label> columns become choices in column-name order; empty cells
// are dropped.
func recordFromRow(raw rawRecord) domain.Record {
	rec := domain.Record{
		ID:       strings.TrimSpace(scalarText(raw["id"])),
		Type:     strings.TrimSpace(scalarText(raw["type"])),
		Question: domain.Question{Stem: scalarText(raw["question"])},
	}
	cols := choiceColumns(raw)
	if rec.IsMultipleChoice() {
		for _, col := range cols {
			text := strings.TrimSpace(scalarText(raw[col]))
			if text == "" {
				continue
			}
			rec.Question.Choices = append(rec.Question.Choices, domain.Choice{
				Label: strings.TrimPrefix(col, choicePrefix),
				Text:  text,
			})
		}
	}

	for k, v := range raw {
		if k == "id" || k == "type" || k == "question" || strings.HasPrefix(k, choicePrefix) {
			continue
		}
		if isBlank(v) {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]any)
		}
		rec.Extra[k] = v
	}
	return rec
}

func scalarText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// EncodeJSONL writes one record per line, preserving order.
func EncodeJSONL(records []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(records[i]); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i+1, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeJSONL reads records previously written by EncodeJSONL.
func DecodeJSONL(data []byte) ([]domain.Record, error) {
	var records []domain.Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		var rec domain.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
}
