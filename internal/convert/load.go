package convert

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

// maxLineSize bounds a single JSONL line.
const maxLineSize = 8 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// rawRecord is a decoded source row before validation.
type rawRecord = map[string]any

// decodeJSON decodes exactly one JSON value, keeping numbers as json.Number
// so numeric ids and pass-through values keep their literal text.
func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func loadJSONL(data []byte) ([]rawRecord, error) {
	var out []rawRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		v, err := decodeJSON(text)
		if err != nil {
			return nil, fileError("Invalid JSON on line %d: %v", line, err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fileError("Invalid JSON on line %d: expected an object, got %s", line, jsonTypeName(v))
		}
		out = append(out, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, fileError("Error processing JSONL file: %v", err)
	}
	return out, nil
}

func loadJSON(data []byte) ([]rawRecord, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	v, err := decodeJSON(data)
	if err != nil {
		return nil, fileError("Invalid JSON format: %v", err)
	}

	switch root := v.(type) {
	case map[string]any:
		return []rawRecord{root}, nil
	case []any:
		out := make([]rawRecord, 0, len(root))
		for i, item := range root {
			obj, ok := item.(map[string]any)
			if !ok {
				return nil, recordError(i, "", "must be an object, not %s", jsonTypeName(item))
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, fileError("JSON root element must be an object or array of objects")
	}
}

func loadCSV(data []byte) ([]rawRecord, error) {
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fileError("CSV encoding error: %v", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fileError("CSV parsing error: %v", err)
	}
	return tableRecords(rows), nil
}

func loadExcel(data []byte) ([]rawRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileError("Excel reading error: %v", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	// Only the first sheet is read.
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fileError("Excel reading error: %v", err)
	}
	return tableRecords(rows), nil
}

// tableRecords turns a header row plus data rows into records keyed by the
// trimmed header names. Blank rows are dropped; short rows are padded.
func tableRecords(rows [][]string) []rawRecord {
	if len(rows) < 2 {
		return nil
	}
	header := make([]string, len(rows[0]))
	for i, name := range rows[0] {
		header[i] = strings.TrimSpace(name)
	}

	out := make([]rawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlankRow(row) {
			continue
		}
		rec := make(rawRecord, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			rec[name] = cell
		}
		out = append(out, rec)
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// jsonTypeName names the JSON type of a decoded value for error messages.
func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
