package convert

import (
	"fmt"
	"path"
	"strings"
)

// Format identifies an input file layout.
type Format string

// Supported input formats.
const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatExcel Format = "excel"
)

var extensionFormats = map[string]Format{
	"jsonl": FormatJSONL,
	"json":  FormatJSON,
	"csv":   FormatCSV,
	"xlsx":  FormatExcel,
	"xls":   FormatExcel,
}

// FormatFromHint resolves a filename, object key, or bare extension
// ("quiz.csv", "uploads/q.XLSX", ".jsonl", "json") to a Format.
func FormatFromHint(hint string) (Format, error) {
	ext := extension(hint)
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
}

func extension(hint string) string {
	ext := strings.ToLower(strings.TrimSpace(hint))
	if e := path.Ext(ext); e != "" {
		ext = e
	}
	return strings.TrimPrefix(ext, ".")
}

// IsTabular reports whether the format is a header-row table.
func (f Format) IsTabular() bool {
	return f == FormatCSV || f == FormatExcel
}
