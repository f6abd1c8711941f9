// Package blob defines the object store contract used for input files,
// normalized record files and result tables, plus in-process and
// filesystem implementations.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidKey is returned for empty keys or keys escaping the namespace.
var ErrInvalidKey = errors.New("invalid blob key")

// Store is a get/put-by-key byte store.
type Store interface {
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key, replacing any previous value, and returns
	// the key the object can be fetched with.
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Key namespaces.
const (
	PrefixUploads   = "uploads"
	PrefixProcessed = "processed"
	PrefixConcepts  = "concepts"
	PrefixClusters  = "kclusters"
)

// ProcessedKey is where a task's normalized JSONL records are written.
func ProcessedKey(taskID string) string {
	return fmt.Sprintf("%s/task_%s_processed.jsonl", PrefixProcessed, taskID)
}

// ConceptsKey is where a task's concept table is written.
func ConceptsKey(taskID string) string {
	return fmt.Sprintf("%s/task_%s_concepts.csv", PrefixConcepts, taskID)
}

// ClustersKey is where a task's cluster table is written.
func ClustersKey(taskID string) string {
	return fmt.Sprintf("%s/task_%s_kclusters.csv", PrefixClusters, taskID)
}

// ValidateKey rejects keys that are empty, absolute or contain parent
// references.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes the namespace", ErrInvalidKey, key)
		}
	}
	return nil
}

// ContentType picks a MIME type from the key's extension.
func ContentType(key string) string {
	switch path.Ext(key) {
	case ".jsonl":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	default:
		return "application/octet-stream"
	}
}
