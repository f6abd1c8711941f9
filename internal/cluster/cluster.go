// Package cluster turns the output of a succeeded batch job into the two
// result tables stored for a task: one row per (record, concept) pair, and
// one row per knowledge-component cluster.
package cluster

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/domain"
)

// ErrResultMismatch is returned when batch output cannot be matched to the
// submitted records.
var ErrResultMismatch = errors.New("batch output does not match submitted records")

// Column headers of the result tables.
var (
	ConceptHeader = []string{"record_id", "type", "stem", "concept"}
	ClusterHeader = []string{"cluster_id", "concept", "size", "record_ids"}
)

// ConceptRow assigns one concept to one record.
type ConceptRow struct {
	RecordID string
	Type     string
	Stem     string
	Concept  string
}

// Cluster groups the records that share a concept.
type Cluster struct {
	ID        int
	Concept   string
	RecordIDs []string
}

// Result holds both tables in deterministic order.
type Result struct {
	Concepts []ConceptRow
	Clusters []Cluster
}

// Collector fetches batch output and builds result tables.
type Collector struct {
	fetcher batch.ResultFetcher
}

// NewCollector creates a Collector reading from fetcher.
func NewCollector(fetcher batch.ResultFetcher) *Collector {
	return &Collector{fetcher: fetcher}
}

// Collect downloads the output of the job behind handle and builds the
// tables for records, which must be the records submitted to that job.
func (c *Collector) Collect(ctx context.Context, handle batch.Handle, records []domain.Record) (*Result, error) {
	rows, err := c.fetcher.Results(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("fetch batch results: %w", err)
	}
	return Build(records, rows)
}

// Build correlates output rows with records and groups them into clusters.
// Rows are matched by record id when every row carries one and record ids
// are unique, otherwise by position.
func Build(records []domain.Record, rows []batch.ResultRow) (*Result, error) {
	assigned, err := correlate(records, rows)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	index := make(map[string]int)
	for i, rec := range records {
		seen := make(map[string]bool)
		for _, concept := range assigned[i] {
			label := strings.TrimSpace(concept)
			key := normalize(label)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true

			res.Concepts = append(res.Concepts, ConceptRow{
				RecordID: rec.ID,
				Type:     rec.Type,
				Stem:     rec.Question.Stem,
				Concept:  label,
			})

			pos, ok := index[key]
			if !ok {
				pos = len(res.Clusters)
				index[key] = pos
				res.Clusters = append(res.Clusters, Cluster{ID: pos + 1, Concept: label})
			}
			res.Clusters[pos].RecordIDs = append(res.Clusters[pos].RecordIDs, rec.ID)
		}
	}
	return res, nil
}

func correlate(records []domain.Record, rows []batch.ResultRow) ([][]string, error) {
	out := make([][]string, len(records))

	byID := len(rows) > 0
	for _, row := range rows {
		if row.RecordID == "" {
			byID = false
			break
		}
	}

	// Ids only identify a record when no two records share one.
	pos := make(map[string]int, len(records))
	for i, rec := range records {
		if _, dup := pos[rec.ID]; dup {
			byID = false
		}
		pos[rec.ID] = i
	}

	if !byID {
		if len(rows) != len(records) {
			return nil, fmt.Errorf("%w: %d output rows for %d records", ErrResultMismatch, len(rows), len(records))
		}
		for i, row := range rows {
			if row.RecordID != "" && row.RecordID != records[i].ID {
				return nil, fmt.Errorf("%w: output row %d has record id %q, want %q", ErrResultMismatch, i+1, row.RecordID, records[i].ID)
			}
			out[i] = row.Concepts
		}
		return out, nil
	}

	for _, row := range rows {
		i, ok := pos[row.RecordID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown record id %q", ErrResultMismatch, row.RecordID)
		}
		out[i] = append(out[i], row.Concepts...)
	}
	return out, nil
}

// normalize folds case and whitespace so spelling variants share a cluster.
func normalize(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(label), " "))
}

// ConceptCSV encodes the concept table with a header row.
func (r *Result) ConceptCSV() ([]byte, error) {
	rows := make([][]string, 0, len(r.Concepts)+1)
	rows = append(rows, ConceptHeader)
	for _, c := range r.Concepts {
		rows = append(rows, []string{c.RecordID, c.Type, c.Stem, c.Concept})
	}
	return encodeCSV(rows)
}

// ClusterCSV encodes the cluster table with a header row. Record ids are
// joined with semicolons.
func (r *Result) ClusterCSV() ([]byte, error) {
	rows := make([][]string, 0, len(r.Clusters)+1)
	rows = append(rows, ClusterHeader)
	for _, c := range r.Clusters {
		rows = append(rows, []string{
			strconv.Itoa(c.ID),
			c.Concept,
			strconv.Itoa(len(c.RecordIDs)),
			strings.Join(c.RecordIDs, ";"),
		})
	}
	return encodeCSV(rows)
}

func encodeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
