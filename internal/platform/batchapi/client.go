// Package batchapi implements batch.Client and batch.ResultFetcher against
// the knowledge-component service's HTTP job API.
package batchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/phrazzld/kcjob/internal/batch"
	"github.com/phrazzld/kcjob/internal/config"
	"github.com/phrazzld/kcjob/internal/domain"
	"github.com/phrazzld/kcjob/internal/platform/logger"
)

// maxErrorBody bounds how much of an error response is kept in messages.
const maxErrorBody = 512

// Client is an HTTP client for the batch job API.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

var (
	_ batch.Client        = (*Client)(nil)
	_ batch.ResultFetcher = (*Client)(nil)
)

// New creates a client from configuration.
func New(cfg config.BatchConfig) (*Client, error) {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.RequestTimeout})
}

// NewWithHTTPClient creates a client using the given http.Client.
func NewWithHTTPClient(cfg config.BatchConfig, hc *http.Client) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse batch base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("batch base url %q must be absolute", cfg.BaseURL)
	}
	return &Client{baseURL: u, token: cfg.Token, http: hc}, nil
}

type submitRequest struct {
	JobID     string          `json:"job_id"`
	Config    batch.Config    `json:"config,omitempty"`
	Questions []domain.Record `json:"questions"`
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Handle string `json:"handle"`
	State  string `json:"state"`
	Reason string `json:"reason"`
}

type resultsResponse struct {
	Rows []batch.ResultRow `json:"rows"`
}

// Submit creates the job. A 409 maps to batch.ErrJobExists.
func (c *Client) Submit(
	ctx context.Context,
	records []domain.Record,
	jobID string,
	cfg batch.Config,
) (batch.Handle, error) {
	log := logger.FromContext(ctx)

	body, err := json.Marshal(submitRequest{JobID: jobID, Config: cfg, Questions: records})
	if err != nil {
		return "", fmt.Errorf("encode submit request: %w", err)
	}

	var resp jobResponse
	status, err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, body, &resp)
	if err != nil {
		if status == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", batch.ErrJobExists, jobID)
		}
		return "", fmt.Errorf("submit job %s: %w", jobID, err)
	}

	handle := handleFrom(resp, jobID)
	log.Info("batch job submitted",
		"job_id", jobID,
		"handle", handle.String(),
		"record_count", len(records))
	return handle, nil
}

// Poll reports the current state of the job.
func (c *Client) Poll(ctx context.Context, handle batch.Handle) (batch.JobStatus, error) {
	var resp jobResponse
	status, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(handle.String()), nil, nil, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return batch.JobStatus{}, fmt.Errorf("%w: %s", batch.ErrJobNotFound, handle)
		}
		return batch.JobStatus{}, fmt.Errorf("poll job %s: %w", handle, err)
	}

	state, err := parseState(resp.State)
	if err != nil {
		return batch.JobStatus{}, fmt.Errorf("poll job %s: %w", handle, err)
	}
	return batch.JobStatus{State: state, Reason: resp.Reason}, nil
}

// Lookup finds a previously submitted job by its deterministic id.
func (c *Client) Lookup(ctx context.Context, jobID string) (batch.Handle, bool, error) {
	var resp jobResponse
	q := url.Values{"job_id": []string{jobID}}
	status, err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &resp)
	if err != nil {
		if status == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("lookup job %s: %w", jobID, err)
	}
	return handleFrom(resp, jobID), true, nil
}

// Results downloads the output rows of a succeeded job.
func (c *Client) Results(ctx context.Context, handle batch.Handle) ([]batch.ResultRow, error) {
	var resp resultsResponse
	path := "/v1/jobs/" + url.PathEscape(handle.String()) + "/results"
	status, err := c.do(ctx, http.MethodGet, path, nil, nil, &resp)
	if err != nil {
		switch status {
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFound, handle)
		case http.StatusConflict:
			return nil, fmt.Errorf("%w: %s", batch.ErrJobNotFinished, handle)
		}
		return nil, fmt.Errorf("fetch results for %s: %w", handle, err)
	}
	return resp.Rows, nil
}

// do performs one request and decodes a 2xx JSON body into out. On failure
// it returns the HTTP status (0 for transport errors) alongside the error.
// Transport errors, 429, and 5xx wrap batch.ErrUnavailable.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body []byte,
	out any,
) (int, error) {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, errors.Join(batch.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("%s %s: status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			err = errors.Join(batch.ErrUnavailable, err)
		}
		return resp.StatusCode, err
	}

	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func handleFrom(resp jobResponse, jobID string) batch.Handle {
	if resp.Handle != "" {
		return batch.Handle(resp.Handle)
	}
	if resp.JobID != "" {
		return batch.Handle(resp.JobID)
	}
	return batch.Handle(jobID)
}

// parseState accepts the service's state names and their common synonyms.
func parseState(s string) (batch.JobState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "queued", "submitted":
		return batch.StatePending, nil
	case "running", "processing", "in_progress":
		return batch.StateRunning, nil
	case "succeeded", "success", "completed", "done":
		return batch.StateSucceeded, nil
	case "failed", "error", "cancelled", "canceled":
		return batch.StateFailed, nil
	default:
		return "", fmt.Errorf("unknown job state %q", s)
	}
}
