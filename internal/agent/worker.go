// Package agent wraps remote stage workers behind a uniform call contract
// with circuit breaking, bounded retries, and performance reporting.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mode selects how much validation a worker performs.
type Mode string

const (
	ModeSelective     Mode = "selective"     // lightweight, few rules
	ModeComprehensive Mode = "comprehensive" // exhaustive
)

// Request is the uniform payload sent to a stage worker.
type Request struct {
	Content    string `json:"content"`
	Mode       Mode   `json:"mode"`
	Checkpoint string `json:"checkpoint,omitempty"` // "pre-writing", "mid-writing", "post-writing"
	Platform   string `json:"platform,omitempty"`
}

// Suggestion is a proposed content edit returned by a worker.
type Suggestion struct {
	Type               string `json:"type"`
	OldText            string `json:"old_text"`
	NewText            string `json:"new_text"`
	ApplyAutomatically bool   `json:"apply_automatically"`
}

// Result is a worker's validation response.
type Result struct {
	Mode         Mode         `json:"mode"`
	RulesApplied []string     `json:"rules_applied"`
	RuleCount    int          `json:"rule_count"`
	Suggestions  []Suggestion `json:"suggestions,omitempty"`
	Violations   []string     `json:"violations,omitempty"`
}

// Worker is one remote stage capability: validate_or_process(content, mode).
// Concrete implementations are the HTTP worker below and test fakes.
type Worker interface {
	// Invoke performs one validation call.
	Invoke(ctx context.Context, req Request) (*Result, error)
	// Probe verifies the worker exposes both validation modes.
	Probe(ctx context.Context) error
}

// HTTPWorker talks to a stage worker over its REST interface.
type HTTPWorker struct {
	stage   string
	baseURL string
	client  *http.Client
}

// HTTPWorkerOpts configures an HTTPWorker.
type HTTPWorkerOpts struct {
	Stage   string
	BaseURL string
	Timeout time.Duration // per-call timeout; defaults to 30s
}

// NewHTTPWorker creates a worker client for one stage endpoint.
func NewHTTPWorker(opts HTTPWorkerOpts) *HTTPWorker {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPWorker{
		stage:   opts.Stage,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Invoke POSTs the request to /validate/{mode} and decodes the result.
func (w *HTTPWorker) Invoke(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/validate/%s", w.baseURL, req.Mode)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Stage: w.stage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Stage: w.stage, Err: fmt.Errorf("worker returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &ApplicationError{
			Stage:      w.stage,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// Probe fetches the worker's OpenAPI document and verifies both the
// selective and comprehensive validation endpoints exist.
func (w *HTTPWorker) Probe(ctx context.Context) error {
	url := w.baseURL + "/openapi.json"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return &TransientError{Stage: w.stage, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ConfigError{Stage: w.stage, Reason: fmt.Sprintf("openapi.json returned status %d", resp.StatusCode)}
	}

	var doc struct {
		Paths map[string]json.RawMessage `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return &ConfigError{Stage: w.stage, Reason: fmt.Sprintf("invalid openapi.json: %v", err)}
	}

	for _, mode := range []Mode{ModeSelective, ModeComprehensive} {
		path := "/validate/" + string(mode)
		if _, ok := doc.Paths[path]; !ok {
			return &ConfigError{Stage: w.stage, Reason: fmt.Sprintf("worker does not expose %s", path)}
		}
	}
	return nil
}
