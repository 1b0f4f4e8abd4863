// Package verifier talks to the external proof-verification service.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Status is a verification job status.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// JobStatus is the verifier's answer for one job.
type JobStatus struct {
	Status Status
	TxHash string
}

// ErrMalformedProof indicates a payload the verifier can never accept.
// Not retryable.
var ErrMalformedProof = errors.New("malformed proof payload")

// SubmissionError is a transient service or network failure. Retryable.
type SubmissionError struct {
	Op  string
	Err error
}

func (e *SubmissionError) Error() string { return fmt.Sprintf("verifier %s: %v", e.Op, e.Err) }
func (e *SubmissionError) Unwrap() error { return e.Err }

// Config holds client configuration.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	PollRatePerSecond float64
}

// Client is the HTTP client for the proof verification service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a verification service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("verifier base URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pollRate := cfg.PollRatePerSecond
	if pollRate <= 0 {
		pollRate = 5
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(pollRate), 1),
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// Submit forwards a proof to the verifier and returns the job ID it assigns.
// A 4xx answer means the payload shape is invalid and will never verify; 5xx
// and transport failures are retryable.
func (c *Client) Submit(ctx context.Context, proofPayload []byte, targetChainID string) (string, error) {
	body, status, err := c.post(ctx, "/v1/proofs", map[string]any{
		"proof_data":      proofPayload,
		"target_chain_id": targetChainID,
	})
	if err != nil {
		return "", &SubmissionError{Op: "submit", Err: err}
	}

	switch {
	case status >= 200 && status < 300:
	case status >= 400 && status < 500:
		return "", fmt.Errorf("%w: %s", ErrMalformedProof, gjson.GetBytes(body, "error").String())
	default:
		return "", &SubmissionError{Op: "submit", Err: fmt.Errorf("status %d", status)}
	}

	jobID := gjson.GetBytes(body, "job_id").String()
	if jobID == "" {
		return "", &SubmissionError{Op: "submit", Err: fmt.Errorf("response missing job_id")}
	}
	return jobID, nil
}

// PollStatus reads a job's status without blocking on the verifier's
// progress; it returns StatusPending while the job has no terminal result.
// Calls are rate limited; repeated polling with backoff is the caller's job.
func (c *Client) PollStatus(ctx context.Context, jobID string) (JobStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return JobStatus{}, err
	}

	body, status, err := c.get(ctx, "/v1/jobs/"+jobID)
	if err != nil {
		return JobStatus{}, &SubmissionError{Op: "poll", Err: err}
	}
	if status < 200 || status >= 300 {
		return JobStatus{}, &SubmissionError{Op: "poll", Err: fmt.Errorf("status %d", status)}
	}

	switch gjson.GetBytes(body, "status").String() {
	case "verified":
		return JobStatus{Status: StatusVerified, TxHash: gjson.GetBytes(body, "transaction_hash").String()}, nil
	case "rejected":
		return JobStatus{Status: StatusRejected}, nil
	default:
		return JobStatus{Status: StatusPending}, nil
	}
}

// VerifyProof runs the verifier's synchronous check against a registered
// verification key.
func (c *Client) VerifyProof(ctx context.Context, vkHash string, proofComponents, publicInputs []byte) (bool, error) {
	body, status, err := c.post(ctx, "/v1/verify", map[string]any{
		"verification_key_hash": vkHash,
		"proof_components":      proofComponents,
		"public_inputs":         publicInputs,
	})
	if err != nil {
		return false, &SubmissionError{Op: "verify", Err: err}
	}
	if status < 200 || status >= 300 {
		return false, &SubmissionError{Op: "verify", Err: fmt.Errorf("status %d", status)}
	}
	return gjson.GetBytes(body, "valid").Bool(), nil
}

// RegisterVerificationKey uploads a verification key and returns its hash.
func (c *Client) RegisterVerificationKey(ctx context.Context, key []byte) (string, error) {
	body, status, err := c.post(ctx, "/v1/keys", map[string]any{"key": key})
	if err != nil {
		return "", &SubmissionError{Op: "register key", Err: err}
	}
	if status < 200 || status >= 300 {
		return "", &SubmissionError{Op: "register key", Err: fmt.Errorf("status %d", status)}
	}

	keyHash := gjson.GetBytes(body, "key_hash").String()
	if keyHash == "" {
		return "", &SubmissionError{Op: "register key", Err: fmt.Errorf("response missing key_hash")}
	}
	return keyHash, nil
}
