package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SubmitterClient talks to the transaction submitter sidecar that owns the
// relayer keys for a chain. Gateways delegate every chain write to it;
// confirmation reads go straight to the node RPC.
type SubmitterClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSubmitterClient creates a client for a chain's tx submitter endpoint.
func NewSubmitterClient(baseURL string, timeout time.Duration) (*SubmitterClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("submitter URL required")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SubmitterClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type submitRequest struct {
	ChainID       string `json:"chain_id"`
	RequestID     string `json:"request_id"`
	RandomValue   string `json:"random_value"`
	ProofIdentity string `json:"proof_identity"`
	Requester     string `json:"requester"`
}

type submitResponse struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Submitter error codes, mapped onto the gateway error taxonomy.
const (
	submitCodeChainRejected     = "chain_rejected"
	submitCodeInsufficientFunds = "insufficient_funds"
)

// SubmitFulfillment asks the submitter to build, sign and broadcast the
// consumer callback transaction.
func (c *SubmitterClient) SubmitFulfillment(ctx context.Context, chainID string, f Fulfillment) (string, error) {
	body, err := json.Marshal(submitRequest{
		ChainID:       chainID,
		RequestID:     f.RequestID,
		RandomValue:   f.RandomValue,
		ProofIdentity: f.ProofIdentity,
		Requester:     f.Requester,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/fulfillments", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &GatewayError{Chain: chainID, Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &GatewayError{Chain: chainID, Op: "submit", Err: err}
	}
	if resp.StatusCode >= 500 {
		return "", &GatewayError{Chain: chainID, Op: "submit",
			Err: fmt.Errorf("submitter status %d", resp.StatusCode)}
	}

	var sr submitResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return "", &GatewayError{Chain: chainID, Op: "submit", Err: err}
	}

	switch sr.Code {
	case submitCodeChainRejected:
		return "", ErrChainRejected
	case submitCodeInsufficientFunds:
		return "", ErrInsufficientGasOrFunds
	}
	if sr.Error != "" {
		return "", &GatewayError{Chain: chainID, Op: "submit", Err: fmt.Errorf("%s", sr.Error)}
	}
	if sr.TxHash == "" {
		return "", &GatewayError{Chain: chainID, Op: "submit", Err: fmt.Errorf("response missing tx_hash")}
	}
	return sr.TxHash, nil
}
