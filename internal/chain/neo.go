package chain

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeqian10/neo3-gogogo/crypto"
	"github.com/joeqian10/neo3-gogogo/helper"
)

// NeoGateway targets Neo N3 chains. Writes go through the tx submitter;
// reads hit the node RPC directly.
type NeoGateway struct {
	chainID       string
	client        *Client
	submitter     *SubmitterClient
	contractHash  string
	confirmations int
}

var _ Gateway = (*NeoGateway)(nil)

// NeoGatewayConfig configures a Neo gateway.
type NeoGatewayConfig struct {
	ChainID       string
	RPCURL        string
	SubmitterURL  string
	ContractHash  string
	Confirmations int
	Timeout       time.Duration
}

// NewNeoGateway constructs a gateway for one Neo N3 chain.
func NewNeoGateway(cfg NeoGatewayConfig) (*NeoGateway, error) {
	if _, err := helper.UInt160FromString(cfg.ContractHash); err != nil {
		return nil, fmt.Errorf("invalid contract hash %q: %w", cfg.ContractHash, err)
	}

	client, err := NewClient(ClientConfig{RPCURL: cfg.RPCURL, Timeout: cfg.Timeout})
	if err != nil {
		return nil, err
	}
	submitter, err := NewSubmitterClient(cfg.SubmitterURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	confirmations := cfg.Confirmations
	if confirmations <= 0 {
		confirmations = 1
	}

	return &NeoGateway{
		chainID:       cfg.ChainID,
		client:        client,
		submitter:     submitter,
		contractHash:  cfg.ContractHash,
		confirmations: confirmations,
	}, nil
}

func (g *NeoGateway) ChainID() string { return g.chainID }

func (g *NeoGateway) DeliverFulfillment(ctx context.Context, f Fulfillment) (string, error) {
	return g.submitter.SubmitFulfillment(ctx, g.chainID, f)
}

type applicationLog struct {
	Executions []struct {
		Trigger   string `json:"trigger"`
		VMState   string `json:"vmstate"`
		Exception string `json:"exception"`
	} `json:"executions"`
}

// ConfirmationStatus reads the transaction application log. A missing log
// means the transaction is not yet executed.
func (g *NeoGateway) ConfirmationStatus(ctx context.Context, txHash string) (ConfirmStatus, error) {
	result, err := g.client.Call(ctx, "getapplicationlog", []any{txHash})
	if err != nil {
		if isUnknownTransaction(err) {
			return ConfirmPending, nil
		}
		return ConfirmPending, &GatewayError{Chain: g.chainID, Op: "confirm", Err: err}
	}

	var log applicationLog
	if err := json.Unmarshal(result, &log); err != nil {
		return ConfirmPending, &GatewayError{Chain: g.chainID, Op: "confirm", Err: err}
	}

	for _, exec := range log.Executions {
		if exec.Trigger != "Application" {
			continue
		}
		if exec.VMState == "HALT" {
			return ConfirmConfirmed, nil
		}
		return ConfirmFailed, nil
	}
	return ConfirmPending, nil
}

func isUnknownTransaction(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), "unknown transaction")
}

type invokeResult struct {
	State     string      `json:"state"`
	Exception string      `json:"exception"`
	Stack     []stackItem `json:"stack"`
}

type stackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (g *NeoGateway) invokeFunction(ctx context.Context, method string, params []any) (*invokeResult, error) {
	if params == nil {
		params = []any{}
	}
	result, err := g.client.Call(ctx, "invokefunction", []any{g.contractHash, method, params})
	if err != nil {
		return nil, &GatewayError{Chain: g.chainID, Op: method, Err: err}
	}

	var ir invokeResult
	if err := json.Unmarshal(result, &ir); err != nil {
		return nil, &GatewayError{Chain: g.chainID, Op: method, Err: err}
	}
	if ir.State != "HALT" {
		return nil, &GatewayError{Chain: g.chainID, Op: method,
			Err: fmt.Errorf("execution failed: %s", ir.Exception)}
	}
	return &ir, nil
}

func byteArrayParam(value []byte) map[string]any {
	return map[string]any{"type": "ByteArray", "value": base64.StdEncoding.EncodeToString(value)}
}

// IsProofUsed reads the contract's used-proof set.
func (g *NeoGateway) IsProofUsed(ctx context.Context, proofIdentity string) (bool, error) {
	raw, err := hex.DecodeString(proofIdentity)
	if err != nil {
		return false, fmt.Errorf("invalid proof identity: %w", err)
	}

	ir, err := g.invokeFunction(ctx, "isProofUsed", []any{byteArrayParam(raw)})
	if err != nil {
		return false, err
	}
	if len(ir.Stack) == 0 {
		return false, &GatewayError{Chain: g.chainID, Op: "isProofUsed", Err: fmt.Errorf("no result")}
	}

	var used bool
	if err := json.Unmarshal(ir.Stack[0].Value, &used); err != nil {
		return false, &GatewayError{Chain: g.chainID, Op: "isProofUsed", Err: err}
	}
	return used, nil
}

// GetRequestFee reads the contract's current request fee.
func (g *NeoGateway) GetRequestFee(ctx context.Context) (uint64, error) {
	ir, err := g.invokeFunction(ctx, "getRequestFee", nil)
	if err != nil {
		return 0, err
	}
	if len(ir.Stack) == 0 {
		return 0, &GatewayError{Chain: g.chainID, Op: "getRequestFee", Err: fmt.Errorf("no result")}
	}

	// Integer stack items arrive as decimal strings.
	var feeStr string
	if err := json.Unmarshal(ir.Stack[0].Value, &feeStr); err != nil {
		return 0, &GatewayError{Chain: g.chainID, Op: "getRequestFee", Err: err}
	}
	var fee uint64
	if _, err := fmt.Sscanf(feeStr, "%d", &fee); err != nil {
		return 0, &GatewayError{Chain: g.chainID, Op: "getRequestFee", Err: err}
	}
	return fee, nil
}

// ScriptHashToAddress converts an event's script hash to a Neo address for
// request records and logs.
func ScriptHashToAddress(scriptHash string) (string, error) {
	u, err := helper.UInt160FromString(scriptHash)
	if err != nil {
		return "", fmt.Errorf("invalid script hash %q: %w", scriptHash, err)
	}
	return crypto.ScriptHashToAddress(u, helper.DefaultAddressVersion), nil
}
