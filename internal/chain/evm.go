package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EVMGateway targets EVM-family chains. Writes go through the tx submitter;
// confirmation depth is read from transaction receipts.
type EVMGateway struct {
	chainID       string
	client        *Client
	submitter     *SubmitterClient
	contractAddr  string
	confirmations uint64
}

var _ Gateway = (*EVMGateway)(nil)

// EVMGatewayConfig configures an EVM gateway.
type EVMGatewayConfig struct {
	ChainID       string
	RPCURL        string
	SubmitterURL  string
	ContractAddr  string
	Confirmations int
	Timeout       time.Duration
}

// NewEVMGateway constructs a gateway for one EVM chain.
func NewEVMGateway(cfg EVMGatewayConfig) (*EVMGateway, error) {
	if !strings.HasPrefix(cfg.ContractAddr, "0x") || len(cfg.ContractAddr) != 42 {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddr)
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
		confirmations = 3
	}

	return &EVMGateway{
		chainID:       cfg.ChainID,
		client:        client,
		submitter:     submitter,
		contractAddr:  cfg.ContractAddr,
		confirmations: uint64(confirmations),
	}, nil
}

func (g *EVMGateway) ChainID() string { return g.chainID }

func (g *EVMGateway) DeliverFulfillment(ctx context.Context, f Fulfillment) (string, error) {
	return g.submitter.SubmitFulfillment(ctx, g.chainID, f)
}

type evmReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
}

// ConfirmationStatus reads the receipt and requires the configured depth.
func (g *EVMGateway) ConfirmationStatus(ctx context.Context, txHash string) (ConfirmStatus, error) {
	result, err := g.client.Call(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return ConfirmPending, &GatewayError{Chain: g.chainID, Op: "confirm", Err: err}
	}
	if string(result) == "null" {
		return ConfirmPending, nil
	}

	var receipt evmReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return ConfirmPending, &GatewayError{Chain: g.chainID, Op: "confirm", Err: err}
	}
	if receipt.Status == "0x0" {
		return ConfirmFailed, nil
	}

	minedAt, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		return ConfirmPending, &GatewayError{Chain: g.chainID, Op: "confirm", Err: err}
	}

	head, err := g.blockNumber(ctx)
	if err != nil {
		return ConfirmPending, err
	}
	if head >= minedAt && head-minedAt+1 >= g.confirmations {
		return ConfirmConfirmed, nil
	}
	return ConfirmPending, nil
}

func (g *EVMGateway) blockNumber(ctx context.Context) (uint64, error) {
	result, err := g.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, &GatewayError{Chain: g.chainID, Op: "blockNumber", Err: err}
	}

	var raw string
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, &GatewayError{Chain: g.chainID, Op: "blockNumber", Err: err}
	}
	return parseHexUint(raw)
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
