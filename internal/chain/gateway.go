// Package chain provides target-chain gateways for fulfillment delivery.
package chain

import (
	"context"
	"errors"
	"fmt"
)

// ConfirmStatus is the confirmation state of a submitted transaction.
type ConfirmStatus string

const (
	ConfirmPending   ConfirmStatus = "pending"
	ConfirmConfirmed ConfirmStatus = "confirmed"
	ConfirmFailed    ConfirmStatus = "failed"
)

// Fulfillment is the payload delivered to a consumer contract.
type Fulfillment struct {
	RequestID     string
	RandomValue   string
	ProofIdentity string
	Requester     string
}

// Gateway abstracts one target chain: submit the fulfillment transaction and
// read its confirmation status. One instance per supported chain.
type Gateway interface {
	ChainID() string
	// DeliverFulfillment invokes the consumer callback on-chain and returns
	// the transaction hash. ErrChainRejected means the target contract
	// reverted, typically because the request was already fulfilled or
	// expired on-chain; callers treat it as a successful no-op.
	DeliverFulfillment(ctx context.Context, f Fulfillment) (string, error)
	// ConfirmationStatus reads how deep the transaction is buried.
	ConfirmationStatus(ctx context.Context, txHash string) (ConfirmStatus, error)
}

var (
	// ErrChainRejected indicates the target contract reverted the
	// fulfillment. Idempotent no-op for callers.
	ErrChainRejected = errors.New("target contract rejected fulfillment")
	// ErrInsufficientGasOrFunds indicates the submitter account needs an
	// operator top-up. Retryable after intervention.
	ErrInsufficientGasOrFunds = errors.New("insufficient gas or funds")
)

// GatewayError is a transient gateway or node failure.
type GatewayError struct {
	Chain string
	Op    string
	Err   error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("chain %s %s: %v", e.Chain, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Retryable reports whether a delivery error is worth another attempt.
// Chain rejection is terminal-success; gas and transport failures retry.
func Retryable(err error) bool {
	if errors.Is(err, ErrChainRejected) {
		return false
	}
	var gw *GatewayError
	if errors.As(err, &gw) {
		return true
	}
	return errors.Is(err, ErrInsufficientGasOrFunds)
}
