// Package relay defines the cross-chain relay job model.
package relay

import (
	"errors"
	"time"
)

// ChainStatus is the delivery status of a fulfillment on one target chain.
type ChainStatus string

const (
	ChainNotSent   ChainStatus = "not_sent"
	ChainSent      ChainStatus = "sent"
	ChainConfirmed ChainStatus = "confirmed"
	ChainFailed    ChainStatus = "failed"
)

// JobState is the overall relay job state.
type JobState string

const (
	JobVerifying JobState = "verifying"
	JobRelaying  JobState = "relaying"
	JobFulfilled JobState = "fulfilled"
	// JobAbandoned marks a job whose proof lost the ledger tie-break; it is
	// never relayed even if verification succeeds.
	JobAbandoned JobState = "abandoned"
	JobRejected  JobState = "rejected"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the job state admits no further work.
func (s JobState) Terminal() bool {
	switch s {
	case JobFulfilled, JobAbandoned, JobRejected, JobFailed:
		return true
	}
	return false
}

// ErrJobNotFound indicates the relay job does not exist.
var ErrJobNotFound = errors.New("relay job not found")

// ChainDelivery tracks per-chain delivery progress.
type ChainDelivery struct {
	ChainID  string      `json:"chain_id"`
	Status   ChainStatus `json:"status"`
	TxHash   string      `json:"tx_hash,omitempty"`
	Attempts int         `json:"attempts"`
	LastErr  string      `json:"last_error,omitempty"`
}

// Job tracks a verified proof's delivery to its target chains. A job is
// terminal only when every chain is Confirmed or the job failed after
// exhausting retries on at least one chain.
type Job struct {
	ID string `json:"id"`
	// VerifierJobID is the handle assigned by the external verification
	// service once the proof is submitted.
	VerifierJobID string          `json:"verifier_job_id,omitempty"`
	ProofIdentity string          `json:"proof_identity"`
	// ProofPayload is kept until the proof reaches the verifier so a job
	// interrupted before submission can be resubmitted after a restart.
	ProofPayload  []byte          `json:"proof_payload,omitempty"`
	RequestID     string          `json:"request_id"`
	RandomValue   string          `json:"random_value,omitempty"`
	State         JobState        `json:"state"`
	TargetChains  []string        `json:"target_chains"`
	Deliveries    []ChainDelivery `json:"deliveries"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
}

// Delivery returns the delivery entry for a chain, creating it lazily.
func (j *Job) Delivery(chainID string) *ChainDelivery {
	for i := range j.Deliveries {
		if j.Deliveries[i].ChainID == chainID {
			return &j.Deliveries[i]
		}
	}
	j.Deliveries = append(j.Deliveries, ChainDelivery{ChainID: chainID, Status: ChainNotSent})
	return &j.Deliveries[len(j.Deliveries)-1]
}

// AllConfirmed reports whether every target chain confirmed delivery.
func (j *Job) AllConfirmed() bool {
	if len(j.TargetChains) == 0 {
		return false
	}
	for _, chainID := range j.TargetChains {
		confirmed := false
		for _, d := range j.Deliveries {
			if d.ChainID == chainID && d.Status == ChainConfirmed {
				confirmed = true
				break
			}
		}
		if !confirmed {
			return false
		}
	}
	return true
}
