// Package relay drives each proof through verification and cross-chain
// delivery to fulfillment. This is the protocol core.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZKRand-Network/relay_layer/internal/chain"
	"github.com/ZKRand-Network/relay_layer/internal/domain/proof"
	relaydom "github.com/ZKRand-Network/relay_layer/internal/domain/relay"
	"github.com/ZKRand-Network/relay_layer/internal/domain/request"
	"github.com/ZKRand-Network/relay_layer/internal/metrics"
	"github.com/ZKRand-Network/relay_layer/internal/services/ledger"
	"github.com/ZKRand-Network/relay_layer/internal/services/proofs"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
	"github.com/ZKRand-Network/relay_layer/internal/system"
	"github.com/ZKRand-Network/relay_layer/internal/verifier"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// Verifier is the slice of the verification client the coordinator needs.
type Verifier interface {
	Submit(ctx context.Context, proofPayload []byte, targetChainID string) (string, error)
	PollStatus(ctx context.Context, jobID string) (verifier.JobStatus, error)
}

// Config bounds every retry and poll loop the coordinator runs.
type Config struct {
	PollInterval        time.Duration
	PollMaxInterval     time.Duration
	VerificationTimeout time.Duration
	MaxDeliveryAttempts int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	ConfirmInterval     time.Duration
	ConfirmTimeout      time.Duration
	// BroadcastChains receive every fulfillment in addition to the
	// requesting chain.
	BroadcastChains []string
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollMaxInterval <= 0 {
		c.PollMaxInterval = 30 * time.Second
	}
	if c.VerificationTimeout <= 0 {
		c.VerificationTimeout = 10 * time.Minute
	}
	if c.MaxDeliveryAttempts <= 0 {
		c.MaxDeliveryAttempts = 5
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = 5 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 5 * time.Minute
	}
}

var _ system.Service = (*Coordinator)(nil)

// Coordinator owns every RelayJob. Each job's state machine runs on its own
// goroutine; the proof registry's Admit is the only cross-job
// synchronization point.
type Coordinator struct {
	ledger   *ledger.Service
	registry *proofs.Registry
	verifier Verifier
	gateways map[string]chain.Gateway
	jobs     storage.RelayJobStore
	cfg      Config
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
	running bool
}

// New constructs the coordinator.
func New(
	ledgerSvc *ledger.Service,
	registry *proofs.Registry,
	verifierClient Verifier,
	gateways map[string]chain.Gateway,
	jobStore storage.RelayJobStore,
	cfg Config,
	log *logger.Logger,
) *Coordinator {
	if log == nil {
		log = logger.NewDefault("relay-coordinator")
	}
	cfg.setDefaults()
	return &Coordinator{
		ledger:   ledgerSvc,
		registry: registry,
		verifier: verifierClient,
		gateways: gateways,
		jobs:     jobStore,
		cfg:      cfg,
		log:      log,
	}
}

func (c *Coordinator) Name() string { return "relay-coordinator" }

// Start resumes every non-terminal persisted job, then accepts new proofs.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.runCtx = runCtx
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	active, err := c.jobs.ListActiveJobs(ctx)
	if err != nil {
		return fmt.Errorf("load active jobs: %w", err)
	}
	for _, job := range active {
		job := job
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.resume(runCtx, job)
		}()
	}

	c.log.WithField("resumed_jobs", len(active)).Info("relay coordinator started")
	return nil
}

// Stop cancels all job goroutines and waits for them to persist their state.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.log.Info("relay coordinator stopped")
	return nil
}

// SubmitProof admits a proof for a request and, if it wins the ledger
// tie-break, drives it asynchronously to fulfillment. The returned identity
// fingerprints the payload.
//
// A duplicate identity returns proof.ErrDuplicateProof before any side
// effect: a proof identity can never fulfill two requests, and two provers
// racing for one request cannot both win.
func (c *Coordinator) SubmitProof(ctx context.Context, requestID string, proofPayload []byte, randomValue string) (string, error) {
	// The waitgroup slot is reserved under the same lock as the running
	// check so Stop cannot begin waiting between the check and the Add.
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return "", fmt.Errorf("coordinator not running")
	}
	c.wg.Add(1)
	runCtx := c.runCtx
	c.mu.Unlock()

	spawned := false
	defer func() {
		if !spawned {
			c.wg.Done()
		}
	}()

	if len(proofPayload) == 0 {
		return "", fmt.Errorf("empty proof payload")
	}
	if randomValue == "" {
		return "", fmt.Errorf("random value required")
	}

	req, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return "", err
	}

	identity := proof.Identity(proofPayload)

	if err := c.registry.Admit(ctx, identity, requestID); err != nil {
		return identity, err
	}

	if _, err := c.ledger.MarkProofSubmitted(ctx, requestID, identity); err != nil {
		// Lost the tie-break (or the request is already terminal). The
		// admitted identity stays burned; the job is abandoned and never
		// relayed even if someone verifies it out of band.
		if errors.Is(err, request.ErrInvalidStateTransition) {
			if _, jobErr := c.jobs.CreateJob(ctx, relaydom.Job{
				ProofIdentity: identity,
				RequestID:     requestID,
				State:         relaydom.JobAbandoned,
			}); jobErr != nil {
				c.log.WithError(jobErr).Warn("persist abandoned job failed")
			}
			c.log.WithFields(map[string]any{
				"request_id":     requestID,
				"proof_identity": identity,
			}).Warn("proof lost ledger tie-break; job abandoned")
		}
		return identity, err
	}

	job, err := c.jobs.CreateJob(ctx, relaydom.Job{
		ProofIdentity: identity,
		ProofPayload:  proofPayload,
		RequestID:     requestID,
		RandomValue:   randomValue,
		State:         relaydom.JobVerifying,
		TargetChains:  c.targetChains(req.ChainID),
	})
	if err != nil {
		return identity, fmt.Errorf("persist relay job: %w", err)
	}

	spawned = true
	go func() {
		defer c.wg.Done()
		c.drive(runCtx, job, req.ChainID)
	}()

	return identity, nil
}

func (c *Coordinator) targetChains(requestingChain string) []string {
	chains := []string{requestingChain}
	for _, extra := range c.cfg.BroadcastChains {
		if extra != requestingChain {
			chains = append(chains, extra)
		}
	}
	return chains
}

// drive runs the full state machine for a fresh job. One verification
// deadline covers both the submission retries and the status polling.
func (c *Coordinator) drive(ctx context.Context, job relaydom.Job, targetChainID string) {
	log := c.log.WithFields(map[string]any{
		"request_id":     job.RequestID,
		"proof_identity": job.ProofIdentity,
	})
	deadline := time.Now().Add(c.cfg.VerificationTimeout)

	jobID, ok := c.submitForVerification(ctx, &job, targetChainID, deadline, log)
	if !ok {
		return
	}
	job.VerifierJobID = jobID
	job.ProofPayload = nil
	log = log.WithField("job_id", jobID)

	if _, err := c.ledger.MarkVerifying(ctx, job.RequestID); err != nil &&
		!c.holdsRequest(ctx, &job, request.StateVerifying, request.StateVerified, request.StateRelaying) {
		log.WithError(err).Warn("mark verifying failed; abandoning job")
		c.finishJob(ctx, &job, relaydom.JobAbandoned)
		return
	}
	c.persistJob(ctx, &job, log)

	if !c.pollVerification(ctx, &job, deadline, log) {
		return
	}

	c.relayJob(ctx, &job, log)
}

// resume continues a persisted job after a restart. The ledger may be one or
// two transitions ahead of the persisted job state; pollVerification and
// relayJob tolerate edges that this job's proof already took.
func (c *Coordinator) resume(ctx context.Context, job relaydom.Job) {
	log := c.log.WithFields(map[string]any{
		"request_id":     job.RequestID,
		"proof_identity": job.ProofIdentity,
		"job_id":         job.ID,
	})
	log.Info("resuming relay job")

	switch job.State {
	case relaydom.JobVerifying:
		deadline := time.Now().Add(c.cfg.VerificationTimeout)
		if job.VerifierJobID == "" {
			// Died before the proof reached the verifier; submit again
			// from the persisted payload.
			if len(job.ProofPayload) == 0 {
				log.Error("job has no verifier handle and no payload; cannot resume")
				metrics.CountOperatorAlert("unresumable_job")
				c.rejectRequest(ctx, &job, request.ReasonVerificationFailed, log)
				return
			}
			jobID, ok := c.submitForVerification(ctx, &job, job.TargetChains[0], deadline, log)
			if !ok {
				return
			}
			job.VerifierJobID = jobID
			job.ProofPayload = nil
			log = log.WithField("job_id", jobID)
			c.persistJob(ctx, &job, log)
		}
		if !c.pollVerification(ctx, &job, deadline, log) {
			return
		}
		c.relayJob(ctx, &job, log)
	case relaydom.JobRelaying:
		c.relayJob(ctx, &job, log)
	default:
		log.WithField("state", job.State).Warn("job not resumable")
	}
}

// holdsRequest reports whether the request is in one of the given states and
// is still claimed by this job's proof. It distinguishes a ledger that a
// previous incarnation already advanced from one that genuinely moved on.
func (c *Coordinator) holdsRequest(ctx context.Context, job *relaydom.Job, states ...request.State) bool {
	req, err := c.ledger.Get(ctx, job.RequestID)
	if err != nil {
		return false
	}
	if req.ProofIdentity != job.ProofIdentity {
		return false
	}
	for _, state := range states {
		if req.State == state {
			return true
		}
	}
	return false
}

// submitForVerification retries transient submission failures within the
// verification deadline. Malformed payloads reject the request immediately.
func (c *Coordinator) submitForVerification(ctx context.Context, job *relaydom.Job, targetChainID string, deadline time.Time, log *logger.Logger) (string, bool) {
	for attempt := 0; ; attempt++ {
		jobID, err := c.verifier.Submit(ctx, job.ProofPayload, targetChainID)
		if err == nil {
			return jobID, true
		}

		if errors.Is(err, verifier.ErrMalformedProof) {
			log.WithError(err).Warn("proof payload malformed")
			c.rejectRequest(ctx, job, request.ReasonVerificationFailed, log)
			_ = c.registry.RecordVerificationResult(ctx, job.ProofIdentity, false)
			return "", false
		}

		delay := backoff(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, attempt)
		if time.Now().Add(delay).After(deadline) {
			log.WithError(err).Warn("verification submission retries exhausted")
			metrics.CountOperatorAlert("verifier_unreachable")
			c.rejectRequest(ctx, job, request.ReasonVerificationTimeout, log)
			return "", false
		}

		log.WithError(err).WithField("attempt", attempt+1).Debug("verifier submission retry")
		if !sleep(ctx.Done(), delay) {
			return "", false
		}
	}
}

// pollVerification polls the verifier with bounded backoff until a terminal
// status or the verification deadline. Returns true when the proof verified
// and the request advanced to Relaying.
func (c *Coordinator) pollVerification(ctx context.Context, job *relaydom.Job, deadline time.Time, log *logger.Logger) bool {
	started := time.Now()

	for attempt := 0; ; attempt++ {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollMaxInterval)
		status, err := c.verifier.PollStatus(pollCtx, job.VerifierJobID)
		cancel()

		now := time.Now().UTC()
		job.LastPolledAt = &now

		if err == nil {
			switch status.Status {
			case verifier.StatusVerified:
				metrics.CountVerification("verified", time.Since(started))
				if err := c.registry.RecordVerificationResult(ctx, job.ProofIdentity, true); err != nil {
					log.WithError(err).Warn("record verification result failed")
				}
				if !c.advanceToRelaying(ctx, job, log) {
					c.finishJob(ctx, job, relaydom.JobAbandoned)
					return false
				}
				job.State = relaydom.JobRelaying
				c.persistJob(ctx, job, log)
				return true

			case verifier.StatusRejected:
				metrics.CountVerification("rejected", time.Since(started))
				if err := c.registry.RecordVerificationResult(ctx, job.ProofIdentity, false); err != nil {
					log.WithError(err).Warn("record verification result failed")
				}
				// A rejected proof is cryptographically invalid; retrying
				// gains nothing. The requester must start over with a fresh
				// proof identity.
				c.rejectRequest(ctx, job, request.ReasonVerificationFailed, log)
				return false
			}
		} else {
			log.WithError(err).Debug("verification poll failed")
		}

		delay := backoff(c.cfg.PollInterval, c.cfg.PollMaxInterval, attempt)
		if time.Now().Add(delay).After(deadline) {
			metrics.CountVerification("timeout", time.Since(started))
			log.Warn("verification timed out without terminal status")
			c.rejectRequest(ctx, job, request.ReasonVerificationTimeout, log)
			return false
		}
		if !sleep(ctx.Done(), delay) {
			c.persistJob(ctx, job, log)
			return false
		}
	}
}

// advanceToRelaying moves the request from Verifying to Relaying. A previous
// incarnation may have advanced the ledger before persisting the job, so a
// failed edge is tolerated as long as this job's proof still holds the
// request; only a request that genuinely moved on (rejected on timeout,
// expired, claimed by another proof) stops the job. Once the request reached
// Relaying its fee is committed and abandoning it would strand it forever.
func (c *Coordinator) advanceToRelaying(ctx context.Context, job *relaydom.Job, log *logger.Logger) bool {
	if _, err := c.ledger.MarkVerified(ctx, job.RequestID); err != nil &&
		!c.holdsRequest(ctx, job, request.StateVerified, request.StateRelaying) {
		log.WithError(err).Warn("verified result dropped; request no longer verifying")
		return false
	}
	if _, err := c.ledger.MarkRelaying(ctx, job.RequestID); err != nil &&
		!c.holdsRequest(ctx, job, request.StateRelaying) {
		log.WithError(err).Warn("mark relaying failed")
		return false
	}
	return true
}

// relayJob delivers the fulfillment to every target chain, then marks the
// request fulfilled. Once here, the fee-for-value exchange is committed: the
// job ends Fulfilled or Failed-with-alert, never silently dropped.
func (c *Coordinator) relayJob(ctx context.Context, job *relaydom.Job, log *logger.Logger) {
	req, err := c.ledger.Get(ctx, job.RequestID)
	if err != nil {
		log.WithError(err).Error("load request for relay failed")
		return
	}

	fulfillment := chain.Fulfillment{
		RequestID:     job.RequestID,
		RandomValue:   job.RandomValue,
		ProofIdentity: job.ProofIdentity,
		Requester:     req.Requester,
	}

	for _, chainID := range job.TargetChains {
		delivery := job.Delivery(chainID)
		if delivery.Status == relaydom.ChainConfirmed {
			continue
		}

		if !c.deliverToChain(ctx, job, delivery, fulfillment, log.WithField("chain_id", chainID)) {
			if ctx.Err() != nil {
				c.persistJob(ctx, job, log)
				return
			}
			// Retries exhausted on this chain. The proof is valid and the
			// fee was paid, so this is an operator alert, not a rejection.
			delivery.Status = relaydom.ChainFailed
			metrics.CountDelivery(chainID, "failed")
			metrics.CountOperatorAlert("relay_delivery_failed")
			log.WithField("chain_id", chainID).Error("fulfillment delivery failed; operator intervention required")
			c.finishJob(ctx, job, relaydom.JobFailed)
			return
		}

		delivery.Status = relaydom.ChainConfirmed
		metrics.CountDelivery(chainID, "confirmed")
		c.persistJob(ctx, job, log)
	}

	if !job.AllConfirmed() {
		c.finishJob(ctx, job, relaydom.JobFailed)
		return
	}

	if _, err := c.ledger.MarkFulfilled(ctx, job.RequestID, job.RandomValue, job.ProofIdentity); err != nil {
		log.WithError(err).Error("mark fulfilled failed")
		c.finishJob(ctx, job, relaydom.JobFailed)
		return
	}

	c.finishJob(ctx, job, relaydom.JobFulfilled)
	log.Info("relay job fulfilled on all target chains")
}

// deliverToChain attempts delivery with bounded retries and waits for
// confirmation. Returns true once the chain confirmed (or reported the
// request already fulfilled).
func (c *Coordinator) deliverToChain(ctx context.Context, job *relaydom.Job, delivery *relaydom.ChainDelivery, f chain.Fulfillment, log *logger.Logger) bool {
	gateway, ok := c.gateways[delivery.ChainID]
	if !ok {
		log.Error("no gateway configured for target chain")
		return false
	}

	for delivery.Attempts < c.cfg.MaxDeliveryAttempts {
		if ctx.Err() != nil {
			return false
		}

		delivery.Attempts++
		txHash, err := gateway.DeliverFulfillment(ctx, f)

		if errors.Is(err, chain.ErrChainRejected) {
			// Already fulfilled or expired on-chain: success no-op.
			metrics.CountDelivery(delivery.ChainID, "conflict")
			log.Info("chain reports request already settled; treating as delivered")
			return true
		}
		if err != nil {
			if errors.Is(err, chain.ErrInsufficientGasOrFunds) {
				metrics.CountOperatorAlert("insufficient_gas")
				log.WithError(err).Error("relayer account underfunded")
			} else {
				log.WithError(err).Warn("fulfillment delivery attempt failed")
			}
			if !chain.Retryable(err) {
				return false
			}
			metrics.CountDelivery(delivery.ChainID, "retried")
			delivery.LastErr = err.Error()
			c.persistJob(ctx, job, log)
			if !sleep(ctx.Done(), backoff(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, delivery.Attempts-1)) {
				return false
			}
			continue
		}

		delivery.Status = relaydom.ChainSent
		delivery.TxHash = txHash
		delivery.LastErr = ""
		metrics.CountDelivery(delivery.ChainID, "sent")
		c.persistJob(ctx, job, log)

		switch c.awaitConfirmation(ctx, gateway, txHash, log) {
		case chain.ConfirmConfirmed:
			return true
		case chain.ConfirmFailed:
			log.WithField("tx_hash", txHash).Warn("fulfillment transaction failed on-chain; retrying")
			delivery.Status = relaydom.ChainNotSent
			delivery.TxHash = ""
			c.persistJob(ctx, job, log)
		default:
			if ctx.Err() != nil {
				return false
			}
			log.WithField("tx_hash", txHash).Warn("confirmation timed out; retrying delivery")
			delivery.Status = relaydom.ChainNotSent
			delivery.TxHash = ""
			c.persistJob(ctx, job, log)
		}
	}
	return false
}

// awaitConfirmation polls the gateway until the transaction confirms, fails
// or the confirmation window closes.
func (c *Coordinator) awaitConfirmation(ctx context.Context, gateway chain.Gateway, txHash string, log *logger.Logger) chain.ConfirmStatus {
	deadline := time.Now().Add(c.cfg.ConfirmTimeout)

	for {
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmInterval*2)
		status, err := gateway.ConfirmationStatus(pollCtx, txHash)
		cancel()
		if err != nil {
			log.WithError(err).Debug("confirmation poll failed")
		} else if status != chain.ConfirmPending {
			return status
		}

		if time.Now().After(deadline) {
			return chain.ConfirmPending
		}
		if !sleep(ctx.Done(), c.cfg.ConfirmInterval) {
			return chain.ConfirmPending
		}
	}
}

func (c *Coordinator) rejectRequest(ctx context.Context, job *relaydom.Job, reason string, log *logger.Logger) {
	if _, err := c.ledger.MarkRejected(ctx, job.RequestID, reason); err != nil {
		log.WithError(err).Warn("mark rejected failed")
	}
	c.finishJob(ctx, job, relaydom.JobRejected)
}

func (c *Coordinator) finishJob(ctx context.Context, job *relaydom.Job, state relaydom.JobState) {
	job.State = state
	c.persistJob(ctx, job, c.log)
}

func (c *Coordinator) persistJob(ctx context.Context, job *relaydom.Job, log *logger.Logger) {
	// Persist outside the caller's cancellation so shutdown does not lose
	// job progress.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := c.jobs.UpdateJob(persistCtx, *job); err != nil {
		log.WithError(err).WithField("job_id", job.ID).Warn("persist relay job failed")
	}
}
