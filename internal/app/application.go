// Package app wires the relay layer's services into one runnable unit.
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/ZKRand-Network/relay_layer/internal/chain"
	"github.com/ZKRand-Network/relay_layer/internal/config"
	"github.com/ZKRand-Network/relay_layer/internal/domain/fee"
	"github.com/ZKRand-Network/relay_layer/internal/httpapi"
	"github.com/ZKRand-Network/relay_layer/internal/relay"
	"github.com/ZKRand-Network/relay_layer/internal/services/fees"
	"github.com/ZKRand-Network/relay_layer/internal/services/ledger"
	"github.com/ZKRand-Network/relay_layer/internal/services/proofs"
	"github.com/ZKRand-Network/relay_layer/internal/storage"
	"github.com/ZKRand-Network/relay_layer/internal/storage/memory"
	"github.com/ZKRand-Network/relay_layer/internal/storage/postgres"
	"github.com/ZKRand-Network/relay_layer/internal/system"
	"github.com/ZKRand-Network/relay_layer/internal/verifier"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// Stores bundles the persistence backends. Leave fields nil to run on the
// in-memory store.
type Stores struct {
	Requests storage.RequestStore
	Proofs   storage.ProofStore
	Jobs     storage.RelayJobStore
}

// Application owns every service and its lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	manager *system.Manager

	Ledger      *ledger.Service
	Registry    *proofs.Registry
	FeePolicy   *fees.Policy
	Coordinator *relay.Coordinator
	Server      *httpapi.Server

	db    *sqlx.DB
	redis *redis.Client
}

// New builds the application from configuration. A configured database DSN
// selects postgres persistence, a configured Redis address moves the proof
// registry onto Redis, and each configured chain gets a gateway plus, when a
// websocket URL is present, an event subscriber that opens requests.
func New(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	a := &Application{cfg: cfg, log: log, manager: system.NewManager()}

	stores, err := a.buildStores()
	if err != nil {
		return nil, err
	}

	a.FeePolicy = fees.New(cfg.Fees.InitialFee, cfg.Fees.AuthorizedSetters, log.WithField("component", "fees"))
	a.FeePolicy.Subscribe(func(change fee.Change) {
		log.WithFields(map[string]any{
			"previous_fee": change.PreviousFee,
			"new_fee":      change.NewFee,
			"changed_by":   change.ChangedBy,
		}).Info("request fee updated")
	})

	a.Ledger = ledger.New(stores.Requests, a.FeePolicy, ledger.Options{
		RequireUniqueSeeds: cfg.Ledger.RequireUniqueSeeds,
		RequestTimeout:     cfg.Ledger.RequestTimeout.Std(),
	}, log.WithField("component", "ledger"))

	a.Registry = proofs.New(stores.Proofs, log.WithField("component", "proof-registry"))

	verifierClient, err := verifierFromConfig(cfg.Verifier)
	if err != nil {
		return nil, fmt.Errorf("configure verifier client: %w", err)
	}

	gateways, subscribers, err := a.buildChains()
	if err != nil {
		return nil, err
	}

	a.Coordinator = relay.New(a.Ledger, a.Registry, verifierClient, gateways, stores.Jobs, relay.Config{
		PollInterval:        cfg.Verifier.PollInterval.Std(),
		PollMaxInterval:     cfg.Verifier.PollMaxInterval.Std(),
		VerificationTimeout: cfg.Verifier.VerificationTimeout.Std(),
		MaxDeliveryAttempts: cfg.Relay.MaxDeliveryAttempts,
		RetryBaseDelay:      cfg.Relay.RetryBaseDelay.Std(),
		RetryMaxDelay:       cfg.Relay.RetryMaxDelay.Std(),
		ConfirmInterval:     cfg.Relay.ConfirmInterval.Std(),
		ConfirmTimeout:      cfg.Relay.ConfirmTimeout.Std(),
		BroadcastChains:     cfg.Relay.BroadcastChains,
	}, log.WithField("component", "relay-coordinator"))

	a.Server = httpapi.NewServer(cfg.Server, a.Ledger, a.Registry, a.FeePolicy, a.Coordinator,
		log.WithField("component", "httpapi"))

	expirer := ledger.NewExpirer(a.Ledger, cfg.Ledger.ExpireSchedule, log.WithField("component", "expirer"))

	if err := a.manager.Register(a.Coordinator); err != nil {
		return nil, err
	}
	if err := a.manager.Register(expirer); err != nil {
		return nil, err
	}
	for _, sub := range subscribers {
		if err := a.manager.Register(sub); err != nil {
			return nil, err
		}
	}
	if err := a.manager.Register(a.Server); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Application) buildStores() (Stores, error) {
	var stores Stores

	if a.cfg.Database.DSN != "" {
		store, db, err := postgres.Open(a.cfg.Database.DSN)
		if err != nil {
			return Stores{}, fmt.Errorf("open postgres: %w", err)
		}
		a.db = db
		stores.Requests = store
		stores.Proofs = store
		stores.Jobs = store
		a.log.Info("using postgres persistence")
	} else {
		mem := memory.New()
		stores.Requests = mem
		stores.Proofs = mem
		stores.Jobs = mem
		a.log.Warn("no database configured; state will not survive restarts")
	}

	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		stores.Proofs = proofs.NewRedisStore(a.redis)
		a.log.WithField("addr", a.cfg.Redis.Addr).Info("proof registry backed by redis")
	}

	return stores, nil
}

func (a *Application) buildChains() (map[string]chain.Gateway, []*chain.Subscriber, error) {
	gateways := make(map[string]chain.Gateway, len(a.cfg.Chains))
	var subscribers []*chain.Subscriber

	for _, cc := range a.cfg.Chains {
		gw, err := gatewayFromConfig(cc)
		if err != nil {
			return nil, nil, fmt.Errorf("chain %s: %w", cc.ChainID, err)
		}
		gateways[cc.ChainID] = gw

		if cc.WSURL != "" {
			sub := chain.NewSubscriber(cc.ChainID, cc.WSURL, a.handleRequestEvent,
				a.log.WithField("component", "chain-subscriber").WithField("chain_id", cc.ChainID))
			subscribers = append(subscribers, sub)
		}
	}
	return gateways, subscribers, nil
}

// handleRequestEvent opens a ledger entry for an on-chain randomness request.
func (a *Application) handleRequestEvent(ctx context.Context, event chain.RequestEvent) {
	req, err := a.Ledger.CreateRequest(ctx, event.ChainID, event.Requester, event.Seed, event.FeePaid)
	if err != nil {
		a.log.WithError(err).WithFields(map[string]any{
			"chain_id":  event.ChainID,
			"requester": event.Requester,
		}).Warn("on-chain request rejected")
		return
	}
	a.log.WithFields(map[string]any{
		"request_id": req.ID,
		"chain_id":   req.ChainID,
	}).Info("request opened from chain event")
}

func verifierFromConfig(vc config.VerifierConfig) (*verifier.Client, error) {
	return verifier.NewClient(verifier.Config{
		BaseURL:           vc.BaseURL,
		Timeout:           vc.Timeout.Std(),
		PollRatePerSecond: vc.PollRatePerSecond,
	})
}

func gatewayFromConfig(cc config.ChainConfig) (chain.Gateway, error) {
	switch cc.Family {
	case "neo":
		return chain.NewNeoGateway(chain.NeoGatewayConfig{
			ChainID:       cc.ChainID,
			RPCURL:        cc.RPCURL,
			SubmitterURL:  cc.SubmitterURL,
			ContractHash:  cc.ContractHash,
			Confirmations: cc.Confirmations,
			Timeout:       cc.Timeout.Std(),
		})
	case "evm":
		return chain.NewEVMGateway(chain.EVMGatewayConfig{
			ChainID:       cc.ChainID,
			RPCURL:        cc.RPCURL,
			SubmitterURL:  cc.SubmitterURL,
			ContractAddr:  cc.ContractHash,
			Confirmations: cc.Confirmations,
			Timeout:       cc.Timeout.Std(),
		})
	default:
		return nil, fmt.Errorf("unsupported chain family %q", cc.Family)
	}
}

// Start brings every registered service up; on failure the already-started
// services are rolled back.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.StartAll(ctx)
}

// Stop drains the services in reverse start order, then closes the backing
// connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.StopAll(ctx)

	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("close redis failed")
		}
	}
	if a.db != nil {
		if cerr := a.db.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("close database failed")
		}
	}
	return err
}
