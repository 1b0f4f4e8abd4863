package ledger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ZKRand-Network/relay_layer/internal/system"
	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

var _ system.Service = (*Expirer)(nil)

// Expirer sweeps the ledger on a cron schedule and expires requests that
// aged past the configured timeout without a verified proof.
type Expirer struct {
	service  *Service
	log      *logger.Logger
	schedule string
	cron     *cron.Cron
}

// NewExpirer creates a lifecycle-managed ledger expirer.
func NewExpirer(service *Service, schedule string, log *logger.Logger) *Expirer {
	if log == nil {
		log = logger.NewDefault("ledger-expirer")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Expirer{service: service, log: log, schedule: schedule}
}

func (e *Expirer) Name() string { return "ledger-expirer" }

func (e *Expirer) Start(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(e.schedule, func() { e.sweep(ctx) }); err != nil {
		return err
	}
	e.cron = c
	c.Start()

	e.log.WithField("schedule", e.schedule).Info("ledger expirer started")
	return nil
}

func (e *Expirer) Stop(ctx context.Context) error {
	if e.cron == nil {
		return nil
	}
	stopCtx := e.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	e.log.Info("ledger expirer stopped")
	return nil
}

func (e *Expirer) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reqs, err := e.service.Expirable(ctx, time.Now().UTC())
	if err != nil {
		e.log.WithError(err).Warn("expiry sweep failed")
		return
	}

	for _, req := range reqs {
		if _, err := e.service.Expire(ctx, req.ID); err != nil {
			// The request may have progressed between listing and expiry;
			// the forward-only rule makes that loss harmless.
			e.log.WithError(err).
				WithField("request_id", req.ID).
				Debug("expire skipped")
		}
	}
}
