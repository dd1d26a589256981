// Package sweeper runs the Expiry Sweeper: a periodic recovery pass that
// guarantees eventual liveness for offers whose arming timer never fired,
// most commonly because the process restarted mid-offer. It is the
// store-backed fallback to the Dispatch Engine's in-memory timers, not a
// replacement for them.
package sweeper

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/dispatch"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/telemetry"
)

const (
	interval  = 10 * time.Second
	sweepSize = 50
)

// Sweeper periodically reaps expired offers the in-memory timers missed.
type Sweeper struct {
	store   store.PickupGateway
	engine  *dispatch.Engine
	metrics *telemetry.Metrics
}

// New builds a Sweeper.
func New(gateway store.PickupGateway, engine *dispatch.Engine, metrics *telemetry.Metrics) *Sweeper {
	return &Sweeper{store: gateway, engine: engine, metrics: metrics}
}

// Run blocks, sweeping on a 10-second tick until ctx is cancelled.
// Sweeper failures log and continue; they never abort the process, per
// spec.md §4.7.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.store.SweepExpired(ctx, time.Now().UTC(), sweepSize)
	if err != nil {
		log.WithError(err).Warn("sweep_expired failed")
		if s.metrics != nil {
			s.metrics.SweepFailed.Inc(1)
		}
		return
	}

	if s.metrics != nil {
		s.metrics.SweepExamined.Inc(int64(len(expired)))
	}

	for _, pickup := range expired {
		if pickup.AssignedVendorRef == nil {
			continue
		}
		s.engine.OnTimeout(ctx, pickup.ID, *pickup.AssignedVendorRef)
	}
}
