package store

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

// RecordAttempt inserts one row into the append-only dispatch attempt audit
// trail. It is best-effort in the same sense RecordRejection is: the
// dispatch engine has already resolved the offer one way or another by the
// time this is called, so a write failure here is logged and swallowed
// rather than surfaced to the caller.
func (s *pgxStore) RecordAttempt(ctx context.Context, pickupID, vendorRef string, outcome model.DispatchOutcome, offeredAt time.Time) error {
	const q = `INSERT INTO dispatch_attempts (pickup_id, vendor_ref, offered_at, outcome)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, pickupID, vendorRef, offeredAt, string(outcome)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"pickup_id":  pickupID,
			"vendor_ref": vendorRef,
			"outcome":    outcome,
		}).Warn("record dispatch attempt failed, degrading to best-effort")
		return apperr.Wrap(apperr.KindUpstreamFailure, "record dispatch attempt", err)
	}
	return nil
}
