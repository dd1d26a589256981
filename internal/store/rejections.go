package store

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
)

// RecordRejection appends a best-effort rejection row. Per spec.md §9's
// resolved open question, this is always attempted, even when the caller's
// conditional reject_offer update itself lost the race, so a late reject
// still excludes the vendor from future dispatch sessions.
func (s *pgxStore) RecordRejection(ctx context.Context, pickupID, vendorRef string) error {
	const q = `INSERT INTO pickup_vendor_rejections (pickup_id, vendor_ref, rejected_at)
		VALUES ($1, $2, now())
		ON CONFLICT (pickup_id, vendor_ref) DO NOTHING`
	if _, err := s.pool.Exec(ctx, q, pickupID, vendorRef); err != nil {
		log.WithError(err).WithField("pickup_id", pickupID).Warn("record rejection failed, degrading to best-effort")
		return apperr.Wrap(apperr.KindUpstreamFailure, "record rejection", err)
	}
	return nil
}

// ListRejections returns the persisted exclusion set for a pickup. A
// missing rejection table degrades to an empty set rather than an error,
// per spec.md §4.1.
func (s *pgxStore) ListRejections(ctx context.Context, pickupID string) (map[string]bool, error) {
	const q = `SELECT vendor_ref FROM pickup_vendor_rejections WHERE pickup_id = $1`
	rows, err := s.pool.Query(ctx, q, pickupID)
	if err != nil {
		log.WithError(err).WithField("pickup_id", pickupID).Warn("list rejections failed, degrading to empty set")
		return map[string]bool{}, nil
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var vendorRef string
		if err := rows.Scan(&vendorRef); err != nil {
			return map[string]bool{}, nil
		}
		out[vendorRef] = true
	}
	return out, nil
}
