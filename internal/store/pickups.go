package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

const pickupColumns = `id, customer_id, address, latitude, longitude, time_slot, notes,
	customer_phone, status, assigned_vendor_ref, assignment_expires_at,
	created_at, cancelled_at, completed_at`

func scanPickup(row pgx.Row) (model.Pickup, error) {
	var p model.Pickup
	err := row.Scan(
		&p.ID, &p.CustomerID, &p.Address, &p.Latitude, &p.Longitude, &p.TimeSlot, &p.Notes,
		&p.CustomerPhone, &p.Status, &p.AssignedVendorRef, &p.AssignmentExpiresAt,
		&p.CreatedAt, &p.CancelledAt, &p.CompletedAt,
	)
	return p, err
}

// conditionalUpdate runs a CAS-style UPDATE ... RETURNING and translates
// "no rows" into the (zeroValue, false, nil) lost-race signal spec.md's
// Store Gateway demands, rather than surfacing it as an error.
func (s *pgxStore) conditionalUpdate(ctx context.Context, query string, args ...interface{}) (model.Pickup, bool, error) {
	p, err := scanPickup(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return model.Pickup{}, false, nil
		}
		return model.Pickup{}, false, apperr.Wrap(apperr.KindUpstreamFailure, "conditional update", err)
	}
	return p, true, nil
}

// CreatePickup inserts the pickup and its items in one transaction. A real
// deployment would call a stored procedure (spec.md §6); here the
// transaction is built from an INSERT plus a batched item INSERT since no
// such procedure exists in this environment (see DESIGN.md).
func (s *pgxStore) CreatePickup(ctx context.Context, in CreatePickupInput) (model.Pickup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Pickup{}, apperr.Wrap(apperr.KindUpstreamFailure, "begin create-pickup transaction", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && rbErr != pgx.ErrTxClosed {
			log.WithError(rbErr).Warn("rollback create-pickup transaction")
		}
	}()

	const insert = `INSERT INTO pickups
		(customer_id, address, latitude, longitude, time_slot, notes, customer_phone, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING ` + pickupColumns

	p, err := scanPickup(tx.QueryRow(ctx, insert,
		in.CustomerID, in.Address, in.Latitude, in.Longitude, in.TimeSlot, in.Notes, in.CustomerPhone, model.StatusRequested))
	if err != nil {
		return model.Pickup{}, apperr.Wrap(apperr.KindUpstreamFailure, "insert pickup", err)
	}

	batch := &pgx.Batch{}
	const insertItem = `INSERT INTO pickup_items (pickup_id, scrap_type_id, estimated_quantity) VALUES ($1, $2, $3)`
	for _, item := range in.Items {
		batch.Queue(insertItem, p.ID, item.ScrapTypeID, item.EstimatedQuantity)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return model.Pickup{}, apperr.Wrap(apperr.KindInvalidInput, "insert pickup items", err)
			}
		}
		if err := br.Close(); err != nil {
			return model.Pickup{}, apperr.Wrap(apperr.KindUpstreamFailure, "close item batch", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Pickup{}, apperr.Wrap(apperr.KindUpstreamFailure, "commit create-pickup transaction", err)
	}
	return p, nil
}

func (s *pgxStore) GetPickup(ctx context.Context, pickupID string) (model.Pickup, bool, error) {
	const q = `SELECT ` + pickupColumns + ` FROM pickups WHERE id = $1`
	p, err := scanPickup(s.pool.QueryRow(ctx, q, pickupID))
	if err != nil {
		if isNoRows(err) {
			return model.Pickup{}, false, nil
		}
		return model.Pickup{}, false, apperr.Wrap(apperr.KindUpstreamFailure, "get pickup", err)
	}
	return p, true, nil
}

func (s *pgxStore) ListItems(ctx context.Context, pickupID string) ([]model.PickupItem, error) {
	const q = `SELECT pi.pickup_id, pi.scrap_type_id, st.name, pi.estimated_quantity
		FROM pickup_items pi JOIN scrap_types st ON st.id = pi.scrap_type_id
		WHERE pi.pickup_id = $1`
	rows, err := s.pool.Query(ctx, q, pickupID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "list pickup items", err)
	}
	defer rows.Close()

	var items []model.PickupItem
	for rows.Next() {
		var it model.PickupItem
		if err := rows.Scan(&it.PickupID, &it.ScrapTypeID, &it.ScrapTypeName, &it.EstimatedQuantity); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamFailure, "scan pickup item", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// BeginFinding is idempotent over {REQUESTED, NO_VENDOR_AVAILABLE, FINDING_VENDOR}.
func (s *pgxStore) BeginFinding(ctx context.Context, pickupID string) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2
		WHERE id = $1 AND status IN ($3, $4, $2)
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusFindingVendor, model.StatusRequested, model.StatusNoVendorAvailable)
}

func (s *pgxStore) ReserveOffer(ctx context.Context, pickupID, vendorRef string, expiresAt time.Time) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET assigned_vendor_ref = $2, assignment_expires_at = $3
		WHERE id = $1 AND status = $4 AND assigned_vendor_ref IS NULL
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, vendorRef, expiresAt, model.StatusFindingVendor)
}

// ClearExpiredOffer matches on vendorRef so that a late timer can never
// clobber a newer offer reserved after it fired.
func (s *pgxStore) ClearExpiredOffer(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET assigned_vendor_ref = NULL, assignment_expires_at = NULL
		WHERE id = $1 AND status = $2 AND assigned_vendor_ref = $3 AND assignment_expires_at < $4
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusFindingVendor, vendorRef, now)
}

// ConfirmAssignment enforces strict expiry: an offer past its deadline
// cannot be accepted, even if no timer or sweeper has cleared it yet.
func (s *pgxStore) ConfirmAssignment(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2, assignment_expires_at = NULL
		WHERE id = $1 AND status = $3 AND assigned_vendor_ref = $4 AND assignment_expires_at >= $5
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusAssigned, model.StatusFindingVendor, vendorRef, now)
}

func (s *pgxStore) RejectOffer(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET assigned_vendor_ref = NULL, assignment_expires_at = NULL
		WHERE id = $1 AND status = $2 AND assigned_vendor_ref = $3
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusFindingVendor, vendorRef)
}

func (s *pgxStore) GiveUp(ctx context.Context, pickupID string) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2, assigned_vendor_ref = NULL, assignment_expires_at = NULL
		WHERE id = $1 AND status = $3
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusNoVendorAvailable, model.StatusFindingVendor)
}

func (s *pgxStore) Cancel(ctx context.Context, pickupID, customerID string) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2, cancelled_at = $3, assigned_vendor_ref = NULL, assignment_expires_at = NULL
		WHERE id = $1 AND customer_id = $4 AND status != $5
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusCancelled, time.Now().UTC(), customerID, model.StatusCompleted)
}

func (s *pgxStore) Complete(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2, completed_at = $3
		WHERE id = $1 AND assigned_vendor_ref = $4 AND status IN ($5, $6)
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusCompleted, now, vendorRef, model.StatusAssigned, model.StatusOnTheWay)
}

func (s *pgxStore) SetOnTheWay(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool, error) {
	const q = `UPDATE pickups SET status = $2
		WHERE id = $1 AND assigned_vendor_ref = $3 AND status IN ($4, $2)
		RETURNING ` + pickupColumns
	return s.conditionalUpdate(ctx, q, pickupID, model.StatusOnTheWay, vendorRef, model.StatusAssigned)
}

func (s *pgxStore) SweepExpired(ctx context.Context, now time.Time, limit int) ([]model.Pickup, error) {
	const q = `SELECT ` + pickupColumns + ` FROM pickups
		WHERE status = $1 AND assignment_expires_at < $2
		ORDER BY assignment_expires_at ASC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, q, model.StatusFindingVendor, now, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "sweep expired pickups", err)
	}
	defer rows.Close()

	var out []model.Pickup
	for rows.Next() {
		p, err := scanPickup(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamFailure, "scan swept pickup", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
