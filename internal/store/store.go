// Package store is the Store Gateway: every pickup mutation the dispatcher
// makes is a single conditional SQL statement whose WHERE clause encodes
// the expected current state, so a lost race surfaces as "zero rows
// affected" rather than an error. This mirrors the teacher's offerPool,
// which guards its in-memory index with the same "check current state,
// apply only if it still matches" discipline (hostmgr/offer/offerpool/pool.go),
// moved here to the database since the dispatcher's state must survive a
// process restart.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

// dbConn is the slice of *pgxpool.Pool the store actually calls, narrowed to
// an interface so the CAS logic in pickups.go/vendors.go/rejections.go can
// run against pgxmock in tests without a live Postgres instance.
type dbConn interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PickupGateway is the full set of conditional pickup primitives from
// spec.md §4.1. Every method that mutates state returns the row as it
// stands after the call, and a bool that is false precisely when the
// conditional update matched zero rows (a lost race, not an error).
type PickupGateway interface {
	CreatePickup(ctx context.Context, in CreatePickupInput) (model.Pickup, error)
	GetPickup(ctx context.Context, pickupID string) (model.Pickup, bool, error)
	ListItems(ctx context.Context, pickupID string) ([]model.PickupItem, error)

	BeginFinding(ctx context.Context, pickupID string) (model.Pickup, bool, error)
	ReserveOffer(ctx context.Context, pickupID, vendorRef string, expiresAt time.Time) (model.Pickup, bool, error)
	ClearExpiredOffer(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error)
	ConfirmAssignment(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error)
	RejectOffer(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool, error)
	GiveUp(ctx context.Context, pickupID string) (model.Pickup, bool, error)
	Cancel(ctx context.Context, pickupID, customerID string) (model.Pickup, bool, error)
	Complete(ctx context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error)
	SetOnTheWay(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool, error)

	RecordRejection(ctx context.Context, pickupID, vendorRef string) error
	ListRejections(ctx context.Context, pickupID string) (map[string]bool, error)

	SweepExpired(ctx context.Context, now time.Time, limit int) ([]model.Pickup, error)

	// RecordAttempt appends a best-effort row to the dispatch attempt audit
	// trail (SPEC_FULL.md §3); a failure here never aborts the dispatch
	// resolution that triggered it.
	RecordAttempt(ctx context.Context, pickupID, vendorRef string, outcome model.DispatchOutcome, offeredAt time.Time) error
}

// VendorGateway is the Vendor Directory's persistence dependency.
type VendorGateway interface {
	ListVendors(ctx context.Context) ([]model.VendorBackend, error)
	FetchVendor(ctx context.Context, vendorRef string) (model.VendorBackend, bool, error)
	UpsertVendor(ctx context.Context, in UpsertVendorInput) (model.VendorBackend, error)
}

// Gateway is the union the rest of the dispatcher depends on.
type Gateway interface {
	PickupGateway
	VendorGateway

	// Ping reports whether the store is reachable, backing GET /healthz.
	Ping(ctx context.Context) error
}

// CreatePickupInput is the transactional insert payload for a new pickup.
type CreatePickupInput struct {
	CustomerID    string
	Address       string
	Latitude      float64
	Longitude     float64
	TimeSlot      string
	Notes         *string
	CustomerPhone *string
	Items         []CreatePickupItemInput
}

// CreatePickupItemInput is one line item supplied at pickup creation time.
type CreatePickupItemInput struct {
	ScrapTypeID       string
	EstimatedQuantity string
}

// UpsertVendorInput is the vendor-location-ingestion payload.
type UpsertVendorInput struct {
	VendorRef string
	OfferURL  *string
	Latitude  float64
	Longitude float64
}

// pgxStore implements Gateway over PostgreSQL via pgx. It caches which of
// the two vendor-table column layouts (spec.md §9's schema-drift note) is
// live for the process lifetime, detected once at startup.
type pgxStore struct {
	pool         dbConn
	vendorSchema vendorSchema
	closer       func()
}

// vendorSchema picks between the two column layouts the vendor directory
// must tolerate.
type vendorSchema struct {
	vendorRefColumn string
	latColumn       string
	lonColumn       string
}

var vendorSchemaCanonical = vendorSchema{vendorRefColumn: "vendor_ref", latColumn: "latitude", lonColumn: "longitude"}
var vendorSchemaLegacy = vendorSchema{vendorRefColumn: "vendor_id", latColumn: "last_latitude", lonColumn: "last_longitude"}

// New connects to the store and detects the vendor table's column layout.
func New(ctx context.Context, connString string) (Gateway, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "connect to store", err)
	}

	s := &pgxStore{pool: pool, vendorSchema: vendorSchemaCanonical, closer: pool.Close}
	if err := s.detectVendorSchema(ctx); err != nil {
		log.WithError(err).Warn("falling back to legacy vendor schema")
		s.vendorSchema = vendorSchemaLegacy
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *pgxStore) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// Ping reports whether the underlying connection pool can reach Postgres.
func (s *pgxStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *pgxStore) detectVendorSchema(ctx context.Context) error {
	const q = `SELECT column_name FROM information_schema.columns WHERE table_name = 'vendor_backends' AND column_name = $1`
	var got string
	return s.pool.QueryRow(ctx, q, vendorSchemaCanonical.vendorRefColumn).Scan(&got)
}

// isNoRows reports whether err is pgx's "no rows" sentinel, the uniform
// signal this gateway treats as "conditional update matched nothing" per
// spec.md §4.1's failure semantics.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
