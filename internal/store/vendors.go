package store

import (
	"context"
	"time"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

// ListVendors returns a snapshot of every registered vendor backend. No
// liveness filtering is applied (spec.md §9's open question: offline
// vendors are discovered by offer-time failure or timeout, by design).
func (s *pgxStore) ListVendors(ctx context.Context) ([]model.VendorBackend, error) {
	q := `SELECT ` + s.vendorSchema.vendorRefColumn + `, offer_url, ` +
		s.vendorSchema.latColumn + `, ` + s.vendorSchema.lonColumn + `, updated_at FROM vendor_backends`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamFailure, "list vendors", err)
	}
	defer rows.Close()

	var out []model.VendorBackend
	for rows.Next() {
		var v model.VendorBackend
		if err := rows.Scan(&v.VendorRef, &v.OfferURL, &v.Latitude, &v.Longitude, &v.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamFailure, "scan vendor", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *pgxStore) FetchVendor(ctx context.Context, vendorRef string) (model.VendorBackend, bool, error) {
	q := `SELECT ` + s.vendorSchema.vendorRefColumn + `, offer_url, ` +
		s.vendorSchema.latColumn + `, ` + s.vendorSchema.lonColumn + `, updated_at
		FROM vendor_backends WHERE ` + s.vendorSchema.vendorRefColumn + ` = $1`
	var v model.VendorBackend
	err := s.pool.QueryRow(ctx, q, vendorRef).Scan(&v.VendorRef, &v.OfferURL, &v.Latitude, &v.Longitude, &v.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return model.VendorBackend{}, false, nil
		}
		return model.VendorBackend{}, false, apperr.Wrap(apperr.KindUpstreamFailure, "fetch vendor", err)
	}
	return v, true, nil
}

// UpsertVendor inserts or updates a vendor's directory row. If OfferURL is
// nil, the previously stored URL is kept, per spec.md §6.
func (s *pgxStore) UpsertVendor(ctx context.Context, in UpsertVendorInput) (model.VendorBackend, error) {
	q := `INSERT INTO vendor_backends (` + s.vendorSchema.vendorRefColumn + `, offer_url, ` +
		s.vendorSchema.latColumn + `, ` + s.vendorSchema.lonColumn + `, updated_at)
		VALUES ($1, COALESCE($2, ''), $3, $4, $5)
		ON CONFLICT (` + s.vendorSchema.vendorRefColumn + `) DO UPDATE SET
			offer_url = COALESCE($2, vendor_backends.offer_url),
			` + s.vendorSchema.latColumn + ` = $3,
			` + s.vendorSchema.lonColumn + ` = $4,
			updated_at = $5
		RETURNING ` + s.vendorSchema.vendorRefColumn + `, offer_url, ` +
		s.vendorSchema.latColumn + `, ` + s.vendorSchema.lonColumn + `, updated_at`

	var v model.VendorBackend
	err := s.pool.QueryRow(ctx, q, in.VendorRef, in.OfferURL, in.Latitude, in.Longitude, time.Now().UTC()).
		Scan(&v.VendorRef, &v.OfferURL, &v.Latitude, &v.Longitude, &v.UpdatedAt)
	if err != nil {
		return model.VendorBackend{}, apperr.Wrap(apperr.KindUpstreamFailure, "upsert vendor", err)
	}
	return v, nil
}
