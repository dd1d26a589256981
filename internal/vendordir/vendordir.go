// Package vendordir is the Vendor Directory: a thin read path over the
// Store Gateway's vendor table, giving the Dispatch Engine and the
// customer-facing status endpoint a single place to ask "who's out there"
// and "where is this one now".
package vendordir

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
)

// Directory is the Vendor Directory component of SPEC_FULL.md §4.2.
type Directory struct {
	gateway store.VendorGateway
}

// New builds a Directory over the given vendor gateway.
func New(gateway store.VendorGateway) *Directory {
	return &Directory{gateway: gateway}
}

// ListVendors returns every registered vendor backend. A store failure
// degrades to an empty list rather than propagating an error, since the
// Dispatch Engine treats "no candidates" and "directory unavailable" the
// same way: no offer goes out this round.
func (d *Directory) ListVendors(ctx context.Context) []model.VendorBackend {
	vendors, err := d.gateway.ListVendors(ctx)
	if err != nil {
		log.WithError(err).Warn("list vendors failed, degrading to empty directory")
		return nil
	}
	return vendors
}

// FetchVendor looks up a single vendor by reference, used by status
// polling to enrich a pickup with its assigned vendor's current location
// for ETA computation. The second return reports whether the vendor was
// found at all.
func (d *Directory) FetchVendor(ctx context.Context, vendorRef string) (model.VendorBackend, bool) {
	v, ok, err := d.gateway.FetchVendor(ctx, vendorRef)
	if err != nil {
		log.WithError(err).WithField("vendor_ref", vendorRef).Warn("fetch vendor failed")
		return model.VendorBackend{}, false
	}
	return v, ok
}

// UpsertLocation records a vendor's current location and, optionally, its
// offer URL. Called from the vendor location ingestion endpoint.
func (d *Directory) UpsertLocation(ctx context.Context, in store.UpsertVendorInput) (model.VendorBackend, error) {
	return d.gateway.UpsertVendor(ctx, in)
}
