package vendordir

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
)

func TestListVendorsReturnsSeededVendors(t *testing.T) {
	fake := store.NewFake()
	fake.SeedVendor(model.VendorBackend{VendorRef: "v1"})
	dir := New(fake)

	vendors := dir.ListVendors(context.Background())
	assert.Len(t, vendors, 1)
	assert.Equal(t, "v1", vendors[0].VendorRef)
}

func TestFetchVendorReportsNotFound(t *testing.T) {
	dir := New(store.NewFake())
	_, ok := dir.FetchVendor(context.Background(), "missing")
	assert.False(t, ok)
}

func TestUpsertLocationKeepsPreviousOfferURLWhenOmitted(t *testing.T) {
	fake := store.NewFake()
	dir := New(fake)

	url := "https://vendor.example.com/base"
	_, err := dir.UpsertLocation(context.Background(), store.UpsertVendorInput{
		VendorRef: "v1", OfferURL: &url, Latitude: 1, Longitude: 2,
	})
	require.NoError(t, err)

	updated, err := dir.UpsertLocation(context.Background(), store.UpsertVendorInput{
		VendorRef: "v1", Latitude: 3, Longitude: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, url, updated.OfferURL)
	assert.Equal(t, 3.0, *updated.Latitude)
}
