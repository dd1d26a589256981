package offertransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

func TestNormalizeOfferURLRewritesPathWhenMissing(t *testing.T) {
	u, err := normalizeOfferURL("https://vendor.example.com/base?foo=bar#frag")
	require.NoError(t, err)
	assert.Equal(t, "/api/offer", u.Path)
	assert.Empty(t, u.RawQuery)
	assert.Empty(t, u.Fragment)
}

func TestNormalizeOfferURLPreservesExistingOfferPath(t *testing.T) {
	u, err := normalizeOfferURL("https://vendor.example.com/api/offer")
	require.NoError(t, err)
	assert.Equal(t, "https://vendor.example.com/api/offer", u.String())
}

func TestNormalizeOfferURLRejectsBadScheme(t *testing.T) {
	_, err := normalizeOfferURL("ftp://vendor.example.com")
	assert.Error(t, err)
}

func TestValidateHostRejectsLoopbackInProduction(t *testing.T) {
	u, err := normalizeOfferURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Error(t, validateHost(u, true))
}

func TestValidateHostPermitsLoopbackOutsideProduction(t *testing.T) {
	u, err := normalizeOfferURL("http://127.0.0.1:8080")
	require.NoError(t, err)
	assert.NoError(t, validateHost(u, false))
}

func TestBuildScrapSummaryConcatenatesItems(t *testing.T) {
	items := []model.PickupItem{
		{ScrapTypeName: "Copper", EstimatedQuantity: "50kg"},
		{ScrapTypeName: "Aluminum", EstimatedQuantity: "10kg"},
	}
	assert.Equal(t, "Copper: 50kg, Aluminum: 10kg", buildScrapSummary(items))
}

func TestBuildScrapSummaryEmptyForNoItems(t *testing.T) {
	assert.Equal(t, "", buildScrapSummary(nil))
}

func TestSendPostsExpectedPayloadAndHeaders(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/offer", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := New("secret-token", false)
	vendor := model.VendorBackend{VendorRef: "vendor-1", OfferURL: srv.URL}
	pickup := model.Pickup{ID: "pickup-1", Latitude: 1.5, Longitude: 2.5}
	items := []model.PickupItem{{ScrapTypeName: "Steel", EstimatedQuantity: "100kg"}}

	err := transport.Send(context.Background(), vendor, pickup, items)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "vendor-1", gotBody["vendor_id"])
	assert.Equal(t, "pickup-1", gotBody["pickup_id"])
	assert.Equal(t, "Steel: 100kg", gotBody["scrap_summary"])
}

func TestSendOmitsAuthorizationForPlaceholderToken(t *testing.T) {
	var gotAuth string
	var sawHeader bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, sawHeader = r.Header.Get("Authorization"), r.Header.Get("Authorization") != ""
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	transport := New("change_me", false)
	err := transport.Send(context.Background(), model.VendorBackend{VendorRef: "v", OfferURL: srv.URL}, model.Pickup{ID: "p"}, nil)
	require.NoError(t, err)
	assert.False(t, sawHeader)
	assert.Empty(t, gotAuth)
}

func TestSendSurfacesNon2xxAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	transport := New("", false)
	err := transport.Send(context.Background(), model.VendorBackend{VendorRef: "v", OfferURL: srv.URL}, model.Pickup{ID: "p"}, nil)
	assert.Error(t, err)
}
