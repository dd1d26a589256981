package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/dispatch"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/offertransport"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/vendordir"
)

func floatPtr(f float64) *float64 { return &f }
func strPtr(s string) *string     { return &s }

func TestComputeETAClampsToBounds(t *testing.T) {
	pickup := model.Pickup{Latitude: 0, Longitude: 0}

	tooClose := model.VendorBackend{Latitude: floatPtr(0.0001), Longitude: floatPtr(0.0001)}
	eta := computeETA(pickup, tooClose)
	require.NotNil(t, eta)
	assert.Equal(t, etaMinMinutes, *eta)

	veryFar := model.VendorBackend{Latitude: floatPtr(80), Longitude: floatPtr(170)}
	eta = computeETA(pickup, veryFar)
	require.NotNil(t, eta)
	assert.Equal(t, etaMaxMinutes, *eta)
}

func TestComputeETAReturnsNilWithoutVendorCoordinates(t *testing.T) {
	eta := computeETA(model.Pickup{}, model.VendorBackend{})
	assert.Nil(t, eta)
}

type stubCallbackRegistrar struct{}

func (stubCallbackRegistrar) Register(r *mux.Router) {}

func newTestAPI(t *testing.T) (*API, *store.Fake) {
	t.Helper()
	fake := store.NewFake()
	vendors := vendordir.New(fake)
	transport := offertransport.New("", false)
	engine := dispatch.New(fake, vendors, transport, nil)
	api := New(fake, engine, vendors, nil, "test-bearer", false)
	return api, fake
}

func newTestAPIProduction(t *testing.T) *API {
	t.Helper()
	fake := store.NewFake()
	vendors := vendordir.New(fake)
	transport := offertransport.New("", true)
	engine := dispatch.New(fake, vendors, transport, nil)
	return New(fake, engine, vendors, nil, "test-bearer", true)
}

func TestCreatePickupRequiresBearerToken(t *testing.T) {
	api, _ := newTestAPI(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/pickups", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreatePickupSucceedsWithValidRequest(t *testing.T) {
	api, _ := newTestAPI(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	body, _ := json.Marshal(createPickupRequest{
		Address:  "1 Market St",
		TimeSlot: "afternoon",
		Items:    []createPickupItemRequest{{ScrapTypeID: "copper", EstimatedQuantity: "10kg"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/pickups", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-bearer")
	req.Header.Set(customerIDHeader, "cust-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreatePickupRejectsMissingItems(t *testing.T) {
	api, _ := newTestAPI(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	body, _ := json.Marshal(createPickupRequest{Address: "1 Market St", TimeSlot: "afternoon"})
	req := httptest.NewRequest(http.MethodPost, "/api/pickups", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-bearer")
	req.Header.Set(customerIDHeader, "cust-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPickupRejectsWrongCustomer(t *testing.T) {
	api, fake := newTestAPI(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	p, err := fake.CreatePickup(context.Background(), store.CreatePickupInput{
		CustomerID: "owner", Address: "addr", TimeSlot: "morning",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/pickups/"+p.ID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer test-bearer")
	req.Header.Set(customerIDHeader, "someone-else")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpsertVendorLocationRejectsLoopbackOfferURLInProduction(t *testing.T) {
	api := newTestAPIProduction(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	body, _ := json.Marshal(upsertVendorLocationRequest{
		VendorRef: "vendor-a",
		OfferURL:  strPtr("http://localhost:9000"),
		Latitude:  1,
		Longitude: 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/vendor/location", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpsertVendorLocationAcceptsPublicOfferURLInProduction(t *testing.T) {
	api := newTestAPIProduction(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	body, _ := json.Marshal(upsertVendorLocationRequest{
		VendorRef: "vendor-a",
		OfferURL:  strPtr("https://vendor.example.com"),
		Latitude:  1,
		Longitude: 1,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/vendor/location", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	api, _ := newTestAPI(t)
	router := Router(api, stubCallbackRegistrar{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
