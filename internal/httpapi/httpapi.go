// Package httpapi is the customer-facing HTTP surface: pickup creation,
// status polling, cancellation, re-dispatch, and vendor location
// ingestion. It wires a gorilla/mux router the way the teacher wires a
// yarpc dispatcher — one handler struct per concern, registered against
// the router at construction time.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/dispatch"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/offertransport"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/telemetry"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/vendordir"
)

const (
	etaMinMinutes    = 5
	etaMaxMinutes    = 180
	etaKmPerHour     = 20.0
	customerIDHeader = "x-scrapco-customer-id"
)

// API serves the customer-facing pickup endpoints and the vendor location
// ingestion endpoint.
type API struct {
	store        store.Gateway
	engine       *dispatch.Engine
	vendors      *vendordir.Directory
	metrics      *telemetry.Metrics
	bearerToken  string
	isProduction bool
}

// New builds an API handler.
func New(gateway store.Gateway, engine *dispatch.Engine, vendors *vendordir.Directory, metrics *telemetry.Metrics, bearerToken string, isProduction bool) *API {
	return &API{
		store:        gateway,
		engine:       engine,
		vendors:      vendors,
		metrics:      metrics,
		bearerToken:  bearerToken,
		isProduction: isProduction,
	}
}

// Router builds the full HTTP router: customer API, vendor location
// upsert, health check, and (if non-nil) a metrics handler.
func Router(api *API, cb vendorCallbackRegistrar, metricsHandler http.Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", api.healthz).Methods(http.MethodGet)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/pickups", api.requireBearer(api.CreatePickup)).Methods(http.MethodPost)
	r.HandleFunc("/api/pickups/{id}", api.requireBearer(api.GetPickup)).Methods(http.MethodGet)
	r.HandleFunc("/api/pickups/{id}/cancel", api.requireBearer(api.CancelPickup)).Methods(http.MethodPost)
	r.HandleFunc("/api/pickups/{id}/find-vendor", api.requireBearer(api.FindVendor)).Methods(http.MethodPost)
	r.HandleFunc("/api/vendor/location", api.UpsertVendorLocation).Methods(http.MethodPost)

	cb.Register(r)
	return r
}

// vendorCallbackRegistrar decouples Router from internal/callback so this
// package never imports it directly (callback instead depends on
// dispatch/store, not on httpapi).
type vendorCallbackRegistrar interface {
	Register(r *mux.Router)
}

// healthz reports liveness by pinging the store pool; a dispatcher that
// cannot reach its store cannot do anything useful, so the probe fails.
func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		log.WithError(err).Warn("healthz ping failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// requireBearer enforces the customer service bearer token and extracts
// the customer id header the authenticated edge is expected to set; full
// customer authentication/row-level authorization is out of scope per
// spec.md §1 and is assumed to happen upstream of this process, but the
// bearer check and the customer id header are the minimal seam this
// component owns.
func (a *API) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.bearerToken)) != 1 {
			writeError(w, apperr.New(apperr.KindAuthRequired, "missing or invalid bearer token"))
			return
		}
		if r.Header.Get(customerIDHeader) == "" {
			writeError(w, apperr.New(apperr.KindAuthRequired, "missing customer identity"))
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	log.WithError(err).Warn("customer api request failed")
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

type createPickupRequest struct {
	Address       string                   `json:"address"`
	Latitude      float64                  `json:"latitude"`
	Longitude     float64                  `json:"longitude"`
	TimeSlot      string                   `json:"time_slot"`
	Notes         *string                  `json:"notes,omitempty"`
	CustomerPhone *string                  `json:"customer_phone,omitempty"`
	Items         []createPickupItemRequest `json:"items"`
}

type createPickupItemRequest struct {
	ScrapTypeID       string `json:"scrap_type_id"`
	EstimatedQuantity string `json:"estimated_quantity"`
}

// CreatePickup handles POST /api/pickups.
func (a *API) CreatePickup(w http.ResponseWriter, r *http.Request) {
	var req createPickupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidInput, "decode request body", err))
		return
	}
	if req.Address == "" || req.TimeSlot == "" || len(req.Items) == 0 {
		writeError(w, apperr.New(apperr.KindInvalidInput, "address, time_slot, and at least one item are required"))
		return
	}

	customerID := r.Header.Get(customerIDHeader)
	items := make([]store.CreatePickupItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ScrapTypeID == "" {
			writeError(w, apperr.New(apperr.KindInvalidInput, "scrap_type_id is required on every item"))
			return
		}
		items = append(items, store.CreatePickupItemInput{
			ScrapTypeID:       it.ScrapTypeID,
			EstimatedQuantity: it.EstimatedQuantity,
		})
	}

	pickup, err := a.store.CreatePickup(r.Context(), store.CreatePickupInput{
		CustomerID:    customerID,
		Address:       req.Address,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		TimeSlot:      req.TimeSlot,
		Notes:         req.Notes,
		CustomerPhone: req.CustomerPhone,
		Items:         items,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if a.metrics != nil {
		a.metrics.DispatchStarted.Inc(1)
	}
	go a.engine.Dispatch(detachedContext(r), pickup.ID, nil)

	writeJSON(w, http.StatusCreated, pickup)
}

type pickupStatusResponse struct {
	model.Pickup
	Items         []model.PickupItem    `json:"items"`
	VendorETAMins *int                  `json:"vendor_eta_minutes,omitempty"`
	AssignedVendor *model.VendorBackend `json:"assigned_vendor,omitempty"`
}

// GetPickup handles GET /api/pickups/{id}.
func (a *API) GetPickup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	pickup, ok, err := a.store.GetPickup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.New(apperr.KindNotFound, "pickup not found"))
		return
	}

	items, err := a.store.ListItems(r.Context(), id)
	if err != nil {
		items = nil
	}

	resp := pickupStatusResponse{Pickup: pickup, Items: items}
	if pickup.AssignedVendorRef != nil {
		if vendor, found := a.vendors.FetchVendor(r.Context(), *pickup.AssignedVendorRef); found {
			resp.AssignedVendor = &vendor
			if eta := computeETA(pickup, vendor); eta != nil {
				resp.VendorETAMins = eta
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// computeETA implements spec.md §6's formula:
// max(5, min(180, round(distance_km / 20 * 60))) minutes, when both
// pickup and vendor coordinates exist.
func computeETA(pickup model.Pickup, vendor model.VendorBackend) *int {
	if vendor.Latitude == nil || vendor.Longitude == nil {
		return nil
	}
	distanceKm := haversineKm(pickup.Latitude, pickup.Longitude, *vendor.Latitude, *vendor.Longitude)
	minutes := int(math.Round(distanceKm / etaKmPerHour * 60))
	if minutes < etaMinMinutes {
		minutes = etaMinMinutes
	}
	if minutes > etaMaxMinutes {
		minutes = etaMaxMinutes
	}
	return &minutes
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// CancelPickup handles POST /api/pickups/{id}/cancel.
func (a *API) CancelPickup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	customerID := r.Header.Get(customerIDHeader)

	pickup, modified, err := a.store.Cancel(r.Context(), id, customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !modified {
		writeError(w, apperr.New(apperr.KindLostRace, "pickup already completed, not found, or owned by another customer"))
		return
	}

	a.engine.DropSession(id)
	writeJSON(w, http.StatusOK, pickup)
}

// FindVendor handles POST /api/pickups/{id}/find-vendor: rejected when
// already in a terminal-or-active-assignment status, otherwise restarts
// dispatch.
func (a *API) FindVendor(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	pickup, ok, err := a.store.GetPickup(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.New(apperr.KindNotFound, "pickup not found"))
		return
	}
	switch pickup.Status {
	case model.StatusAssigned, model.StatusOnTheWay, model.StatusCancelled, model.StatusCompleted:
		writeError(w, apperr.New(apperr.KindLostRace, "pickup cannot be re-dispatched in its current status"))
		return
	}

	go a.engine.Dispatch(detachedContext(r), id, nil)
	writeJSON(w, http.StatusAccepted, pickup)
}

type upsertVendorLocationRequest struct {
	VendorRef string  `json:"vendor_ref"`
	OfferURL  *string `json:"offer_url,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UpsertVendorLocation handles POST /api/vendor/location.
func (a *API) UpsertVendorLocation(w http.ResponseWriter, r *http.Request) {
	var req upsertVendorLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Wrap(apperr.KindInvalidInput, "decode request body", err))
		return
	}
	if req.VendorRef == "" {
		writeError(w, apperr.New(apperr.KindInvalidInput, "vendor_ref is required"))
		return
	}
	if req.OfferURL != nil {
		if err := offertransport.ValidateOfferURL(*req.OfferURL, a.isProduction); err != nil {
			writeError(w, err)
			return
		}
	}

	vendor, err := a.vendors.UpsertLocation(r.Context(), store.UpsertVendorInput{
		VendorRef: req.VendorRef,
		OfferURL:  req.OfferURL,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vendor)
}

// detachedContext strips the request's cancellation from a background
// dispatch kickoff: the HTTP response must not abort dispatch the moment
// the client disconnects.
func detachedContext(r *http.Request) detachedCtx {
	return detachedCtx{r}
}

type detachedCtx struct{ r *http.Request }

func (detachedCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detachedCtx) Done() <-chan struct{}        { return nil }
func (detachedCtx) Err() error                   { return nil }
func (d detachedCtx) Value(key interface{}) interface{} {
	return d.r.Context().Value(key)
}
