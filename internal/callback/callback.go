// Package callback implements the vendor-facing HTTP callbacks: accept,
// reject, on-the-way, and pickup-done. Every request is authenticated by
// an HMAC-SHA256 signature over the raw body, following the same
// handler-struct-with-store-and-metrics shape the teacher uses for its
// RPC service handlers (jobmgr/task/handler.go), adapted here to plain
// net/http instead of yarpc procedures.
package callback

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/dispatch"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/telemetry"
)

const signatureHeader = "x-scrapco-signature"

// Handler serves the vendor callback endpoints.
type Handler struct {
	store   store.Gateway
	engine  *dispatch.Engine
	secret  []byte
	metrics *telemetry.Metrics
}

// New builds a callback Handler authenticated with the given shared
// webhook secret.
func New(gateway store.Gateway, engine *dispatch.Engine, secret string, metrics *telemetry.Metrics) *Handler {
	return &Handler{store: gateway, engine: engine, secret: []byte(secret), metrics: metrics}
}

// Register mounts the vendor callback endpoints on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/api/vendor/accept", h.Accept).Methods(http.MethodPost)
	r.HandleFunc("/api/vendor/reject", h.Reject).Methods(http.MethodPost)
	r.HandleFunc("/api/vendor/on-the-way", h.OnTheWay).Methods(http.MethodPost)
	r.HandleFunc("/api/vendor/pickup-done", h.PickupDone).Methods(http.MethodPost)
}

// callbackBody accepts every field alias spec.md §4.6/§6 names so older
// and newer vendor integrations both validate.
type callbackBody struct {
	PickupID  string `json:"pickup_id"`
	PickupID2 string `json:"pickupId"`
	RequestID string `json:"request_id"`
	RequestID2 string `json:"requestId"`

	VendorRef   string `json:"assignedVendorRef"`
	VendorID    string `json:"vendor_id"`
	VendorID2   string `json:"vendorId"`
}

func (b callbackBody) pickupID() string {
	for _, v := range []string{b.PickupID, b.PickupID2, b.RequestID, b.RequestID2} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (b callbackBody) vendorRef() string {
	for _, v := range []string{b.VendorRef, b.VendorID, b.VendorID2} {
		if v != "" {
			return v
		}
	}
	return ""
}

// verifySignature checks the x-scrapco-signature header against the hex
// HMAC-SHA256 of raw, using constant-time comparison.
func (h *Handler) verifySignature(raw []byte, signature string) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(raw)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// readAndVerify reads the raw body, checks its signature, and decodes it
// into a callbackBody, returning an *apperr.Error on any failure so the
// caller can map it straight to a status code.
func (h *Handler) readAndVerify(r *http.Request) (callbackBody, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return callbackBody{}, apperr.Wrap(apperr.KindInvalidInput, "read request body", err)
	}

	if !h.verifySignature(raw, r.Header.Get(signatureHeader)) {
		return callbackBody{}, apperr.New(apperr.KindAuthFailed, "bad signature")
	}

	var body callbackBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return callbackBody{}, apperr.Wrap(apperr.KindInvalidInput, "decode request body", err)
	}
	if body.pickupID() == "" || body.vendorRef() == "" {
		return callbackBody{}, apperr.New(apperr.KindInvalidInput, "missing pickup or vendor identifier")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	log.WithError(err).Warn("vendor callback failed")
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{"error": err.Error()})
}

// Accept handles POST /api/vendor/accept.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	body, err := h.readAndVerify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pickup, ok := h.engine.OnAccept(r.Context(), body.pickupID(), body.vendorRef())
	if !ok {
		writeError(w, apperr.New(apperr.KindLostRace, "offer already resolved, expired, or mismatched vendor"))
		return
	}
	writeJSON(w, http.StatusOK, pickup)
}

// Reject handles POST /api/vendor/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	body, err := h.readAndVerify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pickup, ok := h.engine.OnReject(r.Context(), body.pickupID(), body.vendorRef())
	if !ok {
		writeError(w, apperr.New(apperr.KindLostRace, "offer already resolved, expired, or mismatched vendor"))
		return
	}
	writeJSON(w, http.StatusOK, pickup)
}

// OnTheWay handles POST /api/vendor/on-the-way.
func (h *Handler) OnTheWay(w http.ResponseWriter, r *http.Request) {
	body, err := h.readAndVerify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pickup, modified, err := h.store.SetOnTheWay(r.Context(), body.pickupID(), body.vendorRef())
	if err != nil {
		writeError(w, err)
		return
	}
	if !modified {
		writeError(w, apperr.New(apperr.KindLostRace, "pickup not assigned to this vendor"))
		return
	}
	writeJSON(w, http.StatusOK, pickup)
}

// PickupDone handles POST /api/vendor/pickup-done. It also discards any
// lingering DispatchState and cancels its timer, per spec.md §4.6.
func (h *Handler) PickupDone(w http.ResponseWriter, r *http.Request) {
	body, err := h.readAndVerify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	pickup, modified, err := h.store.Complete(r.Context(), body.pickupID(), body.vendorRef(), time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if !modified {
		writeError(w, apperr.New(apperr.KindLostRace, "pickup not assigned to this vendor or already completed"))
		return
	}

	h.engine.DropSession(body.pickupID())
	writeJSON(w, http.StatusOK, pickup)
}
