// Package offertransport sends pickup offers to vendor callback URLs. It is
// the dispatcher's only outbound network dependency, deliberately kept to a
// single plain HTTP POST rather than a client SDK, since every vendor
// integration is a bare webhook.
package offertransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/apperr"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

const (
	offerPath         = "/api/offer"
	requestTimeout    = 10 * time.Second
	bearerPlaceholder = "change_me"
)

// loopbackHosts is the set of hostnames/addresses treated as loopback for
// the production URL-validation rule.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// Transport sends offers over HTTP. It is safe for concurrent use; the
// underlying http.Client is shared across dispatch sessions.
type Transport struct {
	client       *http.Client
	bearerToken  string
	isProduction bool
}

// New builds a Transport. bearerToken may be empty or the literal
// placeholder "change_me", either of which suppresses the Authorization
// header.
func New(bearerToken string, isProduction bool) *Transport {
	return &Transport{
		client:       &http.Client{Timeout: requestTimeout},
		bearerToken:  bearerToken,
		isProduction: isProduction,
	}
}

// offerPayload is the JSON body sent to a vendor's offer endpoint, per
// spec.md §4.3.
type offerPayload struct {
	VendorID      string  `json:"vendor_id"`
	RequestID     string  `json:"request_id"`
	PickupIDCamel string  `json:"pickupId"`
	PickupID      string  `json:"pickup_id"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	ScrapSummary  string  `json:"scrap_summary,omitempty"`
	CustomerPhone string  `json:"customer_phone,omitempty"`
}

// normalizeOfferURL rewrites raw so the POST always targets /api/offer,
// preserving it verbatim if it already ends there. Vendors may therefore
// register either a base URL or the full offer endpoint.
func normalizeOfferURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidInput, "parse vendor offer url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.KindInvalidInput, "vendor offer url must be http or https")
	}
	if strings.HasSuffix(u.Path, offerPath) {
		return u, nil
	}
	u.Path = offerPath
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// validateHost enforces the loopback rule: rejected in production,
// permitted with a warning otherwise.
func validateHost(u *url.URL, isProduction bool) error {
	host := u.Hostname()
	if !loopbackHosts[host] {
		return nil
	}
	if host == "" {
		if ip := net.ParseIP(u.Host); ip != nil && ip.IsLoopback() {
			host = u.Host
		}
	}
	if isProduction {
		return apperr.New(apperr.KindInvalidInput, "loopback vendor offer url rejected in production")
	}
	log.WithField("host", host).Warn("permitting loopback vendor offer url outside production")
	return nil
}

// ValidateOfferURL applies the same scheme and loopback rules Send enforces
// at offer time, so vendor-location ingestion can reject a bad URL at
// registration instead of only discovering it on the first dispatch.
func ValidateOfferURL(raw string, isProduction bool) error {
	u, err := normalizeOfferURL(raw)
	if err != nil {
		return err
	}
	return validateHost(u, isProduction)
}

// buildScrapSummary concatenates "{name}: {quantity}" for each item,
// joined by ", ". Returns "" for no items.
func buildScrapSummary(items []model.PickupItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, fmt.Sprintf("%s: %s", it.ScrapTypeName, it.EstimatedQuantity))
	}
	return strings.Join(parts, ", ")
}

// Send posts a pickup offer to the vendor's normalized offer URL. Any
// validation failure, network error, or non-2xx response is surfaced
// uniformly as an error; the Dispatch Engine treats every failure mode
// identically (advance to the next candidate).
func (t *Transport) Send(ctx context.Context, vendor model.VendorBackend, pickup model.Pickup, items []model.PickupItem) error {
	u, err := normalizeOfferURL(vendor.OfferURL)
	if err != nil {
		return err
	}
	if err := validateHost(u, t.isProduction); err != nil {
		return err
	}

	payload := offerPayload{
		VendorID:      vendor.VendorRef,
		RequestID:     pickup.ID,
		PickupIDCamel: pickup.ID,
		PickupID:      pickup.ID,
		Latitude:      pickup.Latitude,
		Longitude:     pickup.Longitude,
		ScrapSummary:  buildScrapSummary(items),
	}
	if pickup.CustomerPhone != nil {
		payload.CustomerPhone = *pickup.CustomerPhone
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, "marshal offer payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamFailure, "build offer request", err)
	}
	req.Header.Set("content-type", "application/json")
	if t.bearerToken != "" && t.bearerToken != bearerPlaceholder {
		req.Header.Set("Authorization", "Bearer "+t.bearerToken)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"pickup_id":  pickup.ID,
			"vendor_ref": vendor.VendorRef,
		}).Warn("offer send failed")
		return apperr.Wrap(apperr.KindUpstreamFailure, "send offer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.WithFields(log.Fields{
			"pickup_id":  pickup.ID,
			"vendor_ref": vendor.VendorRef,
			"status":     resp.StatusCode,
		}).Warn("offer send rejected")
		return apperr.New(apperr.KindUpstreamFailure, fmt.Sprintf("vendor responded %d", resp.StatusCode))
	}
	return nil
}
