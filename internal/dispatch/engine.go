// Package dispatch implements the Dispatch Engine: the state machine that
// walks a pickup's ranked vendor candidates one at a time, reserving and
// releasing offers under the Store Gateway's compare-and-swap discipline,
// and arming/disarming the timers that enforce offer expiry.
//
// Serialization of a given pickup's transitions is delegated to the store
// (every mutation is a conditional update); the in-memory DispatchState
// kept here is an optimization that lets the engine skip straight to the
// next candidate without re-ranking, not a source of truth. It is always
// safe to discard and rebuild by calling Dispatch again with skipRefs.
package dispatch

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/offertransport"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/ranking"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/telemetry"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/vendordir"
)

const (
	offerValidity = 2 * time.Minute
	timeoutSlack  = 1 * time.Second
)

// armedTimer wraps a *time.Timer so session state never holds a raw timer
// reference; Stop is always safe to call, including after the timer has
// already fired, matching spec.md §5's "timer handles are always
// cancellable" requirement.
type armedTimer struct {
	t *time.Timer
}

func (a *armedTimer) Stop() bool {
	if a == nil || a.t == nil {
		return false
	}
	return a.t.Stop()
}

// session is the in-memory bookkeeping for one pickup's active dispatch
// attempt. Only the engine's own goroutines touch a session's fields, and
// only while holding Engine.mu, per spec.md §5's "one logical owner"
// shared-resource policy.
type session struct {
	candidates []ranking.Candidate
	index      int
	rejected   map[string]bool
	timer      *armedTimer
	offeredAt  time.Time
}

// Engine is the Dispatch Engine component of SPEC_FULL.md §4.5.
type Engine struct {
	store     store.Gateway
	vendors   *vendordir.Directory
	transport *offertransport.Transport
	metrics   *telemetry.Metrics

	mu       sync.RWMutex
	sessions map[string]*session
}

// New builds an Engine over its collaborators.
func New(gateway store.Gateway, vendors *vendordir.Directory, transport *offertransport.Transport, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		store:     gateway,
		vendors:   vendors,
		transport: transport,
		metrics:   metrics,
		sessions:  map[string]*session{},
	}
}

func logFor(pickupID string) *log.Entry {
	return log.WithField("pickup_id", pickupID)
}

// Dispatch is the entry point for a new request and for restart/retry.
func (e *Engine) Dispatch(ctx context.Context, pickupID string, skipRefs []string) {
	now := time.Now().UTC()

	pickup, ok, err := e.store.GetPickup(ctx, pickupID)
	if err != nil || !ok {
		if err != nil {
			logFor(pickupID).WithError(err).Warn("dispatch: load pickup failed")
		}
		return
	}
	if pickup.Status.Terminal() {
		return
	}
	if pickup.Status == model.StatusFindingVendor && pickup.HasActiveOffer(now) {
		return
	}

	pickup, modified, err := e.store.BeginFinding(ctx, pickupID)
	if err != nil {
		logFor(pickupID).WithError(err).Warn("dispatch: begin_finding failed")
		return
	}
	if !modified {
		return
	}

	vendors := e.vendors.ListVendors(ctx)
	if len(vendors) == 0 {
		e.giveUp(ctx, pickupID)
		return
	}

	excluded, err := e.store.ListRejections(ctx, pickupID)
	if err != nil {
		excluded = map[string]bool{}
	}
	for _, ref := range skipRefs {
		excluded[ref] = true
	}

	candidates := ranking.Rank(pickup.Latitude, pickup.Longitude, vendors, excluded)
	if e.metrics != nil {
		e.metrics.RankedCandidates.RecordValue(float64(len(candidates)))
	}
	if len(candidates) == 0 {
		e.giveUp(ctx, pickupID)
		return
	}

	e.mu.Lock()
	e.sessions[pickupID] = &session{
		candidates: candidates,
		index:      0,
		rejected:   map[string]bool{},
	}
	e.mu.Unlock()
	e.updateSessionGauge()

	e.advance(ctx, pickupID)
}

// advance is the iterative candidate-walking loop. It never recurses;
// each call arms a timer and returns, or exhausts the candidate list and
// calls give_up, or returns early without either when the session is gone
// or a lost reservation's reload shows a terminal pickup, a load failure,
// or another live offer.
func (e *Engine) advance(ctx context.Context, pickupID string) {
	for {
		e.mu.Lock()
		s, ok := e.sessions[pickupID]
		if !ok {
			e.mu.Unlock()
			return
		}
		if s.index >= len(s.candidates) {
			e.mu.Unlock()
			e.dropSession(pickupID)
			e.giveUp(ctx, pickupID)
			return
		}
		candidate := s.candidates[s.index]
		if s.rejected[candidate.Vendor.VendorRef] {
			s.index++
			e.mu.Unlock()
			continue
		}
		e.mu.Unlock()

		now := time.Now().UTC()
		vendorRef := candidate.Vendor.VendorRef

		if _, _, err := e.store.ClearExpiredOffer(ctx, pickupID, vendorRef, now); err != nil {
			logFor(pickupID).WithError(err).Warn("advance: clear_expired_offer failed")
		}

		pickup, modified, err := e.store.ReserveOffer(ctx, pickupID, vendorRef, now.Add(offerValidity))
		if err != nil {
			logFor(pickupID).WithError(err).Warn("advance: reserve_offer failed")
			e.incrementIndex(pickupID)
			continue
		}
		if !modified {
			reloaded, ok, err := e.store.GetPickup(ctx, pickupID)
			if err != nil || !ok {
				e.dropSession(pickupID)
				return
			}
			if reloaded.Status.Terminal() {
				e.dropSession(pickupID)
				return
			}
			if reloaded.HasActiveOffer(now) {
				return
			}
			e.incrementIndex(pickupID)
			continue
		}

		items, err := e.store.ListItems(ctx, pickupID)
		if err != nil {
			items = nil
		}
		vendor, found := e.vendors.FetchVendor(ctx, vendorRef)
		if !found {
			vendor = candidate.Vendor
		}

		if err := e.transport.Send(ctx, vendor, pickup, items); err != nil {
			logFor(pickupID).WithError(err).WithField("vendor_ref", vendorRef).Warn("advance: send_offer failed")
			if e.metrics != nil {
				e.metrics.OfferSendFailed.Inc(1)
			}
			e.mu.Lock()
			if s, ok := e.sessions[pickupID]; ok {
				s.offeredAt = now
			}
			e.mu.Unlock()
			e.recordAttempt(ctx, pickupID, vendorRef, model.OutcomeSendFailed)
			if _, _, clearErr := e.store.ClearExpiredOffer(ctx, pickupID, vendorRef, time.Now().UTC().Add(offerValidity+timeoutSlack)); clearErr != nil {
				logFor(pickupID).WithError(clearErr).Warn("advance: clear reserved-but-unsent offer failed")
			}
			e.incrementIndex(pickupID)
			continue
		}

		if e.metrics != nil {
			e.metrics.OfferSent.Inc(1)
		}
		e.armTimer(pickupID, vendorRef)
		return
	}
}

// armTimer starts the expiry timer for the offer just sent and stores its
// handle on the session so on_accept/on_reject can cancel it.
func (e *Engine) armTimer(pickupID, vendorRef string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[pickupID]
	if !ok {
		return
	}
	t := time.AfterFunc(offerValidity+timeoutSlack, func() {
		e.OnTimeout(context.Background(), pickupID, vendorRef)
	})
	s.timer = &armedTimer{t: t}
	s.offeredAt = time.Now().UTC()
}

// sessionOfferedAt returns the send time of the session's current offer,
// falling back to now when no session is tracked (e.g. a late reject/timeout
// callback arriving after the engine restarted).
func (e *Engine) sessionOfferedAt(pickupID string) time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.sessions[pickupID]; ok && !s.offeredAt.IsZero() {
		return s.offeredAt
	}
	return time.Now().UTC()
}

// recordAttempt appends one row to the dispatch attempt audit trail
// (SPEC_FULL.md §3). It is called at every point an offer's fate becomes
// final and never blocks dispatch resolution on its own result.
func (e *Engine) recordAttempt(ctx context.Context, pickupID, vendorRef string, outcome model.DispatchOutcome) {
	offeredAt := e.sessionOfferedAt(pickupID)
	if err := e.store.RecordAttempt(ctx, pickupID, vendorRef, outcome, offeredAt); err != nil {
		logFor(pickupID).WithError(err).WithField("vendor_ref", vendorRef).Warn("record dispatch attempt failed")
	}
}

func (e *Engine) incrementIndex(pickupID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[pickupID]; ok {
		s.index++
	}
}

func (e *Engine) dropSession(pickupID string) {
	e.mu.Lock()
	if s, ok := e.sessions[pickupID]; ok {
		s.timer.Stop()
		delete(e.sessions, pickupID)
	}
	e.mu.Unlock()
	e.updateSessionGauge()
}

// updateSessionGauge reports the current number of in-flight dispatch
// sessions, per DESIGN.md's internal/telemetry entry.
func (e *Engine) updateSessionGauge() {
	if e.metrics == nil {
		return
	}
	e.mu.RLock()
	n := len(e.sessions)
	e.mu.RUnlock()
	e.metrics.ActiveSessions.Update(float64(n))
}

func (e *Engine) giveUp(ctx context.Context, pickupID string) {
	if _, _, err := e.store.GiveUp(ctx, pickupID); err != nil {
		logFor(pickupID).WithError(err).Warn("give_up failed")
	}
	if e.metrics != nil {
		e.metrics.DispatchGaveUp.Inc(1)
	}
}

// OnAccept handles the vendor accept callback.
func (e *Engine) OnAccept(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool) {
	now := time.Now().UTC()
	pickup, modified, err := e.store.ConfirmAssignment(ctx, pickupID, vendorRef, now)
	if err != nil {
		logFor(pickupID).WithError(err).Warn("on_accept: confirm_assignment failed")
		return model.Pickup{}, false
	}
	if !modified {
		return model.Pickup{}, false
	}
	e.recordAttempt(ctx, pickupID, vendorRef, model.OutcomeAccepted)
	e.dropSession(pickupID)
	if e.metrics != nil {
		e.metrics.OfferAccepted.Inc(1)
	}
	return pickup, true
}

// OnReject handles the vendor reject callback.
func (e *Engine) OnReject(ctx context.Context, pickupID, vendorRef string) (model.Pickup, bool) {
	if err := e.store.RecordRejection(ctx, pickupID, vendorRef); err != nil {
		logFor(pickupID).WithError(err).Warn("on_reject: record_rejection failed")
	}

	pickup, modified, err := e.store.RejectOffer(ctx, pickupID, vendorRef)
	if err != nil {
		logFor(pickupID).WithError(err).Warn("on_reject: reject_offer failed")
		return model.Pickup{}, false
	}
	if !modified {
		return model.Pickup{}, false
	}
	e.recordAttempt(ctx, pickupID, vendorRef, model.OutcomeRejected)

	e.mu.Lock()
	s, ok := e.sessions[pickupID]
	if ok {
		s.rejected[vendorRef] = true
		if s.index < len(s.candidates) && s.candidates[s.index].Vendor.VendorRef == vendorRef {
			s.index++
			s.timer.Stop()
			s.timer = nil
		}
	}
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.OfferRejected.Inc(1)
	}

	if ok {
		e.advance(ctx, pickupID)
	} else {
		e.Dispatch(ctx, pickupID, []string{vendorRef})
	}
	return pickup, true
}

// OnTimeout handles an offer's expiry, whether fired by its own armed
// timer or discovered later by the sweeper.
func (e *Engine) OnTimeout(ctx context.Context, pickupID, vendorRef string) {
	now := time.Now().UTC()

	pickup, ok, err := e.store.GetPickup(ctx, pickupID)
	if err != nil || !ok {
		if err != nil {
			logFor(pickupID).WithError(err).Warn("on_timeout: load pickup failed")
		}
		e.dropSession(pickupID)
		return
	}
	if pickup.Status.Terminal() {
		e.dropSession(pickupID)
		return
	}
	if pickup.AssignmentExpiresAt != nil && pickup.AssignmentExpiresAt.After(now) {
		return
	}

	_, modified, err := e.store.ClearExpiredOffer(ctx, pickupID, vendorRef, now)
	if err != nil {
		logFor(pickupID).WithError(err).Warn("on_timeout: clear_expired_offer failed")
		return
	}
	if !modified {
		// The assignment this timer was armed for no longer matches (a
		// fresher offer already superseded it, or it was already
		// resolved), so this stale firing is its own outcome rather than
		// a timeout.
		e.recordAttempt(ctx, pickupID, vendorRef, model.OutcomeSuperseded)
		return
	}
	e.recordAttempt(ctx, pickupID, vendorRef, model.OutcomeTimedOut)

	if e.metrics != nil {
		e.metrics.OfferTimedOut.Inc(1)
	}

	e.mu.RLock()
	_, hasSession := e.sessions[pickupID]
	e.mu.RUnlock()

	if hasSession {
		e.incrementIndex(pickupID)
		e.advance(ctx, pickupID)
	} else {
		e.Dispatch(ctx, pickupID, []string{vendorRef})
	}
}

// DropSession discards any in-memory dispatch state and cancels its timer,
// called by the customer-cancel and pickup-done paths so no stale timer
// later fires against a terminal pickup.
func (e *Engine) DropSession(pickupID string) {
	e.dropSession(pickupID)
}
