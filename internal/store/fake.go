package store

import (
	"context"
	"sync"
	"time"

	"github.com/pborman/uuid"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
)

// Fake is a hand-written in-memory Gateway double for tests, in the style
// of the teacher's MockJSONClient (master/task/state_test.go): a plain
// struct guarded by a mutex implementing the real interface, rather than a
// generated mock, since there is no RPC client interface left here for
// mockgen to generate against.
type Fake struct {
	mu         sync.Mutex
	pickups    map[string]model.Pickup
	items      map[string][]model.PickupItem
	vendors    map[string]model.VendorBackend
	rejections map[string]map[string]bool
	attempts   []model.DispatchAttempt
}

// NewFake builds an empty in-memory store.
func NewFake() *Fake {
	return &Fake{
		pickups:    map[string]model.Pickup{},
		items:      map[string][]model.PickupItem{},
		vendors:    map[string]model.VendorBackend{},
		rejections: map[string]map[string]bool{},
	}
}

// SeedPickup inserts a pickup directly, bypassing CreatePickup, for test
// setup.
func (f *Fake) SeedPickup(p model.Pickup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pickups[p.ID] = p
}

// SeedVendor inserts a vendor directly, bypassing UpsertVendor.
func (f *Fake) SeedVendor(v model.VendorBackend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vendors[v.VendorRef] = v
}

func (f *Fake) CreatePickup(_ context.Context, in CreatePickupInput) (model.Pickup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := model.Pickup{
		ID:            uuid.NewRandom().String(),
		CustomerID:    in.CustomerID,
		Address:       in.Address,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		TimeSlot:      in.TimeSlot,
		Notes:         in.Notes,
		CustomerPhone: in.CustomerPhone,
		Status:        model.StatusRequested,
		CreatedAt:     time.Now().UTC(),
	}
	f.pickups[p.ID] = p

	items := make([]model.PickupItem, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, model.PickupItem{
			PickupID:          p.ID,
			ScrapTypeID:       it.ScrapTypeID,
			EstimatedQuantity: it.EstimatedQuantity,
		})
	}
	f.items[p.ID] = items

	return p, nil
}

func (f *Fake) GetPickup(_ context.Context, pickupID string) (model.Pickup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pickups[pickupID]
	return p, ok, nil
}

func (f *Fake) ListItems(_ context.Context, pickupID string) ([]model.PickupItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.PickupItem{}, f.items[pickupID]...), nil
}

func (f *Fake) mutate(pickupID string, guard func(model.Pickup) bool, apply func(*model.Pickup)) (model.Pickup, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.pickups[pickupID]
	if !ok || !guard(p) {
		return model.Pickup{}, false, nil
	}
	apply(&p)
	f.pickups[pickupID] = p
	return p, true, nil
}

func (f *Fake) BeginFinding(_ context.Context, pickupID string) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.Status == model.StatusRequested || p.Status == model.StatusNoVendorAvailable || p.Status == model.StatusFindingVendor
		},
		func(p *model.Pickup) { p.Status = model.StatusFindingVendor })
}

func (f *Fake) ReserveOffer(_ context.Context, pickupID, vendorRef string, expiresAt time.Time) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool { return p.Status == model.StatusFindingVendor && p.AssignedVendorRef == nil },
		func(p *model.Pickup) {
			p.AssignedVendorRef = &vendorRef
			p.AssignmentExpiresAt = &expiresAt
		})
}

func (f *Fake) ClearExpiredOffer(_ context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.Status == model.StatusFindingVendor &&
				p.AssignedVendorRef != nil && *p.AssignedVendorRef == vendorRef &&
				p.AssignmentExpiresAt != nil && p.AssignmentExpiresAt.Before(now)
		},
		func(p *model.Pickup) {
			p.AssignedVendorRef = nil
			p.AssignmentExpiresAt = nil
		})
}

func (f *Fake) ConfirmAssignment(_ context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.Status == model.StatusFindingVendor &&
				p.AssignedVendorRef != nil && *p.AssignedVendorRef == vendorRef &&
				p.AssignmentExpiresAt != nil && !p.AssignmentExpiresAt.Before(now)
		},
		func(p *model.Pickup) {
			p.Status = model.StatusAssigned
			p.AssignmentExpiresAt = nil
		})
}

func (f *Fake) RejectOffer(_ context.Context, pickupID, vendorRef string) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.Status == model.StatusFindingVendor && p.AssignedVendorRef != nil && *p.AssignedVendorRef == vendorRef
		},
		func(p *model.Pickup) {
			p.AssignedVendorRef = nil
			p.AssignmentExpiresAt = nil
		})
}

func (f *Fake) GiveUp(_ context.Context, pickupID string) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool { return p.Status == model.StatusFindingVendor },
		func(p *model.Pickup) {
			p.Status = model.StatusNoVendorAvailable
			p.AssignedVendorRef = nil
			p.AssignmentExpiresAt = nil
		})
}

func (f *Fake) Cancel(_ context.Context, pickupID, customerID string) (model.Pickup, bool, error) {
	now := time.Now().UTC()
	return f.mutate(pickupID,
		func(p model.Pickup) bool { return p.CustomerID == customerID && p.Status != model.StatusCompleted },
		func(p *model.Pickup) {
			p.Status = model.StatusCancelled
			p.CancelledAt = &now
			p.AssignedVendorRef = nil
			p.AssignmentExpiresAt = nil
		})
}

func (f *Fake) Complete(_ context.Context, pickupID, vendorRef string, now time.Time) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.AssignedVendorRef != nil && *p.AssignedVendorRef == vendorRef &&
				(p.Status == model.StatusAssigned || p.Status == model.StatusOnTheWay)
		},
		func(p *model.Pickup) {
			p.Status = model.StatusCompleted
			p.CompletedAt = &now
		})
}

func (f *Fake) SetOnTheWay(_ context.Context, pickupID, vendorRef string) (model.Pickup, bool, error) {
	return f.mutate(pickupID,
		func(p model.Pickup) bool {
			return p.AssignedVendorRef != nil && *p.AssignedVendorRef == vendorRef &&
				(p.Status == model.StatusAssigned || p.Status == model.StatusOnTheWay)
		},
		func(p *model.Pickup) { p.Status = model.StatusOnTheWay })
}

func (f *Fake) RecordRejection(_ context.Context, pickupID, vendorRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejections[pickupID] == nil {
		f.rejections[pickupID] = map[string]bool{}
	}
	f.rejections[pickupID][vendorRef] = true
	return nil
}

func (f *Fake) ListRejections(_ context.Context, pickupID string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for k := range f.rejections[pickupID] {
		out[k] = true
	}
	return out, nil
}

func (f *Fake) SweepExpired(_ context.Context, now time.Time, limit int) ([]model.Pickup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Pickup
	for _, p := range f.pickups {
		if len(out) >= limit {
			break
		}
		if p.Status == model.StatusFindingVendor && p.AssignmentExpiresAt != nil && p.AssignmentExpiresAt.Before(now) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) ListVendors(_ context.Context) ([]model.VendorBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.VendorBackend, 0, len(f.vendors))
	for _, v := range f.vendors {
		out = append(out, v)
	}
	return out, nil
}

func (f *Fake) FetchVendor(_ context.Context, vendorRef string) (model.VendorBackend, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vendors[vendorRef]
	return v, ok, nil
}

func (f *Fake) UpsertVendor(_ context.Context, in UpsertVendorInput) (model.VendorBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offerURL := ""
	if existing, ok := f.vendors[in.VendorRef]; ok {
		offerURL = existing.OfferURL
	}
	if in.OfferURL != nil {
		offerURL = *in.OfferURL
	}

	v := model.VendorBackend{
		VendorRef: in.VendorRef,
		OfferURL:  offerURL,
		Latitude:  &in.Latitude,
		Longitude: &in.Longitude,
		UpdatedAt: time.Now().UTC(),
	}
	f.vendors[in.VendorRef] = v
	return v, nil
}

// Ping always succeeds; the fake has no underlying connection to lose.
func (f *Fake) Ping(ctx context.Context) error {
	return nil
}

// RecordAttempt appends to the in-memory audit trail, for tests that assert
// on Attempts().
func (f *Fake) RecordAttempt(_ context.Context, pickupID, vendorRef string, outcome model.DispatchOutcome, offeredAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, model.DispatchAttempt{
		PickupID:  pickupID,
		VendorRef: vendorRef,
		OfferedAt: offeredAt,
		Outcome:   outcome,
	})
	return nil
}

// Attempts returns a copy of the recorded dispatch attempt audit trail, for
// test assertions.
func (f *Fake) Attempts() []model.DispatchAttempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DispatchAttempt{}, f.attempts...)
}

var _ Gateway = (*Fake)(nil)
