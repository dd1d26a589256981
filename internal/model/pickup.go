// Package model defines the persistent record shapes shared by the store
// gateway, the dispatch engine, and the HTTP surfaces.
package model

import "time"

// Status is a pickup's position in the dispatch lifecycle.
type Status string

// The full set of persisted pickup statuses.
const (
	StatusRequested         Status = "REQUESTED"
	StatusFindingVendor     Status = "FINDING_VENDOR"
	StatusAssigned          Status = "ASSIGNED"
	StatusOnTheWay          Status = "ON_THE_WAY"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
	StatusNoVendorAvailable Status = "NO_VENDOR_AVAILABLE"
)

// Terminal reports whether no further dispatch activity may occur for a
// pickup in this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusAssigned, StatusOnTheWay, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// Pickup is the authoritative, persistent pickup record.
type Pickup struct {
	ID                   string
	CustomerID           string
	Address              string
	Latitude             float64
	Longitude            float64
	TimeSlot             string
	Notes                *string
	CustomerPhone        *string
	Status               Status
	AssignedVendorRef    *string
	AssignmentExpiresAt  *time.Time
	CreatedAt            time.Time
	CancelledAt          *time.Time
	CompletedAt          *time.Time
}

// HasActiveOffer reports whether the row currently holds an unexpired,
// outstanding offer as of now.
func (p *Pickup) HasActiveOffer(now time.Time) bool {
	return p.Status == StatusFindingVendor &&
		p.AssignedVendorRef != nil &&
		p.AssignmentExpiresAt != nil &&
		p.AssignmentExpiresAt.After(now)
}

// PickupItem is a single requested line item on a pickup.
type PickupItem struct {
	PickupID          string
	ScrapTypeID       string
	ScrapTypeName     string
	EstimatedQuantity string
}

// ScrapType names a category of recyclable material.
type ScrapType struct {
	ID   string
	Name string
}

// VendorBackend is a registered vendor's dispatch callback target.
type VendorBackend struct {
	VendorRef string
	OfferURL  string
	Latitude  *float64
	Longitude *float64
	UpdatedAt time.Time
}

// PickupVendorRejection records that a vendor has already declined a
// pickup, for exclusion in future dispatch sessions. Timeouts are not
// recorded here.
type PickupVendorRejection struct {
	PickupID   string
	VendorRef  string
	RejectedAt time.Time
}

// DispatchOutcome is the terminal fate of a single emitted offer, recorded
// for audit purposes only; the dispatch engine never reads it back.
type DispatchOutcome string

// The full set of per-offer audit outcomes.
const (
	OutcomeAccepted   DispatchOutcome = "ACCEPTED"
	OutcomeRejected   DispatchOutcome = "REJECTED"
	OutcomeTimedOut   DispatchOutcome = "TIMED_OUT"
	OutcomeSendFailed DispatchOutcome = "SEND_FAILED"
	OutcomeSuperseded DispatchOutcome = "SUPERSEDED"
)

// DispatchAttempt is an append-only audit row, one per offer emitted.
type DispatchAttempt struct {
	PickupID  string
	VendorRef string
	OfferedAt time.Time
	Outcome   DispatchOutcome
}
