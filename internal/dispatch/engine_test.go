package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/model"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/offertransport"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/store"
	"github.com/kbdon7718-ui/ScrapCo-web-backend/internal/vendordir"
)

type EngineTestSuite struct {
	suite.Suite
	fake   *store.Fake
	engine *Engine
	server *httptest.Server
	hits   []string
}

func (s *EngineTestSuite) SetupTest() {
	s.fake = store.NewFake()
	s.hits = nil

	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits = append(s.hits, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))

	transport := offertransport.New("", false)
	vendors := vendordir.New(s.fake)
	s.engine = New(s.fake, vendors, transport, nil)
}

func (s *EngineTestSuite) TearDownTest() {
	s.server.Close()
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) seedVendor(ref string) {
	s.fake.SeedVendor(model.VendorBackend{
		VendorRef: ref,
		OfferURL:  s.server.URL,
		Latitude:  floatPtr(1),
		Longitude: floatPtr(1),
	})
}

func floatPtr(f float64) *float64 { return &f }

func (s *EngineTestSuite) seedPickup() model.Pickup {
	p, err := s.fake.CreatePickup(context.Background(), store.CreatePickupInput{
		CustomerID: "cust-1",
		Address:    "123 Main St",
		Latitude:   1,
		Longitude:  1,
		TimeSlot:   "morning",
	})
	s.Require().NoError(err)
	return p
}

func (s *EngineTestSuite) TestDispatchWithNoVendorsYieldsNoVendorAvailable() {
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, ok, err := s.fake.GetPickup(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(model.StatusNoVendorAvailable, got.Status)
}

func (s *EngineTestSuite) TestDispatchReservesOfferAndArmsTimer() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()

	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, ok, err := s.fake.GetPickup(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(model.StatusFindingVendor, got.Status)
	s.Require().NotNil(got.AssignedVendorRef)
	s.Equal("vendor-a", *got.AssignedVendorRef)
	s.Require().NotNil(got.AssignmentExpiresAt)
	s.Contains(s.hits, "/api/offer")

	s.engine.mu.RLock()
	sess, exists := s.engine.sessions[p.ID]
	s.engine.mu.RUnlock()
	s.Require().True(exists)
	s.NotNil(sess.timer)
}

func (s *EngineTestSuite) TestOnAcceptConfirmsAssignment() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	updated, ok := s.engine.OnAccept(context.Background(), p.ID, "vendor-a")
	s.Require().True(ok)
	s.Equal(model.StatusAssigned, updated.Status)
	s.Nil(updated.AssignmentExpiresAt)
}

func (s *EngineTestSuite) TestOnAcceptFailsForWrongVendor() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	_, ok := s.engine.OnAccept(context.Background(), p.ID, "vendor-b")
	s.False(ok)
}

func (s *EngineTestSuite) TestOnRejectAdvancesToNextCandidate() {
	s.seedVendor("vendor-a")
	s.seedVendor("vendor-b")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	firstVendor := *got.AssignedVendorRef

	_, ok := s.engine.OnReject(context.Background(), p.ID, firstVendor)
	s.Require().True(ok)

	// OnReject returns the row as its reject_offer update left it; the next
	// offer is visible in the store.
	updated, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	s.Require().NotNil(updated.AssignedVendorRef)
	s.NotEqual(firstVendor, *updated.AssignedVendorRef)
}

func (s *EngineTestSuite) TestOnRejectExhaustsAllCandidates() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	_, ok := s.engine.OnReject(context.Background(), p.ID, "vendor-a")
	s.Require().True(ok)

	got, _, err := s.fake.GetPickup(context.Background(), p.ID)
	s.Require().NoError(err)
	s.Equal(model.StatusNoVendorAvailable, got.Status)
}

func (s *EngineTestSuite) TestOnTimeoutClearsOfferAndAdvances() {
	s.seedVendor("vendor-a")
	s.seedVendor("vendor-b")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	firstVendor := *got.AssignedVendorRef

	// force the offer into the past so on_timeout treats it as expired.
	p2 := got
	past := time.Now().UTC().Add(-time.Minute)
	p2.AssignmentExpiresAt = &past
	s.fake.SeedPickup(p2)

	s.engine.OnTimeout(context.Background(), p.ID, firstVendor)

	got2, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	s.Require().NotNil(got2.AssignedVendorRef)
	s.NotEqual(firstVendor, *got2.AssignedVendorRef)
}

func (s *EngineTestSuite) TestOnAcceptRecordsAcceptedAttempt() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	_, ok := s.engine.OnAccept(context.Background(), p.ID, "vendor-a")
	s.Require().True(ok)

	attempts := s.fake.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(model.OutcomeAccepted, attempts[0].Outcome)
	s.Equal("vendor-a", attempts[0].VendorRef)
}

func (s *EngineTestSuite) TestOnRejectRecordsRejectedAttempt() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	_, ok := s.engine.OnReject(context.Background(), p.ID, "vendor-a")
	s.Require().True(ok)

	attempts := s.fake.Attempts()
	s.Require().NotEmpty(attempts)
	s.Equal(model.OutcomeRejected, attempts[0].Outcome)
	s.Equal("vendor-a", attempts[0].VendorRef)
}

func (s *EngineTestSuite) TestOnTimeoutRecordsTimedOutAttempt() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	past := time.Now().UTC().Add(-time.Minute)
	got.AssignmentExpiresAt = &past
	s.fake.SeedPickup(got)

	s.engine.OnTimeout(context.Background(), p.ID, "vendor-a")

	attempts := s.fake.Attempts()
	s.Require().NotEmpty(attempts)
	s.Equal(model.OutcomeTimedOut, attempts[0].Outcome)
}

func (s *EngineTestSuite) TestOnTimeoutRecordsSupersededWhenAlreadyResolved() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	got, _, _ := s.fake.GetPickup(context.Background(), p.ID)
	past := time.Now().UTC().Add(-time.Minute)
	got.AssignmentExpiresAt = &past
	s.fake.SeedPickup(got)

	// a late timer firing for a vendor that no longer holds the offer.
	s.engine.OnTimeout(context.Background(), p.ID, "vendor-b")

	attempts := s.fake.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(model.OutcomeSuperseded, attempts[0].Outcome)
	s.Equal("vendor-b", attempts[0].VendorRef)
}

func (s *EngineTestSuite) TestAdvanceRecordsSendFailedAttempt() {
	s.fake.SeedVendor(model.VendorBackend{
		VendorRef: "vendor-bad",
		OfferURL:  "http://127.0.0.1:1",
		Latitude:  floatPtr(1),
		Longitude: floatPtr(1),
	})
	p := s.seedPickup()

	s.engine.Dispatch(context.Background(), p.ID, nil)

	attempts := s.fake.Attempts()
	s.Require().Len(attempts, 1)
	s.Equal(model.OutcomeSendFailed, attempts[0].Outcome)
	s.Equal("vendor-bad", attempts[0].VendorRef)
}

func (s *EngineTestSuite) TestDropSessionStopsTimer() {
	s.seedVendor("vendor-a")
	p := s.seedPickup()
	s.engine.Dispatch(context.Background(), p.ID, nil)

	s.engine.mu.RLock()
	sess := s.engine.sessions[p.ID]
	s.engine.mu.RUnlock()
	s.Require().NotNil(sess)

	s.engine.DropSession(p.ID)

	s.engine.mu.RLock()
	_, exists := s.engine.sessions[p.ID]
	s.engine.mu.RUnlock()
	s.False(exists)
	// Stop reports false once the timer has already been stopped.
	s.False(sess.timer.Stop())
}
