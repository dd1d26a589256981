// Package telemetry provides the dispatcher's metric bag, following the
// teacher's struct-of-counters convention (hostmgr/offer/offerpool and
// placement/offers each carry a *Metrics injected at construction time)
// but backed by tally's Prometheus reporter so the counters are externally
// scrapeable, since this subsystem is too central to the marketplace to
// leave metrics in-process only.
package telemetry

import (
	"io"
	"net/http"
	"time"

	"github.com/uber-go/tally"
	promreporter "github.com/uber-go/tally/prometheus"
)

// Metrics is the dispatcher-wide counter/gauge bag. Each subsystem reaches
// into the fields it owns; nothing here is shared mutable state beyond what
// tally.Scope itself already guards.
type Metrics struct {
	DispatchStarted  tally.Counter
	DispatchGaveUp   tally.Counter
	OfferSent        tally.Counter
	OfferSendFailed  tally.Counter
	OfferAccepted    tally.Counter
	OfferRejected    tally.Counter
	OfferTimedOut    tally.Counter
	SweepExamined    tally.Counter
	SweepFailed      tally.Counter
	ActiveSessions   tally.Gauge
	RankedCandidates tally.Histogram
}

// New builds a Metrics bag scoped under "dispatcher".
func New(scope tally.Scope) *Metrics {
	s := scope.SubScope("dispatcher")
	return &Metrics{
		DispatchStarted:  s.Counter("dispatch_started"),
		DispatchGaveUp:   s.Counter("dispatch_gave_up"),
		OfferSent:        s.Counter("offer_sent"),
		OfferSendFailed:  s.Counter("offer_send_failed"),
		OfferAccepted:    s.Counter("offer_accepted"),
		OfferRejected:    s.Counter("offer_rejected"),
		OfferTimedOut:    s.Counter("offer_timed_out"),
		SweepExamined:    s.Counter("sweep_examined"),
		SweepFailed:      s.Counter("sweep_failed"),
		ActiveSessions:   s.Gauge("active_sessions"),
		RankedCandidates: s.Histogram("ranked_candidates", tally.DefaultBuckets),
	}
}

// NewPrometheusScope wires a tally root scope to a Prometheus reporter and
// returns the scope, the http.Handler to mount at GET /metrics, and a
// closer the caller must invoke on shutdown.
func NewPrometheusScope() (tally.Scope, http.Handler, io.Closer, error) {
	reporter := promreporter.NewReporter(promreporter.Options{})
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:         "scrapco",
		Tags:           map[string]string{},
		CachedReporter: reporter,
		Separator:      promreporter.DefaultSeparator,
	}, time.Second)
	return scope, reporter.HTTPHandler(), closer, nil
}
