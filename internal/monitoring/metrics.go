package monitoring

import (
	"math/big"
	"net/http"
	"time"

	"ticket-ledger/internal/ledger"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ticket_ledger"

type Metrics struct {
	calls           *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	events          *prometheus.CounterVec
	saleVolume      prometheus.Counter
	royalties       prometheus.Counter
	liveTickets     prometheus.Gauge
	activeListings  prometheus.Gauge
	publishFailures *prometheus.CounterVec
}

// New registers the ledger metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Ledger entry point calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Ledger call latency including persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Committed ledger events by type.",
		}, []string{"type"}),
		saleVolume: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "sale_volume_total",
			Help:      "Sum of resale prices in native units.",
		}),
		royalties: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "royalties_total",
			Help:      "Sum of royalties paid in native units.",
		}),
		liveTickets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_tickets",
			Help:      "Tickets minted and not burned.",
		}),
		activeListings: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "active_listings",
			Help:      "Open resale listings.",
		}),
		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Committed events that could not be forwarded, by sink.",
		}, []string{"sink"}),
	}
}

// ObserveCall records one ledger call. The outcome is "ok" or the error kind.
func (m *Metrics) ObserveCall(op string, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = ledger.KindOf(err).String()
	}
	m.calls.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveEvents counts committed events and market totals.
func (m *Metrics) ObserveEvents(events []ledger.Event) {
	for _, ev := range events {
		m.events.WithLabelValues(ev.EventType()).Inc()
		if sold, ok := ev.(ledger.TicketSold); ok {
			m.saleVolume.Add(toFloat(sold.Price))
			m.royalties.Add(toFloat(sold.Royalty))
		}
	}
}

// SetState reports ledger-wide gauges after a commit.
func (m *Metrics) SetState(liveTickets, activeListings int) {
	m.liveTickets.Set(float64(liveTickets))
	m.activeListings.Set(float64(activeListings))
}

func (m *Metrics) PublishFailed(sink string) {
	m.publishFailures.WithLabelValues(sink).Inc()
}

// Handler exposes the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	if v.IsUint64() {
		return float64(v.Uint64())
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
