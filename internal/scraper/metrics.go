package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for searches. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	SearchesTotal   *prometheus.CounterVec
	SearchDuration  prometheus.Histogram
	PagesTotal      prometheus.Counter
	ItemsTotal      *prometheus.CounterVec
	NavigationTotal *prometheus.CounterVec
	ScrollRounds    prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	searches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_searches_total",
			Help: "Finished searches by stop reason.",
		},
		[]string{"stop_reason"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_search_duration_seconds",
			Help:    "Wall time of a search from page open to stop.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "listing_pages_extracted_total",
			Help: "Result pages that reached extraction.",
		},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_items_total",
			Help: "Result cards by outcome.",
		},
		[]string{"outcome"},
	)
	navigation := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listing_navigation_total",
			Help: "Page advance attempts by status and strategy.",
		},
		[]string{"status", "strategy"},
	)
	rounds := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listing_scroll_rounds",
			Help:    "Scroll rounds needed before the page height settled.",
			Buckets: prometheus.LinearBuckets(1, 2, 13),
		},
	)

	registry.MustRegister(searches, duration, pages, items, navigation, rounds)

	return &Metrics{
		Registry:        registry,
		SearchesTotal:   searches,
		SearchDuration:  duration,
		PagesTotal:      pages,
		ItemsTotal:      items,
		NavigationTotal: navigation,
		ScrollRounds:    rounds,
	}
}

func (m *Metrics) ObserveSearch(reason StopReason, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchesTotal.WithLabelValues(string(reason)).Inc()
	m.SearchDuration.Observe(d.Seconds())
}

func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesTotal.Inc()
}

// AddItems counts extracted and skipped cards of one page.
func (m *Metrics) AddItems(extracted, skipped int) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues("extracted").Add(float64(extracted))
	m.ItemsTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) IncNavigation(out NavigationOutcome) {
	if m == nil {
		return
	}
	m.NavigationTotal.WithLabelValues(out.Status.String(), out.Strategy).Inc()
}

func (m *Metrics) ObserveScrollRounds(rounds int) {
	if m == nil {
		return
	}
	m.ScrollRounds.Observe(float64(rounds))
}
