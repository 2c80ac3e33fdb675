package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markus-lassfolk/locnotifier/pkg"
)

const namespace = "locnotifier"

// Collector owns the daemon's Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	fixesReceived  *prometheus.CounterVec
	fixesAccepted  *prometheus.CounterVec
	arrivals       prometheus.Counter
	alertFailures  *prometheus.CounterVec
	distance       prometheus.Gauge
	watcherState   prometheus.Gauge
	geocodeResults *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry. Process and Go runtime
// collectors are added when withRuntime is set.
func NewCollector(withRuntime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		fixesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_received_total",
			Help:      "Location fixes delivered to the watcher.",
		}, []string{"provider"}),
		fixesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_accepted_total",
			Help:      "Location fixes that replaced the trusted fix.",
		}, []string{"provider"}),
		arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arrivals_total",
			Help:      "Arrival alerts triggered.",
		}),
		alertFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_failures_total",
			Help:      "Alert channel deliveries that failed.",
		}, []string{"channel"}),
		distance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "distance_meters",
			Help:      "Distance from the trusted fix to the destination.",
		}),
		watcherState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_state",
			Help:      "Watcher state: 0 stopped, 1 watching, 2 triggered.",
		}),
		geocodeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding searches by outcome.",
		}, []string{"result"}),
	}

	c.registry.MustRegister(
		c.fixesReceived,
		c.fixesAccepted,
		c.arrivals,
		c.alertFailures,
		c.distance,
		c.watcherState,
		c.geocodeResults,
	)
	if withRuntime {
		c.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return c
}

// Registry exposes the registry for tests and custom exporters
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) FixReceived(provider string) {
	c.fixesReceived.WithLabelValues(providerLabel(provider)).Inc()
}

func (c *Collector) FixAccepted(provider string, distance float64) {
	c.fixesAccepted.WithLabelValues(providerLabel(provider)).Inc()
	c.distance.Set(distance)
}

func (c *Collector) Arrival() {
	c.arrivals.Inc()
}

func (c *Collector) AlertFailed(channel string) {
	c.alertFailures.WithLabelValues(channel).Inc()
}

func (c *Collector) SetState(state pkg.WatcherState) {
	c.watcherState.Set(float64(state))
}

// GeocodeResult records a search outcome: "ok", "empty" or "error"
func (c *Collector) GeocodeResult(result string) {
	c.geocodeResults.WithLabelValues(result).Inc()
}

func providerLabel(provider string) string {
	if provider == "" {
		return "unknown"
	}
	return provider
}
