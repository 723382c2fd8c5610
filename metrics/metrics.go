// Package metrics exports identity counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	identity "github.com/goliatone/go-identity"
)

const namespace = "identity"

// Recorder implements identity.Metrics and the HTTP instrumentation.
type Recorder struct {
	gatherer prometheus.Gatherer

	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	registrations *prometheus.CounterVec
	activations   *prometheus.CounterVec
	authority     *prometheus.HistogramVec

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

var _ identity.Metrics = (*Recorder)(nil)

// New registers the collectors on reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Recorder{
		gatherer: reg,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registrations by role and outcome.",
		}, []string{"role", "outcome"}),
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Activation decisions by action and outcome.",
		}, []string{"action", "outcome"}),
		authority: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authority_call_duration_seconds",
			Help:      "External identity authority call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "result"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(
		r.logins,
		r.refreshes,
		r.registrations,
		r.activations,
		r.authority,
		r.httpInFlight,
		r.httpRequestsTotal,
		r.httpRequestDuration,
	)
	return r
}

func (r *Recorder) LoginObserved(outcome string) {
	r.logins.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RefreshObserved(outcome string) {
	r.refreshes.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RegistrationObserved(role identity.Role, outcome string) {
	r.registrations.WithLabelValues(string(role), outcome).Inc()
}

func (r *Recorder) ActivationObserved(action, outcome string) {
	r.activations.WithLabelValues(action, outcome).Inc()
}

func (r *Recorder) AuthorityCallObserved(op string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.authority.WithLabelValues(op, result).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
}

// Middleware measures request count, latency and in-flight requests. Paths
// are labeled with the matched route pattern.
func (r *Recorder) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		r.httpInFlight.Inc()
		defer r.httpInFlight.Dec()

		start := time.Now()
		if err := c.Next(); err != nil {
			// render now so the recorded status matches the response
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		path := c.Route().Path
		method := c.Method()
		code := strconv.Itoa(status)

		r.httpRequestDuration.WithLabelValues(method, path, code).Observe(time.Since(start).Seconds())
		r.httpRequestsTotal.WithLabelValues(method, path, code).Inc()
		return nil
	}
}
